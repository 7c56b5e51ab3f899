package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"theological-agent/internal/logging"
)

// MockModel satisfies llms.Model and records the model of each call.
type MockModel struct {
	mock.Mock
	mu     sync.Mutex
	models []string
}

func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.mu.Lock()
	m.models = append(m.models, opts.Model)
	m.mu.Unlock()

	args := m.Called(opts.Model, len(messages))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llms.ContentResponse), args.Error(1)
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func response(text string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text, GenerationInfo: info}}}
}

func testOptions() Options {
	return Options{
		Tiers: map[string]string{"lite": "m-lite", "flash": "m-flash", "top": "m-top"},
		Fallbacks: map[string]string{
			"m-top":   "m-flash",
			"m-flash": "m-lite",
		},
	}
}

func TestClientResolvesTierAndReadsUsage(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", "m-top", 2).
		Return(response("ok", map[string]any{"input_tokens": int32(12), "output_tokens": int32(34)}), nil)

	c := NewClient(model, testOptions(), logging.Discard())
	gen, err := c.Generate(context.Background(), Request{Role: "synthesizer", Model: "top", System: "sys", Prompt: "go"})
	require.NoError(t, err)

	assert.Equal(t, "ok", gen.Text)
	assert.Equal(t, "m-top", gen.Model)
	assert.False(t, gen.Fallback)
	assert.Equal(t, Usage{Input: 12, Output: 34}, gen.Usage)
	model.AssertExpectations(t)
}

func TestClientWalksFallbackChain(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", "m-top", 1).Return(nil, errors.New("429"))
	model.On("GenerateContent", "m-flash", 1).Return(nil, errors.New("deprecated"))
	model.On("GenerateContent", "m-lite", 1).
		Return(response("rescued", map[string]any{"PromptTokens": 3, "CompletionTokens": 4}), nil)

	c := NewClient(model, testOptions(), logging.Discard())
	gen, err := c.Generate(context.Background(), Request{Role: "validator", Model: "m-top", Prompt: "go"})
	require.NoError(t, err)

	assert.Equal(t, "m-lite", gen.Model)
	assert.True(t, gen.Fallback)
	assert.Equal(t, Usage{Input: 3, Output: 4}, gen.Usage)
	assert.Equal(t, []string{"m-top", "m-flash", "m-lite"}, model.models)
}

func TestClientFailsWhenChainExhausted(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", mock.Anything, 1).Return(nil, errors.New("down"))

	c := NewClient(model, testOptions(), logging.Discard())
	_, err := c.Generate(context.Background(), Request{Role: "lexical", Model: "flash", Prompt: "go"})

	assert.ErrorIs(t, err, ErrAllModelsFailed)
	assert.ErrorContains(t, err, "m-flash")
	assert.ErrorContains(t, err, "m-lite")
	assert.Len(t, model.models, 2)
}

func TestClientRejectsEmptyModel(t *testing.T) {
	c := NewClient(new(MockModel), Options{}, logging.Discard())
	_, err := c.Generate(context.Background(), Request{Prompt: "go"})
	assert.Error(t, err)
}

func TestClientRateLimitHonoursContext(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", "m-lite", 1).Return(response("ok", nil), nil)

	opts := testOptions()
	opts.RPM = map[string]int{"m-lite": 1}
	c := NewClient(model, opts, logging.Discard())

	_, err := c.Generate(context.Background(), Request{Model: "lite", Prompt: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Generate(ctx, Request{Model: "lite", Prompt: "second"})
	assert.ErrorIs(t, err, context.Canceled)
}
