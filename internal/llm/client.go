package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"golang.org/x/time/rate"

	"theological-agent/internal/logging"
)

// Options configures a Client.
type Options struct {
	// Tiers maps tier names to model ids.
	Tiers map[string]string
	// Fallbacks maps a model id to the next model to try.
	Fallbacks map[string]string
	// RPM caps requests per minute per model id. Zero means unlimited.
	RPM     map[string]int
	Timeout time.Duration
}

// Client is a Generator backed by a langchaingo model, with tier resolution,
// a fallback chain and per-model rate limiting.
type Client struct {
	model    llms.Model
	opts     Options
	limiters map[string]*rate.Limiter
	logger   *logging.Logger
	maxChain int
}

// NewGoogleClient creates a Client talking to Gemini through langchaingo.
func NewGoogleClient(ctx context.Context, apiKey string, opts Options, logger *logging.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	model, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(opts.Tiers[string(TierFlash)]),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: create googleai client: %w", err)
	}
	return NewClient(model, opts, logger), nil
}

// NewClient wraps any langchaingo model.
func NewClient(model llms.Model, opts Options, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewLogger()
	}
	limiters := make(map[string]*rate.Limiter, len(opts.RPM))
	for id, rpm := range opts.RPM {
		if rpm > 0 {
			limiters[id] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
	}
	return &Client{
		model:    model,
		opts:     opts,
		limiters: limiters,
		logger:   logger,
		maxChain: len(opts.Fallbacks) + 1,
	}
}

// Resolve maps a tier name to its model id. Concrete ids pass through.
func (c *Client) Resolve(model string) string {
	if id, ok := c.opts.Tiers[strings.ToLower(model)]; ok && id != "" {
		return id
	}
	return model
}

// Generate calls the requested model, walking the fallback chain on failure.
func (c *Client) Generate(ctx context.Context, req Request) (*Generation, error) {
	requested := c.Resolve(req.Model)
	if requested == "" {
		return nil, errors.New("llm: model is required")
	}

	var errs []error
	current := requested
	for attempt := 0; current != "" && attempt < c.maxChain; attempt++ {
		gen, err := c.call(ctx, current, req)
		if err == nil {
			gen.Fallback = current != requested
			return gen, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", current, err))
		if ctx.Err() != nil {
			break
		}
		next := c.opts.Fallbacks[current]
		if next != "" {
			c.logger.Warn("model_fallback", "role", req.Role, "model", current, "fallback", next, "error", err)
		}
		current = next
	}
	return nil, fmt.Errorf("%w: %w", ErrAllModelsFailed, errors.Join(errs...))
}

func (c *Client) call(ctx context.Context, model string, req Request) (*Generation, error) {
	if lim, ok := c.limiters[model]; ok {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	callOpts := []llms.CallOption{llms.WithModel(model)}
	if req.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("empty response")
	}
	choice := resp.Choices[0]
	return &Generation{
		Text:  choice.Content,
		Model: model,
		Usage: usageFrom(choice.GenerationInfo),
	}, nil
}

// usageFrom reads token counts from provider metadata. Providers disagree on
// key names and numeric types.
func usageFrom(info map[string]any) Usage {
	return Usage{
		Input:  firstInt(info, "input_tokens", "PromptTokens", "prompt_tokens"),
		Output: firstInt(info, "output_tokens", "CompletionTokens", "completion_tokens"),
	}
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
