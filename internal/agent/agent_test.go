package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theological-agent/internal/hitl"
	"theological-agent/internal/llm"
	"theological-agent/internal/llm/llmtest"
	"theological-agent/internal/logging"
	"theological-agent/internal/workflow"
)

const lowVerdict = `Here is my review:
` + "```json" + `
{"content": "All good.\nNo issues.", "risk_level": "LOW", "alerts": []}
` + "```"

const highVerdict = `{"content": "Problems found", "risk_level": "high", "alerts": ["fabricated quote"]}`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := DefaultCatalog()
	require.NoError(t, err)
	return c
}

func buildGraph(t *testing.T, gen llm.Generator) *workflow.Graph {
	t.Helper()
	g, err := BuildGraph(GraphConfig{
		Generator:     gen,
		Catalog:       testCatalog(t),
		MandatoryStep: "intertextual",
		Logger:        logging.Discard(),
	})
	require.NoError(t, err)
	return g
}

func psalm(modules ...string) workflow.WorkflowState {
	return workflow.NewState("run-1", workflow.Inputs{Book: "Sl", Chapter: 23, Verses: []int{1, 2, 3}, Modules: modules})
}

func TestDefaultCatalogHasEveryNodePrompt(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, []string{"historical", "intertextual", "lexical", "panorama", "synthesizer", "validator"}, c.Names())
	for _, name := range c.Names() {
		p, ok := c.Get(name)
		require.True(t, ok)
		assert.NotEmpty(t, p.Version, name)
		assert.Contains(t, []string{"lite", "flash", "top"}, p.Tier, name)
	}
}

func TestLoadCatalogOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
prompts:
  panorama:
    version: panorama-test
    tier: lite
    system: "Panorama of {reference}"
    user: go
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	p, _ := c.Get("panorama")
	assert.Equal(t, "panorama-test", p.Version)
	v, ok := c.Get("validator")
	require.True(t, ok)
	assert.Equal(t, "validator-v5", v.Version)
}

func TestLoadCatalogRequiresVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompts:\n  panorama:\n    system: x\n"), 0o600))
	_, err := LoadCatalog(path)
	assert.ErrorContains(t, err, `prompt "panorama" has no version`)
}

func TestRenderLeavesUnknownBraces(t *testing.T) {
	out := render(`{reference} {"risk_level": "low"} {unknown}`, map[string]string{"reference": "Sl 23:1"})
	assert.Equal(t, `Sl 23:1 {"risk_level": "low"} {unknown}`, out)
}

func TestBuildGraphRejectsUnknownMandatoryStep(t *testing.T) {
	_, err := BuildGraph(GraphConfig{Generator: llmtest.New(nil), Catalog: testCatalog(t), MandatoryStep: "sermon", Logger: logging.Discard()})
	assert.ErrorContains(t, err, `unknown mandatory step "sermon"`)
}

func TestLowRiskRunSynthesizes(t *testing.T) {
	gen := llmtest.New(map[string]llmtest.Reply{
		ValidatorNode:   {Text: lowVerdict, Usage: llm.Usage{Input: 100, Output: 50}},
		SynthesizerNode: {Text: `{"content": "Final study\\nof Psalm 23"}`},
	})
	ex := workflow.NewExecutor(buildGraph(t, gen), workflow.WithLogger(logging.Discard()))

	res, err := ex.Run(context.Background(), psalm("panorama", "teologia"))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, []string{HistoricalNode, IntertextualNode, PanoramaNode}, res.Participants)

	s := res.State
	assert.Equal(t, "Final study\nof Psalm 23", s.FinalAnalysis())
	assert.Equal(t, "All good.\nNo issues.", s.Outputs[workflow.SlotValidation])
	assert.Equal(t, workflow.RiskLow, s.RiskLevel)
	assert.Empty(t, s.Alerts)
	_, hasLexical := s.Output(workflow.SlotLexical)
	assert.False(t, hasLexical)

	assert.Equal(t, "flash", s.ModelVersions[PanoramaNode])
	assert.Equal(t, "lite", s.ModelVersions[IntertextualNode])
	assert.Equal(t, "top", s.ModelVersions[ValidatorNode])
	assert.Equal(t, "validator-v5", s.PromptVersions[ValidatorNode])
	assert.Equal(t, workflow.TokenUsage{Input: 100, Output: 50}, s.TokensConsumed[ValidatorNode])
	require.Len(t, s.Steps, 5)
	assert.Equal(t, SynthesizerNode, s.Steps[4].Node)
	require.NotNil(t, s.Steps[3].Extras)
	assert.Equal(t, workflow.RiskLow, s.Steps[3].Extras.RiskLevel)

	assert.Zero(t, gen.CallsFor(LexicalNode))
	assert.Equal(t, 1, gen.CallsFor(SynthesizerNode))
}

func TestPromptsSeeOnlyRequestedContent(t *testing.T) {
	gen := llmtest.New(map[string]llmtest.Reply{
		PanoramaNode:  {Text: "panorama text"},
		ValidatorNode: {Text: lowVerdict},
	})
	ex := workflow.NewExecutor(buildGraph(t, gen), workflow.WithLogger(logging.Discard()))
	_, err := ex.Run(context.Background(), psalm("panorama"))
	require.NoError(t, err)

	for _, call := range gen.Calls() {
		if call.Role == ValidatorNode {
			assert.Contains(t, call.System, "panorama text")
			assert.Contains(t, call.System, missingContent)
			assert.Contains(t, call.System, `"risk_level"`)
		}
		if call.Role == PanoramaNode {
			assert.Contains(t, call.System, "Sl 23:1-3")
		}
	}
}

func TestHighRiskRunPauses(t *testing.T) {
	gen := llmtest.New(map[string]llmtest.Reply{ValidatorNode: {Text: highVerdict}})
	ex := workflow.NewExecutor(buildGraph(t, gen), workflow.WithLogger(logging.Discard()))

	res, err := ex.Run(context.Background(), psalm("exegese"))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, res.Status)
	assert.Equal(t, workflow.RiskHigh, res.State.RiskLevel)
	assert.Equal(t, []string{"fabricated quote"}, res.State.Alerts)
	assert.Empty(t, res.State.FinalAnalysis())
	assert.Zero(t, gen.CallsFor(SynthesizerNode))

	resumed, err := ex.Resume(context.Background(), res.State, hitl.SynthesisTarget)
	require.NoError(t, err)
	assert.Equal(t, "synthesizer analysis", resumed.State.FinalAnalysis())
}

func TestUnparseableVerdictFailsGate(t *testing.T) {
	gen := llmtest.New(map[string]llmtest.Reply{ValidatorNode: {Text: "looks fine to me"}})
	ex := workflow.NewExecutor(buildGraph(t, gen), workflow.WithLogger(logging.Discard()))

	_, err := ex.Run(context.Background(), psalm("panorama"))
	var nodeErr *workflow.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, ValidatorNode, nodeErr.Node)
	assert.Zero(t, gen.CallsFor(SynthesizerNode))
}

func TestBranchFailureNamesNode(t *testing.T) {
	gen := llmtest.New(map[string]llmtest.Reply{LexicalNode: {Err: llm.ErrAllModelsFailed}})
	ex := workflow.NewExecutor(buildGraph(t, gen), workflow.WithLogger(logging.Discard()))

	_, err := ex.Run(context.Background(), psalm("exegese", "panorama"))
	var nodeErr *workflow.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, LexicalNode, nodeErr.Node)
	assert.True(t, errors.Is(err, llm.ErrAllModelsFailed))
	assert.Zero(t, gen.CallsFor(ValidatorNode))
}

type fallbackGenerator struct{}

func (fallbackGenerator) Generate(_ context.Context, req llm.Request) (*llm.Generation, error) {
	text := "text"
	if req.Role == ValidatorNode {
		text = lowVerdict
	}
	return &llm.Generation{Text: text, Model: "gemini-2.5-flash-lite", Fallback: req.Role == PanoramaNode}, nil
}

func TestFallbackModelIsLabelled(t *testing.T) {
	ex := workflow.NewExecutor(buildGraph(t, fallbackGenerator{}), workflow.WithLogger(logging.Discard()))
	res, err := ex.Run(context.Background(), psalm("panorama"))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash-lite [fallback]", res.State.ModelVersions[PanoramaNode])
	assert.Equal(t, "gemini-2.5-flash-lite", res.State.ModelVersions[IntertextualNode])
}
