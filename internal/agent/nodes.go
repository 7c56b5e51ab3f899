// Package agent binds the analysis steps to the workflow engine: each node
// renders a catalog prompt, calls the generator and returns its partial
// update. Content generation itself is delegated to the llm package.
package agent

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"theological-agent/internal/llm"
	"theological-agent/internal/logging"
	"theological-agent/internal/workflow"
)

// Node names.
const (
	PanoramaNode     = "panorama_agent"
	LexicalNode      = "lexical_agent"
	HistoricalNode   = "historical_agent"
	IntertextualNode = "intertextual_agent"
	JoinNode         = "join"
	ValidatorNode    = "theological_validator"
	SynthesizerNode  = "synthesizer"
)

// fallbackSuffix marks a model label when a fallback model answered.
const fallbackSuffix = " [fallback]"

// missingContent stands in for slots of steps that were not requested.
const missingContent = "Not requested."

// Step describes one analysis branch.
type Step struct {
	Name   string
	Node   string
	Prompt string
	Slot   workflow.Slot
}

// Steps lists every analysis branch by step name.
var Steps = []Step{
	{Name: "panorama", Node: PanoramaNode, Prompt: "panorama", Slot: workflow.SlotPanorama},
	{Name: "lexical", Node: LexicalNode, Prompt: "lexical", Slot: workflow.SlotLexical},
	{Name: "historical", Node: HistoricalNode, Prompt: "historical", Slot: workflow.SlotHistorical},
	{Name: "intertextual", Node: IntertextualNode, Prompt: "intertextual", Slot: workflow.SlotIntertextual},
}

// Modules maps request module names to the step implementing them.
var Modules = map[string]string{
	"panorama": "panorama",
	"exegese":  "lexical",
	"teologia": "historical",
}

// StepByName returns the branch registered under a step name.
func StepByName(name string) (Step, bool) {
	for _, s := range Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// nodeBase holds what every generating node needs.
type nodeBase struct {
	name   string
	prompt Prompt
	gen    llm.Generator
	logger *logging.Logger
}

func newBase(name, promptKey string, gen llm.Generator, catalog *Catalog, logger *logging.Logger) (nodeBase, error) {
	p, ok := catalog.Get(promptKey)
	if !ok {
		return nodeBase{}, fmt.Errorf("prompt %q missing from catalog", promptKey)
	}
	return nodeBase{name: name, prompt: p, gen: gen, logger: logger}, nil
}

// generate runs one call and returns the generation plus the bookkeeping
// update shared by every node.
func (b nodeBase) generate(ctx context.Context, s workflow.WorkflowState) (*llm.Generation, workflow.Update, error) {
	vars := promptVars(s)
	start := time.Now()
	g, err := b.gen.Generate(ctx, llm.Request{
		Role:        b.name,
		Model:       b.prompt.Tier,
		System:      render(b.prompt.System, vars),
		Prompt:      render(b.prompt.User, vars),
		Temperature: b.prompt.Temperature,
		MaxTokens:   b.prompt.MaxTokens,
	})
	if err != nil {
		return nil, workflow.Update{}, err
	}
	elapsed := time.Since(start)

	label := g.Model
	if g.Fallback {
		label += fallbackSuffix
	}
	usage := workflow.TokenUsage{Input: g.Usage.Input, Output: g.Usage.Output}
	b.logger.Info("node_complete",
		"run_id", s.RunID,
		"node", b.name,
		"model", label,
		"tokens_input", usage.Input,
		"tokens_output", usage.Output,
		"duration_ms", elapsed.Milliseconds(),
	)
	return g, workflow.Update{
		ModelVersions:  map[string]string{b.name: label},
		TokensConsumed: map[string]workflow.TokenUsage{b.name: usage},
		PromptVersions: map[string]string{b.name: b.prompt.Version},
		Steps: []workflow.StepRecord{{
			Node:          b.name,
			Model:         label,
			PromptVersion: b.prompt.Version,
			Tokens:        usage,
			DurationMS:    elapsed.Milliseconds(),
		}},
	}, nil
}

func promptVars(s workflow.WorkflowState) map[string]string {
	verses := make([]string, len(s.Inputs.Verses))
	for i, v := range s.Inputs.Verses {
		verses[i] = strconv.Itoa(v)
	}
	vars := map[string]string{
		"reference": s.Inputs.Reference(),
		"book":      s.Inputs.Book,
		"chapter":   strconv.Itoa(s.Inputs.Chapter),
		"verses":    strings.Join(verses, ", "),
	}
	for _, slot := range slices.Concat(workflow.AnalysisSlots, []workflow.Slot{workflow.SlotValidation}) {
		content, ok := s.Output(slot)
		if !ok || content == "" {
			content = missingContent
		}
		vars[string(slot)] = content
	}
	return vars
}

// NewAnalysisNode creates a generation branch writing its sanitized output
// to the step's slot.
func NewAnalysisNode(step Step, gen llm.Generator, catalog *Catalog, logger *logging.Logger) (workflow.Node, error) {
	b, err := newBase(step.Node, step.Prompt, gen, catalog, logger)
	if err != nil {
		return nil, err
	}
	return workflow.NewNode(step.Node, workflow.RoleGeneration, func(ctx context.Context, s workflow.WorkflowState) (workflow.Update, error) {
		g, u, err := b.generate(ctx, s)
		if err != nil {
			return workflow.Update{}, err
		}
		u.Outputs = map[workflow.Slot]string{step.Slot: llm.Sanitize(g.Text)}
		return u, nil
	}), nil
}

// NewValidatorNode creates the gate. It expects a structured verdict; an
// unparseable reply fails the node.
func NewValidatorNode(gen llm.Generator, catalog *Catalog, logger *logging.Logger) (workflow.Node, error) {
	b, err := newBase(ValidatorNode, "validator", gen, catalog, logger)
	if err != nil {
		return nil, err
	}
	return workflow.NewNode(ValidatorNode, workflow.RoleGate, func(ctx context.Context, s workflow.WorkflowState) (workflow.Update, error) {
		g, u, err := b.generate(ctx, s)
		if err != nil {
			return workflow.Update{}, err
		}
		verdict, err := llm.ParseGateVerdict(g.Text)
		if err != nil {
			return workflow.Update{}, fmt.Errorf("validator verdict: %w", err)
		}
		risk := workflow.ParseRiskLevel(verdict.RiskLevel)
		u.Outputs = map[workflow.Slot]string{workflow.SlotValidation: verdict.Content}
		u.RiskLevel = risk
		u.Alerts = verdict.Alerts
		u.Steps[0].Extras = &workflow.StepExtras{RiskLevel: risk, Alerts: verdict.Alerts}
		if risk == workflow.RiskHigh {
			logger.Warn("hitl_trigger", "run_id", s.RunID, "risk_level", risk, "alerts", verdict.Alerts)
		}
		return u, nil
	}), nil
}

// NewSynthesizerNode creates the terminal node writing the final analysis.
func NewSynthesizerNode(gen llm.Generator, catalog *Catalog, logger *logging.Logger) (workflow.Node, error) {
	b, err := newBase(SynthesizerNode, "synthesizer", gen, catalog, logger)
	if err != nil {
		return nil, err
	}
	return workflow.NewNode(SynthesizerNode, workflow.RoleTerminal, func(ctx context.Context, s workflow.WorkflowState) (workflow.Update, error) {
		g, u, err := b.generate(ctx, s)
		if err != nil {
			return workflow.Update{}, err
		}
		u.Outputs = map[workflow.Slot]string{workflow.SlotFinal: llm.Sanitize(g.Text)}
		return u, nil
	}), nil
}
