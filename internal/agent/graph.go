package agent

import (
	"fmt"
	"strings"

	"theological-agent/internal/hitl"
	"theological-agent/internal/llm"
	"theological-agent/internal/logging"
	"theological-agent/internal/workflow"
)

// GraphConfig configures BuildGraph.
type GraphConfig struct {
	Generator llm.Generator
	Catalog   *Catalog
	// MandatoryStep names the step that runs for every request.
	MandatoryStep string
	Logger        *logging.Logger
}

// BuildGraph assembles the analysis workflow: requested steps plus the
// mandatory one fan out, join, pass through the validator and either pause
// for review or reach the synthesizer.
func BuildGraph(cfg GraphConfig) (*workflow.Graph, error) {
	mandatory, ok := StepByName(strings.ToLower(strings.TrimSpace(cfg.MandatoryStep)))
	if !ok {
		return nil, fmt.Errorf("unknown mandatory step %q", cfg.MandatoryStep)
	}

	modules := make(map[string]string, len(Modules))
	for module, stepName := range Modules {
		step, _ := StepByName(stepName)
		modules[module] = step.Node
	}

	b := workflow.NewBuilder()
	for _, step := range Steps {
		n, err := NewAnalysisNode(step, cfg.Generator, cfg.Catalog, cfg.Logger)
		if err != nil {
			return nil, err
		}
		b.AddNode(n)
	}
	validator, err := NewValidatorNode(cfg.Generator, cfg.Catalog, cfg.Logger)
	if err != nil {
		return nil, err
	}
	synthesizer, err := NewSynthesizerNode(cfg.Generator, cfg.Catalog, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return b.
		AddNode(workflow.Passthrough(JoinNode)).
		AddNode(validator).
		AddNode(synthesizer).
		SetRouter(workflow.NewModuleRouter(mandatory.Node, modules)).
		SetJoin(JoinNode).
		SetGate(ValidatorNode).
		AddConditionalEdge(ValidatorNode, hitl.RouteByRisk, hitl.PauseTarget, hitl.SynthesisTarget).
		SetPauseTarget(hitl.PauseTarget).
		Compile()
}
