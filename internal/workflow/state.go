// Package workflow implements the analysis run engine: the state record that
// flows through a run, the reducers that merge concurrent partial updates, the
// node abstraction and the DAG executor with dynamic fan-out, a variable-arity
// join barrier and a risk-gated conditional edge.
package workflow

import (
	"slices"
	"time"
)

// Slot names a single-writer output field of WorkflowState.
type Slot string

const (
	SlotPanorama     Slot = "panorama_content"
	SlotLexical      Slot = "lexical_content"
	SlotHistorical   Slot = "historical_content"
	SlotIntertextual Slot = "intertextual_content"
	SlotValidation   Slot = "validation_content"
	SlotFinal        Slot = "final_analysis"
)

// AnalysisSlots lists the per-step output slots in presentation order.
var AnalysisSlots = []Slot{SlotPanorama, SlotLexical, SlotHistorical, SlotIntertextual}

// RiskLevel is the gate's assessment of accumulated content.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel normalizes a gate payload value. Anything unrecognised,
// including the empty string, is treated as the lowest severity.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskMedium, RiskHigh:
		return RiskLevel(s)
	default:
		return RiskLow
	}
}

// HITLStatus is the human review status of a run. It only moves forward:
// "" -> pending -> approved | edited.
type HITLStatus string

const (
	HITLNone     HITLStatus = ""
	HITLPending  HITLStatus = "pending"
	HITLApproved HITLStatus = "approved"
	HITLEdited   HITLStatus = "edited"
)

func (s HITLStatus) rank() int {
	switch s {
	case HITLPending:
		return 1
	case HITLApproved, HITLEdited:
		return 2
	default:
		return 0
	}
}

// Inputs are the request parameters of a run. Set once at creation.
type Inputs struct {
	Book    string   `json:"book"`
	Chapter int      `json:"chapter"`
	Verses  []int    `json:"verses"`
	Modules []string `json:"selected_modules"`
}

// TokenUsage counts tokens spent by one generation call.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// StepExtras carries the optional structured extras of an execution record.
type StepExtras struct {
	RiskLevel RiskLevel `json:"risk_level,omitempty"`
	Alerts    []string  `json:"alerts,omitempty"`
}

// StepRecord is the execution record a node appends to the run.
type StepRecord struct {
	Node          string      `json:"node"`
	Model         string      `json:"model"`
	PromptVersion string      `json:"prompt_version,omitempty"`
	Tokens        TokenUsage  `json:"tokens"`
	DurationMS    int64       `json:"duration_ms"`
	Extras        *StepExtras `json:"extras,omitempty"`
}

// WorkflowState is the record threading through a run. Nodes never mutate it;
// they return an Update which the executor applies to produce the next state.
type WorkflowState struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Inputs    Inputs    `json:"inputs"`

	Outputs map[Slot]string `json:"outputs"`

	ModelVersions  map[string]string     `json:"model_versions"`
	TokensConsumed map[string]TokenUsage `json:"tokens_consumed"`
	PromptVersions map[string]string     `json:"prompt_versions"`
	Steps          []StepRecord          `json:"reasoning_steps"`

	RiskLevel  RiskLevel  `json:"risk_level,omitempty"`
	Alerts     []string   `json:"alerts,omitempty"`
	HITLStatus HITLStatus `json:"hitl_status,omitempty"`
}

// NewState creates the initial state of a run with every output and control
// field empty.
func NewState(runID string, in Inputs) WorkflowState {
	return WorkflowState{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Inputs: Inputs{
			Book:    in.Book,
			Chapter: in.Chapter,
			Verses:  slices.Clone(in.Verses),
			Modules: slices.Clone(in.Modules),
		},
		Outputs:        map[Slot]string{},
		ModelVersions:  map[string]string{},
		TokensConsumed: map[string]TokenUsage{},
		PromptVersions: map[string]string{},
	}
}

// Output returns the content of a slot and whether it has been written.
func (s WorkflowState) Output(slot Slot) (string, bool) {
	v, ok := s.Outputs[slot]
	return v, ok
}

// FinalAnalysis returns the synthesis output, empty when not written.
func (s WorkflowState) FinalAnalysis() string {
	return s.Outputs[SlotFinal]
}

// TotalTokens sums every node's usage.
func (s WorkflowState) TotalTokens() TokenUsage {
	var total TokenUsage
	for _, u := range s.TokensConsumed {
		total.Input += u.Input
		total.Output += u.Output
	}
	return total
}

// Clone returns a deep copy. Concurrent branches each receive a clone so no
// branch can observe another's writes before the barrier.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.Inputs.Verses = slices.Clone(s.Inputs.Verses)
	out.Inputs.Modules = slices.Clone(s.Inputs.Modules)
	out.Outputs = cloneMap(s.Outputs)
	out.ModelVersions = cloneMap(s.ModelVersions)
	out.TokensConsumed = cloneMap(s.TokensConsumed)
	out.PromptVersions = cloneMap(s.PromptVersions)
	out.Steps = cloneSteps(s.Steps)
	out.Alerts = slices.Clone(s.Alerts)
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSteps(steps []StepRecord) []StepRecord {
	if steps == nil {
		return nil
	}
	out := make([]StepRecord, len(steps))
	for i, st := range steps {
		out[i] = st
		if st.Extras != nil {
			ex := *st.Extras
			ex.Alerts = slices.Clone(st.Extras.Alerts)
			out[i].Extras = &ex
		}
	}
	return out
}
