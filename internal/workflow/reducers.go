package workflow

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrFieldConflict is returned when an update writes a single-writer
	// field that already holds a value.
	ErrFieldConflict = errors.New("single-writer field already written")
	// ErrStatusRegression is returned when an update moves the review status
	// backwards.
	ErrStatusRegression = errors.New("hitl status cannot move backwards")
)

// Update is the partial state returned by a node. Empty fields contribute
// nothing.
type Update struct {
	Outputs map[Slot]string

	ModelVersions  map[string]string
	TokensConsumed map[string]TokenUsage
	PromptVersions map[string]string
	Steps          []StepRecord

	RiskLevel  RiskLevel
	Alerts     []string
	HITLStatus HITLStatus
}

// IsZero reports whether the update contributes nothing.
func (u Update) IsZero() bool {
	return len(u.Outputs) == 0 && len(u.ModelVersions) == 0 && len(u.TokensConsumed) == 0 &&
		len(u.PromptVersions) == 0 && len(u.Steps) == 0 && u.RiskLevel == "" &&
		len(u.Alerts) == 0 && u.HITLStatus == HITLNone
}

// MergeMaps is the key-union reducer. Each contributing node owns a disjoint
// key so the union is conflict free; on collision the incoming value wins.
func MergeMaps[V any](existing, incoming map[string]V) map[string]V {
	out := make(map[string]V, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// ConcatSteps is the list reducer: existing followed by incoming.
func ConcatSteps(existing, incoming []StepRecord) []StepRecord {
	out := make([]StepRecord, 0, len(existing)+len(incoming))
	out = append(out, cloneSteps(existing)...)
	return append(out, cloneSteps(incoming)...)
}

// Apply returns the state obtained by applying u to s. s is left untouched.
// Writing an already written output slot, a second risk level or a second
// alert list fails with ErrFieldConflict; a status that does not move
// forward fails with ErrStatusRegression.
func Apply(s WorkflowState, u Update) (WorkflowState, error) {
	next := s.Clone()

	for slot, content := range u.Outputs {
		if _, exists := next.Outputs[slot]; exists {
			return s, fmt.Errorf("%w: %s", ErrFieldConflict, slot)
		}
		next.Outputs[slot] = content
	}
	if u.RiskLevel != "" {
		if next.RiskLevel != "" {
			return s, fmt.Errorf("%w: risk_level", ErrFieldConflict)
		}
		next.RiskLevel = u.RiskLevel
	}
	if u.Alerts != nil {
		if next.Alerts != nil {
			return s, fmt.Errorf("%w: alerts", ErrFieldConflict)
		}
		next.Alerts = slices.Clone(u.Alerts)
	}
	if u.HITLStatus != HITLNone {
		if u.HITLStatus.rank() <= next.HITLStatus.rank() {
			return s, fmt.Errorf("%w: %q -> %q", ErrStatusRegression, next.HITLStatus, u.HITLStatus)
		}
		next.HITLStatus = u.HITLStatus
	}

	next.ModelVersions = MergeMaps(next.ModelVersions, u.ModelVersions)
	next.TokensConsumed = MergeMaps(next.TokensConsumed, u.TokensConsumed)
	next.PromptVersions = MergeMaps(next.PromptVersions, u.PromptVersions)
	if len(u.Steps) > 0 {
		next.Steps = ConcatSteps(next.Steps, u.Steps)
	}
	return next, nil
}

// ApplyAll applies updates in order, stopping at the first conflict.
func ApplyAll(s WorkflowState, updates ...Update) (WorkflowState, error) {
	var err error
	for _, u := range updates {
		if s, err = Apply(s, u); err != nil {
			return s, err
		}
	}
	return s, nil
}
