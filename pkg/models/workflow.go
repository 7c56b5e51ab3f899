package models

import (
	"theological-agent/internal/workflow"
)

// AnalyzeResponse is the outcome of an analysis request. A run paused for
// review carries HITLStatus "pending" and no final analysis.
type AnalyzeResponse struct {
	RunID          string                         `json:"run_id"`
	FinalAnalysis  string                         `json:"final_analysis"`
	FromCache      bool                           `json:"from_cache"`
	TokensConsumed map[string]workflow.TokenUsage `json:"tokens_consumed,omitempty"`
	ModelVersions  map[string]string              `json:"model_versions,omitempty"`
	PromptVersions map[string]string              `json:"prompt_versions,omitempty"`
	RiskLevel      string                         `json:"risk_level,omitempty"`
	Alerts         []string                       `json:"alerts,omitempty"`
	HITLStatus     string                         `json:"hitl_status,omitempty"`
	DurationMS     int64                          `json:"duration_ms"`
}

// Pending reports whether the run awaits human review.
func (r *AnalyzeResponse) Pending() bool {
	return r.HITLStatus == string(workflow.HITLPending)
}

// ResponseFromState builds the response for a finished or paused run.
func ResponseFromState(s workflow.WorkflowState, durationMS int64) *AnalyzeResponse {
	return &AnalyzeResponse{
		RunID:          s.RunID,
		FinalAnalysis:  s.FinalAnalysis(),
		TokensConsumed: s.TokensConsumed,
		ModelVersions:  s.ModelVersions,
		PromptVersions: s.PromptVersions,
		RiskLevel:      string(s.RiskLevel),
		Alerts:         s.Alerts,
		HITLStatus:     string(s.HITLStatus),
		DurationMS:     durationMS,
	}
}
