package models

import (
	"time"

	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

// ReviewSummary is the list view of a review.
type ReviewSummary struct {
	RunID     string    `json:"run_id"`
	Reference string    `json:"reference"`
	RiskLevel string    `json:"risk_level"`
	Alerts    []string  `json:"alerts"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingReviews is the payload of the pending reviews listing.
type PendingReviews struct {
	Pending []ReviewSummary `json:"pending"`
	Count   int             `json:"count"`
}

// ReviewDetail exposes every persisted field of a review.
type ReviewDetail struct {
	RunID               string                         `json:"run_id"`
	Book                string                         `json:"book"`
	Chapter             int                            `json:"chapter"`
	Verses              []int                          `json:"verses"`
	SelectedModules     []string                       `json:"selected_modules"`
	RiskLevel           string                         `json:"risk_level"`
	Alerts              []string                       `json:"alerts"`
	PanoramaContent     string                         `json:"panorama_content,omitempty"`
	LexicalContent      string                         `json:"lexical_content,omitempty"`
	HistoricalContent   string                         `json:"historical_content,omitempty"`
	IntertextualContent string                         `json:"intertextual_content,omitempty"`
	ValidationContent   string                         `json:"validation_content,omitempty"`
	EditedContent       *string                        `json:"edited_content,omitempty"`
	Status              string                         `json:"status"`
	ReviewerEmail       string                         `json:"reviewer_email,omitempty"`
	ModelVersions       map[string]string              `json:"model_versions,omitempty"`
	TokensConsumed      map[string]workflow.TokenUsage `json:"tokens_consumed,omitempty"`
	PromptVersions      map[string]string              `json:"prompt_versions,omitempty"`
	ReasoningSteps      []workflow.StepRecord          `json:"reasoning_steps,omitempty"`
	CreatedAt           time.Time                      `json:"created_at"`
	ReviewedAt          *time.Time                     `json:"reviewed_at,omitempty"`
}

// ApproveRequest resolves a review. A non-empty EditedContent replaces the
// validation content before synthesis.
type ApproveRequest struct {
	EditedContent *string `json:"edited_content,omitempty"`
}

// SummaryFromReview builds the list view.
func SummaryFromReview(r *repository.Review) ReviewSummary {
	alerts := r.Alerts
	if alerts == nil {
		alerts = []string{}
	}
	return ReviewSummary{
		RunID:     r.RunID,
		Reference: r.Inputs.Reference(),
		RiskLevel: r.RiskLevel,
		Alerts:    alerts,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

// PendingFromReviews builds the listing payload.
func PendingFromReviews(reviews []*repository.Review) PendingReviews {
	out := PendingReviews{Pending: make([]ReviewSummary, 0, len(reviews))}
	for _, r := range reviews {
		out.Pending = append(out.Pending, SummaryFromReview(r))
	}
	out.Count = len(out.Pending)
	return out
}

// DetailFromReview builds the detail view.
func DetailFromReview(r *repository.Review) ReviewDetail {
	alerts := r.Alerts
	if alerts == nil {
		alerts = []string{}
	}
	return ReviewDetail{
		RunID:               r.RunID,
		Book:                r.Inputs.Book,
		Chapter:             r.Inputs.Chapter,
		Verses:              r.Inputs.Verses,
		SelectedModules:     r.Inputs.Modules,
		RiskLevel:           r.RiskLevel,
		Alerts:              alerts,
		PanoramaContent:     r.Outputs[workflow.SlotPanorama],
		LexicalContent:      r.Outputs[workflow.SlotLexical],
		HistoricalContent:   r.Outputs[workflow.SlotHistorical],
		IntertextualContent: r.Outputs[workflow.SlotIntertextual],
		ValidationContent:   r.Outputs[workflow.SlotValidation],
		EditedContent:       r.EditedContent,
		Status:              string(r.Status),
		ReviewerEmail:       r.ReviewerEmail,
		ModelVersions:       r.ModelVersions,
		TokensConsumed:      r.TokensConsumed,
		PromptVersions:      r.PromptVersions,
		ReasoningSteps:      r.Steps,
		CreatedAt:           r.CreatedAt,
		ReviewedAt:          r.ReviewedAt,
	}
}
