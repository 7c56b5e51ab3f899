// Package hitl implements the risk-gated pause of a run and its later
// resumption after human approval.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"theological-agent/internal/audit"
	"theological-agent/internal/logging"
	"theological-agent/internal/notify"
	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

const (
	// PauseTarget is the edge target that suspends a run for review.
	PauseTarget = "hitl_pending"
	// SynthesisTarget is the terminal node producing the final analysis.
	SynthesisTarget = "synthesizer"
)

var (
	// ErrReviewNotFound is returned when the run has no persisted review.
	ErrReviewNotFound = errors.New("hitl: review not found")
	// ErrReviewResolved is returned when the review was already approved or
	// edited.
	ErrReviewResolved = errors.New("hitl: review already resolved")
)

// RouteByRisk is the conditional edge after the gate: high risk pauses,
// anything else, including a missing level, proceeds to synthesis.
func RouteByRisk(s workflow.WorkflowState) string {
	if s.RiskLevel == workflow.RiskHigh {
		return PauseTarget
	}
	return SynthesisTarget
}

// Resumer re-enters a run at a terminal node.
type Resumer interface {
	Resume(ctx context.Context, state workflow.WorkflowState, terminal string) (*workflow.Result, error)
}

// Dispatcher queues notifications without blocking.
type Dispatcher interface {
	Dispatch(ev notify.Event)
}

// Controller owns the pause/persist/resume protocol.
type Controller struct {
	reviews    repository.ReviewStore
	resumer    Resumer
	recorder   *audit.Recorder
	dispatcher Dispatcher
	reviewURL  string
	logger     *logging.Logger
}

// NewController creates a Controller. dispatcher may be nil.
func NewController(reviews repository.ReviewStore, resumer Resumer, recorder *audit.Recorder, dispatcher Dispatcher, reviewBaseURL string, logger *logging.Logger) *Controller {
	return &Controller{
		reviews:    reviews,
		resumer:    resumer,
		recorder:   recorder,
		dispatcher: dispatcher,
		reviewURL:  strings.TrimRight(reviewBaseURL, "/"),
		logger:     logger,
	}
}

// Pause persists the frozen state of a run and notifies the reviewer. The
// returned state has status pending even when persisting failed; the persist
// error is returned alongside so the caller can record it.
func (c *Controller) Pause(ctx context.Context, s workflow.WorkflowState) (workflow.WorkflowState, error) {
	paused, err := workflow.Apply(s, workflow.Update{HITLStatus: workflow.HITLPending})
	if err != nil {
		return s, err
	}
	log := c.logger.With("run_id", s.RunID)

	written, persistErr := c.reviews.InsertReview(ctx, ReviewFromState(paused))
	switch {
	case persistErr != nil:
		log.Error("hitl_persist_failed", "error", persistErr)
		persistErr = fmt.Errorf("persist review: %w", persistErr)
	case !written:
		log.Info("hitl_duplicate", "reason", "review already persisted")
		return paused, nil
	}

	if c.dispatcher != nil {
		c.dispatcher.Dispatch(notify.Event{
			RunID:     s.RunID,
			Reference: s.Inputs.Reference(),
			RiskLevel: string(s.RiskLevel),
			Alerts:    s.Alerts,
			ReviewURL: c.reviewURL + "/" + s.RunID,
		})
	}
	log.Warn("hitl_pending", "risk_level", s.RiskLevel, "alerts", len(s.Alerts))
	return paused, persistErr
}

// Resume approves a pending review and runs synthesis over the persisted
// state. A non-empty edited content replaces the validation output and marks
// the review edited. The pending to resolved transition is committed before
// synthesis runs, so of two concurrent callers exactly one proceeds and the
// other gets ErrReviewResolved.
func (c *Controller) Resume(ctx context.Context, runID string, edited *string, reviewer string) (workflow.WorkflowState, error) {
	start := time.Now()
	log := c.logger.With("run_id", runID)

	review, err := c.Get(ctx, runID)
	if err != nil {
		return workflow.WorkflowState{}, err
	}
	if review.Status != repository.ReviewPending {
		return workflow.WorkflowState{}, ErrReviewResolved
	}

	status := repository.ReviewApproved
	if edited != nil && strings.TrimSpace(*edited) != "" {
		status = repository.ReviewEdited
	} else {
		edited = nil
	}

	resolved, err := c.reviews.ResolveReview(ctx, runID, status, edited, reviewer)
	switch {
	case errors.Is(err, repository.ErrConflict):
		return workflow.WorkflowState{}, ErrReviewResolved
	case errors.Is(err, repository.ErrNotFound):
		return workflow.WorkflowState{}, ErrReviewNotFound
	case err != nil:
		return workflow.WorkflowState{}, fmt.Errorf("resolve review: %w", err)
	}
	log.Info("hitl_resolved", "status", status, "reviewer", reviewer)

	state, err := StateFromReview(resolved)
	if err != nil {
		return workflow.WorkflowState{}, err
	}
	res, err := c.resumer.Resume(ctx, state, SynthesisTarget)
	if err != nil {
		c.recorder.RecordResume(ctx, audit.RecordFromState(state, err, time.Since(start)))
		return state, err
	}
	c.recorder.RecordResume(ctx, audit.RecordFromState(res.State, nil, time.Since(start)))
	log.Info("hitl_resumed", "duration_ms", time.Since(start).Milliseconds())
	return res.State, nil
}

// Pending lists reviews awaiting approval, most recent first.
func (c *Controller) Pending(ctx context.Context, limit int) ([]*repository.Review, error) {
	return c.reviews.ListReviews(ctx, repository.ReviewPending, limit)
}

// Get returns the review of a run.
func (c *Controller) Get(ctx context.Context, runID string) (*repository.Review, error) {
	r, err := c.reviews.GetReview(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load review: %w", err)
	}
	return r, nil
}

// ReviewFromState snapshots the fields needed to resume a run.
func ReviewFromState(s workflow.WorkflowState) *repository.Review {
	c := s.Clone()
	outputs := make(map[workflow.Slot]string, len(c.Outputs))
	for slot, v := range c.Outputs {
		if slot != workflow.SlotFinal {
			outputs[slot] = v
		}
	}
	return &repository.Review{
		RunID:          c.RunID,
		Inputs:         c.Inputs,
		Outputs:        outputs,
		RiskLevel:      string(c.RiskLevel),
		Alerts:         c.Alerts,
		ModelVersions:  c.ModelVersions,
		TokensConsumed: c.TokensConsumed,
		PromptVersions: c.PromptVersions,
		Steps:          c.Steps,
		Status:         repository.ReviewPending,
	}
}

// StateFromReview rebuilds the state of a resolved review, ready for the
// synthesis node.
func StateFromReview(r *repository.Review) (workflow.WorkflowState, error) {
	s := workflow.NewState(r.RunID, r.Inputs)
	s.CreatedAt = r.CreatedAt
	for slot, v := range r.Outputs {
		s.Outputs[slot] = v
	}
	if r.EditedContent != nil {
		s.Outputs[workflow.SlotValidation] = *r.EditedContent
	}
	s.ModelVersions = workflow.MergeMaps(s.ModelVersions, r.ModelVersions)
	s.TokensConsumed = workflow.MergeMaps(s.TokensConsumed, r.TokensConsumed)
	s.PromptVersions = workflow.MergeMaps(s.PromptVersions, r.PromptVersions)
	s.Steps = workflow.ConcatSteps(nil, r.Steps)
	s.RiskLevel = workflow.ParseRiskLevel(r.RiskLevel)
	s.Alerts = append([]string{}, r.Alerts...)
	s.HITLStatus = workflow.HITLPending

	var target workflow.HITLStatus
	switch r.Status {
	case repository.ReviewApproved:
		target = workflow.HITLApproved
	case repository.ReviewEdited:
		target = workflow.HITLEdited
	default:
		return s, fmt.Errorf("review %s is %s, not resolved", r.RunID, r.Status)
	}
	return workflow.Apply(s, workflow.Update{HITLStatus: target})
}
