// Package services implements the analysis use cases on top of the workflow
// engine, the cache, the audit trail and the review controller.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"theological-agent/internal/audit"
	"theological-agent/internal/cache"
	"theological-agent/internal/hitl"
	"theological-agent/internal/logging"
	"theological-agent/internal/observability"
	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
	"theological-agent/pkg/models"
)

// Run outcomes reported to Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomePaused    = "paused"
	OutcomeCached    = "cached"
	OutcomeFailed    = "failed"
)

// RunError is returned when a run fails. It carries the run id so the caller
// can correlate the audit record.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("analysis %s failed: %v", e.RunID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Deps are the collaborators of AnalysisService. Metrics and Traces are
// optional.
type Deps struct {
	Runner   Runner
	Reviews  ReviewController
	Cache    *cache.Cache
	Recorder *audit.Recorder
	Metrics  Metrics
	Traces   TraceExporter
	Logger   *logging.Logger
}

// AnalysisService runs analyses and resolves reviews.
type AnalysisService struct {
	runner   Runner
	reviews  ReviewController
	cache    *cache.Cache
	recorder *audit.Recorder
	metrics  Metrics
	traces   TraceExporter
	logger   *logging.Logger
	newID    func() string
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(d Deps) *AnalysisService {
	return &AnalysisService{
		runner:   d.Runner,
		reviews:  d.Reviews,
		cache:    d.Cache,
		recorder: d.Recorder,
		metrics:  d.Metrics,
		traces:   d.Traces,
		logger:   d.Logger,
		newID:    uuid.NewString,
	}
}

// Analyze validates the request and runs it, answering from the cache when
// the same normalized input already produced a final analysis. A run paused
// for review is a successful call whose response has HITLStatus "pending".
func (s *AnalysisService) Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AnalyzeResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	runID := s.newID()
	inputs := workflow.Inputs{
		Book:    req.Book,
		Chapter: req.Chapter,
		Verses:  req.Verses,
		Modules: req.SelectedModules,
	}
	log := s.logger.With("run_id", runID)
	log.Info("analysis_start", "reference", inputs.Reference(), "modules", inputs.Modules)

	key := cache.Key(inputs)
	if output, hit := s.cache.Lookup(ctx, key); hit {
		elapsed := time.Since(start)
		s.recorder.Record(ctx, &repository.RunRecord{
			RunID:       runID,
			Inputs:      inputs,
			FinalOutput: output,
			FromCache:   true,
			Success:     true,
			DurationMS:  elapsed.Milliseconds(),
		})
		s.finished(ctx, OutcomeCached)
		return &models.AnalyzeResponse{
			RunID:         runID,
			FinalAnalysis: output,
			FromCache:     true,
			DurationMS:    elapsed.Milliseconds(),
		}, nil
	}

	state := workflow.NewState(runID, inputs)
	res, runErr := s.runner.Run(ctx, state)
	if runErr != nil {
		s.recorder.Record(ctx, audit.RecordFromState(state, runErr, time.Since(start)))
		s.export(state, nil, runErr)
		s.finished(ctx, OutcomeFailed)
		return nil, &RunError{RunID: runID, Err: runErr}
	}

	final := res.State
	switch res.Status {
	case workflow.StatusPaused:
		paused, pauseErr := s.reviews.Pause(ctx, res.State)
		final = paused
		rec := audit.RecordFromState(paused, nil, time.Since(start))
		if pauseErr != nil {
			rec.Error = pauseErr.Error()
		}
		s.recorder.Record(ctx, rec)
		if s.metrics != nil {
			s.metrics.Paused(ctx)
		}
		s.finished(ctx, OutcomePaused)
	default:
		s.cache.Store(ctx, key, inputs, final.FinalAnalysis(), runID)
		s.recorder.Record(ctx, audit.RecordFromState(final, nil, time.Since(start)))
		s.finished(ctx, OutcomeCompleted)
	}
	s.export(final, res, nil)

	elapsed := time.Since(start)
	log.Info("analysis_complete", "status", res.Status, "duration_ms", elapsed.Milliseconds())
	return models.ResponseFromState(final, elapsed.Milliseconds()), nil
}

// Approve resolves a pending review and returns the synthesized analysis.
// hitl.ErrReviewNotFound and hitl.ErrReviewResolved are returned unwrapped.
func (s *AnalysisService) Approve(ctx context.Context, runID string, edited *string, reviewer string) (*models.AnalyzeResponse, error) {
	start := time.Now()
	state, err := s.reviews.Resume(ctx, runID, edited, reviewer)
	if err != nil {
		if errors.Is(err, hitl.ErrReviewNotFound) || errors.Is(err, hitl.ErrReviewResolved) {
			return nil, err
		}
		s.finished(ctx, OutcomeFailed)
		return nil, &RunError{RunID: runID, Err: err}
	}
	if s.metrics != nil {
		s.metrics.Resumed(ctx, string(state.HITLStatus))
	}
	s.finished(ctx, OutcomeCompleted)
	s.export(state, &workflow.Result{State: state, Status: workflow.StatusCompleted, Phases: []workflow.Phase{workflow.PhaseSynthesized}, Duration: time.Since(start)}, nil)
	return models.ResponseFromState(state, time.Since(start).Milliseconds()), nil
}

// PendingReviews lists reviews awaiting approval.
func (s *AnalysisService) PendingReviews(ctx context.Context, limit int) ([]*repository.Review, error) {
	return s.reviews.Pending(ctx, limit)
}

// Review returns the review of a run.
func (s *AnalysisService) Review(ctx context.Context, runID string) (*repository.Review, error) {
	return s.reviews.Get(ctx, runID)
}

func (s *AnalysisService) finished(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RunFinished(ctx, outcome)
	}
}

func (s *AnalysisService) export(state workflow.WorkflowState, res *workflow.Result, runErr error) {
	if s.traces != nil {
		s.traces.ExportAsync(observability.TraceFromResult(state, res, runErr))
	}
}
