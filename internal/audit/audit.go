// Package audit records one logical row per run attempt. Writes are
// best-effort: failures are logged and never reach the caller.
package audit

import (
	"context"
	"errors"
	"time"

	"theological-agent/internal/logging"
	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

// Recorder writes audit records.
type Recorder struct {
	store  repository.RunStore
	logger *logging.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store repository.RunStore, logger *logging.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record upserts the record keyed by its run id.
func (r *Recorder) Record(ctx context.Context, rec *repository.RunRecord) {
	if err := r.store.UpsertRun(ctx, rec); err != nil {
		r.logger.Error("audit_save_failed", "run_id", rec.RunID, "error", err)
		return
	}
	r.logger.Info("audit_saved",
		"run_id", rec.RunID,
		"success", rec.Success,
		"hitl_status", rec.HITLStatus,
		"duration_ms", rec.DurationMS,
	)
}

// RecordResume upserts the record of a resumed run. duration_ms accumulates
// across legs: the elapsed time in rec is added to the stored duration.
func (r *Recorder) RecordResume(ctx context.Context, rec *repository.RunRecord) {
	prior, err := r.store.GetRun(ctx, rec.RunID)
	switch {
	case err == nil:
		rec.DurationMS += prior.DurationMS
	case !errors.Is(err, repository.ErrNotFound):
		r.logger.Warn("audit_prior_lookup_failed", "run_id", rec.RunID, "error", err)
	}
	r.Record(ctx, rec)
}

// RecordFromState builds an audit record from the state of a run. runErr is
// the node failure, if any.
func RecordFromState(s workflow.WorkflowState, runErr error, elapsed time.Duration) *repository.RunRecord {
	rec := &repository.RunRecord{
		RunID:          s.RunID,
		Inputs:         s.Inputs,
		ModelVersions:  s.ModelVersions,
		TokensConsumed: s.TokensConsumed,
		PromptVersions: s.PromptVersions,
		Steps:          s.Steps,
		RiskLevel:      string(s.RiskLevel),
		HITLStatus:     string(s.HITLStatus),
		FinalOutput:    s.FinalAnalysis(),
		Success:        runErr == nil,
		DurationMS:     elapsed.Milliseconds(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}
