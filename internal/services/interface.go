package services

import (
	"context"

	"theological-agent/internal/observability"
	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

// Runner executes a full workflow pass.
type Runner interface {
	Run(ctx context.Context, state workflow.WorkflowState) (*workflow.Result, error)
}

// ReviewController owns the pause and resume protocol.
type ReviewController interface {
	Pause(ctx context.Context, s workflow.WorkflowState) (workflow.WorkflowState, error)
	Resume(ctx context.Context, runID string, edited *string, reviewer string) (workflow.WorkflowState, error)
	Pending(ctx context.Context, limit int) ([]*repository.Review, error)
	Get(ctx context.Context, runID string) (*repository.Review, error)
}

// Metrics receives run outcomes.
type Metrics interface {
	RunFinished(ctx context.Context, outcome string)
	Paused(ctx context.Context)
	Resumed(ctx context.Context, status string)
}

// TraceExporter exports run traces without blocking the caller.
type TraceExporter interface {
	ExportAsync(t observability.RunTrace)
}
