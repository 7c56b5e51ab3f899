package repository

import (
	"context"
	"errors"
	"time"

	"theological-agent/internal/workflow"
)

var (
	// ErrNotFound is returned when no row matches the key.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a conditional update finds the row in an
	// unexpected state.
	ErrConflict = errors.New("repository: conflicting state")
)

// RunRecord is the audit row of one run attempt, keyed by run id.
type RunRecord struct {
	RunID          string
	Inputs         workflow.Inputs
	ModelVersions  map[string]string
	TokensConsumed map[string]workflow.TokenUsage
	PromptVersions map[string]string
	Steps          []workflow.StepRecord
	RiskLevel      string
	HITLStatus     string
	FinalOutput    string
	FromCache      bool
	Success        bool
	Error          string
	DurationMS     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RunStore persists audit records.
type RunStore interface {
	// UpsertRun inserts the record or overwrites the late-arriving fields of
	// the existing row for the same run id.
	UpsertRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}

// CacheEntry maps a normalized input key to a computed final output.
type CacheEntry struct {
	Key       string
	Inputs    workflow.Inputs
	Output    string
	RunID     string
	HitCount  int
	CreatedAt time.Time
}

// CacheStore persists cache entries.
type CacheStore interface {
	// HitCache atomically increments the hit counter and returns the entry,
	// or ErrNotFound.
	HitCache(ctx context.Context, key string) (*CacheEntry, error)
	// InsertCache stores the entry unless the key exists. It reports whether
	// a row was written.
	InsertCache(ctx context.Context, entry *CacheEntry) (bool, error)
	// PeekCache reads an entry without counting a hit.
	PeekCache(ctx context.Context, key string) (*CacheEntry, error)
}

// ReviewStatus is the lifecycle state of a persisted review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewEdited   ReviewStatus = "edited"
)

// Review is the durable snapshot of a run paused for human approval.
type Review struct {
	RunID          string
	Inputs         workflow.Inputs
	Outputs        map[workflow.Slot]string
	RiskLevel      string
	Alerts         []string
	ModelVersions  map[string]string
	TokensConsumed map[string]workflow.TokenUsage
	PromptVersions map[string]string
	Steps          []workflow.StepRecord
	Status         ReviewStatus
	EditedContent  *string
	ReviewerEmail  string
	CreatedAt      time.Time
	ReviewedAt     *time.Time
}

// ReviewStore persists reviews.
type ReviewStore interface {
	// InsertReview stores the review unless one exists for the run id. It
	// reports whether a row was written.
	InsertReview(ctx context.Context, review *Review) (bool, error)
	GetReview(ctx context.Context, runID string) (*Review, error)
	ListReviews(ctx context.Context, status ReviewStatus, limit int) ([]*Review, error)
	// ResolveReview moves a pending review to status. It returns ErrNotFound
	// when the run has no review and ErrConflict when it is not pending.
	ResolveReview(ctx context.Context, runID string, status ReviewStatus, edited *string, reviewer string) (*Review, error)
}

// TraceStatus is the outcome of a trace export.
type TraceStatus string

const (
	TraceUploaded TraceStatus = "uploaded"
	TraceFailed   TraceStatus = "failed"
	TraceSkipped  TraceStatus = "skipped"
)

// TraceRecord tracks where the execution trace of a run was exported.
type TraceRecord struct {
	RunID       string
	StoragePath string
	SizeBytes   int
	Status      TraceStatus
	Error       string
	CreatedAt   time.Time
}

// TraceStore persists trace export outcomes.
type TraceStore interface {
	SaveTrace(ctx context.Context, trace *TraceRecord) error
	GetTrace(ctx context.Context, runID string) (*TraceRecord, error)
}

// Store bundles every relation used by the service.
type Store interface {
	RunStore
	CacheStore
	ReviewStore
	TraceStore
	Ping(ctx context.Context) error
	Close()
}
