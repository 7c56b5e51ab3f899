package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"theological-agent/internal/workflow"
)

// now is replaced in tests that need stable timestamps.
var now = func() time.Time { return time.Now().UTC() }

// MemoryStore is an in-process Store with the same idempotency semantics as
// PostgresStore. Records are copied on the way in and out.
type MemoryStore struct {
	mu      sync.Mutex
	runs    map[string]*RunRecord
	cache   map[string]*CacheEntry
	reviews map[string]*Review
	traces  map[string]*TraceRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    map[string]*RunRecord{},
		cache:   map[string]*CacheEntry{},
		reviews: map[string]*Review{},
		traces:  map[string]*TraceRecord{},
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) UpsertRun(_ context.Context, run *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := copyRun(run)
	c.UpdatedAt = now()
	if existing, ok := m.runs[run.RunID]; ok {
		// identity and inputs are immutable once written
		c.Inputs = existing.Inputs
		c.FromCache = existing.FromCache
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = c.UpdatedAt
	}
	m.runs[run.RunID] = c
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(r), nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, copyRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// CountRuns returns the number of audit rows.
func (m *MemoryStore) CountRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *MemoryStore) HitCache(_ context.Context, key string) (*CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[key]
	if !ok {
		return nil, ErrNotFound
	}
	e.HitCount++
	c := *e
	return &c, nil
}

func (m *MemoryStore) PeekCache(_ context.Context, key string) (*CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[key]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *MemoryStore) InsertCache(_ context.Context, e *CacheEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[e.Key]; ok {
		return false, nil
	}
	c := *e
	c.Inputs = copyInputs(e.Inputs)
	c.HitCount = 0
	c.CreatedAt = now()
	m.cache[e.Key] = &c
	return true, nil
}

// CountCache returns the number of cache rows.
func (m *MemoryStore) CountCache() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

func (m *MemoryStore) InsertReview(_ context.Context, r *Review) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[r.RunID]; ok {
		return false, nil
	}
	c := copyReview(r)
	if c.Status == "" {
		c.Status = ReviewPending
	}
	if c.Alerts == nil {
		c.Alerts = []string{}
	}
	c.CreatedAt = now()
	m.reviews[r.RunID] = c
	return true, nil
}

func (m *MemoryStore) GetReview(_ context.Context, runID string) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyReview(r), nil
}

func (m *MemoryStore) ListReviews(_ context.Context, status ReviewStatus, limit int) ([]*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Review
	for _, r := range m.reviews {
		if status == "" || r.Status == status {
			out = append(out, copyReview(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) ResolveReview(_ context.Context, runID string, status ReviewStatus, edited *string, reviewer string) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[runID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != ReviewPending {
		return nil, ErrConflict
	}
	at := now()
	r.Status = status
	r.EditedContent = copyString(edited)
	r.ReviewerEmail = reviewer
	r.ReviewedAt = &at
	return copyReview(r), nil
}

func (m *MemoryStore) SaveTrace(_ context.Context, t *TraceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	c.CreatedAt = now()
	m.traces[t.RunID] = &c
	return nil
}

func (m *MemoryStore) GetTrace(_ context.Context, runID string) (*TraceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[runID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func truncate[T any](items []T, limit int) []T {
	limit = limitOrDefault(limit)
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func copyInputs(in workflow.Inputs) workflow.Inputs {
	in.Verses = slices.Clone(in.Verses)
	in.Modules = slices.Clone(in.Modules)
	return in
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyRun(r *RunRecord) *RunRecord {
	c := *r
	c.Inputs = copyInputs(r.Inputs)
	st := workflow.WorkflowState{
		ModelVersions:  r.ModelVersions,
		TokensConsumed: r.TokensConsumed,
		PromptVersions: r.PromptVersions,
		Steps:          r.Steps,
	}.Clone()
	c.ModelVersions, c.TokensConsumed, c.PromptVersions, c.Steps = st.ModelVersions, st.TokensConsumed, st.PromptVersions, st.Steps
	return &c
}

func copyReview(r *Review) *Review {
	c := *r
	c.Inputs = copyInputs(r.Inputs)
	st := workflow.WorkflowState{
		Outputs:        r.Outputs,
		ModelVersions:  r.ModelVersions,
		TokensConsumed: r.TokensConsumed,
		PromptVersions: r.PromptVersions,
		Steps:          r.Steps,
	}.Clone()
	c.Outputs, c.ModelVersions, c.TokensConsumed, c.PromptVersions, c.Steps = st.Outputs, st.ModelVersions, st.TokensConsumed, st.PromptVersions, st.Steps
	c.Alerts = slices.Clone(r.Alerts)
	c.EditedContent = copyString(r.EditedContent)
	if r.ReviewedAt != nil {
		at := *r.ReviewedAt
		c.ReviewedAt = &at
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
