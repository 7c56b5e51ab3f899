package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"theological-agent/internal/workflow"
)

// PostgresStore is a PostgreSQL implementation of Store. Every write is keyed
// on a unique column so concurrent runs with identical keys stay correct.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPool connects to the database and verifies the connection.
func OpenPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// UpsertRun inserts or updates the audit row for a run.
func (s *PostgresStore) UpsertRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO analysis_runs (
			run_id, book, chapter, verses, selected_modules,
			model_versions, tokens_consumed, prompt_versions, reasoning_steps,
			risk_level, hitl_status, final_analysis, success, error, duration_ms, from_cache
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (run_id) DO UPDATE SET
			model_versions  = EXCLUDED.model_versions,
			tokens_consumed = EXCLUDED.tokens_consumed,
			prompt_versions = EXCLUDED.prompt_versions,
			reasoning_steps = EXCLUDED.reasoning_steps,
			risk_level      = EXCLUDED.risk_level,
			hitl_status     = EXCLUDED.hitl_status,
			final_analysis  = EXCLUDED.final_analysis,
			success         = EXCLUDED.success,
			error           = EXCLUDED.error,
			duration_ms     = EXCLUDED.duration_ms,
			updated_at      = NOW()`,
		run.RunID, run.Inputs.Book, run.Inputs.Chapter, intArray(run.Inputs.Verses), textArray(run.Inputs.Modules),
		run.ModelVersions, run.TokensConsumed, run.PromptVersions, run.Steps,
		nullString(run.RiskLevel), nullString(run.HITLStatus), nullString(run.FinalOutput),
		run.Success, nullString(run.Error), run.DurationMS, run.FromCache,
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.RunID, err)
	}
	return nil
}

const runColumns = `run_id, book, chapter, verses, selected_modules,
	model_versions, tokens_consumed, prompt_versions, reasoning_steps,
	risk_level, hitl_status, final_analysis, success, error, COALESCE(duration_ms, 0),
	from_cache, created_at, updated_at`

func scanRun(row pgx.Row) (*RunRecord, error) {
	var (
		r                           RunRecord
		verses                      []int32
		risk, status, final, errMsg *string
	)
	err := row.Scan(
		&r.RunID, &r.Inputs.Book, &r.Inputs.Chapter, &verses, &r.Inputs.Modules,
		&r.ModelVersions, &r.TokensConsumed, &r.PromptVersions, &r.Steps,
		&risk, &status, &final, &r.Success, &errMsg, &r.DurationMS,
		&r.FromCache, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Inputs.Verses = fromInt32(verses)
	r.RiskLevel, r.HITLStatus, r.FinalOutput, r.Error = deref(risk), deref(status), deref(final), deref(errMsg)
	return &r, nil
}

// GetRun returns the audit row of a run.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	r, err := scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE run_id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+runColumns+` FROM analysis_runs ORDER BY created_at DESC LIMIT $1`, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const cacheColumns = `cache_key, book, chapter, verses, selected_modules, final_analysis,
	COALESCE(run_id, ''), hit_count, created_at`

func scanCache(row pgx.Row) (*CacheEntry, error) {
	var (
		e      CacheEntry
		verses []int32
	)
	if err := row.Scan(&e.Key, &e.Inputs.Book, &e.Inputs.Chapter, &verses, &e.Inputs.Modules,
		&e.Output, &e.RunID, &e.HitCount, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Inputs.Verses = fromInt32(verses)
	return &e, nil
}

// HitCache increments the hit counter and returns the entry in one statement.
func (s *PostgresStore) HitCache(ctx context.Context, key string) (*CacheEntry, error) {
	e, err := scanCache(s.db.QueryRow(ctx,
		`UPDATE analysis_cache SET hit_count = hit_count + 1 WHERE cache_key = $1 RETURNING `+cacheColumns, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hit cache: %w", err)
	}
	return e, nil
}

// PeekCache reads an entry without touching the counter.
func (s *PostgresStore) PeekCache(ctx context.Context, key string) (*CacheEntry, error) {
	e, err := scanCache(s.db.QueryRow(ctx, `SELECT `+cacheColumns+` FROM analysis_cache WHERE cache_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("peek cache: %w", err)
	}
	return e, nil
}

// InsertCache stores an entry; the first writer for a key wins.
func (s *PostgresStore) InsertCache(ctx context.Context, e *CacheEntry) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO analysis_cache (cache_key, book, chapter, verses, selected_modules, final_analysis, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cache_key) DO NOTHING`,
		e.Key, e.Inputs.Book, e.Inputs.Chapter, intArray(e.Inputs.Verses), textArray(e.Inputs.Modules), e.Output, nullString(e.RunID),
	)
	if err != nil {
		return false, fmt.Errorf("insert cache: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const reviewColumns = `run_id, book, chapter, verses, selected_modules, risk_level, alerts,
	panorama_content, lexical_content, historical_content, intertextual_content, validation_content,
	model_versions, tokens_consumed, prompt_versions, reasoning_steps,
	status, edited_content, COALESCE(reviewer_email, ''), created_at, reviewed_at`

var reviewSlots = []workflow.Slot{
	workflow.SlotPanorama, workflow.SlotLexical, workflow.SlotHistorical,
	workflow.SlotIntertextual, workflow.SlotValidation,
}

func scanReview(row pgx.Row) (*Review, error) {
	var (
		r       Review
		verses  []int32
		content = make([]*string, len(reviewSlots))
		status  string
	)
	dest := []any{&r.RunID, &r.Inputs.Book, &r.Inputs.Chapter, &verses, &r.Inputs.Modules, &r.RiskLevel, &r.Alerts}
	for i := range content {
		dest = append(dest, &content[i])
	}
	dest = append(dest, &r.ModelVersions, &r.TokensConsumed, &r.PromptVersions, &r.Steps,
		&status, &r.EditedContent, &r.ReviewerEmail, &r.CreatedAt, &r.ReviewedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.Inputs.Verses = fromInt32(verses)
	r.Status = ReviewStatus(status)
	r.Outputs = make(map[workflow.Slot]string, len(reviewSlots))
	for i, slot := range reviewSlots {
		if content[i] != nil {
			r.Outputs[slot] = *content[i]
		}
	}
	return &r, nil
}

// InsertReview persists a paused run. A second insert for the same run is a
// no-op.
func (s *PostgresStore) InsertReview(ctx context.Context, r *Review) (bool, error) {
	status := r.Status
	if status == "" {
		status = ReviewPending
	}
	alerts := r.Alerts
	if alerts == nil {
		alerts = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO hitl_reviews (
			run_id, book, chapter, verses, selected_modules, risk_level, alerts,
			panorama_content, lexical_content, historical_content, intertextual_content, validation_content,
			model_versions, tokens_consumed, prompt_versions, reasoning_steps, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (run_id) DO NOTHING`,
		r.RunID, r.Inputs.Book, r.Inputs.Chapter, intArray(r.Inputs.Verses), textArray(r.Inputs.Modules), r.RiskLevel, alerts,
		slotValue(r.Outputs, workflow.SlotPanorama), slotValue(r.Outputs, workflow.SlotLexical),
		slotValue(r.Outputs, workflow.SlotHistorical), slotValue(r.Outputs, workflow.SlotIntertextual),
		slotValue(r.Outputs, workflow.SlotValidation),
		r.ModelVersions, r.TokensConsumed, r.PromptVersions, r.Steps, string(status),
	)
	if err != nil {
		return false, fmt.Errorf("insert review %s: %w", r.RunID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetReview returns the review of a run.
func (s *PostgresStore) GetReview(ctx context.Context, runID string) (*Review, error) {
	r, err := scanReview(s.db.QueryRow(ctx, `SELECT `+reviewColumns+` FROM hitl_reviews WHERE run_id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review %s: %w", runID, err)
	}
	return r, nil
}

// ListReviews returns reviews in a status, most recent first. An empty status
// lists every review.
func (s *PostgresStore) ListReviews(ctx context.Context, status ReviewStatus, limit int) ([]*Review, error) {
	rows, err := s.db.Query(ctx, `SELECT `+reviewColumns+` FROM hitl_reviews
		WHERE $1::text = '' OR status = $1::text
		ORDER BY created_at DESC LIMIT $2`, string(status), limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// ResolveReview applies the approval transition with a compare-and-set on the
// pending status; of two concurrent callers exactly one succeeds.
func (s *PostgresStore) ResolveReview(ctx context.Context, runID string, status ReviewStatus, edited *string, reviewer string) (*Review, error) {
	r, err := scanReview(s.db.QueryRow(ctx, `
		UPDATE hitl_reviews
		SET status = $2, edited_content = $3, reviewer_email = NULLIF($4, ''), reviewed_at = NOW()
		WHERE run_id = $1 AND status = 'pending'
		RETURNING `+reviewColumns,
		runID, string(status), edited, reviewer,
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve review %s: %w", runID, err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM hitl_reviews WHERE run_id = $1)`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("resolve review %s: %w", runID, err)
	}
	if exists {
		return nil, ErrConflict
	}
	return nil, ErrNotFound
}

// SaveTrace records the outcome of a trace export.
func (s *PostgresStore) SaveTrace(ctx context.Context, t *TraceRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO graph_run_traces (run_id, storage_path, size_bytes, status, error_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			storage_path  = EXCLUDED.storage_path,
			size_bytes    = EXCLUDED.size_bytes,
			status        = EXCLUDED.status,
			error_message = EXCLUDED.error_message`,
		t.RunID, nullString(t.StoragePath), t.SizeBytes, string(t.Status), nullString(t.Error),
	)
	if err != nil {
		return fmt.Errorf("save trace %s: %w", t.RunID, err)
	}
	return nil
}

// GetTrace returns the export record of a run.
func (s *PostgresStore) GetTrace(ctx context.Context, runID string) (*TraceRecord, error) {
	var (
		t            TraceRecord
		path, errMsg *string
		size         *int32
		status       string
	)
	err := s.db.QueryRow(ctx, `
		SELECT run_id, storage_path, size_bytes, status, error_message, created_at
		FROM graph_run_traces WHERE run_id = $1`, runID,
	).Scan(&t.RunID, &path, &size, &status, &errMsg, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trace %s: %w", runID, err)
	}
	t.StoragePath, t.Error, t.Status = deref(path), deref(errMsg), TraceStatus(status)
	if size != nil {
		t.SizeBytes = int(*size)
	}
	return &t, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func slotValue(outputs map[workflow.Slot]string, slot workflow.Slot) *string {
	if v, ok := outputs[slot]; ok {
		return &v
	}
	return nil
}

func intArray(v []int) []int32 {
	out := make([]int32, len(v))
	for i, n := range v {
		out[i] = int32(n)
	}
	return out
}

func textArray(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func fromInt32(v []int32) []int {
	out := make([]int, len(v))
	for i, n := range v {
		out[i] = int(n)
	}
	return out
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

var _ Store = (*PostgresStore)(nil)
