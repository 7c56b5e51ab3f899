package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theological-agent/internal/workflow"
)

// storeContract runs the idempotency checks shared by every Store.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	inputs := workflow.Inputs{Book: "Sl", Chapter: 23, Verses: []int{1, 2, 3}, Modules: []string{"panorama"}}

	t.Run("Run upsert keeps one row", func(t *testing.T) {
		runID := uuid.New().String()
		err := store.UpsertRun(ctx, &RunRecord{
			RunID:          runID,
			Inputs:         inputs,
			ModelVersions:  map[string]string{"panorama_agent": "m1"},
			TokensConsumed: map[string]workflow.TokenUsage{"panorama_agent": {Input: 1, Output: 2}},
			HITLStatus:     "pending",
			RiskLevel:      "high",
			Success:        true,
		})
		require.NoError(t, err)

		err = store.UpsertRun(ctx, &RunRecord{
			RunID:       runID,
			Inputs:      inputs,
			HITLStatus:  "edited",
			RiskLevel:   "high",
			FinalOutput: "final",
			Success:     true,
			DurationMS:  42,
		})
		require.NoError(t, err)

		got, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, "edited", got.HITLStatus)
		assert.Equal(t, "final", got.FinalOutput)
		assert.Equal(t, int64(42), got.DurationMS)
		assert.Equal(t, []int{1, 2, 3}, got.Inputs.Verses)

		runs, err := store.ListRuns(ctx, 500)
		require.NoError(t, err)
		count := 0
		for _, r := range runs {
			if r.RunID == runID {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("Cache first writer wins", func(t *testing.T) {
		key := uuid.New().String()[:32]
		_, err := store.HitCache(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)

		var wg sync.WaitGroup
		results := make([]bool, 8)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				written, err := store.InsertCache(ctx, &CacheEntry{Key: key, Inputs: inputs, Output: "output", RunID: uuid.New().String()})
				assert.NoError(t, err)
				results[i] = written
			}()
		}
		wg.Wait()

		writes := 0
		for _, w := range results {
			if w {
				writes++
			}
		}
		assert.Equal(t, 1, writes)

		entry, err := store.PeekCache(ctx, key)
		require.NoError(t, err)
		assert.Zero(t, entry.HitCount)

		entry, err = store.HitCache(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, entry.HitCount)
		assert.Equal(t, "output", entry.Output)

		entry, err = store.HitCache(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 2, entry.HitCount)
	})

	t.Run("Review resolves exactly once", func(t *testing.T) {
		runID := uuid.New().String()
		review := &Review{
			RunID:     runID,
			Inputs:    inputs,
			Outputs:   map[workflow.Slot]string{workflow.SlotValidation: "risky", workflow.SlotIntertextual: "links"},
			RiskLevel: "high",
			Alerts:    []string{"misattributed quote"},
		}
		written, err := store.InsertReview(ctx, review)
		require.NoError(t, err)
		assert.True(t, written)

		written, err = store.InsertReview(ctx, review)
		require.NoError(t, err)
		assert.False(t, written)

		pending, err := store.ListReviews(ctx, ReviewPending, 500)
		require.NoError(t, err)
		assert.True(t, containsReview(pending, runID))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   []string
			conflicts int
		)
		for _, edit := range []string{"edit one", "edit two", "edit three"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.ResolveReview(ctx, runID, ReviewEdited, &edit, "reviewer@example.com")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, edit)
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)
		assert.Equal(t, 2, conflicts)

		got, err := store.GetReview(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, ReviewEdited, got.Status)
		require.NotNil(t, got.EditedContent)
		assert.Equal(t, winners[0], *got.EditedContent)
		assert.Equal(t, "reviewer@example.com", got.ReviewerEmail)
		assert.NotNil(t, got.ReviewedAt)
		assert.Equal(t, "links", got.Outputs[workflow.SlotIntertextual])
		assert.Equal(t, []string{"misattributed quote"}, got.Alerts)

		_, err = store.ResolveReview(ctx, uuid.New().String(), ReviewApproved, nil, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Trace record", func(t *testing.T) {
		runID := uuid.New().String()
		require.NoError(t, store.UpsertRun(ctx, &RunRecord{RunID: runID, Inputs: inputs, Success: true}))
		require.NoError(t, store.SaveTrace(ctx, &TraceRecord{RunID: runID, Status: TraceSkipped}))
		require.NoError(t, store.SaveTrace(ctx, &TraceRecord{RunID: runID, Status: TraceUploaded, StoragePath: "traces/x.json", SizeBytes: 10}))

		got, err := store.GetTrace(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, TraceUploaded, got.Status)
		assert.Equal(t, "traces/x.json", got.StoragePath)
		assert.Equal(t, 10, got.SizeBytes)
	})
}

func containsReview(reviews []*Review, runID string) bool {
	for _, r := range reviews {
		if r.RunID == runID {
			return true
		}
	}
	return false
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.InsertReview(ctx, &Review{RunID: "r", Alerts: []string{"a"}, Outputs: map[workflow.Slot]string{}})
	require.NoError(t, err)

	got, err := store.GetReview(ctx, "r")
	require.NoError(t, err)
	got.Alerts[0] = "mutated"
	got.Status = ReviewApproved

	again, err := store.GetReview(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Alerts[0])
	assert.Equal(t, ReviewPending, again.Status)
}
