package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"theological-agent/internal/logging"
	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

func TestKeyIgnoresListOrderAndCase(t *testing.T) {
	base := workflow.Inputs{Book: "Sl", Chapter: 23, Verses: []int{1, 2, 3}, Modules: []string{"panorama", "exegese"}}
	variants := []workflow.Inputs{
		{Book: "sl", Chapter: 23, Verses: []int{3, 1, 2}, Modules: []string{"exegese", "panorama"}},
		{Book: " SL ", Chapter: 23, Verses: []int{2, 3, 1, 1}, Modules: []string{"Panorama", "EXEGESE"}},
	}
	want := Key(base)
	assert.Len(t, want, 64)
	for _, v := range variants {
		assert.Equal(t, want, Key(v))
	}
}

func TestKeyChangesWithEveryScalar(t *testing.T) {
	base := workflow.Inputs{Book: "Sl", Chapter: 23, Verses: []int{1}, Modules: []string{"panorama"}}
	changed := []workflow.Inputs{
		{Book: "Jo", Chapter: 23, Verses: []int{1}, Modules: []string{"panorama"}},
		{Book: "Sl", Chapter: 24, Verses: []int{1}, Modules: []string{"panorama"}},
		{Book: "Sl", Chapter: 23, Verses: []int{2}, Modules: []string{"panorama"}},
		{Book: "Sl", Chapter: 23, Verses: []int{1}, Modules: []string{"exegese"}},
		{Book: "Sl", Chapter: 23, Verses: []int{1, 2}, Modules: []string{"panorama"}},
	}
	seen := map[string]bool{Key(base): true}
	for _, in := range changed {
		k := Key(in)
		assert.False(t, seen[k], "collision for %+v", in)
		seen[k] = true
	}
}

type MockCacheStore struct {
	mock.Mock
}

func (m *MockCacheStore) HitCache(ctx context.Context, key string) (*repository.CacheEntry, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.CacheEntry), args.Error(1)
}

func (m *MockCacheStore) InsertCache(ctx context.Context, entry *repository.CacheEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheStore) PeekCache(ctx context.Context, key string) (*repository.CacheEntry, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.CacheEntry), args.Error(1)
}

type countingMetrics struct{ hits, misses int }

func (c *countingMetrics) CacheLookup(_ context.Context, hit bool) {
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func TestCacheFailuresDegradeToMiss(t *testing.T) {
	store := new(MockCacheStore)
	store.On("HitCache", mock.Anything, "k").Return(nil, errors.New("connection refused"))
	store.On("InsertCache", mock.Anything, mock.Anything).Return(false, errors.New("connection refused"))
	metrics := &countingMetrics{}

	c := New(store, true, logging.Discard(), metrics)
	out, hit := c.Lookup(context.Background(), "k")
	assert.False(t, hit)
	assert.Empty(t, out)
	assert.Equal(t, 1, metrics.misses)

	assert.NotPanics(t, func() {
		c.Store(context.Background(), "k", workflow.Inputs{}, "final", "run")
	})
	store.AssertExpectations(t)
}

func TestCacheRoundTripWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	c := New(store, true, logging.Discard(), nil)
	in := workflow.Inputs{Book: "Sl", Chapter: 23, Verses: []int{1}, Modules: []string{"panorama"}}
	key := Key(in)

	_, hit := c.Lookup(ctx, key)
	assert.False(t, hit)

	c.Store(ctx, key, in, "first", "run-1")
	c.Store(ctx, key, in, "second", "run-2")
	assert.Equal(t, 1, store.CountCache())

	out, hit := c.Lookup(ctx, key)
	require.True(t, hit)
	assert.Equal(t, "first", out)

	entry, err := store.PeekCache(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.HitCount)
}

func TestDisabledCacheNeverTouchesStore(t *testing.T) {
	store := new(MockCacheStore)
	c := New(store, false, logging.Discard(), nil)

	_, hit := c.Lookup(context.Background(), "k")
	assert.False(t, hit)
	c.Store(context.Background(), "k", workflow.Inputs{}, "x", "r")
	store.AssertNotCalled(t, "HitCache", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "InsertCache", mock.Anything, mock.Anything)
}
