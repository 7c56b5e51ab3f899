// Package cache short-circuits runs whose normalized inputs were already
// analysed. It is advisory: store failures are logged and reported as misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"theological-agent/internal/logging"
	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

type keyPayload struct {
	Book    string   `json:"book"`
	Chapter int      `json:"chapter"`
	Verses  []int    `json:"verses"`
	Modules []string `json:"modules"`
}

// Key derives the cache key of a request: lower-cased identifiers, sorted and
// deduplicated list fields, canonical JSON, SHA-256 hex.
func Key(in workflow.Inputs) string {
	verses := slices.Clone(in.Verses)
	slices.Sort(verses)
	verses = slices.Compact(verses)

	modules := make([]string, 0, len(in.Modules))
	for _, m := range in.Modules {
		modules = append(modules, strings.ToLower(strings.TrimSpace(m)))
	}
	slices.Sort(modules)
	modules = slices.Compact(modules)

	if verses == nil {
		verses = []int{}
	}
	payload, _ := json.Marshal(keyPayload{
		Book:    strings.ToLower(strings.TrimSpace(in.Book)),
		Chapter: in.Chapter,
		Verses:  verses,
		Modules: modules,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Metrics receives cache outcomes. Nil means no recording.
type Metrics interface {
	CacheLookup(ctx context.Context, hit bool)
}

// Cache wraps a CacheStore with the advisory error policy.
type Cache struct {
	store   repository.CacheStore
	logger  *logging.Logger
	enabled bool
	metrics Metrics
}

// New creates a Cache. A disabled cache always misses and never writes.
func New(store repository.CacheStore, enabled bool, logger *logging.Logger, metrics Metrics) *Cache {
	return &Cache{store: store, logger: logger, enabled: enabled, metrics: metrics}
}

// Lookup returns the stored output for key and counts the hit.
func (c *Cache) Lookup(ctx context.Context, key string) (string, bool) {
	if !c.enabled {
		return "", false
	}
	entry, err := c.store.HitCache(ctx, key)
	hit := err == nil
	switch {
	case hit:
		c.logger.Info("cache_hit", "cache_key", key, "hit_count", entry.HitCount)
	case errors.Is(err, repository.ErrNotFound):
		c.logger.Debug("cache_miss", "cache_key", key)
	default:
		c.logger.Error("cache_lookup_failed", "cache_key", key, "error", err)
	}
	if c.metrics != nil {
		c.metrics.CacheLookup(ctx, hit)
	}
	if !hit {
		return "", false
	}
	return entry.Output, true
}

// Store saves a completed output. Only the first writer for a key is kept.
func (c *Cache) Store(ctx context.Context, key string, in workflow.Inputs, output, runID string) {
	if !c.enabled || output == "" {
		return
	}
	written, err := c.store.InsertCache(ctx, &repository.CacheEntry{
		Key:    key,
		Inputs: in,
		Output: output,
		RunID:  runID,
	})
	if err != nil {
		c.logger.Error("cache_save_failed", "cache_key", key, "run_id", runID, "error", err)
		return
	}
	c.logger.Info("cache_saved", "cache_key", key, "run_id", runID, "written", written)
}
