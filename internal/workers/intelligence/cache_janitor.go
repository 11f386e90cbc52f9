package intelligence

import (
	"context"
	"time"

	"fintelli/internal/metrics"
	"fintelli/internal/workers"
)

// Purger drops expired local cache entries
type Purger interface {
	Purge() int
	Len() int
}

// KeyCounter lists keys in the shared cache store
type KeyCounter interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// CacheJanitor evicts expired entries from the in-process cache layers.
// Layers only drop expired entries lazily on lookup, so keys that are never
// read again would otherwise stay in memory.
type CacheJanitor struct {
	*workers.BaseWorker
	layers []Purger
	store  KeyCounter
}

// NewCacheJanitor creates the janitor. store may be nil.
func NewCacheJanitor(layers []Purger, store KeyCounter, interval time.Duration, enabled bool) *CacheJanitor {
	return &CacheJanitor{
		BaseWorker: workers.NewBaseWorker("cache_janitor", interval, enabled),
		layers:     layers,
		store:      store,
	}
}

// Run sweeps every layer once
func (j *CacheJanitor) Run(ctx context.Context) error {
	removed, live := 0, 0
	for _, l := range j.layers {
		removed += l.Purge()
		live += l.Len()
	}
	metrics.CacheEvictions.Add(float64(removed))
	metrics.CacheEntries.WithLabelValues("local").Set(float64(live))

	if j.store != nil {
		keys, err := j.store.Keys(ctx, "*")
		if err != nil {
			// the store being down does not stop local eviction
			j.Log().Warnw("Failed to count cache store keys", "error", err)
		} else {
			metrics.CacheEntries.WithLabelValues("store").Set(float64(len(keys)))
		}
	}

	if removed > 0 {
		j.Log().Debugw("Expired cache entries evicted", "removed", removed)
	}
	return nil
}
