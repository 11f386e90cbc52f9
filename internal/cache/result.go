package cache

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Result is a cached or freshly computed value with its provenance
type Result[T any] struct {
	Value      T         `json:"value"`
	IsCacheHit bool      `json:"is_cache_hit"`
	CachedAt   time.Time `json:"cached_at"`
	Age        time.Duration
}

// AgeSeconds returns the age of the value in whole seconds
func (r Result[T]) AgeSeconds() int64 {
	return int64(r.Age / time.Second)
}

// Freshness renders the age for display, e.g. "cached 30 minutes ago"
func (r Result[T]) Freshness() string {
	if !r.IsCacheHit {
		return "just computed"
	}
	return "cached " + humanize.RelTime(r.CachedAt, r.CachedAt.Add(r.Age), "ago", "from now")
}
