package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// ComputeFunc produces the value for a missing key
type ComputeFunc[T any] func(ctx context.Context) (T, error)

// Options configure a Layer
type Options struct {
	// Namespace prefixes store keys and labels metrics
	Namespace string
	// ComputeTimeout bounds a single computation regardless of caller deadlines
	ComputeTimeout time.Duration
	// LockWait is how long to wait for another process holding the compute lock
	LockWait time.Duration
	// PollInterval is the store polling period while waiting on that lock
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ComputeTimeout <= 0 {
		o.ComputeTimeout = 2 * time.Minute
	}
	if o.LockWait <= 0 {
		o.LockWait = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	return o
}

type entry[T any] struct {
	value     T
	cachedAt  time.Time
	expiresAt time.Time
}

// envelope is the persisted form of an entry
type envelope[T any] struct {
	Value     T         `json:"value"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

var errNoWaiters = errors.Wrap(context.Canceled, "all waiters left before compute started")

// flight tracks callers waiting on one in-progress computation
type flight struct {
	waiters int
	cancel  context.CancelFunc
}

type loaded[T any] struct {
	entry entry[T]
	hit   bool
}

// Layer is a get-or-compute cache with TTL and single-flight semantics.
// Values live in process memory and, when a Store is set, in the store so
// other processes can reuse them. Errors are never cached.
type Layer[T any] struct {
	opts  Options
	store Store
	log   *logger.Logger
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]entry[T]

	group    singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight
}

// New creates a cache layer. store may be nil for a process-local cache.
func New[T any](opts Options, store Store) *Layer[T] {
	opts = opts.withDefaults()
	return &Layer[T]{
		opts:    opts,
		store:   store,
		log:     logger.Get().With("component", "cache", "namespace", opts.Namespace),
		now:     time.Now,
		entries: make(map[string]entry[T]),
		flights: make(map[string]*flight),
	}
}

// GetOrCompute returns the cached value for key or computes it. Concurrent
// callers for the same key share one computation. The computation is not
// tied to any single caller's context: a caller whose ctx ends stops waiting,
// and the computation is cancelled only once every waiter has left.
func (l *Layer[T]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc[T]) (Result[T], error) {
	if e, ok := l.lookup(key); ok {
		metrics.CacheRequests.WithLabelValues(l.opts.Namespace, "hit").Inc()
		return l.result(e, true), nil
	}
	metrics.CacheRequests.WithLabelValues(l.opts.Namespace, "miss").Inc()

	res, err := l.await(ctx, key, ttl, compute)
	if errors.Is(err, errNoWaiters) && ctx.Err() == nil {
		// joined a call that was abandoned before it started
		res, err = l.await(ctx, key, ttl, compute)
	}
	return res, err
}

func (l *Layer[T]) await(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc[T]) (Result[T], error) {
	f := l.join(key)
	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.load(ctx, key, ttl, compute)
	})

	select {
	case res := <-ch:
		l.leave(key, f, false)
		if res.Err != nil {
			return Result[T]{}, res.Err
		}
		if res.Shared {
			metrics.CacheRequests.WithLabelValues(l.opts.Namespace, "shared").Inc()
		}
		ld := res.Val.(loaded[T])
		return l.result(ld.entry, ld.hit), nil
	case <-ctx.Done():
		l.leave(key, f, true)
		return Result[T]{}, errors.Wrapf(ctx.Err(), "waiting for %s", key)
	}
}

// lookup returns a live local entry, dropping it if expired
func (l *Layer[T]) lookup(key string) (entry[T], bool) {
	now := l.now()

	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return entry[T]{}, false
	}
	if now.Before(e.expiresAt) {
		return e, true
	}

	l.mu.Lock()
	if cur, ok := l.entries[key]; ok && !now.Before(cur.expiresAt) {
		delete(l.entries, key)
	}
	l.mu.Unlock()
	return entry[T]{}, false
}

func (l *Layer[T]) result(e entry[T], hit bool) Result[T] {
	age := l.now().Sub(e.cachedAt)
	if age < 0 {
		age = 0
	}
	return Result[T]{Value: e.value, IsCacheHit: hit, CachedAt: e.cachedAt, Age: age}
}

func (l *Layer[T]) join(key string) *flight {
	l.flightMu.Lock()
	defer l.flightMu.Unlock()

	f, ok := l.flights[key]
	if !ok {
		f = &flight{}
		l.flights[key] = f
	}
	f.waiters++
	return f
}

func (l *Layer[T]) leave(key string, f *flight, abandoned bool) {
	l.flightMu.Lock()
	defer l.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	if l.flights[key] == f {
		delete(l.flights, key)
	}
	if abandoned && f.cancel != nil {
		f.cancel()
		// late callers must start a fresh computation instead of joining the cancelled one
		l.group.Forget(key)
	}
}

// load runs inside the single-flight group
func (l *Layer[T]) load(callerCtx context.Context, key string, ttl time.Duration, compute ComputeFunc[T]) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerCtx), l.opts.ComputeTimeout)
	defer cancel()

	l.flightMu.Lock()
	f, ok := l.flights[key]
	if !ok {
		// callers joining from here on start a fresh call
		l.group.Forget(key)
		l.flightMu.Unlock()
		return nil, errNoWaiters
	}
	f.cancel = cancel
	l.flightMu.Unlock()

	if e, ok := l.lookup(key); ok {
		return loaded[T]{entry: e, hit: true}, nil
	}

	if l.store != nil {
		if e, ok := l.fromStore(ctx, key); ok {
			return loaded[T]{entry: e, hit: true}, nil
		}

		token := uuid.NewString()
		locked, err := l.store.TryLock(ctx, l.storeKey(key), token, l.opts.ComputeTimeout)
		switch {
		case err != nil:
			l.storeFailed("lock", err)
		case locked:
			defer func() {
				if err := l.store.Unlock(context.WithoutCancel(ctx), l.storeKey(key), token); err != nil {
					l.storeFailed("unlock", err)
				}
			}()
		default:
			if e, ok := l.awaitStore(ctx, key); ok {
				return loaded[T]{entry: e, hit: true}, nil
			}
			l.log.Warnw("Lock holder did not publish in time, computing locally", "key", key)
		}
	}

	value, err := compute(ctx)
	if err != nil {
		metrics.CacheComputations.WithLabelValues(l.opts.Namespace, "error").Inc()
		return nil, err
	}
	metrics.CacheComputations.WithLabelValues(l.opts.Namespace, "success").Inc()

	now := l.now()
	e := entry[T]{value: value, cachedAt: now, expiresAt: now.Add(ttl)}
	l.put(key, e)
	l.toStore(ctx, key, e, ttl)
	return loaded[T]{entry: e, hit: false}, nil
}

func (l *Layer[T]) put(key string, e entry[T]) {
	l.mu.Lock()
	l.entries[key] = e
	l.mu.Unlock()
}

func (l *Layer[T]) storeKey(key string) string {
	if l.opts.Namespace == "" {
		return key
	}
	return l.opts.Namespace + ":" + key
}

func (l *Layer[T]) fromStore(ctx context.Context, key string) (entry[T], bool) {
	data, err := l.store.Get(ctx, l.storeKey(key))
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			l.storeFailed("get", err)
		}
		return entry[T]{}, false
	}

	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		l.log.Warnw("Discarding undecodable cache entry", "key", key, "error", err)
		return entry[T]{}, false
	}
	if !l.now().Before(env.ExpiresAt) {
		return entry[T]{}, false
	}

	e := entry[T]{value: env.Value, cachedAt: env.CachedAt, expiresAt: env.ExpiresAt}
	l.put(key, e)
	metrics.CacheRequests.WithLabelValues(l.opts.Namespace, "store_hit").Inc()
	return e, true
}

func (l *Layer[T]) toStore(ctx context.Context, key string, e entry[T], ttl time.Duration) {
	if l.store == nil {
		return
	}
	data, err := json.Marshal(envelope[T]{Value: e.value, CachedAt: e.cachedAt, ExpiresAt: e.expiresAt})
	if err != nil {
		l.log.Warnw("Cache value not serializable, kept in memory only", "key", key, "error", err)
		return
	}
	if err := l.store.Set(context.WithoutCancel(ctx), l.storeKey(key), data, ttl); err != nil {
		l.storeFailed("set", err)
	}
}

// awaitStore polls the store until another process publishes key
func (l *Layer[T]) awaitStore(ctx context.Context, key string) (entry[T], bool) {
	deadline := time.NewTimer(l.opts.LockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return entry[T]{}, false
		case <-deadline.C:
			return entry[T]{}, false
		case <-ticker.C:
			if e, ok := l.fromStore(ctx, key); ok {
				return e, true
			}
		}
	}
}

func (l *Layer[T]) storeFailed(op string, err error) {
	metrics.CacheStoreErrors.WithLabelValues(l.opts.Namespace, op).Inc()
	if !errors.Is(err, errors.ErrConnectivity) {
		err = errors.NewConnectivityError("cache store", op, err)
	}
	l.log.Warnw("Cache store unavailable, continuing in local mode", "op", op, "error", err)
}

// Set stores a value computed elsewhere, replacing any cached entry
func (l *Layer[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.NewValidationError("ttl", "must be positive", ttl)
	}
	now := l.now()
	e := entry[T]{value: value, cachedAt: now, expiresAt: now.Add(ttl)}
	l.put(key, e)
	l.toStore(ctx, key, e, ttl)
	return nil
}

// Invalidate removes key locally and from the store
func (l *Layer[T]) Invalidate(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.Delete(ctx, l.storeKey(key)); err != nil {
		return errors.NewConnectivityError("cache store", "delete", err)
	}
	return nil
}

// Purge drops expired local entries and returns how many were removed
func (l *Layer[T]) Purge() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if !now.Before(e.expiresAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of local entries, expired ones included
func (l *Layer[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Namespace returns the layer's namespace
func (l *Layer[T]) Namespace() string {
	return l.opts.Namespace
}
