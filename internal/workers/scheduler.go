package workers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

const defaultStopTimeout = 2 * time.Minute

// Scheduler runs registered workers on their intervals
type Scheduler struct {
	workers     []Worker
	names       map[string]struct{}
	stopTimeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	log     *logger.Logger
	started bool
}

// NewScheduler creates a scheduler. Stop waits up to stopTimeout for
// in-flight iterations; a workflow run can take minutes.
func NewScheduler(log *logger.Logger, stopTimeout time.Duration) *Scheduler {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Scheduler{
		names:       make(map[string]struct{}),
		stopTimeout: stopTimeout,
		log:         log.With("component", "scheduler"),
	}
}

// Register adds a worker. Names must be unique and registration closes
// once the scheduler has started.
func (s *Scheduler) Register(w Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Wrapf(errors.ErrInternal, "cannot register %s after start", w.Name())
	}
	if _, exists := s.names[w.Name()]; exists {
		return errors.Wrapf(errors.ErrAlreadyExists, "worker %s already registered", w.Name())
	}
	if w.Interval() <= 0 {
		return errors.NewValidationError("interval", "must be positive", w.Interval())
	}

	s.names[w.Name()] = struct{}{}
	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
	return nil
}

// Start launches one goroutine per registered worker
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInternal, "scheduler already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	workers := append([]Worker(nil), s.workers...)
	s.mu.Unlock()

	s.log.Infow("Starting worker scheduler", "workers", len(workers))
	for _, w := range workers {
		s.wg.Add(1)
		go s.loop(w)
	}
	return nil
}

// Stop cancels all workers and waits for in-flight iterations
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	s.log.Info("Stopping worker scheduler...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.log.Info("All workers stopped")
	case <-time.After(s.stopTimeout):
		err = errors.Wrapf(errors.ErrTimeout, "workers still running after %s", s.stopTimeout)
		s.log.Warnw("Worker shutdown timed out", "timeout", s.stopTimeout)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return err
}

func (s *Scheduler) loop(w Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	s.execute(w)
	for {
		select {
		case <-s.ctx.Done():
			s.log.Debugw("Worker stopped", "worker", w.Name())
			return
		case <-ticker.C:
			s.execute(w)
		}
	}
}

// execute runs one iteration, skipping disabled workers
func (s *Scheduler) execute(w Worker) {
	if !w.Enabled() || s.ctx.Err() != nil {
		return
	}

	start := time.Now()
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = errors.Wrapf(errors.ErrInternal, "worker panicked: %v", p)
		}
		duration := time.Since(start)
		metrics.RecordWorkerExecution(w.Name(), duration, err)
		if hr, ok := w.(healthRecorder); ok {
			hr.recordRun(duration, err)
		}
		if err != nil {
			s.log.Errorw("Worker execution failed", "worker", w.Name(), "error", err, "duration", duration)
			return
		}
		s.log.Debugw("Worker execution completed", "worker", w.Name(), "duration", duration)
	}()

	err = w.Run(s.ctx)
}

// Workers returns the registered workers in registration order
func (s *Scheduler) Workers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Worker(nil), s.workers...)
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Health returns the health snapshots of workers that track it
func (s *Scheduler) Health() []Health {
	var out []Health
	for _, w := range s.Workers() {
		if hr, ok := w.(healthRecorder); ok {
			out = append(out, hr.Health())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ping reports the scheduler unhealthy when an enabled worker has missed
// two intervals or most of its recent runs failed
func (s *Scheduler) Ping(ctx context.Context) error {
	if !s.IsRunning() {
		return errors.Wrap(errors.ErrUnavailable, "scheduler not running")
	}

	now := time.Now()
	var bad []string
	for _, w := range s.Workers() {
		hr, ok := w.(healthRecorder)
		if !ok || !w.Enabled() {
			continue
		}
		h := hr.Health()
		switch {
		case h.RunCount > 0 && now.Sub(h.LastRun) > 2*w.Interval():
			bad = append(bad, w.Name()+" (stale)")
		case h.RunCount > 10 && float64(h.ErrorCount)/float64(h.RunCount) > 0.5:
			bad = append(bad, w.Name()+" (failing)")
		}
	}
	if len(bad) > 0 {
		return errors.Wrap(errors.ErrUnavailable, fmt.Sprintf("unhealthy workers: %s", strings.Join(bad, ", ")))
	}
	return nil
}
