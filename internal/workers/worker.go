package workers

import (
	"context"
	"sync"
	"time"

	"fintelli/pkg/logger"
)

// Worker is a periodic background job
type Worker interface {
	// Name returns the unique identifier for this worker
	Name() string

	// Run executes one iteration and returns. The scheduler calls it
	// once on start and then every Interval().
	Run(ctx context.Context) error

	// Interval returns how often this worker should run
	Interval() time.Duration

	// Enabled returns whether this worker is active
	Enabled() bool
}

// healthRecorder is implemented by workers embedding BaseWorker
type healthRecorder interface {
	recordRun(duration time.Duration, err error)
	Health() Health
}

// Health is a snapshot of a worker's recent executions
type Health struct {
	Name        string        `json:"name"`
	LastRun     time.Time     `json:"last_run"`
	LastError   string        `json:"last_error,omitempty"`
	RunCount    int64         `json:"run_count"`
	ErrorCount  int64         `json:"error_count"`
	AvgDuration time.Duration `json:"avg_duration"`
	Enabled     bool          `json:"enabled"`
}

// BaseWorker provides naming, scheduling and health bookkeeping
type BaseWorker struct {
	name     string
	interval time.Duration
	log      *logger.Logger

	mu            sync.RWMutex
	enabled       bool
	lastRun       time.Time
	lastError     error
	runCount      int64
	errorCount    int64
	totalDuration time.Duration
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(name string, interval time.Duration, enabled bool) *BaseWorker {
	return &BaseWorker{
		name:     name,
		interval: interval,
		enabled:  enabled,
		log:      logger.Get().With("worker", name),
	}
}

// Name returns the worker name
func (w *BaseWorker) Name() string {
	return w.name
}

// Interval returns the run interval
func (w *BaseWorker) Interval() time.Duration {
	return w.interval
}

// Enabled returns whether the worker is enabled
func (w *BaseWorker) Enabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled toggles the worker. A disabled worker keeps its schedule but
// skips its iterations.
func (w *BaseWorker) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
	w.log.Infow("Worker enabled state changed", "enabled", enabled)
}

// Log returns the worker logger
func (w *BaseWorker) Log() *logger.Logger {
	return w.log
}

// Health returns a snapshot of recent executions
func (w *BaseWorker) Health() Health {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h := Health{
		Name:       w.name,
		LastRun:    w.lastRun,
		RunCount:   w.runCount,
		ErrorCount: w.errorCount,
		Enabled:    w.enabled,
	}
	if w.runCount > 0 {
		h.AvgDuration = w.totalDuration / time.Duration(w.runCount)
	}
	if w.lastError != nil {
		h.LastError = w.lastError.Error()
	}
	return h
}

func (w *BaseWorker) recordRun(duration time.Duration, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastRun = time.Now()
	w.runCount++
	w.totalDuration += duration
	w.lastError = err
	if err != nil {
		w.errorCount++
	}
}
