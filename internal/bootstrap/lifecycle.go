package bootstrap

import (
	"context"
	"sync"
	"time"

	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
	httpTimeout     time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 150 * time.Second,
		httpTimeout:     15 * time.Second,
	}
}

// Shutdown stops components in dependency order:
//  1. no new requests are accepted
//  2. workers and in-flight workflow runs finish
//  3. consumers unblock before their goroutines are awaited
//  4. buffered telemetry and events are flushed
//  5. databases close last since everything above may still use them
func (l *Lifecycle) Shutdown(c *Container) {
	log := c.Log
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	if c.Config != nil && c.Config.Server.ShutdownTimeout > 0 {
		l.httpTimeout = c.Config.Server.ShutdownTimeout
	}

	log.Info("[1/8] Stopping HTTP server...")
	if c.Application.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, l.httpTimeout)
		if err := c.Application.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	log.Info("[2/8] Stopping background workers...")
	if c.Background.WorkerScheduler != nil && c.Background.WorkerScheduler.IsRunning() {
		if err := c.Background.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	log.Info("[3/8] Waiting for workflow runs...")
	if c.Business.Orchestrator != nil {
		c.Business.Orchestrator.Close()
		log.Info("✓ Workflow runs finished")
	}

	log.Info("[4/8] Waiting for consumer goroutines...")
	l.waitForGoroutines(c.WG, 5*time.Second, log)

	log.Info("[5/8] Flushing agent telemetry...")
	if c.Repos.Executions != nil {
		if err := c.Repos.Executions.Stop(shutdownCtx); err != nil {
			log.Errorw("Execution telemetry flush failed", "error", err)
		} else {
			log.Info("✓ Agent telemetry flushed")
		}
	}

	log.Info("[6/8] Closing Kafka producer...")
	if c.Adapters.KafkaProducer != nil {
		if err := c.Adapters.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	log.Info("[7/8] Flushing error tracker...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)

	log.Info("[8/8] Closing database connections...")
	l.closeDatabases(c, log)

	log.Info("✅ Graceful shutdown complete")
	_ = logger.Sync()
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(c *Container, log *logger.Logger) {
	var dbErrors []error

	if c.PG != nil {
		if err := c.PG.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "postgres"))
		}
	}
	if c.CH != nil {
		if err := c.CH.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "clickhouse"))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "redis"))
		}
	}

	if len(dbErrors) > 0 {
		log.Errorw("Database close errors", "errors", dbErrors)
	} else {
		log.Info("✓ Database connections closed")
	}
}
