package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintelli/pkg/errors"
)

type recordingTracker struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (r *recordingTracker) CaptureError(_ context.Context, err error, tags map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
	return nil
}

func (r *recordingTracker) CaptureMessage(context.Context, string, errors.Level, map[string]string) error {
	return nil
}

func (r *recordingTracker) AddBreadcrumb(context.Context, string, string, errors.Level, map[string]interface{}) {
}

func (r *recordingTracker) Flush(context.Context) error { return nil }

func TestErrorw_ForwardsToTracker(t *testing.T) {
	tracker := &recordingTracker{}
	log := NewNop()
	log.errorTracker = tracker

	child := log.With("component", "coordinator", "run_id", "run-1")
	child.Errorw("missing field", "error", errors.ErrSchemaViolation, "agent", "marketSentiment")

	require.Len(t, tracker.errs, 1)
	assert.True(t, errors.Is(tracker.errs[0], errors.ErrSchemaViolation))
	assert.Equal(t, "coordinator", tracker.tags[0]["component"])
	assert.Equal(t, "run-1", tracker.tags[0]["run_id"])
}

func TestErrorw_WithoutTracker(t *testing.T) {
	log := NewNop()
	assert.NotPanics(t, func() {
		log.Errorw("boom", "error", errors.ErrInternal)
	})
}

func TestWith_DefaultComponentTag(t *testing.T) {
	tracker := &recordingTracker{}
	log := NewNop()
	log.errorTracker = tracker

	log.Errorf("failed %d times", 3)

	require.Len(t, tracker.tags, 1)
	assert.Equal(t, "logger", tracker.tags[0]["component"])
	assert.EqualError(t, tracker.errs[0], "failed 3 times")
}
