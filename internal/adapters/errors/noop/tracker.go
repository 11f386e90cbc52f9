package noop

import (
	"context"

	"fintelli/pkg/errors"
)

var _ errors.Tracker = (*Tracker)(nil)

// Tracker is a no-op implementation of the error tracker,
// used when error tracking is disabled and in tests
type Tracker struct{}

// New creates a new no-op tracker
func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) CaptureError(context.Context, error, map[string]string) error {
	return nil
}

func (t *Tracker) CaptureMessage(context.Context, string, errors.Level, map[string]string) error {
	return nil
}

func (t *Tracker) AddBreadcrumb(context.Context, string, string, errors.Level, map[string]interface{}) {
}

func (t *Tracker) Flush(context.Context) error {
	return nil
}
