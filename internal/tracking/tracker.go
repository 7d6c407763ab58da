// Package tracking delivers analytics events emitted by the experiment engine.
// Delivery is fire-and-forget from the engine's point of view: a Tracker may
// return an error, but callers only log it.
package tracking

import (
	"context"
	"errors"

	"github.com/dislink/dxp/internal/logger"
)

const (
	EventAssigned   = "experiment_assigned"
	EventConversion = "experiment_conversion"
)

type Tracker interface {
	Track(ctx context.Context, name string, props map[string]any) error
}

// EventRecorder is the subset of the store used to persist events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, name string, props map[string]any) error
}

// StoreTracker writes events to the analytics events table.
type StoreTracker struct {
	recorder EventRecorder
}

func NewStoreTracker(r EventRecorder) *StoreTracker {
	return &StoreTracker{recorder: r}
}

func (t *StoreTracker) Track(ctx context.Context, name string, props map[string]any) error {
	return t.recorder.RecordEvent(ctx, name, props)
}

// LogTracker emits events as debug log lines.
type LogTracker struct {
	log *logger.Logger
}

func NewLogTracker(log *logger.Logger) *LogTracker {
	return &LogTracker{log: log.With("component", "tracking")}
}

func (t *LogTracker) Track(_ context.Context, name string, props map[string]any) error {
	kv := make([]interface{}, 0, 2+len(props)*2)
	kv = append(kv, "event", name)
	for k, v := range props {
		kv = append(kv, k, v)
	}
	t.log.Debug("analytics event", kv...)
	return nil
}

// Multi fans an event out to every tracker. All trackers are called even
// when some fail; the failures are joined.
type Multi []Tracker

func (m Multi) Track(ctx context.Context, name string, props map[string]any) error {
	var errs []error
	for _, t := range m {
		if err := t.Track(ctx, name, props); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nop struct{}

func (nop) Track(context.Context, string, map[string]any) error { return nil }

// Nop discards all events.
func Nop() Tracker { return nop{} }
