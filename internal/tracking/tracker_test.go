package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dislink/dxp/internal/logger"
)

type recordedEvent struct {
	name  string
	props map[string]any
}

type fakeRecorder struct {
	events []recordedEvent
	err    error
}

func (f *fakeRecorder) RecordEvent(_ context.Context, name string, props map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{name, props})
	return nil
}

func (f *fakeRecorder) Track(ctx context.Context, name string, props map[string]any) error {
	return f.RecordEvent(ctx, name, props)
}

func TestStoreTracker(t *testing.T) {
	rec := &fakeRecorder{}
	tr := NewStoreTracker(rec)

	require.NoError(t, tr.Track(context.Background(), EventAssigned, map[string]any{"user_id": "u1"}))

	require.Len(t, rec.events, 1)
	assert.Equal(t, EventAssigned, rec.events[0].name)
	assert.Equal(t, "u1", rec.events[0].props["user_id"])
}

func TestLogTracker(t *testing.T) {
	tr := NewLogTracker(logger.Nop())
	assert.NoError(t, tr.Track(context.Background(), EventConversion, map[string]any{"value": 1.0}))
}

func TestMulti_CallsEveryTracker(t *testing.T) {
	failing := &fakeRecorder{err: errors.New("db down")}
	ok := &fakeRecorder{}

	err := Multi{failing, ok}.Track(context.Background(), EventAssigned, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Len(t, ok.events, 1)
}

func TestMulti_Empty(t *testing.T) {
	assert.NoError(t, Multi{}.Track(context.Background(), EventAssigned, nil))
	assert.NoError(t, Nop().Track(context.Background(), EventAssigned, nil))
}

func TestMetricsTracker(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := NewMetricsTracker(reg)
	ctx := context.Background()

	assigned := map[string]any{"experiment_id": "exp-1", "variant_id": "control", "user_id": "u1"}
	require.NoError(t, tr.Track(ctx, EventAssigned, assigned))
	require.NoError(t, tr.Track(ctx, EventAssigned, assigned))

	converted := map[string]any{"experiment_id": "exp-1", "variant_id": "control", "metric_id": "signup", "value": 2.5}
	require.NoError(t, tr.Track(ctx, EventConversion, converted))

	assert.Equal(t, 2.0, testutil.ToFloat64(tr.events.WithLabelValues(EventAssigned, "exp-1", "control")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.events.WithLabelValues(EventConversion, "exp-1", "control")))
	assert.Equal(t, 2.5, testutil.ToFloat64(tr.conversionValues.WithLabelValues("exp-1", "control", "signup")))
}

func TestMetricsTracker_RejectsBadConversionValues(t *testing.T) {
	tr := NewMetricsTracker(prometheus.NewRegistry())
	ctx := context.Background()

	assert.Error(t, tr.Track(ctx, EventConversion, map[string]any{"value": "one"}))
	assert.Error(t, tr.Track(ctx, EventConversion, map[string]any{"value": -1.0}))
}

func TestNewRedisTracker_RequiresAddress(t *testing.T) {
	_, err := NewRedisTracker(context.Background(), "", "")
	assert.Error(t, err)
}

func TestNewRedisTracker_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewRedisTracker(ctx, "127.0.0.1:1", "dxp:test")
	assert.Error(t, err)
}

func TestRedisTracker_PublishFailureIsReturned(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	tr := newRedisTracker(rdb, "dxp:test")
	defer tr.Close()

	err := tr.Track(context.Background(), EventAssigned, map[string]any{"user_id": "u1"})
	assert.Error(t, err)
}
