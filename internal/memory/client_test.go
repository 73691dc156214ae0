package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/gatekeeper/internal/models"
)

type fakeBackend struct {
	accuracyCalls atomic.Int32
	fail          bool
	delay         time.Duration
	corrections   []Correction
}

func (f *fakeBackend) RecordOutcome(context.Context, string, bool, float64) error {
	if f.fail {
		return errors.New("disk full")
	}
	return nil
}

func (f *fakeBackend) HistoricalAccuracy(ctx context.Context, method string) (Accuracy, error) {
	f.accuracyCalls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Accuracy{}, ctx.Err()
		}
	}
	if f.fail {
		return Accuracy{}, errors.New("database is gone")
	}
	return Accuracy{Method: method, AccuracyRate: 0.9, TotalCalls: 10}, nil
}

func (f *fakeBackend) StoreCorrection(context.Context, Correction) error { return nil }

func (f *fakeBackend) CorrectionCount(context.Context, string) (int, error) {
	return len(f.corrections), nil
}

func (f *fakeBackend) Corrections(context.Context, string, int) ([]Correction, error) {
	return f.corrections, nil
}

func TestClientDisabledIsUnavailable(t *testing.T) {
	client, err := NewClient(&fakeBackend{}, ClientOptions{Enabled: false})
	require.NoError(t, err)
	defer client.Close()

	assert.False(t, client.Available())
	_, err = client.HistoricalAccuracy(context.Background(), "create_wall")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = client.CorrectionCount(context.Background(), "create_wall")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientCachesAccuracy(t *testing.T) {
	backend := &fakeBackend{}
	client, err := NewClient(backend, ClientOptions{Enabled: true, CacheTTL: time.Minute})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	acc, err := client.HistoricalAccuracy(ctx, "create_wall")
	require.NoError(t, err)
	assert.Equal(t, 10, acc.TotalCalls)

	rate, calls, err := client.Accuracy(ctx, "create_wall")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, rate, 1e-9)
	assert.Equal(t, 10, calls)
	assert.Equal(t, int32(1), backend.accuracyCalls.Load(), "second lookup should hit the cache")
}

func TestClientTimeout(t *testing.T) {
	backend := &fakeBackend{delay: time.Second}
	client, err := NewClient(backend, ClientOptions{Enabled: true, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	start := time.Now()
	_, err = client.HistoricalAccuracy(context.Background(), "create_wall")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClientBreakerOpens(t *testing.T) {
	backend := &fakeBackend{fail: true}
	client, err := NewClient(backend, ClientOptions{Enabled: true, BreakerFailures: 2, BreakerCooldown: time.Hour})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.HistoricalAccuracy(ctx, "create_wall")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}

	assert.False(t, client.Available())
	_, err = client.HistoricalAccuracy(ctx, "create_wall")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), backend.accuracyCalls.Load(), "open breaker must not reach the backend")
}

func TestCorrectedAlternatives(t *testing.T) {
	backend := &fakeBackend{corrections: []Correction{
		{
			OriginalParams:  models.Params{"height": 30.0},
			CorrectedParams: models.Params{"height": 3.0},
			Reason:          "decimetres",
		},
		{
			OriginalParams:  models.Params{"height": 30.0},
			CorrectedParams: models.Params{"height": 3.0},
		},
		{
			OriginalParams:  models.Params{"width": 1.0},
			CorrectedParams: models.Params{"width": 0.9},
		},
	}}
	client, err := NewClient(backend, ClientOptions{Enabled: true})
	require.NoError(t, err)
	defer client.Close()

	alts, err := client.CorrectedAlternatives(context.Background(), "create_wall", models.Params{"height": 30.0, "level_id": 2})
	require.NoError(t, err)
	require.Len(t, alts, 1, "duplicates and inapplicable corrections are dropped")

	h, _ := alts[0].Params.GetDouble("height")
	assert.Equal(t, 3.0, h)
	assert.Equal(t, "decimetres", alts[0].Description)
	assert.Equal(t, "correction_history", alts[0].Source)
	lvl, _ := alts[0].Params.GetID("level_id")
	assert.Equal(t, int64(2), lvl)
}
