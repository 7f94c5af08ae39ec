package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lamergameryt/entrypoint/internal/clock"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/lamergameryt/entrypoint/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_RequiresKey(t *testing.T) {
	guard := NewGuard(memory.NewStore(), clock.NewFixed(time.Now()), time.Hour)

	_, err := guard.CheckOrRecord(context.Background(), IdempotencyRequest{Scope: "unit-1"}, func(context.Context) (string, error) {
		t.Fatal("compute must not run")
		return "", nil
	})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestGuard_ReplaysFirstOutcome(t *testing.T) {
	guard := NewGuard(memory.NewStore(), clock.NewFixed(time.Now()), time.Hour)
	req := IdempotencyRequest{Scope: "unit-1", Key: "k1", Fingerprint: "qty=1"}
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		return "hold-1", nil
	}

	first, err := guard.CheckOrRecord(ctx, req, compute)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, "hold-1", first.Record.HoldID)

	second, err := guard.CheckOrRecord(ctx, req, compute)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, "hold-1", second.Record.HoldID)
	assert.Equal(t, 1, calls)
}

func TestGuard_RecordsBusinessRejections(t *testing.T) {
	guard := NewGuard(memory.NewStore(), clock.NewFixed(time.Now()), time.Hour)
	req := IdempotencyRequest{Scope: "unit-1", Key: "k1", Fingerprint: "qty=1"}
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		return "", domain.ErrInsufficientCapacity
	}

	first, err := guard.CheckOrRecord(ctx, req, compute)
	require.NoError(t, err)
	assert.ErrorIs(t, first.Record.Err(), domain.ErrInsufficientCapacity)

	second, err := guard.CheckOrRecord(ctx, req, compute)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.ErrorIs(t, second.Record.Err(), domain.ErrInsufficientCapacity)
	assert.Equal(t, 1, calls)
}

func TestGuard_TransientFailureIsNotRecorded(t *testing.T) {
	guard := NewGuard(memory.NewStore(), clock.NewFixed(time.Now()), time.Hour)
	req := IdempotencyRequest{Scope: "unit-1", Key: "k1", Fingerprint: "qty=1"}
	ctx := context.Background()

	_, err := guard.CheckOrRecord(ctx, req, func(context.Context) (string, error) {
		return "", domain.ErrConcurrencyConflict
	})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	res, err := guard.CheckOrRecord(ctx, req, func(context.Context) (string, error) {
		return "hold-2", nil
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "hold-2", res.Record.HoldID)
}

func TestGuard_FingerprintMismatch(t *testing.T) {
	guard := NewGuard(memory.NewStore(), clock.NewFixed(time.Now()), time.Hour)
	ctx := context.Background()
	compute := func(context.Context) (string, error) { return "hold-1", nil }

	_, err := guard.CheckOrRecord(ctx, IdempotencyRequest{Scope: "unit-1", Key: "k1", Fingerprint: "qty=1"}, compute)
	require.NoError(t, err)

	_, err = guard.CheckOrRecord(ctx, IdempotencyRequest{Scope: "unit-1", Key: "k1", Fingerprint: "qty=2"}, compute)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	// Same key on another unit is a different request.
	res, err := guard.CheckOrRecord(ctx, IdempotencyRequest{Scope: "unit-2", Key: "k1", Fingerprint: "qty=2"}, compute)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestGuard_ConcurrentSameKeyComputesOnce(t *testing.T) {
	guard := NewGuard(memory.NewStore(), clock.NewFixed(time.Now()), time.Hour)
	req := IdempotencyRequest{Scope: "unit-1", Key: "k1", Fingerprint: "qty=1"}

	var calls atomic.Int32
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return "hold-1", nil
	}

	const n = 16
	results := make([]GuardResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = guard.CheckOrRecord(context.Background(), req, compute)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	fresh := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "hold-1", results[i].Record.HoldID)
		if !results[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestGuard_RetentionAndPurge(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	guard := NewGuard(memory.NewStore(), clk, time.Hour)
	req := IdempotencyRequest{Scope: "unit-1", Key: "k1", Fingerprint: "qty=1"}
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		return "hold-1", nil
	}

	_, err := guard.CheckOrRecord(ctx, req, compute)
	require.NoError(t, err)

	n, err := guard.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * time.Hour)
	res, err := guard.CheckOrRecord(ctx, req, compute)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 2, calls)

	clk.Advance(2 * time.Hour)
	n, err = guard.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
