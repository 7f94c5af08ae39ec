package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/lamergameryt/entrypoint/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewIdempotencyRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	record := func(key string, at time.Time) domain.IdempotencyRecord {
		return domain.IdempotencyRecord{
			Scope:       "unit-1",
			Key:         key,
			Fingerprint: "requester=user-1;quantity=1",
			CreatedAt:   at,
			ExpiresAt:   at.Add(24 * time.Hour),
		}
	}

	t.Run("second claim returns the resolved record", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		rec := record("k1", now)
		_, claimed, err := repo.ClaimIdempotencyKey(ctx, rec)
		require.NoError(t, err)
		require.True(t, claimed)

		rec.HoldID = uuid.NewString()
		require.NoError(t, repo.ResolveIdempotencyKey(ctx, rec))

		existing, claimed, err := repo.ClaimIdempotencyKey(ctx, record("k1", now.Add(time.Minute)))
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.Equal(t, rec.HoldID, existing.HoldID)
		assert.True(t, existing.Resolved())
	})

	t.Run("recorded errors are returned as codes", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		rec := record("k2", now)
		_, _, err := repo.ClaimIdempotencyKey(ctx, rec)
		require.NoError(t, err)
		rec.ErrorCode = "insufficient_capacity"
		require.NoError(t, repo.ResolveIdempotencyKey(ctx, rec))

		existing, claimed, err := repo.ClaimIdempotencyKey(ctx, rec)
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.Empty(t, existing.HoldID)
		assert.ErrorIs(t, existing.Err(), domain.ErrInsufficientCapacity)
	})

	t.Run("records past retention are taken over", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		rec := record("k3", now)
		_, _, err := repo.ClaimIdempotencyKey(ctx, rec)
		require.NoError(t, err)
		rec.ErrorCode = "insufficient_capacity"
		require.NoError(t, repo.ResolveIdempotencyKey(ctx, rec))

		_, claimed, err := repo.ClaimIdempotencyKey(ctx, record("k3", now.Add(25*time.Hour)))
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("purge deletes expired records only", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		_, _, err := repo.ClaimIdempotencyKey(ctx, record("old", now.Add(-48*time.Hour)))
		require.NoError(t, err)
		_, _, err = repo.ClaimIdempotencyKey(ctx, record("fresh", now))
		require.NoError(t, err)

		n, err := repo.PurgeIdempotencyRecords(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
