package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

type IdempotencyRepository struct {
	db
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{db{pool: pool}}
}

// ClaimIdempotencyKey inserts the record, or takes over one whose retention
// has lapsed. A concurrent claimer of the same key blocks on the first
// transaction and then sees its committed outcome.
func (r *IdempotencyRepository) ClaimIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) (domain.IdempotencyRecord, bool, error) {
	const claim = `
INSERT INTO idempotency_records (scope, key, fingerprint, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (scope, key) DO UPDATE
SET fingerprint = EXCLUDED.fingerprint,
	hold_id = NULL,
	error_code = '',
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at
WHERE idempotency_records.expires_at <= EXCLUDED.created_at
RETURNING scope`

	var scope string
	err := r.queryRow(ctx, claim, rec.Scope, rec.Key, rec.Fingerprint, rec.CreatedAt, rec.ExpiresAt).Scan(&scope)
	if err == nil {
		return domain.IdempotencyRecord{}, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.IdempotencyRecord{}, false, storageErr("claim idempotency key", err)
	}

	const load = `
SELECT scope, key, fingerprint, COALESCE(hold_id::text, ''), error_code, created_at, expires_at
FROM idempotency_records
WHERE scope = $1 AND key = $2`

	var existing domain.IdempotencyRecord
	err = r.queryRow(ctx, load, rec.Scope, rec.Key).Scan(
		&existing.Scope, &existing.Key, &existing.Fingerprint, &existing.HoldID,
		&existing.ErrorCode, &existing.CreatedAt, &existing.ExpiresAt,
	)
	if err != nil {
		return domain.IdempotencyRecord{}, false, storageErr("load idempotency record", err)
	}
	return existing, false, nil
}

func (r *IdempotencyRepository) ResolveIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) error {
	const stmt = `
UPDATE idempotency_records
SET hold_id = NULLIF($3, '')::uuid, error_code = $4
WHERE scope = $1 AND key = $2`

	tag, err := r.exec(ctx, stmt, rec.Scope, rec.Key, rec.HoldID, rec.ErrorCode)
	if err != nil {
		return storageErr("resolve idempotency key", err)
	}
	if tag.RowsAffected() == 0 {
		return storageErr("resolve idempotency key", errors.New("record vanished"))
	}
	return nil
}

func (r *IdempotencyRepository) PurgeIdempotencyRecords(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, storageErr("purge idempotency records", err)
	}
	return tag.RowsAffected(), nil
}
