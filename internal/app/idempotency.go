package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lamergameryt/entrypoint/internal/clock"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"golang.org/x/sync/singleflight"
)

type IdempotencyRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// ClaimIdempotencyKey inserts rec unless a live record exists for the same
	// scope and key. Records past their expiry are taken over. When the key is
	// held, the existing record is returned with claimed=false.
	ClaimIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) (existing domain.IdempotencyRecord, claimed bool, err error)
	ResolveIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) error
	PurgeIdempotencyRecords(ctx context.Context, before time.Time) (int64, error)
}

// Guard runs a computation at most once per idempotency key and replays the
// recorded outcome afterwards.
type Guard struct {
	repo      IdempotencyRepository
	clock     clock.Clock
	retention time.Duration
	inflight  singleflight.Group
}

const defaultIdempotencyRetention = 24 * time.Hour

func NewGuard(repo IdempotencyRepository, clk clock.Clock, retention time.Duration) *Guard {
	if retention <= 0 {
		retention = defaultIdempotencyRetention
	}
	return &Guard{repo: repo, clock: clk, retention: retention}
}

type IdempotencyRequest struct {
	Scope       string
	Key         string
	Fingerprint string
}

type GuardResult struct {
	Record   domain.IdempotencyRecord
	Replayed bool
}

// ComputeFunc performs the guarded side effect inside the guard's transaction
// and returns a reference to what it created.
type ComputeFunc func(ctx context.Context) (ref string, err error)

type flightResult struct {
	owner  string
	result GuardResult
}

// CheckOrRecord returns the recorded outcome for req.Key if there is one.
// Otherwise it runs compute and records its outcome in the same transaction.
// Concurrent callers with the same key wait for the first one and share its
// outcome as a replay.
func (g *Guard) CheckOrRecord(ctx context.Context, req IdempotencyRequest, compute ComputeFunc) (GuardResult, error) {
	if req.Key == "" {
		return GuardResult{}, domain.ErrIdempotencyKeyRequired
	}

	caller := uuid.NewString()
	v, err, _ := g.inflight.Do(req.Scope+"\x00"+req.Key, func() (any, error) {
		res, err := g.checkOrRecord(ctx, req, compute)
		return flightResult{owner: caller, result: res}, err
	})
	if err != nil {
		return GuardResult{}, err
	}

	fr := v.(flightResult)
	res := fr.result
	if fr.owner != caller {
		if res.Record.Fingerprint != req.Fingerprint {
			return GuardResult{}, domain.ErrIdempotencyConflict
		}
		res.Replayed = true
	}
	return res, nil
}

func (g *Guard) checkOrRecord(ctx context.Context, req IdempotencyRequest, compute ComputeFunc) (GuardResult, error) {
	now := g.clock.Now()
	rec := domain.IdempotencyRecord{
		Scope:       req.Scope,
		Key:         req.Key,
		Fingerprint: req.Fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.retention),
	}

	var result GuardResult
	err := g.repo.WithTx(ctx, func(txCtx context.Context) error {
		existing, claimed, err := g.repo.ClaimIdempotencyKey(txCtx, rec)
		if err != nil {
			return err
		}
		if !claimed {
			if existing.Fingerprint != req.Fingerprint {
				return domain.ErrIdempotencyConflict
			}
			if !existing.Resolved() {
				// Another writer holds the key without having finished.
				return domain.ErrConcurrencyConflict
			}
			result = GuardResult{Record: existing, Replayed: true}
			return nil
		}

		ref, err := compute(txCtx)
		if err != nil {
			code, ok := domain.CodeOf(err)
			if !ok {
				return err
			}
			rec.ErrorCode = code
		} else {
			rec.HoldID = ref
		}

		if err := g.repo.ResolveIdempotencyKey(txCtx, rec); err != nil {
			return err
		}
		result = GuardResult{Record: rec}
		return nil
	})
	if err != nil {
		return GuardResult{}, err
	}
	return result, nil
}

// Purge deletes records whose retention window has elapsed.
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	return g.repo.PurgeIdempotencyRecords(ctx, g.clock.Now())
}
