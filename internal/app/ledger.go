package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lamergameryt/entrypoint/internal/clock"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/lamergameryt/entrypoint/internal/metrics"
	"github.com/sirupsen/logrus"
)

type LedgerRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUnit(ctx context.Context, unitID string) (domain.InventoryUnit, error)
	// UpdateUnitCapacity writes total and available only if the stored version
	// still equals expectedVersion, bumping it. Returns domain.ErrVersionConflict otherwise.
	UpdateUnitCapacity(ctx context.Context, unitID string, expectedVersion int64, total, available int) (domain.InventoryUnit, error)
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
	SumActiveHolds(ctx context.Context, unitID string) (int, error)
	SumConfirmed(ctx context.Context, unitID string) (int, error)
}

// Ledger is the single writer of available capacity.
type Ledger struct {
	repo       LedgerRepository
	clock      clock.Clock
	log        logrus.FieldLogger
	maxRetries int
	retryDelay time.Duration
}

const (
	defaultMaxRetries = 5
	defaultRetryDelay = 5 * time.Millisecond
)

type LedgerOption func(*Ledger)

// WithMaxRetries bounds the number of retries after a version conflict.
func WithMaxRetries(n int) LedgerOption {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithRetryDelay sets the initial backoff between conflict retries.
func WithRetryDelay(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

func NewLedger(repo LedgerRepository, clk clock.Clock, log logrus.FieldLogger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		repo:       repo,
		clock:      clk,
		log:        log,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type ReserveRequest struct {
	// EventID is optional; when set the unit must belong to it.
	EventID  string
	UnitID   string
	Quantity int
	Actor    string
}

// ReservationToken identifies a committed decrement.
type ReservationToken struct {
	UnitID   string
	Quantity int
	Version  int64
}

type ReleaseRequest struct {
	UnitID   string
	Quantity int
	Actor    string
	Reason   string
}

type Availability struct {
	UnitID    string
	EventID   string
	Total     int
	Available int
	Version   int64
}

// Reconciliation compares the ledger against the holds and bookings that
// account for consumed capacity.
type Reconciliation struct {
	UnitID    string
	Total     int
	Available int
	Held      int
	Confirmed int
	Balanced  bool
}

func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (ReservationToken, error) {
	if req.Quantity <= 0 {
		return ReservationToken{}, domain.ErrInvalidQuantity
	}

	var token ReservationToken
	err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
		updated, err := l.casLoop(txCtx, req.UnitID, func(u domain.InventoryUnit) (int, int, error) {
			if req.EventID != "" && u.EventID != req.EventID {
				return 0, 0, domain.ErrUnitNotFound
			}
			if u.AvailableCapacity < req.Quantity {
				return 0, 0, domain.ErrInsufficientCapacity
			}
			return u.TotalCapacity, u.AvailableCapacity - req.Quantity, nil
		})
		if err != nil {
			return err
		}
		token = ReservationToken{UnitID: updated.ID, Quantity: req.Quantity, Version: updated.Version}
		return l.audit(txCtx, updated, -req.Quantity, req.Actor, domain.AuditReasonHold)
	})
	if err != nil {
		return ReservationToken{}, err
	}
	return token, nil
}

func (l *Ledger) Release(ctx context.Context, req ReleaseRequest) error {
	if req.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	return l.repo.WithTx(ctx, func(txCtx context.Context) error {
		var delta int
		updated, err := l.casLoop(txCtx, req.UnitID, func(u domain.InventoryUnit) (int, int, error) {
			next := u.AvailableCapacity + req.Quantity
			if next > u.TotalCapacity {
				l.log.WithFields(logrus.Fields{
					"unit_id":   u.ID,
					"available": u.AvailableCapacity,
					"total":     u.TotalCapacity,
					"quantity":  req.Quantity,
					"reason":    req.Reason,
				}).Error("release exceeds total capacity, clamping")
				next = u.TotalCapacity
			}
			delta = next - u.AvailableCapacity
			return u.TotalCapacity, next, nil
		})
		if err != nil {
			return err
		}
		return l.audit(txCtx, updated, delta, req.Actor, req.Reason)
	})
}

// Adjust changes total and available capacity by the same delta. It is an
// administrative act and never part of the booking path.
func (l *Ledger) Adjust(ctx context.Context, unitID string, delta int, actor string) (domain.InventoryUnit, error) {
	if delta == 0 {
		return domain.InventoryUnit{}, domain.ErrInvalidCapacity
	}

	var result domain.InventoryUnit
	err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
		updated, err := l.casLoop(txCtx, unitID, func(u domain.InventoryUnit) (int, int, error) {
			total, available := u.TotalCapacity+delta, u.AvailableCapacity+delta
			if total <= 0 || available < 0 {
				return 0, 0, domain.ErrInvalidCapacity
			}
			return total, available, nil
		})
		if err != nil {
			return err
		}
		result = updated
		return l.audit(txCtx, updated, delta, actor, domain.AuditReasonAdjust)
	})
	if err != nil {
		return domain.InventoryUnit{}, err
	}
	return result, nil
}

func (l *Ledger) Availability(ctx context.Context, unitID string) (Availability, error) {
	u, err := l.repo.GetUnit(ctx, unitID)
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		UnitID:    u.ID,
		EventID:   u.EventID,
		Total:     u.TotalCapacity,
		Available: u.AvailableCapacity,
		Version:   u.Version,
	}, nil
}

func (l *Ledger) Reconcile(ctx context.Context, unitID string) (Reconciliation, error) {
	var rec Reconciliation
	err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
		u, err := l.repo.GetUnit(txCtx, unitID)
		if err != nil {
			return err
		}
		held, err := l.repo.SumActiveHolds(txCtx, unitID)
		if err != nil {
			return err
		}
		confirmed, err := l.repo.SumConfirmed(txCtx, unitID)
		if err != nil {
			return err
		}
		rec = Reconciliation{
			UnitID:    u.ID,
			Total:     u.TotalCapacity,
			Available: u.AvailableCapacity,
			Held:      held,
			Confirmed: confirmed,
			Balanced:  u.AvailableCapacity+held+confirmed == u.TotalCapacity,
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Balanced {
		l.log.WithFields(logrus.Fields{
			"unit_id":   rec.UnitID,
			"total":     rec.Total,
			"available": rec.Available,
			"held":      rec.Held,
			"confirmed": rec.Confirmed,
		}).Error("ledger out of balance")
	}
	return rec, nil
}

// casLoop reads the unit, lets next compute the new (total, available) pair
// and writes it conditionally on the version it read. Version conflicts are
// retried with backoff up to maxRetries times. Errors from next are final.
func (l *Ledger) casLoop(
	ctx context.Context,
	unitID string,
	next func(domain.InventoryUnit) (total, available int, err error),
) (domain.InventoryUnit, error) {
	var updated domain.InventoryUnit
	attempts := 0

	op := func() error {
		attempts++
		u, err := l.repo.GetUnit(ctx, unitID)
		if err != nil {
			return backoff.Permanent(err)
		}
		total, available, err := next(u)
		if err != nil {
			return backoff.Permanent(err)
		}
		updated, err = l.repo.UpdateUnitCapacity(ctx, unitID, u.Version, total, available)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.LedgerConflicts.Inc()
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retryDelay
	b.MaxInterval = 20 * l.retryDelay
	b.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.maxRetries)), ctx))
	if errors.Is(err, domain.ErrVersionConflict) {
		l.log.WithFields(logrus.Fields{
			"unit_id":  unitID,
			"attempts": attempts,
		}).Error("ledger retries exhausted")
		return domain.InventoryUnit{}, domain.ErrConcurrencyConflict
	}
	if err != nil {
		return domain.InventoryUnit{}, err
	}
	return updated, nil
}

func (l *Ledger) audit(ctx context.Context, u domain.InventoryUnit, delta int, actor, reason string) error {
	return l.repo.AppendAudit(ctx, domain.AuditEntry{
		UnitID:     u.ID,
		Delta:      delta,
		Actor:      actor,
		Reason:     reason,
		Version:    u.Version,
		RecordedAt: l.clock.Now(),
	})
}
