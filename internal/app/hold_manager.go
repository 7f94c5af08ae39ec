package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lamergameryt/entrypoint/internal/clock"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateHold(ctx context.Context, hold domain.Hold) error
	GetHold(ctx context.Context, holdID string) (domain.Hold, error)
	GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error)
	// TransitionHold moves a hold from one state to another only if it is still
	// in from. Returns domain.ErrHoldAlreadyResolved when it is not.
	TransitionHold(ctx context.Context, holdID string, from, to domain.HoldState, at time.Time) error
	ListDueHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
	CreateBooking(ctx context.Context, booking domain.Booking) error
	GetBooking(ctx context.Context, bookingID string) (domain.Booking, error)
	GetBookingByHoldID(ctx context.Context, holdID string) (*domain.Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID string) (domain.Booking, error)
	// CreateBookingCancellation returns domain.ErrBookingAlreadyCancelled on a second call.
	CreateBookingCancellation(ctx context.Context, c domain.BookingCancellation) error
}

type HoldManager struct {
	repo    HoldRepository
	ledger  *Ledger
	guard   *Guard
	clock   clock.Clock
	holdTTL time.Duration
}

const defaultHoldTTL = 10 * time.Minute

func NewHoldManager(repo HoldRepository, ledger *Ledger, guard *Guard, clk clock.Clock, opts ...HoldManagerOption) *HoldManager {
	m := &HoldManager{
		repo:    repo,
		ledger:  ledger,
		guard:   guard,
		clock:   clk,
		holdTTL: defaultHoldTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type HoldManagerOption func(*HoldManager)

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) HoldManagerOption {
	return func(m *HoldManager) {
		if d > 0 {
			m.holdTTL = d
		}
	}
}

type CreateHoldInput struct {
	EventID        string
	UnitID         string
	Quantity       int
	RequesterID    string
	IdempotencyKey string
}

func (in CreateHoldInput) fingerprint() string {
	return fmt.Sprintf("requester=%s;event=%s;quantity=%d", in.RequesterID, in.EventID, in.Quantity)
}

type CreateHoldResult struct {
	Hold     domain.Hold
	Replayed bool
}

// CreateHold reserves capacity and persists an active hold, at most once per
// (unit, idempotency key). A replay returns the first outcome, which may be a
// recorded rejection error.
func (m *HoldManager) CreateHold(ctx context.Context, in CreateHoldInput) (CreateHoldResult, error) {
	if in.Quantity <= 0 {
		return CreateHoldResult{}, domain.ErrInvalidQuantity
	}
	if in.IdempotencyKey == "" {
		return CreateHoldResult{}, domain.ErrIdempotencyKeyRequired
	}
	if in.RequesterID == "" {
		return CreateHoldResult{}, domain.ErrRequesterRequired
	}

	var created domain.Hold
	res, err := m.guard.CheckOrRecord(ctx, IdempotencyRequest{
		Scope:       in.UnitID,
		Key:         in.IdempotencyKey,
		Fingerprint: in.fingerprint(),
	}, func(txCtx context.Context) (string, error) {
		if _, err := m.ledger.Reserve(txCtx, ReserveRequest{
			EventID:  in.EventID,
			UnitID:   in.UnitID,
			Quantity: in.Quantity,
			Actor:    in.RequesterID,
		}); err != nil {
			return "", err
		}

		now := m.clock.Now()
		created = domain.Hold{
			ID:             uuid.NewString(),
			EventID:        in.EventID,
			UnitID:         in.UnitID,
			Quantity:       in.Quantity,
			RequesterID:    in.RequesterID,
			State:          domain.HoldStateActive,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
			ExpiresAt:      now.Add(m.holdTTL),
		}
		if err := m.repo.CreateHold(txCtx, created); err != nil {
			return "", err
		}
		return created.ID, nil
	})
	if err != nil {
		return CreateHoldResult{}, err
	}

	if recErr := res.Record.Err(); recErr != nil {
		return CreateHoldResult{Replayed: res.Replayed}, recErr
	}
	if !res.Replayed {
		return CreateHoldResult{Hold: created}, nil
	}

	hold, err := m.repo.GetHold(ctx, res.Record.HoldID)
	if err != nil {
		return CreateHoldResult{}, err
	}
	return CreateHoldResult{Hold: hold, Replayed: true}, nil
}

type ConfirmHoldInput struct {
	HoldID string
	// RequesterID, when set, must match the hold's requester.
	RequesterID string
	// IdempotencyKey is optional; a retried confirm carrying the same key
	// gets the existing booking back.
	IdempotencyKey string
}

type ConfirmHoldResult struct {
	Booking domain.Booking
	Created bool
}

// ConfirmHold converts an active, unexpired hold into a booking. Expiry is
// checked against the clock here so a late sweeper never allows a late confirm.
func (m *HoldManager) ConfirmHold(ctx context.Context, in ConfirmHoldInput) (ConfirmHoldResult, error) {
	var result ConfirmHoldResult

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		hold, err := m.holdForUpdate(txCtx, in.HoldID, in.RequesterID)
		if err != nil {
			return err
		}

		existing, err := m.repo.GetBookingByHoldID(txCtx, in.HoldID)
		if err != nil {
			return err
		}
		if existing != nil {
			if in.IdempotencyKey != "" && existing.ConfirmKey == in.IdempotencyKey {
				result = ConfirmHoldResult{Booking: *existing, Created: false}
				return nil
			}
			return domain.ErrHoldAlreadyResolved
		}

		now := m.clock.Now()
		switch {
		case hold.State == domain.HoldStateExpired:
			return domain.ErrHoldExpired
		case hold.State.Terminal():
			return domain.ErrHoldAlreadyResolved
		case hold.ExpiredAt(now):
			return domain.ErrHoldExpired
		}

		if err := m.repo.TransitionHold(txCtx, hold.ID, domain.HoldStateActive, domain.HoldStateConfirmed, now); err != nil {
			return err
		}
		booking := domain.Booking{
			ID:          uuid.NewString(),
			HoldID:      hold.ID,
			UnitID:      hold.UnitID,
			Quantity:    hold.Quantity,
			RequesterID: hold.RequesterID,
			ConfirmKey:  in.IdempotencyKey,
			ConfirmedAt: now,
		}
		if err := m.repo.CreateBooking(txCtx, booking); err != nil {
			return err
		}

		result = ConfirmHoldResult{Booking: booking, Created: true}
		return nil
	})
	if err != nil {
		return ConfirmHoldResult{}, err
	}
	return result, nil
}

// CancelHold releases an active hold's capacity. Cancelling an already
// cancelled hold returns it unchanged.
func (m *HoldManager) CancelHold(ctx context.Context, holdID, requesterID string) (domain.Hold, error) {
	var result domain.Hold

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		hold, err := m.holdForUpdate(txCtx, holdID, requesterID)
		if err != nil {
			return err
		}
		switch hold.State {
		case domain.HoldStateCancelled:
			result = hold
			return nil
		case domain.HoldStateActive:
		default:
			return domain.ErrHoldNotActive
		}

		resolved, err := m.resolve(txCtx, hold, domain.HoldStateCancelled, requesterID, domain.AuditReasonCancelled)
		if err != nil {
			if errors.Is(err, domain.ErrHoldAlreadyResolved) {
				return domain.ErrHoldNotActive
			}
			return err
		}
		result = resolved
		return nil
	})
	if err != nil {
		return domain.Hold{}, err
	}
	return result, nil
}

// ExpireHold moves a due active hold to expired and releases its capacity.
// It returns domain.ErrHoldAlreadyResolved when confirm or cancel got there first.
func (m *HoldManager) ExpireHold(ctx context.Context, holdID string) (domain.Hold, error) {
	var result domain.Hold

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		hold, err := m.repo.GetHoldForUpdate(txCtx, holdID)
		if err != nil {
			return err
		}
		if hold.State.Terminal() {
			return domain.ErrHoldAlreadyResolved
		}
		if !hold.ExpiredAt(m.clock.Now()) {
			return domain.ErrHoldNotExpired
		}

		resolved, err := m.resolve(txCtx, hold, domain.HoldStateExpired, "sweeper", domain.AuditReasonExpired)
		if err != nil {
			return err
		}
		result = resolved
		return nil
	})
	if err != nil {
		return domain.Hold{}, err
	}
	return result, nil
}

// CancelBooking records a cancellation for a confirmed booking and returns
// its capacity to the ledger. The booking itself is left untouched.
func (m *HoldManager) CancelBooking(ctx context.Context, bookingID, requesterID string) (domain.BookingCancellation, error) {
	var result domain.BookingCancellation

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		booking, err := m.repo.GetBookingForUpdate(txCtx, bookingID)
		if err != nil {
			return err
		}
		if requesterID != "" && booking.RequesterID != requesterID {
			return domain.ErrBookingNotFound
		}

		c := domain.BookingCancellation{
			BookingID:   booking.ID,
			UnitID:      booking.UnitID,
			Quantity:    booking.Quantity,
			CancelledBy: requesterID,
			CancelledAt: m.clock.Now(),
		}
		if err := m.repo.CreateBookingCancellation(txCtx, c); err != nil {
			return err
		}
		if err := m.ledger.Release(txCtx, ReleaseRequest{
			UnitID:   booking.UnitID,
			Quantity: booking.Quantity,
			Actor:    requesterID,
			Reason:   domain.AuditReasonBookingCancelled,
		}); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return domain.BookingCancellation{}, err
	}
	return result, nil
}

func (m *HoldManager) GetHold(ctx context.Context, holdID, requesterID string) (domain.Hold, error) {
	hold, err := m.repo.GetHold(ctx, holdID)
	if err != nil {
		return domain.Hold{}, err
	}
	if requesterID != "" && hold.RequesterID != requesterID {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return hold, nil
}

func (m *HoldManager) GetBooking(ctx context.Context, bookingID, requesterID string) (domain.Booking, error) {
	booking, err := m.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if requesterID != "" && booking.RequesterID != requesterID {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return booking, nil
}

// DueHolds lists active holds whose deadline has passed.
func (m *HoldManager) DueHolds(ctx context.Context, limit int) ([]domain.Hold, error) {
	return m.repo.ListDueHolds(ctx, m.clock.Now(), limit)
}

func (m *HoldManager) holdForUpdate(ctx context.Context, holdID, requesterID string) (domain.Hold, error) {
	hold, err := m.repo.GetHoldForUpdate(ctx, holdID)
	if err != nil {
		return domain.Hold{}, err
	}
	if requesterID != "" && hold.RequesterID != requesterID {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return hold, nil
}

// resolve performs the conditional active -> to transition and releases the
// hold's capacity. Only the caller whose transition succeeds releases.
func (m *HoldManager) resolve(ctx context.Context, hold domain.Hold, to domain.HoldState, actor, reason string) (domain.Hold, error) {
	now := m.clock.Now()
	if err := m.repo.TransitionHold(ctx, hold.ID, domain.HoldStateActive, to, now); err != nil {
		return domain.Hold{}, err
	}
	if err := m.ledger.Release(ctx, ReleaseRequest{
		UnitID:   hold.UnitID,
		Quantity: hold.Quantity,
		Actor:    actor,
		Reason:   reason,
	}); err != nil {
		return domain.Hold{}, err
	}
	hold.State = to
	hold.ResolvedAt = &now
	return hold, nil
}
