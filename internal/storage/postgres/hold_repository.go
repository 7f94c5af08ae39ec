package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

type HoldRepository struct {
	db
}

func NewHoldRepository(pool *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{db{pool: pool}}
}

const holdColumns = `id, event_id, unit_id, quantity, requester_id, state, idempotency_key, created_at, expires_at, resolved_at`

func scanHold(row pgx.Row) (domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(&h.ID, &h.EventID, &h.UnitID, &h.Quantity, &h.RequesterID, &h.State,
		&h.IdempotencyKey, &h.CreatedAt, &h.ExpiresAt, &h.ResolvedAt)
	return h, err
}

func (r *HoldRepository) CreateHold(ctx context.Context, hold domain.Hold) error {
	const stmt = `
INSERT INTO holds (id, event_id, unit_id, quantity, requester_id, state, idempotency_key, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.exec(ctx, stmt,
		hold.ID,
		hold.EventID,
		hold.UnitID,
		hold.Quantity,
		hold.RequesterID,
		hold.State,
		hold.IdempotencyKey,
		hold.CreatedAt,
		hold.ExpiresAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrUnitNotFound
		}
		return storageErr("create hold", err)
	}
	return nil
}

func (r *HoldRepository) GetHold(ctx context.Context, holdID string) (domain.Hold, error) {
	return r.getHold(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, holdID)
}

func (r *HoldRepository) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	return r.getHold(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, holdID)
}

func (r *HoldRepository) getHold(ctx context.Context, query, holdID string) (domain.Hold, error) {
	h, err := scanHold(r.queryRow(ctx, query, holdID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Hold{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Hold{}, domain.ErrHoldNotFound
		}
		return domain.Hold{}, storageErr("get hold", err)
	}
	return h, nil
}

// TransitionHold is conditional on the current state. Of two racing callers
// the second waits on the row lock, re-evaluates the predicate and matches
// nothing.
func (r *HoldRepository) TransitionHold(ctx context.Context, holdID string, from, to domain.HoldState, at time.Time) error {
	const stmt = `
UPDATE holds
SET state = $3, resolved_at = $4
WHERE id = $1 AND state = $2`

	tag, err := r.exec(ctx, stmt, holdID, from, to, at)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return storageErr("transition hold", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM holds WHERE id = $1)`, holdID).Scan(&exists); err != nil {
			return storageErr("check hold", err)
		}
		if !exists {
			return domain.ErrHoldNotFound
		}
		return domain.ErrHoldAlreadyResolved
	}
	return nil
}

func (r *HoldRepository) ListDueHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	const query = `
SELECT ` + holdColumns + `
FROM holds
WHERE state = 'active' AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2`

	rows, err := r.query(ctx, query, now, limit)
	if err != nil {
		return nil, storageErr("list due holds", err)
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, storageErr("scan hold", err)
		}
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate holds", err)
	}
	return holds, nil
}

const bookingColumns = `id, hold_id, unit_id, quantity, requester_id, confirm_key, confirmed_at`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.HoldID, &b.UnitID, &b.Quantity, &b.RequesterID, &b.ConfirmKey, &b.ConfirmedAt)
	return b, err
}

func (r *HoldRepository) CreateBooking(ctx context.Context, booking domain.Booking) error {
	const stmt = `
INSERT INTO bookings (id, hold_id, unit_id, quantity, requester_id, confirm_key, confirmed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.exec(ctx, stmt,
		booking.ID,
		booking.HoldID,
		booking.UnitID,
		booking.Quantity,
		booking.RequesterID,
		booking.ConfirmKey,
		booking.ConfirmedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrHoldAlreadyResolved
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrHoldNotFound
		}
		return storageErr("create booking", err)
	}
	return nil
}

func (r *HoldRepository) GetBooking(ctx context.Context, bookingID string) (domain.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
}

func (r *HoldRepository) GetBookingForUpdate(ctx context.Context, bookingID string) (domain.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID)
}

func (r *HoldRepository) getBooking(ctx context.Context, query, bookingID string) (domain.Booking, error) {
	b, err := scanBooking(r.queryRow(ctx, query, bookingID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Booking{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Booking{}, domain.ErrBookingNotFound
		}
		return domain.Booking{}, storageErr("get booking", err)
	}
	return b, nil
}

func (r *HoldRepository) GetBookingByHoldID(ctx context.Context, holdID string) (*domain.Booking, error) {
	b, err := scanBooking(r.queryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE hold_id = $1`, holdID))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("get booking by hold", err)
	}
	return &b, nil
}

func (r *HoldRepository) CreateBookingCancellation(ctx context.Context, c domain.BookingCancellation) error {
	const stmt = `
INSERT INTO booking_cancellations (booking_id, cancelled_by, cancelled_at)
VALUES ($1, $2, $3)
ON CONFLICT (booking_id) DO NOTHING`

	tag, err := r.exec(ctx, stmt, c.BookingID, c.CancelledBy, c.CancelledAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrBookingNotFound
		}
		return storageErr("create booking cancellation", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingAlreadyCancelled
	}
	return nil
}
