// Package memory is a process-local store with the same transactional
// contract as the Postgres repositories. Writes are applied immediately and
// undone in reverse order if the surrounding transaction fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lamergameryt/entrypoint/internal/domain"
)

type Store struct {
	mu            sync.Mutex
	events        map[string]domain.Event
	units         map[string]domain.InventoryUnit
	holds         map[string]domain.Hold
	bookings      map[string]domain.Booking
	cancellations map[string]domain.BookingCancellation
	idempotency   map[idemKey]domain.IdempotencyRecord
	audit         []domain.AuditEntry
}

type idemKey struct {
	scope string
	key   string
}

func NewStore() *Store {
	return &Store{
		events:        make(map[string]domain.Event),
		units:         make(map[string]domain.InventoryUnit),
		holds:         make(map[string]domain.Hold),
		bookings:      make(map[string]domain.Booking),
		cancellations: make(map[string]domain.BookingCancellation),
		idempotency:   make(map[idemKey]domain.IdempotencyRecord),
	}
}

type txKey struct{}

type tx struct {
	undo []func()
}

// WithTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	t := &tx{}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		s.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func txFromContext(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// onRollback registers an undo step. Must be called with s.mu held; the step
// runs with s.mu held as well.
func onRollback(ctx context.Context, fn func()) {
	if t := txFromContext(ctx); t != nil {
		t.undo = append(t.undo, fn)
	}
}

func (s *Store) CreateEvent(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	onRollback(ctx, func() { delete(s.events, event.ID) })
	return nil
}

func (s *Store) ListEvents(_ context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) CreateUnit(ctx context.Context, unit domain.InventoryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[unit.EventID]; !ok {
		return domain.ErrEventNotFound
	}
	for _, u := range s.units {
		if u.EventID == unit.EventID && u.Name == unit.Name {
			return domain.ErrUnitAlreadyExists
		}
	}
	s.units[unit.ID] = unit
	onRollback(ctx, func() { delete(s.units, unit.ID) })
	return nil
}

func (s *Store) ListUnitsByEvent(_ context.Context, eventID string) ([]domain.InventoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, domain.ErrEventNotFound
	}
	out := []domain.InventoryUnit{}
	for _, u := range s.units {
		if u.EventID == eventID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetUnit(_ context.Context, unitID string) (domain.InventoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unitID]
	if !ok {
		return domain.InventoryUnit{}, domain.ErrUnitNotFound
	}
	return u, nil
}

func (s *Store) UpdateUnitCapacity(ctx context.Context, unitID string, expectedVersion int64, total, available int) (domain.InventoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unitID]
	if !ok {
		return domain.InventoryUnit{}, domain.ErrUnitNotFound
	}
	if u.Version != expectedVersion {
		return domain.InventoryUnit{}, domain.ErrVersionConflict
	}

	dTotal, dAvailable := total-u.TotalCapacity, available-u.AvailableCapacity
	u.TotalCapacity, u.AvailableCapacity = total, available
	u.Version++
	s.units[unitID] = u

	// Undo as a delta so concurrent writers' changes survive the rollback.
	onRollback(ctx, func() {
		cur := s.units[unitID]
		cur.TotalCapacity -= dTotal
		cur.AvailableCapacity -= dAvailable
		cur.Version++
		s.units[unitID] = cur
	})
	return u, nil
}

func (s *Store) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	onRollback(ctx, func() {
		for i := len(s.audit) - 1; i >= 0; i-- {
			if s.audit[i] == entry {
				s.audit = append(s.audit[:i], s.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

// Audit returns the audit trail for a unit in append order.
func (s *Store) Audit(unitID string) []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.audit {
		if e.UnitID == unitID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) SumActiveHolds(_ context.Context, unitID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, h := range s.holds {
		if h.UnitID == unitID && h.State == domain.HoldStateActive {
			total += h.Quantity
		}
	}
	return total, nil
}

func (s *Store) SumConfirmed(_ context.Context, unitID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, b := range s.bookings {
		if b.UnitID != unitID {
			continue
		}
		if _, cancelled := s.cancellations[b.ID]; cancelled {
			continue
		}
		total += b.Quantity
	}
	return total, nil
}

func (s *Store) CreateHold(ctx context.Context, hold domain.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[hold.ID] = hold
	onRollback(ctx, func() { delete(s.holds, hold.ID) })
	return nil
}

func (s *Store) GetHold(_ context.Context, holdID string) (domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return h, nil
}

// GetHoldForUpdate has no row lock to take; TransitionHold is the guard.
func (s *Store) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	return s.GetHold(ctx, holdID)
}

func (s *Store) TransitionHold(ctx context.Context, holdID string, from, to domain.HoldState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	if h.State != from {
		return domain.ErrHoldAlreadyResolved
	}

	prev := h
	h.State = to
	resolvedAt := at
	h.ResolvedAt = &resolvedAt
	s.holds[holdID] = h
	onRollback(ctx, func() { s.holds[holdID] = prev })
	return nil
}

func (s *Store) ListDueHolds(_ context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Hold
	for _, h := range s.holds {
		if h.State == domain.HoldStateActive && h.ExpiredAt(now) {
			due = append(due, h)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) CreateBooking(ctx context.Context, booking domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.HoldID == booking.HoldID {
			return domain.ErrHoldAlreadyResolved
		}
	}
	s.bookings[booking.ID] = booking
	onRollback(ctx, func() { delete(s.bookings, booking.ID) })
	return nil
}

func (s *Store) GetBooking(_ context.Context, bookingID string) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

func (s *Store) GetBookingForUpdate(ctx context.Context, bookingID string) (domain.Booking, error) {
	return s.GetBooking(ctx, bookingID)
}

func (s *Store) GetBookingByHoldID(_ context.Context, holdID string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.HoldID == holdID {
			return &b, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateBookingCancellation(ctx context.Context, c domain.BookingCancellation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cancellations[c.BookingID]; ok {
		return domain.ErrBookingAlreadyCancelled
	}
	s.cancellations[c.BookingID] = c
	onRollback(ctx, func() { delete(s.cancellations, c.BookingID) })
	return nil
}

func (s *Store) ClaimIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) (domain.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{scope: rec.Scope, key: rec.Key}
	prev, exists := s.idempotency[k]
	if exists && prev.ExpiresAt.After(rec.CreatedAt) {
		return prev, false, nil
	}

	s.idempotency[k] = rec
	onRollback(ctx, func() {
		if exists {
			s.idempotency[k] = prev
			return
		}
		delete(s.idempotency, k)
	})
	return domain.IdempotencyRecord{}, true, nil
}

func (s *Store) ResolveIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{scope: rec.Scope, key: rec.Key}
	prev := s.idempotency[k]
	s.idempotency[k] = rec
	onRollback(ctx, func() { s.idempotency[k] = prev })
	return nil
}

func (s *Store) PurgeIdempotencyRecords(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.idempotency {
		if !rec.ExpiresAt.After(before) {
			delete(s.idempotency, k)
			n++
		}
	}
	return n, nil
}
