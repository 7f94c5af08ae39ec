package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lamergameryt/entrypoint/internal/clock"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/lamergameryt/entrypoint/internal/storage/memory"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type stack struct {
	store   *memory.Store
	ledger  *Ledger
	guard   *Guard
	holds   *HoldManager
	coord   *Coordinator
	admin   *AdminService
	events  *recordingPublisher
	log     *test.Hook
	eventID string
}

type recordingPublisher struct {
	ch chan domain.ReservationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.ReservationEvent) error {
	select {
	case p.ch <- e:
	default:
	}
	return nil
}

func (p *recordingPublisher) drain() []domain.ReservationEvent {
	var out []domain.ReservationEvent
	for {
		select {
		case e := <-p.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func newStack(t *testing.T, clk clock.Clock, opts ...LedgerOption) *stack {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := memory.NewStore()
	ledger := NewLedger(store, clk, logger, opts...)
	guard := NewGuard(store, clk, 0)
	holds := NewHoldManager(store, ledger, guard, clk)
	pub := &recordingPublisher{ch: make(chan domain.ReservationEvent, 1024)}
	coord := NewCoordinator(holds, ledger, guard, clk, pub, logger)
	admin := NewAdminService(store, ledger, clk)

	event, err := admin.CreateEvent(context.Background(), CreateEventInput{Name: "Concert"})
	require.NoError(t, err)

	return &stack{
		store:   store,
		ledger:  ledger,
		guard:   guard,
		holds:   holds,
		coord:   coord,
		admin:   admin,
		events:  pub,
		log:     hook,
		eventID: event.ID,
	}
}

func (s *stack) publish(t *testing.T, capacity int) string {
	t.Helper()
	unit, err := s.admin.PublishUnit(context.Background(), PublishUnitInput{
		EventID:  s.eventID,
		Name:     "unit-" + uuid.NewString()[:8],
		Capacity: capacity,
	})
	require.NoError(t, err)
	return unit.ID
}

func (s *stack) attempt(unitID, requester, key string, qty int) AttemptBookingInput {
	return AttemptBookingInput{
		EventID:        s.eventID,
		UnitID:         unitID,
		Quantity:       qty,
		RequesterID:    requester,
		IdempotencyKey: key,
	}
}

func (s *stack) requireBalanced(t *testing.T, unitID string) Reconciliation {
	t.Helper()
	rec, err := s.ledger.Reconcile(context.Background(), unitID)
	require.NoError(t, err)
	require.Truef(t, rec.Balanced, "ledger out of balance: %+v", rec)
	return rec
}
