package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lamergameryt/entrypoint/internal/clock"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

type AdminRepository interface {
	CreateEvent(ctx context.Context, event domain.Event) error
	ListEvents(ctx context.Context) ([]domain.Event, error)
	CreateUnit(ctx context.Context, unit domain.InventoryUnit) error
	ListUnitsByEvent(ctx context.Context, eventID string) ([]domain.InventoryUnit, error)
}

// AdminService publishes events and inventory units and performs explicit
// capacity adjustments through the ledger.
type AdminService struct {
	repo   AdminRepository
	ledger *Ledger
	clock  clock.Clock
}

func NewAdminService(repo AdminRepository, ledger *Ledger, clk clock.Clock) *AdminService {
	return &AdminService{
		repo:   repo,
		ledger: ledger,
		clock:  clk,
	}
}

type CreateEventInput struct {
	Name     string
	StartsAt *time.Time
}

func (s *AdminService) CreateEvent(ctx context.Context, in CreateEventInput) (domain.Event, error) {
	if in.Name == "" {
		return domain.Event{}, domain.ErrEventNameRequired
	}
	startsAt := s.clock.Now()
	if in.StartsAt != nil {
		startsAt = *in.StartsAt
	}

	event := domain.Event{
		ID:       uuid.NewString(),
		Name:     in.Name,
		StartsAt: startsAt,
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

func (s *AdminService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.repo.ListEvents(ctx)
}

type PublishUnitInput struct {
	EventID  string
	Name     string
	Capacity int
}

// PublishUnit creates an inventory unit with all of its capacity available.
func (s *AdminService) PublishUnit(ctx context.Context, in PublishUnitInput) (domain.InventoryUnit, error) {
	if in.EventID == "" {
		return domain.InventoryUnit{}, domain.ErrInvalidID
	}
	if in.Name == "" {
		return domain.InventoryUnit{}, domain.ErrUnitNameRequired
	}
	if in.Capacity <= 0 {
		return domain.InventoryUnit{}, domain.ErrInvalidCapacity
	}

	unit := domain.InventoryUnit{
		ID:                uuid.NewString(),
		EventID:           in.EventID,
		Name:              in.Name,
		TotalCapacity:     in.Capacity,
		AvailableCapacity: in.Capacity,
		CreatedAt:         s.clock.Now(),
	}

	if err := s.repo.CreateUnit(ctx, unit); err != nil {
		return domain.InventoryUnit{}, err
	}
	return unit, nil
}

func (s *AdminService) ListUnits(ctx context.Context, eventID string) ([]domain.InventoryUnit, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListUnitsByEvent(ctx, eventID)
}

func (s *AdminService) AdjustCapacity(ctx context.Context, unitID string, delta int, actor string) (domain.InventoryUnit, error) {
	return s.ledger.Adjust(ctx, unitID, delta, actor)
}

func (s *AdminService) Reconcile(ctx context.Context, unitID string) (Reconciliation, error) {
	return s.ledger.Reconcile(ctx, unitID)
}
