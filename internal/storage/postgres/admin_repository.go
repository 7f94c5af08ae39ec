package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

type AdminRepository struct {
	db
}

func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{db{pool: pool}}
}

func (r *AdminRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	const stmt = `
INSERT INTO events (id, name, starts_at)
VALUES ($1, $2, $3)`
	_, err := r.exec(ctx, stmt, event.ID, event.Name, event.StartsAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return storageErr("create event", err)
	}
	return nil
}

func (r *AdminRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	const query = `
SELECT id, name, starts_at
FROM events
ORDER BY starts_at ASC, created_at ASC`
	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, storageErr("list events", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var event domain.Event
		if err := rows.Scan(&event.ID, &event.Name, &event.StartsAt); err != nil {
			return nil, storageErr("scan event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate events", err)
	}
	return events, nil
}

func (r *AdminRepository) CreateUnit(ctx context.Context, unit domain.InventoryUnit) error {
	const stmt = `
INSERT INTO inventory_units (id, event_id, name, total_capacity, available_capacity, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.exec(ctx, stmt,
		unit.ID,
		unit.EventID,
		unit.Name,
		unit.TotalCapacity,
		unit.AvailableCapacity,
		unit.Version,
		unit.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isUniqueViolation(err) {
			return domain.ErrUnitAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return domain.ErrEventNotFound
		}
		return storageErr("create unit", err)
	}
	return nil
}

func (r *AdminRepository) ListUnitsByEvent(ctx context.Context, eventID string) ([]domain.InventoryUnit, error) {
	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, storageErr("check event", err)
	}
	if !exists {
		return nil, domain.ErrEventNotFound
	}

	rows, err := r.query(ctx, `SELECT `+unitColumns+` FROM inventory_units WHERE event_id = $1 ORDER BY name ASC`, eventID)
	if err != nil {
		return nil, storageErr("list units", err)
	}
	defer rows.Close()

	units := []domain.InventoryUnit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, storageErr("scan unit", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate units", err)
	}
	return units, nil
}
