package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

type LedgerRepository struct {
	db
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db{pool: pool}}
}

const unitColumns = `id, event_id, name, total_capacity, available_capacity, version, created_at`

func scanUnit(row pgx.Row) (domain.InventoryUnit, error) {
	var u domain.InventoryUnit
	err := row.Scan(&u.ID, &u.EventID, &u.Name, &u.TotalCapacity, &u.AvailableCapacity, &u.Version, &u.CreatedAt)
	return u, err
}

func (r *LedgerRepository) GetUnit(ctx context.Context, unitID string) (domain.InventoryUnit, error) {
	u, err := scanUnit(r.queryRow(ctx, `SELECT `+unitColumns+` FROM inventory_units WHERE id = $1`, unitID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.InventoryUnit{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InventoryUnit{}, domain.ErrUnitNotFound
		}
		return domain.InventoryUnit{}, storageErr("get unit", err)
	}
	return u, nil
}

// UpdateUnitCapacity is a compare-and-set on version. A writer holding the row
// makes this wait; once it commits the version no longer matches and no row
// is returned.
func (r *LedgerRepository) UpdateUnitCapacity(ctx context.Context, unitID string, expectedVersion int64, total, available int) (domain.InventoryUnit, error) {
	const stmt = `
UPDATE inventory_units
SET total_capacity = $3, available_capacity = $4, version = version + 1
WHERE id = $1 AND version = $2
RETURNING ` + unitColumns

	u, err := scanUnit(r.queryRow(ctx, stmt, unitID, expectedVersion, total, available))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.InventoryUnit{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InventoryUnit{}, domain.ErrVersionConflict
		}
		return domain.InventoryUnit{}, storageErr("update unit capacity", err)
	}
	return u, nil
}

func (r *LedgerRepository) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	const stmt = `
INSERT INTO ledger_audit (unit_id, delta, actor, reason, version, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.exec(ctx, stmt, entry.UnitID, entry.Delta, entry.Actor, entry.Reason, entry.Version, entry.RecordedAt); err != nil {
		return storageErr("append audit", err)
	}
	return nil
}

func (r *LedgerRepository) ListAudit(ctx context.Context, unitID string) ([]domain.AuditEntry, error) {
	const query = `
SELECT unit_id, delta, actor, reason, version, recorded_at
FROM ledger_audit
WHERE unit_id = $1
ORDER BY id ASC`

	rows, err := r.query(ctx, query, unitID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, storageErr("list audit", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.UnitID, &e.Delta, &e.Actor, &e.Reason, &e.Version, &e.RecordedAt); err != nil {
			return nil, storageErr("scan audit", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate audit", err)
	}
	return out, nil
}

func (r *LedgerRepository) SumActiveHolds(ctx context.Context, unitID string) (int, error) {
	const query = `
SELECT COALESCE(SUM(quantity), 0)
FROM holds
WHERE unit_id = $1 AND state = 'active'`

	var total int
	if err := r.queryRow(ctx, query, unitID).Scan(&total); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, storageErr("sum active holds", err)
	}
	return total, nil
}

func (r *LedgerRepository) SumConfirmed(ctx context.Context, unitID string) (int, error) {
	const query = `
SELECT COALESCE(SUM(b.quantity), 0)
FROM bookings b
LEFT JOIN booking_cancellations c ON c.booking_id = b.id
WHERE b.unit_id = $1 AND c.booking_id IS NULL`

	var total int
	if err := r.queryRow(ctx, query, unitID).Scan(&total); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, storageErr("sum confirmed", err)
	}
	return total, nil
}
