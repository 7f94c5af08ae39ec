package domain

import "time"

// InventoryUnit is a distinct pool of bookable capacity within an event,
// such as a ticket tier or a seat block.
type InventoryUnit struct {
	ID                string
	EventID           string
	Name              string
	TotalCapacity     int
	AvailableCapacity int
	Version           int64
	CreatedAt         time.Time
}

// AuditEntry is appended by the ledger for every capacity change.
type AuditEntry struct {
	UnitID     string
	Delta      int
	Actor      string
	Reason     string
	Version    int64
	RecordedAt time.Time
}

const (
	AuditReasonHold             = "hold"
	AuditReasonCancelled        = "cancelled"
	AuditReasonExpired          = "expired"
	AuditReasonBookingCancelled = "booking_cancelled"
	AuditReasonAdjust           = "adjust"
)
