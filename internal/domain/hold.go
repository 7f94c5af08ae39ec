package domain

import "time"

type HoldState string

const (
	HoldStateActive    HoldState = "active"
	HoldStateConfirmed HoldState = "confirmed"
	HoldStateExpired   HoldState = "expired"
	HoldStateCancelled HoldState = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s HoldState) Terminal() bool {
	return s != HoldStateActive
}

// Hold is a time-boxed provisional claim on capacity.
type Hold struct {
	ID             string
	EventID        string
	UnitID         string
	Quantity       int
	RequesterID    string
	State          HoldState
	IdempotencyKey string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ResolvedAt     *time.Time
}

// ExpiredAt reports whether the hold's deadline has passed at now.
// A hold is unconfirmable from expires_at onwards.
func (h Hold) ExpiredAt(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}
