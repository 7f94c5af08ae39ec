package domain

import "time"

const (
	EventHoldCreated      = "hold.created"
	EventHoldConfirmed    = "hold.confirmed"
	EventHoldCancelled    = "hold.cancelled"
	EventHoldExpired      = "hold.expired"
	EventBookingCancelled = "booking.cancelled"
)

// ReservationEvent is emitted after a reservation change commits.
type ReservationEvent struct {
	Type        string    `json:"type"`
	EventID     string    `json:"event_id,omitempty"`
	UnitID      string    `json:"unit_id"`
	HoldID      string    `json:"hold_id,omitempty"`
	BookingID   string    `json:"booking_id,omitempty"`
	RequesterID string    `json:"requester_id,omitempty"`
	Quantity    int       `json:"quantity"`
	OccurredAt  time.Time `json:"occurred_at"`
}
