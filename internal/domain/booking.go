package domain

import "time"

// Booking is the immutable outcome of a confirmed hold.
type Booking struct {
	ID          string
	HoldID      string
	UnitID      string
	Quantity    int
	RequesterID string
	// ConfirmKey is the optional idempotency key supplied on confirm.
	ConfirmKey  string
	ConfirmedAt time.Time
}

// BookingCancellation records the compensating release of a booking.
type BookingCancellation struct {
	BookingID   string
	UnitID      string
	Quantity    int
	CancelledBy string
	CancelledAt time.Time
}
