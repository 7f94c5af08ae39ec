package domain

import "errors"

// Catalog and validation errors.
var (
	ErrEventNotFound          = errors.New("event not found")
	ErrEventNameRequired      = errors.New("event name required")
	ErrUnitNotFound           = errors.New("inventory unit not found")
	ErrUnitNameRequired       = errors.New("inventory unit name required")
	ErrUnitAlreadyExists      = errors.New("inventory unit already exists")
	ErrInvalidCapacity        = errors.New("invalid capacity")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidID              = errors.New("invalid id")
	ErrRequesterRequired      = errors.New("requester id required")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
)

// Reservation outcomes and state machine violations.
var (
	ErrInsufficientCapacity    = errors.New("insufficient capacity")
	ErrIdempotencyConflict     = errors.New("idempotency key reused with a different request")
	ErrHoldNotFound            = errors.New("hold not found")
	ErrHoldExpired             = errors.New("hold expired")
	ErrHoldAlreadyResolved     = errors.New("hold already resolved")
	ErrHoldNotActive           = errors.New("hold not active")
	ErrHoldNotExpired          = errors.New("hold not yet expired")
	ErrBookingNotFound         = errors.New("booking not found")
	ErrBookingAlreadyCancelled = errors.New("booking already cancelled")
	ErrInvalidTransition       = errors.New("invalid reservation transition")
)

// Operational errors.
var (
	// ErrVersionConflict is returned by storage when a version-checked update
	// loses to a concurrent writer. The ledger retries it.
	ErrVersionConflict = errors.New("version conflict")
	// ErrConcurrencyConflict is surfaced once the ledger exhausts its retries.
	ErrConcurrencyConflict = errors.New("concurrency conflict, retry later")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

var recordableErrors = map[string]error{
	"insufficient_capacity": ErrInsufficientCapacity,
	"unit_not_found":        ErrUnitNotFound,
}

// CodeOf returns the stable code of a business error that may be stored as an
// idempotent outcome. Transient and storage errors are not recordable.
func CodeOf(err error) (string, bool) {
	for code, target := range recordableErrors {
		if errors.Is(err, target) {
			return code, true
		}
	}
	return "", false
}

// ErrorForCode is the inverse of CodeOf.
func ErrorForCode(code string) error {
	if err, ok := recordableErrors[code]; ok {
		return err
	}
	return errors.New(code)
}
