package domain

import "time"

// IdempotencyRecord maps a client key, scoped to an inventory unit, to the
// outcome of the first request that carried it.
type IdempotencyRecord struct {
	Scope       string
	Key         string
	Fingerprint string
	HoldID      string
	ErrorCode   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Resolved reports whether an outcome has been stored.
func (r IdempotencyRecord) Resolved() bool {
	return r.HoldID != "" || r.ErrorCode != ""
}

// Err returns the recorded business error, if any.
func (r IdempotencyRecord) Err() error {
	if r.ErrorCode == "" {
		return nil
	}
	return ErrorForCode(r.ErrorCode)
}
