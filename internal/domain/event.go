package domain

import "time"

// Event is the catalog entry inventory units are published under.
type Event struct {
	ID       string
	Name     string
	StartsAt time.Time
}
