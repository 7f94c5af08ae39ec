package app

import (
	"context"

	"github.com/lamergameryt/entrypoint/internal/domain"
)

// EventPublisher delivers reservation events after they commit.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ReservationEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.ReservationEvent) error { return nil }

// NopPublisher discards events.
func NopPublisher() EventPublisher {
	return nopPublisher{}
}
