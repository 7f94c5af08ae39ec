// Package events publishes reservation events to a RabbitMQ topic exchange.
// Events are routed by type, e.g. "hold.created".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/lamergameryt/entrypoint/internal/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const exchangeKind = "topic"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	breaker  *gobreaker.CircuitBreaker
	log      logrus.FieldLogger
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(url, exchange string, log logrus.FieldLogger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	p := newPublisher(ch, exchange, log)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		breaker:  newBreaker("amqp-"+exchange, log),
		log:      log,
	}
}

func newBreaker(name string, log logrus.FieldLogger) *gobreaker.CircuitBreaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			state := float64(0)
			switch to {
			case gobreaker.StateOpen:
				state = 1
			case gobreaker.StateHalfOpen:
				state = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
			log.WithFields(logrus.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}

// Publish sends event to the exchange. While the breaker is open it fails
// fast with gobreaker.ErrOpenState.
func (p *Publisher) Publish(ctx context.Context, event domain.ReservationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			Body:         body,
		})
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	p.log.WithFields(logrus.Fields{"type": event.Type, "unit_id": event.UnitID}).Debug("event published")
	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
