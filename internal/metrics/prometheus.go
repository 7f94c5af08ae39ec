package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// BookingAttempts counts booking attempts by outcome (held, rejected, duplicate_returned, error).
	BookingAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_booking_attempts_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	// HoldResolutions counts holds reaching a terminal state.
	HoldResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_hold_resolutions_total",
			Help: "Holds resolved by terminal state",
		},
		[]string{"state"},
	)

	IdempotentReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_idempotent_replays_total",
			Help: "Requests answered from a recorded idempotent outcome",
		},
	)

	// LedgerConflicts counts version conflicts seen by the ledger before retrying.
	LedgerConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_ledger_version_conflicts_total",
			Help: "Optimistic concurrency conflicts on inventory units",
		},
	)

	SweeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_sweeper_runs_total",
			Help: "Expiry sweeper cycles by result",
		},
		[]string{"result"},
	)

	// CircuitBreakerState tracks circuit breaker state (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"circuit_name"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_event_publish_failures_total",
			Help: "Domain events that could not be published",
		},
		[]string{"type"},
	)
)

// Middleware records request counts and latency per route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil && !c.Response().Committed {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			route := c.Path()
			RequestsTotal.WithLabelValues(
				c.Request().Method,
				route,
				strconv.Itoa(c.Response().Status),
			).Inc()
			RequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
