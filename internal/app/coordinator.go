package app

import (
	"context"
	"errors"

	"github.com/lamergameryt/entrypoint/internal/clock"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/lamergameryt/entrypoint/internal/metrics"
	"github.com/sirupsen/logrus"
)

type AttemptOutcome string

const (
	OutcomeHeld              AttemptOutcome = "held"
	OutcomeRejected          AttemptOutcome = "rejected"
	OutcomeDuplicateReturned AttemptOutcome = "duplicate_returned"
)

type AttemptBookingInput struct {
	EventID        string
	UnitID         string
	Quantity       int
	RequesterID    string
	IdempotencyKey string
}

// AttemptResult is the outcome of one booking attempt.
type AttemptResult struct {
	Outcome AttemptOutcome
	State   domain.ReservationState
	// Hold is set when the attempt, or the one it replays, was held.
	Hold *domain.Hold
	// Reason is set when the attempt, or the one it replays, was rejected.
	Reason error
	// Previous is the original outcome for a duplicate.
	Previous *AttemptResult
}

// Coordinator drives booking attempts through the reservation state machine
// and keeps ledger mutations on the same unit mutually exclusive.
type Coordinator struct {
	holds     *HoldManager
	ledger    *Ledger
	guard     *Guard
	clock     clock.Clock
	publisher EventPublisher
	log       logrus.FieldLogger
	locks     *unitLocks
}

func NewCoordinator(holds *HoldManager, ledger *Ledger, guard *Guard, clk clock.Clock, publisher EventPublisher, log logrus.FieldLogger) *Coordinator {
	if publisher == nil {
		publisher = NopPublisher()
	}
	return &Coordinator{
		holds:     holds,
		ledger:    ledger,
		guard:     guard,
		clock:     clk,
		publisher: publisher,
		log:       log,
		locks:     newUnitLocks(),
	}
}

// AttemptBooking tries to hold capacity for a requester. Capacity exhaustion
// is an outcome, not an error; errors are validation, transient or storage
// failures.
func (c *Coordinator) AttemptBooking(ctx context.Context, in AttemptBookingInput) (AttemptResult, error) {
	state := domain.ReservationRequested
	log := c.log.WithFields(logrus.Fields{
		"event_id":     in.EventID,
		"unit_id":      in.UnitID,
		"requester_id": in.RequesterID,
		"quantity":     in.Quantity,
	})

	unlock := c.locks.Lock(in.UnitID)
	res, err := c.holds.CreateHold(ctx, CreateHoldInput(in))
	unlock()

	var (
		attempt AttemptResult
		next    domain.ReservationState
	)
	switch {
	case err == nil:
		hold := res.Hold
		next = domain.ReservationHeld
		attempt = AttemptResult{Outcome: OutcomeHeld, Hold: &hold}
	case isRejection(err):
		next = domain.ReservationRejected
		attempt = AttemptResult{Outcome: OutcomeRejected, Reason: err}
	default:
		metrics.BookingAttempts.WithLabelValues("error").Inc()
		c.logFailure(log, err, "booking attempt failed")
		return AttemptResult{}, err
	}

	if state, err = state.Transition(next); err != nil {
		return AttemptResult{}, err
	}
	attempt.State = state

	if res.Replayed {
		if attempt.Hold != nil {
			attempt.State = domain.ReservationStateOf(attempt.Hold.State)
		}
		previous := attempt
		attempt = AttemptResult{
			Outcome:  OutcomeDuplicateReturned,
			State:    previous.State,
			Hold:     previous.Hold,
			Reason:   previous.Reason,
			Previous: &previous,
		}
		metrics.IdempotentReplays.Inc()
		metrics.BookingAttempts.WithLabelValues(string(OutcomeDuplicateReturned)).Inc()
		log.WithField("idempotency_key", in.IdempotencyKey).Debug("idempotent replay")
		return attempt, nil
	}

	metrics.BookingAttempts.WithLabelValues(string(attempt.Outcome)).Inc()
	if attempt.Outcome == OutcomeRejected {
		log.WithField("reason", attempt.Reason.Error()).Info("booking attempt rejected")
		return attempt, nil
	}

	log.WithField("hold_id", attempt.Hold.ID).Info("hold created")
	c.publish(ctx, domain.ReservationEvent{
		Type:        domain.EventHoldCreated,
		EventID:     attempt.Hold.EventID,
		UnitID:      attempt.Hold.UnitID,
		HoldID:      attempt.Hold.ID,
		RequesterID: attempt.Hold.RequesterID,
		Quantity:    attempt.Hold.Quantity,
	})
	return attempt, nil
}

// ConfirmBooking turns a held reservation into a booking.
func (c *Coordinator) ConfirmBooking(ctx context.Context, in ConfirmHoldInput) (ConfirmHoldResult, error) {
	log := c.log.WithFields(logrus.Fields{"hold_id": in.HoldID, "requester_id": in.RequesterID})

	res, err := c.holds.ConfirmHold(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrHoldExpired):
			log.Info("confirm after expiry")
		case isOperational(err):
			c.logFailure(log, err, "confirm failed")
		}
		return ConfirmHoldResult{}, err
	}
	if !res.Created {
		return res, nil
	}

	metrics.HoldResolutions.WithLabelValues(string(domain.HoldStateConfirmed)).Inc()
	log.WithField("booking_id", res.Booking.ID).Info("hold confirmed")
	c.publish(ctx, domain.ReservationEvent{
		Type:        domain.EventHoldConfirmed,
		UnitID:      res.Booking.UnitID,
		HoldID:      res.Booking.HoldID,
		BookingID:   res.Booking.ID,
		RequesterID: res.Booking.RequesterID,
		Quantity:    res.Booking.Quantity,
	})
	return res, nil
}

// CancelBooking cancels a held reservation and returns its capacity.
func (c *Coordinator) CancelBooking(ctx context.Context, holdID, requesterID string) (domain.Hold, error) {
	log := c.log.WithFields(logrus.Fields{"hold_id": holdID, "requester_id": requesterID})

	current, err := c.holds.GetHold(ctx, holdID, requesterID)
	if err != nil {
		return domain.Hold{}, err
	}

	unlock := c.locks.Lock(current.UnitID)
	hold, err := c.holds.CancelHold(ctx, holdID, requesterID)
	unlock()
	if err != nil {
		if isOperational(err) {
			c.logFailure(log, err, "cancel failed")
		}
		return domain.Hold{}, err
	}
	if current.State == domain.HoldStateCancelled {
		return hold, nil
	}

	metrics.HoldResolutions.WithLabelValues(string(domain.HoldStateCancelled)).Inc()
	log.Info("hold cancelled")
	c.publish(ctx, domain.ReservationEvent{
		Type:        domain.EventHoldCancelled,
		EventID:     hold.EventID,
		UnitID:      hold.UnitID,
		HoldID:      hold.ID,
		RequesterID: hold.RequesterID,
		Quantity:    hold.Quantity,
	})
	return hold, nil
}

// CancelConfirmedBooking releases the capacity of a confirmed booking.
func (c *Coordinator) CancelConfirmedBooking(ctx context.Context, bookingID, requesterID string) (domain.BookingCancellation, error) {
	log := c.log.WithFields(logrus.Fields{"booking_id": bookingID, "requester_id": requesterID})

	booking, err := c.holds.GetBooking(ctx, bookingID, requesterID)
	if err != nil {
		return domain.BookingCancellation{}, err
	}

	unlock := c.locks.Lock(booking.UnitID)
	cancellation, err := c.holds.CancelBooking(ctx, bookingID, requesterID)
	unlock()
	if err != nil {
		if isOperational(err) {
			c.logFailure(log, err, "booking cancel failed")
		}
		return domain.BookingCancellation{}, err
	}

	log.Info("booking cancelled")
	c.publish(ctx, domain.ReservationEvent{
		Type:        domain.EventBookingCancelled,
		UnitID:      cancellation.UnitID,
		BookingID:   cancellation.BookingID,
		RequesterID: requesterID,
		Quantity:    cancellation.Quantity,
	})
	return cancellation, nil
}

func (c *Coordinator) GetAvailability(ctx context.Context, unitID string) (Availability, error) {
	return c.ledger.Availability(ctx, unitID)
}

func (c *Coordinator) GetHold(ctx context.Context, holdID, requesterID string) (domain.Hold, error) {
	return c.holds.GetHold(ctx, holdID, requesterID)
}

// ExpireDue expires up to limit holds whose deadline has passed. Holds
// resolved concurrently by confirm or cancel are skipped.
func (c *Coordinator) ExpireDue(ctx context.Context, limit int) ([]domain.Hold, error) {
	due, err := c.holds.DueHolds(ctx, limit)
	if err != nil {
		return nil, err
	}

	expired := make([]domain.Hold, 0, len(due))
	var errs []error
	for _, h := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		unlock := c.locks.Lock(h.UnitID)
		hold, err := c.holds.ExpireHold(ctx, h.ID)
		unlock()

		switch {
		case err == nil:
		case errors.Is(err, domain.ErrHoldAlreadyResolved), errors.Is(err, domain.ErrHoldNotExpired):
			c.log.WithField("hold_id", h.ID).Debug("hold resolved before expiry")
			continue
		default:
			errs = append(errs, err)
			continue
		}

		expired = append(expired, hold)
		metrics.HoldResolutions.WithLabelValues(string(domain.HoldStateExpired)).Inc()
		c.log.WithFields(logrus.Fields{"hold_id": hold.ID, "unit_id": hold.UnitID}).Info("hold expired")
		c.publish(ctx, domain.ReservationEvent{
			Type:        domain.EventHoldExpired,
			EventID:     hold.EventID,
			UnitID:      hold.UnitID,
			HoldID:      hold.ID,
			RequesterID: hold.RequesterID,
			Quantity:    hold.Quantity,
		})
	}
	return expired, errors.Join(errs...)
}

// PurgeIdempotency drops idempotency records past their retention window.
func (c *Coordinator) PurgeIdempotency(ctx context.Context) (int64, error) {
	return c.guard.Purge(ctx)
}

func (c *Coordinator) publish(ctx context.Context, event domain.ReservationEvent) {
	event.OccurredAt = c.clock.Now()
	if err := c.publisher.Publish(ctx, event); err != nil {
		metrics.PublishFailures.WithLabelValues(event.Type).Inc()
		c.log.WithError(err).WithField("type", event.Type).Warn("publish reservation event")
	}
}

func (c *Coordinator) logFailure(log logrus.FieldLogger, err error, msg string) {
	if isOperational(err) {
		log.WithError(err).Error(msg)
		return
	}
	log.WithError(err).Info(msg)
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInsufficientCapacity) || errors.Is(err, domain.ErrUnitNotFound)
}

func isOperational(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyConflict) ||
		errors.Is(err, domain.ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
