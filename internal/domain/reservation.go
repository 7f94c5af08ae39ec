package domain

import "fmt"

// ReservationState tracks a booking attempt from request to a terminal state.
type ReservationState string

const (
	ReservationRequested ReservationState = "requested"
	ReservationHeld      ReservationState = "held"
	ReservationConfirmed ReservationState = "confirmed"
	ReservationExpired   ReservationState = "expired"
	ReservationCancelled ReservationState = "cancelled"
	ReservationRejected  ReservationState = "rejected"
)

var reservationTransitions = map[ReservationState][]ReservationState{
	ReservationRequested: {ReservationHeld, ReservationRejected},
	ReservationHeld:      {ReservationConfirmed, ReservationExpired, ReservationCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s ReservationState) CanTransitionTo(next ReservationState) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ReservationState) Terminal() bool {
	return len(reservationTransitions[s]) == 0
}

// Transition validates a step of the state machine.
func (s ReservationState) Transition(next ReservationState) (ReservationState, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// ReservationStateOf maps a persisted hold state onto the reservation machine.
func ReservationStateOf(s HoldState) ReservationState {
	switch s {
	case HoldStateActive:
		return ReservationHeld
	case HoldStateConfirmed:
		return ReservationConfirmed
	case HoldStateExpired:
		return ReservationExpired
	case HoldStateCancelled:
		return ReservationCancelled
	default:
		return ReservationRequested
	}
}
