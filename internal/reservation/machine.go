// Package reservation holds the reservation lifecycle as a pure
// transition table.  It knows nothing about storage; the coordinator
// applies a Step with a compare-and-set on the reservation row.
package reservation

import (
	"errors"
	"fmt"

	"github.com/iliyamo/hub-lending/internal/model"
)

// State aliases the persisted reservation state.
type State = model.ReservationState

// ParseState validates a state name.
func ParseState(s string) (State, error) { return model.ParseReservationState(s) }

// Event is something that happens to a reservation.
type Event string

const (
	EventConfirm     Event = "confirm"
	EventPickup      Event = "pickup"
	EventReturn      Event = "return"
	EventCancel      Event = "cancel"
	EventExpire      Event = "expire"
	EventMarkOverdue Event = "mark_overdue"
)

var (
	// ErrAlreadyTerminal is returned for any event on a returned,
	// cancelled or expired reservation.
	ErrAlreadyTerminal = errors.New("reservation already terminal")
	// ErrInvalidTransition is returned for an event the current state
	// does not accept.
	ErrInvalidTransition = errors.New("invalid reservation transition")
	// ErrStaleState is returned when another transition committed first.
	ErrStaleState = errors.New("reservation state changed concurrently")
)

// Step is the outcome of a legal transition.
type Step struct {
	To State
	// Release is set when the commit token must go back to the ledger in
	// the same unit of work.
	Release bool
	// RecordPickup is set when the step stamps picked_up_at.
	RecordPickup bool
	// Late is set when the return happened after the reservation was
	// marked overdue.  Returns from active that are past due are judged by
	// the caller, which knows the clock.
	Late bool
}

// Next decides what event ev does to a reservation in state from.
// pickedUp reports whether the items already left the hub.
func Next(from State, ev Event, pickedUp bool) (Step, error) {
	if from.IsTerminal() {
		return Step{}, fmt.Errorf("%w: %s", ErrAlreadyTerminal, from)
	}
	switch from {
	case model.StateRequested:
		switch ev {
		case EventConfirm:
			return Step{To: model.StateActive}, nil
		case EventExpire:
			return Step{To: model.StateExpired, Release: true}, nil
		case EventCancel:
			return Step{To: model.StateCancelled, Release: true}, nil
		}
	case model.StateActive:
		switch ev {
		case EventPickup:
			if !pickedUp {
				return Step{To: model.StateActive, RecordPickup: true}, nil
			}
		case EventCancel:
			if !pickedUp {
				return Step{To: model.StateCancelled, Release: true}, nil
			}
		case EventReturn:
			if pickedUp {
				return Step{To: model.StateReturned, Release: true}, nil
			}
		case EventMarkOverdue:
			return Step{To: model.StateOverdue}, nil
		}
	case model.StateOverdue:
		if ev == EventReturn {
			return Step{To: model.StateReturned, Release: true, Late: true}, nil
		}
	}
	return Step{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

// LeavesService reports whether the step ends the borrowing relationship,
// which closes any pending extension request.
func (s Step) LeavesService() bool { return s.To.IsTerminal() }
