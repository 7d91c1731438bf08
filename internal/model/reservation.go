package model

import (
	"fmt"
	"time"
)

// ReservationState is the closed set of lifecycle states a reservation
// can be in.  Pickup is not a state of its own: it is recorded on an
// active reservation through PickedUpAt.
type ReservationState string

const (
	StateRequested ReservationState = "requested"
	StateActive    ReservationState = "active"
	StateOverdue   ReservationState = "overdue"
	StateReturned  ReservationState = "returned"
	StateCancelled ReservationState = "cancelled"
	StateExpired   ReservationState = "expired"
)

// AllStates lists every reservation state in lifecycle order.
var AllStates = []ReservationState{
	StateRequested, StateActive, StateOverdue,
	StateReturned, StateCancelled, StateExpired,
}

// IsTerminal reports whether no further transition is permitted.
func (s ReservationState) IsTerminal() bool {
	switch s {
	case StateReturned, StateCancelled, StateExpired:
		return true
	}
	return false
}

// IsCommitted reports whether a reservation in this state still holds
// its quantity out of the item's available pool.
func (s ReservationState) IsCommitted() bool {
	switch s {
	case StateRequested, StateActive, StateOverdue:
		return true
	}
	return false
}

// ParseReservationState validates a state name received from storage
// or a query string.
func ParseReservationState(s string) (ReservationState, error) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown reservation state %q", s)
}

// Reservation is a borrower's time-bound claim on Quantity units of one
// ItemVariant.  While the reservation is committed (requested, active,
// overdue) the referenced commit token is unreleased and its quantity
// is absent from the item's available count.
//
// Reservations are never deleted; they end in returned, cancelled or
// expired and are kept for history and standing computation.
type Reservation struct {
	ID                 uint64           `json:"id"`                           // reservations.id
	BorrowerID         uint64           `json:"borrower_id"`                  // reservations.borrower_id
	ItemVariantID      uint64           `json:"item_variant_id"`              // reservations.item_variant_id
	HubID              uint64           `json:"hub_id"`                       // reservations.hub_id
	Quantity           int              `json:"quantity"`                     // reservations.quantity
	CommitTokenID      string           `json:"commit_token_id"`              // reservations.commit_token_id
	State              ReservationState `json:"state"`                        // reservations.state
	PickupDate         time.Time        `json:"pickup_date"`                  // reservations.pickup_date
	ExpectedReturnDate time.Time        `json:"expected_return_date"`         // reservations.expected_return_date
	ActualReturnDate   *time.Time       `json:"actual_return_date,omitempty"` // reservations.actual_return_date (nullable)
	PickedUpAt         *time.Time       `json:"picked_up_at,omitempty"`       // reservations.picked_up_at (nullable)
	CountedLate        bool             `json:"counted_late"`                 // reservations.counted_late
	Version            uint32           `json:"version"`                      // reservations.version, compare-and-set guard
	CreatedAt          time.Time        `json:"created_at"`                   // reservations.created_at
	UpdatedAt          time.Time        `json:"updated_at"`                   // reservations.updated_at

	// Extension is the pending extension request, if any.  It is loaded
	// separately and never persisted through this struct.
	Extension *ExtensionRequest `json:"extension,omitempty"`
}

// PickedUp reports whether the items have left the hub.
func (r Reservation) PickedUp() bool { return r.PickedUpAt != nil }

// DateOf returns the UTC calendar day containing t as midnight UTC.
// Pickup and return dates are whole days; a reservation is on time for
// the entirety of its due day.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PickupMissed reports whether the pickup day ended before now.
func (r Reservation) PickupMissed(now time.Time) bool {
	return DateOf(r.PickupDate).Before(DateOf(now))
}

// PastDue reports whether the due day ended before now.
func (r Reservation) PastDue(now time.Time) bool {
	return DateOf(r.ExpectedReturnDate).Before(DateOf(now))
}

// DaysOverdue returns the number of whole days since the due day, or zero
// when the reservation is not past due.
func (r Reservation) DaysOverdue(now time.Time) int {
	if !r.PastDue(now) {
		return 0
	}
	return int(DateOf(now).Sub(DateOf(r.ExpectedReturnDate)) / (24 * time.Hour))
}
