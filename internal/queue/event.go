// Package queue defines the domain events the engine emits and moves them
// from the transactional outbox to the message broker.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/hub-lending/internal/model"
)

// Event types.  Consumers (notification delivery, reputation) switch on
// these names.
const (
	TypeReservationCreated   = "ReservationCreated"
	TypeReservationConfirmed = "ReservationConfirmed"
	TypeReservationPickedUp  = "ReservationPickedUp"
	TypePickupReminderDue    = "PickupReminderDue"
	TypeReturnReminderDue    = "ReturnReminderDue"
	TypeReservationOverdue   = "ReservationOverdue"
	TypeReservationReturned  = "ReservationReturned"
	TypeReservationExpired   = "ReservationExpired"
	TypeReservationCancelled = "ReservationCancelled"
	TypeExtensionRequested   = "ExtensionRequested"
	TypeExtensionResolved    = "ExtensionResolved"
	TypeBorrowerWarned       = "BorrowerWarned"
	TypeBorrowerRestricted   = "BorrowerRestricted"
)

// Event is the JSON envelope published for every domain event.  It
// carries enough for downstream consumers to notify or score without
// querying the engine's database.
type Event struct {
	EventID            string     `json:"event_id"`
	Type               string     `json:"type"`
	ReservationID      uint64     `json:"reservation_id"`
	BorrowerID         uint64     `json:"borrower_id"`
	ItemVariantID      uint64     `json:"item_variant_id"`
	HubID              uint64     `json:"hub_id"`
	Quantity           int        `json:"quantity"`
	State              string     `json:"state"`
	PickupDate         time.Time  `json:"pickup_date"`
	ExpectedReturnDate time.Time  `json:"expected_return_date"`
	ActualReturnDate   *time.Time `json:"actual_return_date,omitempty"`
	Level              int        `json:"level,omitempty"`
	DaysOverdue        int        `json:"days_overdue,omitempty"`
	Late               bool       `json:"late,omitempty"`
	ExtensionID        uint64     `json:"extension_id,omitempty"`
	ExtensionStatus    string     `json:"extension_status,omitempty"`
	RequestedReturn    *time.Time `json:"requested_return_date,omitempty"`
	LateCount          int        `json:"late_count,omitempty"`
	RestrictedUntil    *time.Time `json:"restricted_until,omitempty"`
	OccurredAt         time.Time  `json:"occurred_at"`
}

// NewEvent builds an event of the given type describing r as of now.
func NewEvent(eventType string, r *model.Reservation, now time.Time) (Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, fmt.Errorf("new event id: %w", err)
	}
	return Event{
		EventID:            id.String(),
		Type:               eventType,
		ReservationID:      r.ID,
		BorrowerID:         r.BorrowerID,
		ItemVariantID:      r.ItemVariantID,
		HubID:              r.HubID,
		Quantity:           r.Quantity,
		State:              string(r.State),
		PickupDate:         r.PickupDate,
		ExpectedReturnDate: r.ExpectedReturnDate,
		ActualReturnDate:   r.ActualReturnDate,
		OccurredAt:         now.UTC().Truncate(time.Second),
	}, nil
}

// Outbox serialises the event into its outbox row.
func (e Event) Outbox() (*model.OutboxEvent, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type, err)
	}
	return &model.OutboxEvent{
		EventID:       e.EventID,
		EventType:     e.Type,
		ReservationID: e.ReservationID,
		Payload:       body,
		CreatedAt:     e.OccurredAt,
	}, nil
}

// Decode parses a published payload.
func Decode(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}
