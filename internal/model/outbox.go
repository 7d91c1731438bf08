package model

import "time"

// OutboxEvent is a domain event waiting to be relayed to the broker.
// Rows are inserted inside the same transaction as the transition that
// produced them, so an event exists if and only if the transition
// committed.
type OutboxEvent struct {
	ID            uint64     // outbox_events.id
	EventID       string     // outbox_events.event_id (UUIDv7)
	EventType     string     // outbox_events.event_type
	ReservationID uint64     // outbox_events.reservation_id
	Payload       []byte     // outbox_events.payload (JSON envelope)
	Attempts      int        // outbox_events.attempts
	CreatedAt     time.Time  // outbox_events.created_at
	PublishedAt   *time.Time // outbox_events.published_at (nullable)
}

// Reminder kinds recorded in reminder_log.
const (
	ReminderPickup = "pickup"
	ReminderReturn = "return"
)
