package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/queue"
)

// EmitReminder emits one pickup or return reminder for a reservation.
// Each (reservation, kind, level) is emitted at most once per date it
// refers to, so an approved extension re-arms the return reminders; it
// reports false when the reminder was already sent or the reservation no
// longer qualifies.
func (c *Coordinator) EmitReminder(ctx context.Context, id uint64, kind string, level int) (sent bool, err error) {
	ctx, span := c.span(ctx, "EmitReminder",
		attribute.Int64("reservation.id", int64(id)),
		attribute.String("reminder.kind", kind),
		attribute.Int("reminder.level", level))
	defer func() { c.finish(span, "EmitReminder", err, zap.Uint64("reservation_id", id)) }()

	var eventType string
	switch kind {
	case model.ReminderPickup:
		eventType = queue.TypePickupReminderDue
	case model.ReminderReturn:
		eventType = queue.TypeReturnReminderDue
	default:
		return false, fmt.Errorf("unknown reminder kind %q", kind)
	}

	err = c.unit(ctx, func(tx *sql.Tx) error {
		sent = false
		r, err := c.reservations.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		now := c.clock.Now()
		if !reminderApplies(r, kind, now) {
			return nil
		}
		due := r.ExpectedReturnDate
		if kind == model.ReminderPickup {
			due = r.PickupDate
		}
		claimed, err := c.reminders.ClaimTx(ctx, tx, id, kind, level, due, now)
		if err != nil || !claimed {
			return err
		}
		if err := c.emit(ctx, tx, eventType, r, now, func(e *queue.Event) {
			e.Level = level
			e.DaysOverdue = r.DaysOverdue(now)
		}); err != nil {
			return err
		}
		sent = true
		return nil
	})
	return sent, err
}

// reminderApplies re-checks, inside the unit of work, that a reminder
// still makes sense for the reservation.
func reminderApplies(r *model.Reservation, kind string, now time.Time) bool {
	switch kind {
	case model.ReminderPickup:
		awaiting := r.State == model.StateRequested || (r.State == model.StateActive && !r.PickedUp())
		return awaiting && !r.PickupMissed(now)
	case model.ReminderReturn:
		outstanding := r.State == model.StateActive || r.State == model.StateOverdue
		return outstanding && !r.ExpectedReturnDate.After(now)
	}
	return false
}
