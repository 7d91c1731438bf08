package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/queue"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/reservation"
)

// eventTypes maps a lifecycle event to the domain event it emits.
var eventTypes = map[reservation.Event]string{
	reservation.EventConfirm:     queue.TypeReservationConfirmed,
	reservation.EventPickup:      queue.TypeReservationPickedUp,
	reservation.EventReturn:      queue.TypeReservationReturned,
	reservation.EventCancel:      queue.TypeReservationCancelled,
	reservation.EventExpire:      queue.TypeReservationExpired,
	reservation.EventMarkOverdue: queue.TypeReservationOverdue,
}

// Confirm moves a requested reservation to active.  Stewards of the
// reservation's hub and admins may confirm.
func (c *Coordinator) Confirm(ctx context.Context, actor access.Actor, id uint64) (*model.Reservation, error) {
	return c.transition(ctx, "Confirm", id, reservation.EventConfirm, func(r *model.Reservation) error {
		return actor.RequireHub(r.HubID)
	})
}

// RecordPickup stamps the moment the items left the hub.
func (c *Coordinator) RecordPickup(ctx context.Context, actor access.Actor, id uint64) (*model.Reservation, error) {
	return c.transition(ctx, "RecordPickup", id, reservation.EventPickup, func(r *model.Reservation) error {
		return actor.RequireHub(r.HubID)
	})
}

// Return records the items coming back, releases the quantity and updates
// the borrower's standing.
func (c *Coordinator) Return(ctx context.Context, actor access.Actor, id uint64) (*model.Reservation, error) {
	return c.transition(ctx, "Return", id, reservation.EventReturn, func(r *model.Reservation) error {
		return actor.RequireHub(r.HubID)
	})
}

// Cancel withdraws a reservation that has not been picked up.  The
// borrower who owns it, a steward of its hub or an admin may cancel.
func (c *Coordinator) Cancel(ctx context.Context, actor access.Actor, id uint64) (*model.Reservation, error) {
	return c.transition(ctx, "Cancel", id, reservation.EventCancel, func(r *model.Reservation) error {
		if actor.Role == access.RoleBorrower {
			if r.BorrowerID != actor.UserID {
				return repository.ErrForbidden
			}
			return nil
		}
		return actor.RequireHub(r.HubID)
	})
}

// Expire ends a requested reservation whose pickup day has passed.  It is
// driven by the sweep; a reservation that moved on since it was listed, or
// that no longer qualifies, yields reservation.ErrStaleState.
func (c *Coordinator) Expire(ctx context.Context, id uint64) (*model.Reservation, error) {
	return c.transition(ctx, "Expire", id, reservation.EventExpire, func(r *model.Reservation) error {
		if r.State != model.StateRequested {
			return fmt.Errorf("%w: reservation %d is %s", reservation.ErrStaleState, r.ID, r.State)
		}
		if !r.PickupMissed(c.clock.Now()) {
			return fmt.Errorf("%w: pickup date of %d not reached", reservation.ErrStaleState, r.ID)
		}
		return nil
	})
}

// MarkOverdue flags an active reservation whose due day has passed; a
// return on the due day itself is on time.  An extension approved after
// the sweep listed the reservation moves the date forward, in which case
// the reservation no longer qualifies and reservation.ErrStaleState is
// returned.
func (c *Coordinator) MarkOverdue(ctx context.Context, id uint64) (*model.Reservation, error) {
	return c.transition(ctx, "MarkOverdue", id, reservation.EventMarkOverdue, func(r *model.Reservation) error {
		if r.State != model.StateActive {
			return fmt.Errorf("%w: reservation %d is %s", reservation.ErrStaleState, r.ID, r.State)
		}
		if !r.PastDue(c.clock.Now()) {
			return fmt.Errorf("%w: reservation %d not past due", reservation.ErrStaleState, r.ID)
		}
		return nil
	})
}

// transition is the shared body of every lifecycle operation: load, check,
// decide, compare-and-set, then the side effects of the step, all in one
// unit of work.
func (c *Coordinator) transition(ctx context.Context, op string, id uint64, ev reservation.Event, check func(*model.Reservation) error) (res *model.Reservation, err error) {
	ctx, span := c.span(ctx, op, attribute.Int64("reservation.id", int64(id)))
	defer func() { c.finish(span, op, err, zap.Uint64("reservation_id", id)) }()

	var restricted *time.Time
	err = c.unit(ctx, func(tx *sql.Tx) error {
		restricted = nil
		r, err := c.reservations.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := check(r); err != nil {
			return err
		}
		step, err := reservation.Next(r.State, ev, r.PickedUp())
		if err != nil {
			return err
		}

		now := c.clock.Now()
		var t repository.Transition
		late := false
		if step.RecordPickup {
			t.PickedUpAt = &now
		}
		if ev == reservation.EventReturn {
			t.ActualReturnDate = &now
			late = step.Late || r.PastDue(now)
			t.CountedLate = late
		}
		if err := c.advance(ctx, tx, r, step.To, t, now); err != nil {
			return err
		}
		if step.Release {
			if err := c.ledger.Release(ctx, tx, r.CommitTokenID); err != nil {
				return err
			}
		}

		if err := c.emit(ctx, tx, eventTypes[ev], r, now, func(e *queue.Event) {
			e.Late = late
			if ev == reservation.EventMarkOverdue {
				e.DaysOverdue = r.DaysOverdue(now)
			}
		}); err != nil {
			return err
		}

		if ev == reservation.EventReturn {
			if restricted, err = c.recordStanding(ctx, tx, r, late, now); err != nil {
				return err
			}
		}
		if step.To != model.StateActive {
			if err := c.closeExtension(ctx, tx, r, now); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	fields := []zap.Field{
		zap.String("op", op),
		zap.Uint64("reservation_id", res.ID),
		zap.String("state", string(res.State)),
	}
	if restricted != nil {
		fields = append(fields, zap.Time("borrower_restricted_until", *restricted))
	}
	c.log.Info("reservation transitioned", fields...)
	return res, nil
}

// recordStanding updates the borrower's record after a return and emits
// BorrowerWarned or BorrowerRestricted when this return crossed a
// threshold.
func (c *Coordinator) recordStanding(ctx context.Context, tx *sql.Tx, r *model.Reservation, late bool, now time.Time) (*time.Time, error) {
	if !late {
		return nil, c.standing.RecordOnTimeReturn(ctx, tx, r.BorrowerID, now)
	}
	out, err := c.standing.RecordLateReturn(ctx, tx, r.BorrowerID, now)
	if err != nil {
		return nil, err
	}
	if out.Warned {
		return nil, c.emit(ctx, tx, queue.TypeBorrowerWarned, r, now, func(e *queue.Event) {
			e.LateCount = out.Standing.LateCount
		})
	}
	if out.RestrictedUntil == nil {
		return nil, nil
	}
	until := *out.RestrictedUntil
	return &until, c.emit(ctx, tx, queue.TypeBorrowerRestricted, r, now, func(e *queue.Event) {
		e.LateCount = out.Standing.LateCount
		e.RestrictedUntil = &until
	})
}

// closeExtension denies the pending extension of a reservation that left
// the active state.
func (c *Coordinator) closeExtension(ctx context.Context, tx *sql.Tx, r *model.Reservation, now time.Time) error {
	extID, err := c.extensions.DenyOpenTx(ctx, tx, r.ID, "reservation "+string(r.State), now)
	if err != nil || extID == 0 {
		return err
	}
	return c.emit(ctx, tx, queue.TypeExtensionResolved, r, now, func(e *queue.Event) {
		e.ExtensionID = extID
		e.ExtensionStatus = string(model.ExtensionDenied)
	})
}
