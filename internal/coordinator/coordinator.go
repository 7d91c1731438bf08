// Package coordinator executes every operation that touches both the
// inventory ledger and a reservation as one unit of work.  A reservation
// row and the ledger quantities it accounts for always change in the same
// transaction, together with the outbox event describing the change.
package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/clock"
	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/ledger"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/observability"
	"github.com/iliyamo/hub-lending/internal/queue"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/reservation"
	"github.com/iliyamo/hub-lending/internal/standing"
)

// ErrInvalidDates rejects a reservation whose pickup date lies in the past
// or whose return date does not follow the pickup date.
var ErrInvalidDates = errors.New("invalid reservation dates")

// Options tunes a Coordinator.
type Options struct {
	// LockTimeout bounds each unit of work.
	LockTimeout time.Duration
	// AutoConfirm confirms new reservations in the creating transaction.
	AutoConfirm bool
}

// Coordinator runs reservation operations against the ledger.
type Coordinator struct {
	db           *database.DB
	ledger       *ledger.Ledger
	standing     *standing.Service
	items        *repository.ItemRepo
	reservations *repository.ReservationRepo
	extensions   *repository.ExtensionRepo
	reminders    *repository.ReminderRepo
	outbox       *queue.Outbox
	clock        clock.Clock
	log          *zap.Logger
	tracer       trace.Tracer
	opts         Options
}

// New wires a Coordinator over db.
func New(db *database.DB, st *standing.Service, clk clock.Clock, log *zap.Logger, opts Options) *Coordinator {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	items := repository.NewItemRepo(db)
	return &Coordinator{
		db:           db,
		ledger:       ledger.New(items, repository.NewCommitRepo(), clk),
		standing:     st,
		items:        items,
		reservations: repository.NewReservationRepo(db),
		extensions:   repository.NewExtensionRepo(db),
		reminders:    repository.NewReminderRepo(db.Dialect),
		outbox:       queue.NewOutbox(repository.NewOutboxRepo(db)),
		clock:        clk,
		log:          log,
		tracer:       observability.Tracer(),
		opts:         opts,
	}
}

// Clock exposes the coordinator's time source to the sweep.
func (c *Coordinator) Clock() clock.Clock { return c.clock }

// unit runs fn as one transaction bounded by the lock timeout.  Driver lock
// and check errors are mapped onto ledger sentinels.
func (c *Coordinator) unit(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return ledger.Classify(c.db.WithTx(ctx, c.opts.LockTimeout, fn))
}

// span opens the tracing span of one operation.
func (c *Coordinator) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "coordinator."+op, trace.WithAttributes(attrs...))
}

// finish ends span, recording err.  Invariant violations are raised to
// operators; they are never corrected here.
func (c *Coordinator) finish(span trace.Span, op string, err error, fields ...zap.Field) {
	defer span.End()
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if ledger.IsInvariantViolation(err) {
		span.SetAttributes(attribute.Bool("alert", true))
		c.log.Error("ledger invariant violated",
			append(fields, zap.String("op", op), zap.Error(err))...)
	}
}

// ReserveRequest asks for quantity units of one item variant.
type ReserveRequest struct {
	BorrowerID         uint64
	ItemVariantID      uint64
	Quantity           int
	PickupDate         time.Time
	ExpectedReturnDate time.Time
}

// validateDates checks the requested days.  Times of day are ignored:
// both dates are whole UTC days.
func validateDates(req ReserveRequest, now time.Time) error {
	if req.PickupDate.IsZero() || req.ExpectedReturnDate.IsZero() {
		return fmt.Errorf("%w: pickup and return dates are required", ErrInvalidDates)
	}
	if req.PickupDate.Before(model.DateOf(now)) {
		return fmt.Errorf("%w: pickup date is in the past", ErrInvalidDates)
	}
	if !req.ExpectedReturnDate.After(req.PickupDate) {
		return fmt.Errorf("%w: return date must be after pickup date", ErrInvalidDates)
	}
	return nil
}

// Reserve creates a reservation in state requested (active when
// AutoConfirm is set) and commits its quantity in the ledger.  Nothing is
// written unless every step succeeds.
func (c *Coordinator) Reserve(ctx context.Context, actor access.Actor, req ReserveRequest) (res *model.Reservation, err error) {
	ctx, span := c.span(ctx, "Reserve",
		attribute.Int64("item_variant.id", int64(req.ItemVariantID)),
		attribute.Int("quantity", req.Quantity))
	defer func() { c.finish(span, "Reserve", err, zap.Uint64("item_variant_id", req.ItemVariantID)) }()

	if actor.Role == access.RoleBorrower && actor.UserID != req.BorrowerID {
		return nil, repository.ErrForbidden
	}
	if req.Quantity <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	now := c.clock.Now()
	if !req.PickupDate.IsZero() && !req.ExpectedReturnDate.IsZero() {
		req.PickupDate = model.DateOf(req.PickupDate)
		req.ExpectedReturnDate = model.DateOf(req.ExpectedReturnDate)
	}
	if err := validateDates(req, now); err != nil {
		return nil, err
	}

	err = c.unit(ctx, func(tx *sql.Tx) error {
		if err := c.standing.Check(ctx, tx, req.BorrowerID, now); err != nil {
			return err
		}
		item, err := c.items.GetByIDTx(ctx, tx, req.ItemVariantID)
		if err != nil {
			return err
		}
		if actor.Role != access.RoleBorrower {
			if err := actor.RequireHub(item.HubID); err != nil {
				return err
			}
		}
		tok, err := c.ledger.Reserve(ctx, tx, req.ItemVariantID, req.Quantity)
		if err != nil {
			return err
		}
		r := &model.Reservation{
			BorrowerID:         req.BorrowerID,
			ItemVariantID:      req.ItemVariantID,
			HubID:              item.HubID,
			Quantity:           req.Quantity,
			CommitTokenID:      tok.ID,
			State:              model.StateRequested,
			PickupDate:         req.PickupDate,
			ExpectedReturnDate: req.ExpectedReturnDate,
		}
		if err := c.reservations.CreateTx(ctx, tx, r, now); err != nil {
			return err
		}
		if err := c.emit(ctx, tx, queue.TypeReservationCreated, r, now, nil); err != nil {
			return err
		}
		if c.opts.AutoConfirm {
			if err := c.advance(ctx, tx, r, model.StateActive, repository.Transition{}, now); err != nil {
				return err
			}
			if err := c.emit(ctx, tx, queue.TypeReservationConfirmed, r, now, nil); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("reservation created",
		zap.Uint64("reservation_id", res.ID),
		zap.Uint64("borrower_id", res.BorrowerID),
		zap.Uint64("item_variant_id", res.ItemVariantID),
		zap.Int("quantity", res.Quantity),
		zap.String("state", string(res.State)))
	return res, nil
}

// advance applies a compare-and-set transition to r and updates it in
// place.  Losing the race yields reservation.ErrStaleState.
func (c *Coordinator) advance(ctx context.Context, tx *sql.Tx, r *model.Reservation, to model.ReservationState, t repository.Transition, now time.Time) error {
	t.ID, t.FromState, t.FromVersion, t.ToState, t.At = r.ID, r.State, r.Version, to, now
	if !t.CountedLate {
		t.CountedLate = r.CountedLate
	}
	ok, err := c.reservations.TransitionTx(ctx, tx, t)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: reservation %d", reservation.ErrStaleState, r.ID)
	}
	r.State = to
	r.Version++
	r.UpdatedAt = database.Now(now)
	if t.PickedUpAt != nil {
		p := database.Now(*t.PickedUpAt)
		r.PickedUpAt = &p
	}
	if t.ActualReturnDate != nil {
		a := database.Now(*t.ActualReturnDate)
		r.ActualReturnDate = &a
	}
	r.CountedLate = t.CountedLate
	return nil
}

// emit writes an event about r to the outbox; decorate may fill in the
// type-specific fields.
func (c *Coordinator) emit(ctx context.Context, tx *sql.Tx, eventType string, r *model.Reservation, now time.Time, decorate func(*queue.Event)) error {
	ev, err := queue.NewEvent(eventType, r, now)
	if err != nil {
		return err
	}
	if decorate != nil {
		decorate(&ev)
	}
	return c.outbox.Add(ctx, tx, ev)
}
