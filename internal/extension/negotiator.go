// Package extension handles borrower requests to move the return date of
// an active reservation.  Extensions never touch inventory quantities; an
// approval only moves expected_return_date under the reservation's
// compare-and-set guard.
package extension

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/clock"
	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/queue"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/reservation"
)

var (
	// ErrInvalidDate rejects a requested date that is not after the
	// current expected return date.
	ErrInvalidDate = errors.New("requested return date must be after the current one")
	// ErrNotActive means the reservation is not active, or already has a
	// pending request.
	ErrNotActive = errors.New("reservation cannot be extended")
	// ErrRequestClosed means the request was already approved or denied.
	ErrRequestClosed = errors.New("extension request already resolved")
)

// Negotiator records and resolves extension requests.
type Negotiator struct {
	db           *database.DB
	reservations *repository.ReservationRepo
	extensions   *repository.ExtensionRepo
	outbox       *queue.Outbox
	clock        clock.Clock
	log          *zap.Logger
	lockTimeout  time.Duration
}

// New constructs a Negotiator.
func New(db *database.DB, clk clock.Clock, log *zap.Logger, lockTimeout time.Duration) *Negotiator {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Negotiator{
		db:           db,
		reservations: repository.NewReservationRepo(db),
		extensions:   repository.NewExtensionRepo(db),
		outbox:       queue.NewOutbox(repository.NewOutboxRepo(db)),
		clock:        clk,
		log:          log,
		lockTimeout:  lockTimeout,
	}
}

// Request asks to move the return date of the actor's own active
// reservation to the day of newDate.  The reservation's version is bumped
// with the request, so a transition that raced it fails its compare-and-set
// instead of leaving a pending request on a reservation that is no longer
// active.
func (n *Negotiator) Request(ctx context.Context, actor access.Actor, reservationID uint64, newDate time.Time) (*model.ExtensionRequest, error) {
	newDate = model.DateOf(newDate)
	var ext *model.ExtensionRequest
	err := n.db.WithTx(ctx, n.lockTimeout, func(tx *sql.Tx) error {
		r, err := n.reservations.GetByIDTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if !actor.Owns(r) {
			return repository.ErrForbidden
		}
		if r.State != model.StateActive {
			return fmt.Errorf("%w: reservation is %s", ErrNotActive, r.State)
		}
		if !newDate.After(r.ExpectedReturnDate) {
			return ErrInvalidDate
		}

		now := n.clock.Now()
		ok, err := n.reservations.TouchTx(ctx, tx, r.ID, model.StateActive, r.Version, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: reservation %d", reservation.ErrStaleState, r.ID)
		}
		r.Version++
		e := &model.ExtensionRequest{
			ReservationID:       r.ID,
			RequestedReturnDate: newDate,
			RequestedBy:         actor.UserID,
		}
		if err := n.extensions.CreateTx(ctx, tx, e, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: a request is already pending", ErrNotActive)
			}
			return err
		}
		if err := n.emit(ctx, tx, queue.TypeExtensionRequested, r, e, now); err != nil {
			return err
		}
		ext = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.log.Info("extension requested",
		zap.Uint64("extension_id", ext.ID),
		zap.Uint64("reservation_id", reservationID),
		zap.Time("requested_return_date", ext.RequestedReturnDate))
	return ext, nil
}

// Resolve approves or denies a pending request.  Only stewards of the
// reservation's hub and admins may resolve.
func (n *Negotiator) Resolve(ctx context.Context, actor access.Actor, requestID uint64, approve bool, reason string) (*model.ExtensionRequest, error) {
	var ext *model.ExtensionRequest
	err := n.db.WithTx(ctx, n.lockTimeout, func(tx *sql.Tx) error {
		e, err := n.extensions.GetByIDTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		r, err := n.reservations.GetByIDTx(ctx, tx, e.ReservationID)
		if err != nil {
			return err
		}
		if err := actor.RequireHub(r.HubID); err != nil {
			return err
		}
		if e.Status != model.ExtensionPending {
			return ErrRequestClosed
		}

		now := n.clock.Now()
		status := model.ExtensionDenied
		if approve {
			if r.State != model.StateActive {
				return fmt.Errorf("%w: reservation is %s", ErrNotActive, r.State)
			}
			ok, err := n.reservations.ExtendTx(ctx, tx, r.ID, r.Version, e.RequestedReturnDate, now)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: reservation %d", reservation.ErrStaleState, r.ID)
			}
			r.ExpectedReturnDate = e.RequestedReturnDate
			r.Version++
			status = model.ExtensionApproved
		}
		ok, err := n.extensions.ResolveTx(ctx, tx, e.ID, status, actor.UserID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRequestClosed
		}
		if ext, err = n.extensions.GetByIDTx(ctx, tx, e.ID); err != nil {
			return err
		}
		return n.emit(ctx, tx, queue.TypeExtensionResolved, r, ext, now)
	})
	if err != nil {
		return nil, err
	}
	n.log.Info("extension resolved",
		zap.Uint64("extension_id", ext.ID),
		zap.Uint64("reservation_id", ext.ReservationID),
		zap.String("status", string(ext.Status)))
	return ext, nil
}

// Get returns one request.  Borrowers only see requests on their own
// reservations.
func (n *Negotiator) Get(ctx context.Context, actor access.Actor, requestID uint64) (*model.ExtensionRequest, error) {
	e, err := n.extensions.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	r, err := n.reservations.GetByID(ctx, e.ReservationID)
	if err != nil {
		return nil, err
	}
	if !actor.CanSee(r) {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

// History lists every request made for a reservation.
func (n *Negotiator) History(ctx context.Context, actor access.Actor, reservationID uint64) ([]model.ExtensionRequest, error) {
	r, err := n.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !actor.CanSee(r) {
		return nil, repository.ErrNotFound
	}
	return n.extensions.ListForReservation(ctx, reservationID)
}

func (n *Negotiator) emit(ctx context.Context, tx *sql.Tx, eventType string, r *model.Reservation, e *model.ExtensionRequest, now time.Time) error {
	ev, err := queue.NewEvent(eventType, r, now)
	if err != nil {
		return err
	}
	ev.ExtensionID = e.ID
	ev.ExtensionStatus = string(e.Status)
	requested := e.RequestedReturnDate
	ev.RequestedReturn = &requested
	return n.outbox.Add(ctx, tx, ev)
}
