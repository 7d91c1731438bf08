package coordinator

import (
	"context"
	"errors"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/repository"
)

const maxList = 200

// Get returns a reservation with its pending extension request attached.
// Borrowers only see their own reservations; a reservation outside the
// caller's reach is reported as not found.
func (c *Coordinator) Get(ctx context.Context, actor access.Actor, id uint64) (*model.Reservation, error) {
	r, err := c.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSee(r) {
		return nil, repository.ErrNotFound
	}
	ext, err := c.extensions.GetPending(ctx, id)
	switch {
	case err == nil:
		r.Extension = ext
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	return r, nil
}

// ListForBorrower returns the caller's reservations, newest first.
func (c *Coordinator) ListForBorrower(ctx context.Context, borrowerID uint64) ([]model.Reservation, error) {
	return c.reservations.ListForBorrower(ctx, borrowerID, maxList)
}

// ListForHub returns the reservations of a hub, optionally in one state.
func (c *Coordinator) ListForHub(ctx context.Context, actor access.Actor, hubID uint64, state *model.ReservationState) ([]model.Reservation, error) {
	if err := actor.RequireHub(hubID); err != nil {
		return nil, err
	}
	return c.reservations.ListForHub(ctx, hubID, state, maxList)
}
