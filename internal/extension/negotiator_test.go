package extension

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/clock"
	"github.com/iliyamo/hub-lending/internal/coordinator"
	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/queue"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/reservation"
	"github.com/iliyamo/hub-lending/internal/standing"
	"github.com/iliyamo/hub-lending/internal/testutil"
)

var (
	borrower = access.Actor{UserID: 100, Role: access.RoleBorrower}
	admin    = access.Actor{UserID: 1, Role: access.RoleAdmin}
)

type env struct {
	db  *database.DB
	clk *clock.Manual
	co  *coordinator.Coordinator
	n   *Negotiator
	hub uint64
}

func setup(t *testing.T) *env {
	t.Helper()
	db := testutil.OpenDB(t)
	clk := clock.NewManual(testutil.Epoch)
	st := standing.NewService(repository.NewStandingRepo(db), standing.DefaultPolicy)
	e := &env{
		db:  db,
		clk: clk,
		co:  coordinator.New(db, st, clk, zap.NewNop(), coordinator.Options{LockTimeout: 10 * time.Second}),
		n:   New(db, clk, zap.NewNop(), 10*time.Second),
	}
	e.hub = testutil.SeedHub(t, db, "Central")
	return e
}

// active creates a confirmed and picked-up reservation due in a week.
func (e *env) active(t *testing.T) *model.Reservation {
	t.Helper()
	ctx := context.Background()
	item := testutil.SeedItem(t, e.db, e.hub, "Tent", 1)
	r, err := e.co.Reserve(ctx, borrower, coordinator.ReserveRequest{
		BorrowerID:         borrower.UserID,
		ItemVariantID:      item,
		Quantity:           1,
		PickupDate:         e.clk.Now().Add(time.Hour),
		ExpectedReturnDate: e.clk.Now().Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = e.co.Confirm(ctx, admin, r.ID)
	require.NoError(t, err)
	r, err = e.co.RecordPickup(ctx, admin, r.ID)
	require.NoError(t, err)
	return r
}

func TestRequestAndApprove(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r := e.active(t)
	newDate := r.ExpectedReturnDate.Add(3 * 24 * time.Hour)

	req, err := e.n.Request(ctx, borrower, r.ID, newDate)
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionPending, req.Status)

	got, err := e.co.Get(ctx, borrower, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Extension)
	assert.Equal(t, req.ID, got.Extension.ID)

	_, err = e.n.Request(ctx, borrower, r.ID, newDate.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrNotActive, "one pending request at a time")

	done, err := e.n.Resolve(ctx, admin, req.ID, true, "fine")
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionApproved, done.Status)
	require.NotNil(t, done.ResolvedBy)
	assert.Equal(t, admin.UserID, *done.ResolvedBy)

	got, err = e.co.Get(ctx, borrower, r.ID)
	require.NoError(t, err)
	assert.True(t, got.ExpectedReturnDate.Equal(newDate))
	assert.Nil(t, got.Extension)
	assert.Equal(t, model.StateActive, got.State)

	_, err = e.n.Resolve(ctx, admin, req.ID, false, "")
	assert.ErrorIs(t, err, ErrRequestClosed)

	assert.Equal(t, 1, testutil.CountEvents(t, e.db, r.ID, queue.TypeExtensionRequested))
	assert.Equal(t, 1, testutil.CountEvents(t, e.db, r.ID, queue.TypeExtensionResolved))
}

func TestDenyKeepsDate(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r := e.active(t)

	req, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(24*time.Hour))
	require.NoError(t, err)
	done, err := e.n.Resolve(ctx, admin, req.ID, false, "needed back")
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionDenied, done.Status)
	assert.Equal(t, "needed back", done.Reason)

	got, err := e.co.Get(ctx, admin, r.ID)
	require.NoError(t, err)
	assert.True(t, got.ExpectedReturnDate.Equal(r.ExpectedReturnDate))

	again, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(48*time.Hour))
	require.NoError(t, err, "a new request may follow a resolved one")
	history, err := e.n.History(ctx, borrower, r.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, again.ID, history[1].ID)
}

func TestRequestValidation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r := e.active(t)

	_, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate)
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidDate)

	stranger := access.Actor{UserID: 7, Role: access.RoleBorrower}
	_, err = e.n.Request(ctx, stranger, r.ID, r.ExpectedReturnDate.Add(time.Hour))
	assert.ErrorIs(t, err, repository.ErrForbidden)

	_, err = e.n.Request(ctx, borrower, 9999, r.ExpectedReturnDate.Add(time.Hour))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = e.co.Return(ctx, admin, r.ID)
	require.NoError(t, err)
	_, err = e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestResolveScopedToHub(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r := e.active(t)
	req, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(24*time.Hour))
	require.NoError(t, err)

	other := testutil.SeedHub(t, e.db, "Harbour")
	stranger := access.Actor{UserID: 3, Role: access.RoleSteward, HubID: &other}
	_, err = e.n.Resolve(ctx, stranger, req.ID, true, "")
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = e.n.Resolve(ctx, borrower, req.ID, true, "")
	assert.ErrorIs(t, err, repository.ErrForbidden)

	_, err = e.n.Get(ctx, stranger, req.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	local := access.Actor{UserID: 4, Role: access.RoleSteward, HubID: &e.hub}
	done, err := e.n.Resolve(ctx, local, req.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionApproved, done.Status)
}

func TestPendingDeniedWhenOverdue(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r := e.active(t)
	req, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(24*time.Hour))
	require.NoError(t, err)

	e.clk.Advance(8 * 24 * time.Hour)
	_, err = e.co.MarkOverdue(ctx, r.ID)
	require.NoError(t, err)

	got, err := e.n.Get(ctx, borrower, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionDenied, got.Status)
	assert.Nil(t, got.ResolvedBy)

	_, err = e.n.Resolve(ctx, admin, req.ID, true, "")
	assert.ErrorIs(t, err, ErrRequestClosed)
	assert.Equal(t, 1, testutil.CountEvents(t, e.db, r.ID, queue.TypeExtensionResolved))
}

func TestPendingDeniedWhenCancelled(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	item := testutil.SeedItem(t, e.db, e.hub, "Drill", 1)
	r, err := e.co.Reserve(ctx, borrower, coordinator.ReserveRequest{
		BorrowerID: borrower.UserID, ItemVariantID: item, Quantity: 1,
		PickupDate: e.clk.Now().Add(24 * time.Hour), ExpectedReturnDate: e.clk.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	_, err = e.co.Confirm(ctx, admin, r.ID)
	require.NoError(t, err)

	req, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = e.co.Cancel(ctx, borrower, r.ID)
	require.NoError(t, err)

	got, err := e.n.Get(ctx, borrower, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionDenied, got.Status)
}

func TestConcurrentResolveOnce(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r := e.active(t)
	req, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(24*time.Hour))
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			_, err := e.n.Resolve(ctx, admin, req.ID, approve, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
				return
			}
			assert.ErrorIs(t, err, ErrRequestClosed)
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestRequestTakesWholeDay(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r := e.active(t)

	_, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(20*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidDate, "same day is no extension")

	req, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(30*time.Hour))
	require.NoError(t, err)
	assert.True(t, req.RequestedReturnDate.Equal(r.ExpectedReturnDate.Add(24*time.Hour)))
}

func TestRequestBeatsStaleTransition(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r := e.active(t)
	e.clk.Set(r.ExpectedReturnDate.Add(30 * time.Hour))

	// A sweep that loaded the reservation before the request committed.
	stale := r.Version
	req, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(5*24*time.Hour))
	require.NoError(t, err)

	tx, err := e.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	ok, err := repository.NewReservationRepo(e.db).TransitionTx(ctx, tx, repository.Transition{
		ID: r.ID, FromState: model.StateActive, FromVersion: stale,
		ToState: model.StateOverdue, At: e.clk.Now(),
	})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Rollback())

	// The next attempt sees the request and closes it with the transition.
	_, err = e.co.MarkOverdue(ctx, r.ID)
	require.NoError(t, err)
	got, err := e.n.Get(ctx, borrower, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtensionDenied, got.Status)
}

func TestRequestRacingOverdueLeavesNoPending(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.clk.Set(testutil.Epoch)
		r := e.active(t)
		e.clk.Set(r.ExpectedReturnDate.Add(30 * time.Hour))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.n.Request(ctx, borrower, r.ID, r.ExpectedReturnDate.Add(5*24*time.Hour))
			if err != nil {
				assert.True(t, errors.Is(err, ErrNotActive) || errors.Is(err, reservation.ErrStaleState), err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := e.co.MarkOverdue(ctx, r.ID)
			if err != nil {
				assert.ErrorIs(t, err, reservation.ErrStaleState)
			}
		}()
		wg.Wait()

		// A lost overdue race is retried by the next sweep.
		if got, err := e.co.Get(ctx, admin, r.ID); err == nil && got.State == model.StateActive {
			_, err = e.co.MarkOverdue(ctx, r.ID)
			require.NoError(t, err)
		}
		got, err := e.co.Get(ctx, admin, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateOverdue, got.State)
		assert.Nil(t, got.Extension, "no pending request on an overdue reservation")
	}
}
