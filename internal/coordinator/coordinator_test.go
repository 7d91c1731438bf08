package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/clock"
	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/ledger"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/queue"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/reservation"
	"github.com/iliyamo/hub-lending/internal/standing"
	"github.com/iliyamo/hub-lending/internal/testutil"
)

const borrowerID = 100

type fixture struct {
	db    *database.DB
	clk   *clock.Manual
	c     *Coordinator
	hub   uint64
	item  uint64
	admin access.Actor
	owner access.Actor
}

func newFixture(t *testing.T, qty int, opts Options) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	clk := clock.NewManual(testutil.Epoch)
	st := standing.NewService(repository.NewStandingRepo(db), standing.DefaultPolicy)
	if opts.LockTimeout == 0 {
		opts.LockTimeout = 10 * time.Second
	}
	f := &fixture{
		db:    db,
		clk:   clk,
		c:     New(db, st, clk, zap.NewNop(), opts),
		admin: access.Actor{UserID: 1, Role: access.RoleAdmin},
		owner: access.Actor{UserID: borrowerID, Role: access.RoleBorrower},
	}
	f.hub = testutil.SeedHub(t, db, "Central")
	f.item = testutil.SeedItem(t, db, f.hub, "Sleeping bag", qty)
	return f
}

func (f *fixture) request(qty int) ReserveRequest {
	return ReserveRequest{
		BorrowerID:         borrowerID,
		ItemVariantID:      f.item,
		Quantity:           qty,
		PickupDate:         f.clk.Now().Add(24 * time.Hour),
		ExpectedReturnDate: f.clk.Now().Add(7 * 24 * time.Hour),
	}
}

func (f *fixture) available(t *testing.T) int {
	t.Helper()
	total, avail := testutil.Quantities(t, f.db, f.item)
	assert.Equal(t, total-avail, testutil.OpenCommitted(t, f.db, f.item), "committed quantity must match open tokens")
	return avail
}

func TestReserveCancelScenario(t *testing.T) {
	f := newFixture(t, 3, Options{})
	ctx := context.Background()

	first, err := f.c.Reserve(ctx, f.owner, f.request(2))
	require.NoError(t, err)
	assert.Equal(t, model.StateRequested, first.State)
	assert.Equal(t, f.hub, first.HubID)
	assert.Equal(t, 1, f.available(t))

	_, err = f.c.Reserve(ctx, f.owner, f.request(2))
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
	assert.Equal(t, 1, f.available(t))

	cancelled, err := f.c.Cancel(ctx, f.owner, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, cancelled.State)
	assert.Equal(t, 3, f.available(t))

	_, err = f.c.Cancel(ctx, f.owner, first.ID)
	assert.ErrorIs(t, err, reservation.ErrAlreadyTerminal)
	assert.Equal(t, 3, f.available(t))

	assert.Equal(t, 1, testutil.CountEvents(t, f.db, first.ID, queue.TypeReservationCreated))
	assert.Equal(t, 1, testutil.CountEvents(t, f.db, first.ID, queue.TypeReservationCancelled))
}

func TestFullLifecycleConservesQuantity(t *testing.T) {
	f := newFixture(t, 4, Options{})
	ctx := context.Background()
	steward := access.Actor{UserID: 2, Role: access.RoleSteward, HubID: &f.hub}

	r, err := f.c.Reserve(ctx, f.owner, f.request(3))
	require.NoError(t, err)
	_, err = f.c.Confirm(ctx, steward, r.ID)
	require.NoError(t, err)

	_, err = f.c.Return(ctx, steward, r.ID)
	assert.ErrorIs(t, err, reservation.ErrInvalidTransition, "items must be picked up before they come back")

	f.clk.Advance(24 * time.Hour)
	picked, err := f.c.RecordPickup(ctx, steward, r.ID)
	require.NoError(t, err)
	require.NotNil(t, picked.PickedUpAt)
	assert.Equal(t, model.StateActive, picked.State)

	_, err = f.c.Cancel(ctx, f.owner, r.ID)
	assert.ErrorIs(t, err, reservation.ErrInvalidTransition, "picked up items cannot be cancelled")

	f.clk.Advance(2 * 24 * time.Hour)
	returned, err := f.c.Return(ctx, steward, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReturned, returned.State)
	assert.False(t, returned.CountedLate)
	require.NotNil(t, returned.ActualReturnDate)
	assert.Equal(t, 4, f.available(t))

	stored, err := f.c.Get(ctx, f.admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stored.Version)
	assert.Equal(t, model.StateReturned, stored.State)

	for _, typ := range []string{queue.TypeReservationCreated, queue.TypeReservationConfirmed,
		queue.TypeReservationPickedUp, queue.TypeReservationReturned} {
		assert.Equal(t, 1, testutil.CountEvents(t, f.db, r.ID, typ), typ)
	}
}

func TestOverdueThenLateReturn(t *testing.T) {
	f := newFixture(t, 2, Options{AutoConfirm: true})
	ctx := context.Background()

	r, err := f.c.Reserve(ctx, f.owner, f.request(1))
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, r.State)
	_, err = f.c.RecordPickup(ctx, f.admin, r.ID)
	require.NoError(t, err)

	_, err = f.c.MarkOverdue(ctx, r.ID)
	assert.ErrorIs(t, err, reservation.ErrStaleState, "not yet past due")

	f.clk.Advance(8 * 24 * time.Hour)
	over, err := f.c.MarkOverdue(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateOverdue, over.State)
	assert.Equal(t, 1, f.available(t), "overdue items are still out")

	_, err = f.c.MarkOverdue(ctx, r.ID)
	assert.ErrorIs(t, err, reservation.ErrStaleState)
	assert.Equal(t, 1, testutil.CountEvents(t, f.db, r.ID, queue.TypeReservationOverdue))

	back, err := f.c.Return(ctx, f.admin, r.ID)
	require.NoError(t, err)
	assert.True(t, back.CountedLate)
	assert.Equal(t, 2, f.available(t))

	st, err := repository.NewStandingRepo(f.db).Get(ctx, borrowerID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.LateCount)
}

func TestDatesAreWholeDays(t *testing.T) {
	f := newFixture(t, 1, Options{})
	ctx := context.Background()

	req := f.request(1)
	req.PickupDate = f.clk.Now().Add(-time.Hour)
	req.ExpectedReturnDate = f.clk.Now().Add(3*24*time.Hour + 5*time.Hour)
	r, err := f.c.Reserve(ctx, f.owner, req)
	require.NoError(t, err, "earlier today is still today")
	assert.True(t, r.PickupDate.Equal(model.DateOf(testutil.Epoch)))
	assert.True(t, r.ExpectedReturnDate.Equal(model.DateOf(testutil.Epoch).Add(3*24*time.Hour)))

	// Later on the pickup day the reservation has not expired.
	f.clk.Set(r.PickupDate.Add(23 * time.Hour))
	_, err = f.c.Expire(ctx, r.ID)
	assert.ErrorIs(t, err, reservation.ErrStaleState)

	f.clk.Advance(time.Hour)
	_, err = f.c.Expire(ctx, r.ID)
	require.NoError(t, err)
}

func TestReturnOnDueDayIsOnTime(t *testing.T) {
	f := newFixture(t, 2, Options{AutoConfirm: true})
	ctx := context.Background()

	onTime, err := f.c.Reserve(ctx, f.owner, f.request(1))
	require.NoError(t, err)
	late, err := f.c.Reserve(ctx, f.owner, f.request(1))
	require.NoError(t, err)
	for _, id := range []uint64{onTime.ID, late.ID} {
		_, err = f.c.RecordPickup(ctx, f.admin, id)
		require.NoError(t, err)
	}

	f.clk.Set(onTime.ExpectedReturnDate.Add(23*time.Hour + 59*time.Minute))
	_, err = f.c.MarkOverdue(ctx, onTime.ID)
	assert.ErrorIs(t, err, reservation.ErrStaleState, "the due day is not overdue")
	back, err := f.c.Return(ctx, f.admin, onTime.ID)
	require.NoError(t, err)
	assert.False(t, back.CountedLate)

	f.clk.Advance(time.Minute)
	over, err := f.c.MarkOverdue(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateOverdue, over.State)
	back, err = f.c.Return(ctx, f.admin, late.ID)
	require.NoError(t, err)
	assert.True(t, back.CountedLate)

	st, err := repository.NewStandingRepo(f.db).Get(ctx, borrowerID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.LateCount)
}

func TestActiveReturnPastDueCountsLate(t *testing.T) {
	f := newFixture(t, 1, Options{AutoConfirm: true})
	ctx := context.Background()

	r, err := f.c.Reserve(ctx, f.owner, f.request(1))
	require.NoError(t, err)
	_, err = f.c.RecordPickup(ctx, f.admin, r.ID)
	require.NoError(t, err)
	f.clk.Advance(10 * 24 * time.Hour)

	back, err := f.c.Return(ctx, f.admin, r.ID)
	require.NoError(t, err)
	assert.True(t, back.CountedLate)
}

func TestExpireRequested(t *testing.T) {
	f := newFixture(t, 2, Options{})
	ctx := context.Background()

	r, err := f.c.Reserve(ctx, f.owner, f.request(2))
	require.NoError(t, err)

	_, err = f.c.Expire(ctx, r.ID)
	assert.ErrorIs(t, err, reservation.ErrStaleState)

	f.clk.Advance(48 * time.Hour)
	exp, err := f.c.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, exp.State)
	assert.Equal(t, 2, f.available(t))

	_, err = f.c.Expire(ctx, r.ID)
	assert.ErrorIs(t, err, reservation.ErrStaleState)
	assert.Equal(t, 1, testutil.CountEvents(t, f.db, r.ID, queue.TypeReservationExpired))
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t, 2, Options{})
	ctx := context.Background()

	req := f.request(1)
	req.PickupDate = f.clk.Now().Add(-48 * time.Hour)
	_, err := f.c.Reserve(ctx, f.owner, req)
	assert.ErrorIs(t, err, ErrInvalidDates)

	req = f.request(1)
	req.ExpectedReturnDate = req.PickupDate
	_, err = f.c.Reserve(ctx, f.owner, req)
	assert.ErrorIs(t, err, ErrInvalidDates)

	_, err = f.c.Reserve(ctx, f.owner, f.request(0))
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)

	other := access.Actor{UserID: 555, Role: access.RoleBorrower}
	_, err = f.c.Reserve(ctx, other, f.request(1))
	assert.ErrorIs(t, err, repository.ErrForbidden)

	req = f.request(1)
	req.ItemVariantID = 999
	_, err = f.c.Reserve(ctx, f.owner, req)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.Equal(t, 2, f.available(t))
}

func TestRestrictedBorrowerCannotReserve(t *testing.T) {
	f := newFixture(t, 5, Options{AutoConfirm: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := f.c.Reserve(ctx, f.owner, f.request(1))
		require.NoError(t, err)
		_, err = f.c.RecordPickup(ctx, f.admin, r.ID)
		require.NoError(t, err)
		f.clk.Advance(8 * 24 * time.Hour)
		_, err = f.c.MarkOverdue(ctx, r.ID)
		require.NoError(t, err)
		_, err = f.c.Return(ctx, f.admin, r.ID)
		require.NoError(t, err)
		warned := testutil.CountEvents(t, f.db, r.ID, queue.TypeBorrowerWarned)
		restricted := testutil.CountEvents(t, f.db, r.ID, queue.TypeBorrowerRestricted)
		switch i {
		case 1:
			assert.Equal(t, 1, warned, "second late return warns")
			assert.Zero(t, restricted)
		case 2:
			assert.Zero(t, warned)
			assert.Equal(t, 1, restricted)
		default:
			assert.Zero(t, warned+restricted)
		}
	}

	_, err := f.c.Reserve(ctx, f.owner, f.request(1))
	assert.ErrorIs(t, err, standing.ErrBorrowerRestricted)
	assert.Equal(t, 5, f.available(t))

	f.clk.Advance(31 * 24 * time.Hour)
	_, err = f.c.Reserve(ctx, f.owner, f.request(1))
	assert.NoError(t, err, "restriction ends after its period")
}

func TestRestrictionCountsEveryLateReturn(t *testing.T) {
	f := newFixture(t, 1, Options{AutoConfirm: true})
	ctx := context.Background()

	borrow := func(late bool) *model.Reservation {
		r, err := f.c.Reserve(ctx, f.owner, f.request(1))
		require.NoError(t, err)
		_, err = f.c.RecordPickup(ctx, f.admin, r.ID)
		require.NoError(t, err)
		if late {
			f.clk.Advance(8 * 24 * time.Hour)
		} else {
			f.clk.Advance(2 * 24 * time.Hour)
		}
		back, err := f.c.Return(ctx, f.admin, r.ID)
		require.NoError(t, err)
		assert.Equal(t, late, back.CountedLate)
		return back
	}

	borrow(true)
	borrow(false)
	borrow(true)
	third := borrow(true)
	assert.Equal(t, 1, testutil.CountEvents(t, f.db, third.ID, queue.TypeBorrowerRestricted),
		"on-time returns in between do not reset the count")

	_, err := f.c.Reserve(ctx, f.owner, f.request(1))
	assert.ErrorIs(t, err, standing.ErrBorrowerRestricted)
}

func TestStewardScopedToHub(t *testing.T) {
	f := newFixture(t, 2, Options{})
	ctx := context.Background()
	otherHub := testutil.SeedHub(t, f.db, "Harbour")
	stranger := access.Actor{UserID: 3, Role: access.RoleSteward, HubID: &otherHub}

	r, err := f.c.Reserve(ctx, f.owner, f.request(1))
	require.NoError(t, err)

	_, err = f.c.Confirm(ctx, stranger, r.ID)
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = f.c.Cancel(ctx, stranger, r.ID)
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = f.c.AdjustTotal(ctx, stranger, f.item, 1)
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = f.c.ListForHub(ctx, stranger, f.hub, nil)
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = f.c.Confirm(ctx, f.owner, r.ID)
	assert.ErrorIs(t, err, repository.ErrForbidden, "borrowers cannot confirm")

	_, err = f.c.Get(ctx, access.Actor{UserID: 9, Role: access.RoleBorrower}, r.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	intruder := access.Actor{UserID: 9, Role: access.RoleBorrower}
	_, err = f.c.Cancel(ctx, intruder, r.ID)
	assert.ErrorIs(t, err, repository.ErrForbidden)

	got, err := f.c.Get(ctx, f.owner, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRequested, got.State)
	assert.Equal(t, 1, f.available(t))
}

func TestConcurrentReserveExactlyK(t *testing.T) {
	const stock, callers = 3, 12
	f := newFixture(t, stock, Options{})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, out int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.c.Reserve(ctx, f.owner, f.request(1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrInsufficientStock):
				out++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, stock, ok)
	assert.Equal(t, callers-stock, out)
	assert.Zero(t, f.available(t))
}

func TestConcurrentCancelReleasesOnce(t *testing.T) {
	f := newFixture(t, 1, Options{})
	ctx := context.Background()
	r, err := f.c.Reserve(ctx, f.owner, f.request(1))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.c.Cancel(ctx, f.admin, r.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if !errors.Is(err, reservation.ErrAlreadyTerminal) && !errors.Is(err, reservation.ErrStaleState) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, f.available(t))
}

func TestReleaseFailureRollsBackTransition(t *testing.T) {
	f := newFixture(t, 1, Options{})
	ctx := context.Background()
	r, err := f.c.Reserve(ctx, f.owner, f.request(1))
	require.NoError(t, err)

	// Simulate a token already released outside the reservation path.
	_, err = f.db.ExecContext(ctx, `UPDATE commit_tokens SET released_at = ? WHERE id = ?`, testutil.Epoch, r.CommitTokenID)
	require.NoError(t, err)

	_, err = f.c.Cancel(ctx, f.owner, r.ID)
	assert.ErrorIs(t, err, ledger.ErrDoubleRelease)
	assert.True(t, ledger.IsInvariantViolation(err))

	got, err := f.c.Get(ctx, f.owner, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRequested, got.State, "the transition rolls back with the failed release")
	assert.Zero(t, testutil.CountEvents(t, f.db, r.ID, queue.TypeReservationCancelled))
}

func TestEmitReminderOnce(t *testing.T) {
	f := newFixture(t, 1, Options{AutoConfirm: true})
	ctx := context.Background()
	r, err := f.c.Reserve(ctx, f.owner, f.request(1))
	require.NoError(t, err)

	sent, err := f.c.EmitReminder(ctx, r.ID, model.ReminderPickup, 1)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = f.c.EmitReminder(ctx, r.ID, model.ReminderPickup, 1)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1, testutil.CountEvents(t, f.db, r.ID, queue.TypePickupReminderDue))

	_, err = f.c.RecordPickup(ctx, f.admin, r.ID)
	require.NoError(t, err)
	sent, err = f.c.EmitReminder(ctx, r.ID, model.ReminderReturn, 1)
	require.NoError(t, err)
	assert.False(t, sent, "return date not reached")

	f.clk.Set(r.ExpectedReturnDate.Add(8 * time.Hour))
	sent, err = f.c.EmitReminder(ctx, r.ID, model.ReminderReturn, 1)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = f.c.EmitReminder(ctx, r.ID, model.ReminderReturn, 1)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1, testutil.CountEvents(t, f.db, r.ID, queue.TypeReturnReminderDue))

	_, err = f.c.EmitReminder(ctx, r.ID, "carrier", 1)
	assert.Error(t, err)
}

func TestInventoryIntake(t *testing.T) {
	f := newFixture(t, 0, Options{})
	ctx := context.Background()
	steward := access.Actor{UserID: 2, Role: access.RoleSteward, HubID: &f.hub}

	item, err := f.c.CreateItem(ctx, steward, NewItem{HubID: f.hub, Name: "Kettle", Category: "kitchen", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, item.QuantityTotal)
	assert.Equal(t, 2, item.QuantityAvailable)
	assert.Equal(t, model.ConditionGood, item.Condition)

	item, err = f.c.Donate(ctx, steward, NewItem{HubID: f.hub, Name: "Kettle", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, item.QuantityTotal)

	item, err = f.c.AdjustTotal(ctx, steward, item.ID, -4)
	require.NoError(t, err)
	assert.Equal(t, 1, item.QuantityTotal)
	assert.Equal(t, 1, item.QuantityAvailable)

	_, err = f.c.Donate(ctx, f.owner, NewItem{HubID: f.hub, Name: "Kettle", Quantity: 1})
	assert.ErrorIs(t, err, repository.ErrForbidden)

	require.NoError(t, f.c.SetItemActive(ctx, steward, item.ID, false))
	_, err = f.c.Reserve(ctx, f.owner, ReserveRequest{
		BorrowerID: borrowerID, ItemVariantID: item.ID, Quantity: 1,
		PickupDate: f.clk.Now().Add(time.Hour), ExpectedReturnDate: f.clk.Now().Add(48 * time.Hour),
	})
	assert.ErrorIs(t, err, ledger.ErrItemInactive)
}

func TestLockTimeoutIsDistinct(t *testing.T) {
	f := newFixture(t, 1, Options{LockTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	blocker, err := f.db.BeginTx(ctx, &sql.TxOptions{})
	require.NoError(t, err)
	defer blocker.Rollback()

	_, err = f.c.Reserve(ctx, f.owner, f.request(1))
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
	assert.NotErrorIs(t, err, ledger.ErrInsufficientStock)
}
