package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
)

// ReservationRepo provides persistence for reservations.  Rows are never
// deleted.  State changes go through TransitionTx, a compare-and-set on
// (state, version); a caller that loses the race sees false and must not
// apply any side effect.
type ReservationRepo struct {
	db *database.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *database.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationCols = `id, borrower_id, item_variant_id, hub_id, quantity, commit_token_id, state,
	pickup_date, expected_return_date, actual_return_date, picked_up_at, counted_late, version,
	created_at, updated_at`

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		r                  model.Reservation
		state              string
		returned, pickedUp sql.NullTime
	)
	err := s.Scan(&r.ID, &r.BorrowerID, &r.ItemVariantID, &r.HubID, &r.Quantity, &r.CommitTokenID, &state,
		&r.PickupDate, &r.ExpectedReturnDate, &returned, &pickedUp, &r.CountedLate, &r.Version,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.State, err = model.ParseReservationState(state); err != nil {
		return nil, err
	}
	r.PickupDate = r.PickupDate.UTC()
	r.ExpectedReturnDate = r.ExpectedReturnDate.UTC()
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	r.ActualReturnDate = timePtr(returned)
	r.PickedUpAt = timePtr(pickedUp)
	return &r, nil
}

func collectReservations(rows *sql.Rows, err error) ([]model.Reservation, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates its ID.  The caller must commit or roll back.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation, now time.Time) error {
	now = dbTime(now)
	res.PickupDate = dbTime(res.PickupDate)
	res.ExpectedReturnDate = dbTime(res.ExpectedReturnDate)
	const q = `INSERT INTO reservations (borrower_id, item_variant_id, hub_id, quantity, commit_token_id, state,
	               pickup_date, expected_return_date, counted_late, version, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`
	result, err := tx.ExecContext(ctx, q, res.BorrowerID, res.ItemVariantID, res.HubID, res.Quantity,
		res.CommitTokenID, string(res.State), res.PickupDate, res.ExpectedReturnDate, now, now)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.Version = 0
	res.CreatedAt, res.UpdatedAt = now, now
	return nil
}

// GetByID loads one reservation or returns ErrNotFound.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id = ?`, id))
	return res, notFound(err)
}

// GetByIDTx is GetByID inside a transaction.
func (r *ReservationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
	res, err := scanReservation(tx.QueryRowContext(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id = ?`, id))
	return res, notFound(err)
}

// Transition describes one compare-and-set state change.  Optional fields
// left nil keep their stored value.
type Transition struct {
	ID               uint64
	FromState        model.ReservationState
	FromVersion      uint32
	ToState          model.ReservationState
	PickedUpAt       *time.Time
	ActualReturnDate *time.Time
	CountedLate      bool
	At               time.Time
}

// TransitionTx applies t only if the row still has the expected state and
// version.  It reports whether the row was changed.
func (r *ReservationRepo) TransitionTx(ctx context.Context, tx *sql.Tx, t Transition) (bool, error) {
	const q = `UPDATE reservations
	           SET state = ?, version = version + 1, updated_at = ?,
	               picked_up_at = COALESCE(?, picked_up_at),
	               actual_return_date = COALESCE(?, actual_return_date),
	               counted_late = ?
	           WHERE id = ? AND state = ? AND version = ?`
	n, err := affected(tx.ExecContext(ctx, q, string(t.ToState), dbTime(t.At),
		nullTime(t.PickedUpAt), nullTime(t.ActualReturnDate), t.CountedLate,
		t.ID, string(t.FromState), t.FromVersion))
	return n == 1, err
}

// ExtendTx moves the expected return date of an active reservation, again
// conditioned on (state, version).
func (r *ReservationRepo) ExtendTx(ctx context.Context, tx *sql.Tx, id uint64, version uint32, newDate, at time.Time) (bool, error) {
	const q = `UPDATE reservations
	           SET expected_return_date = ?, version = version + 1, updated_at = ?
	           WHERE id = ? AND state = ? AND version = ?`
	n, err := affected(tx.ExecContext(ctx, q, dbTime(newDate), dbTime(at), id, string(model.StateActive), version))
	return n == 1, err
}

// TouchTx bumps the version of a reservation still in state at version,
// changing nothing else.  A write that depends on the reservation staying
// in its state takes it first, so a concurrent transition prepared against
// the old version loses its compare-and-set.
func (r *ReservationRepo) TouchTx(ctx context.Context, tx *sql.Tx, id uint64, state model.ReservationState, version uint32, at time.Time) (bool, error) {
	const q = `UPDATE reservations SET version = version + 1, updated_at = ?
	           WHERE id = ? AND state = ? AND version = ?`
	n, err := affected(tx.ExecContext(ctx, q, dbTime(at), id, string(state), version))
	return n == 1, err
}

// ListForBorrower returns a borrower's reservations, newest first.
func (r *ReservationRepo) ListForBorrower(ctx context.Context, borrowerID uint64, limit int) ([]model.Reservation, error) {
	return collectReservations(r.db.QueryContext(ctx,
		`SELECT `+reservationCols+` FROM reservations WHERE borrower_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		borrowerID, limit))
}

// ListForHub returns a hub's reservations, optionally restricted to one
// state, ordered by pickup date.
func (r *ReservationRepo) ListForHub(ctx context.Context, hubID uint64, state *model.ReservationState, limit int) ([]model.Reservation, error) {
	if state != nil {
		return collectReservations(r.db.QueryContext(ctx,
			`SELECT `+reservationCols+` FROM reservations WHERE hub_id = ? AND state = ? ORDER BY pickup_date, id LIMIT ?`,
			hubID, string(*state), limit))
	}
	return collectReservations(r.db.QueryContext(ctx,
		`SELECT `+reservationCols+` FROM reservations WHERE hub_id = ? ORDER BY pickup_date, id LIMIT ?`,
		hubID, limit))
}

// ListPastPickup returns requested reservations whose pickup day ended
// before now.
func (r *ReservationRepo) ListPastPickup(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	return collectReservations(r.db.QueryContext(ctx,
		`SELECT `+reservationCols+` FROM reservations WHERE state = ? AND pickup_date < ? ORDER BY pickup_date, id LIMIT ?`,
		string(model.StateRequested), dbTime(model.DateOf(now)), limit))
}

// ListPastDue returns active reservations whose due day ended before now.
func (r *ReservationRepo) ListPastDue(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	return collectReservations(r.db.QueryContext(ctx,
		`SELECT `+reservationCols+` FROM reservations WHERE state = ? AND expected_return_date < ? ORDER BY expected_return_date, id LIMIT ?`,
		string(model.StateActive), dbTime(model.DateOf(now)), limit))
}

// ListPickupReminderDue returns reservations awaiting pickup whose pickup
// day is today or later and no further than lead away, and that have no
// pickup reminder for that day yet.
func (r *ReservationRepo) ListPickupReminderDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations r
	           WHERE r.state IN (?, ?) AND r.picked_up_at IS NULL
	             AND r.pickup_date >= ? AND r.pickup_date <= ?
	             AND NOT EXISTS (SELECT 1 FROM reminder_log l
	                             WHERE l.reservation_id = r.id AND l.kind = ? AND l.level = 1
	                               AND l.due_date = r.pickup_date)
	           ORDER BY r.pickup_date, r.id LIMIT ?`
	return collectReservations(r.db.QueryContext(ctx, q,
		string(model.StateRequested), string(model.StateActive),
		dbTime(model.DateOf(now)), dbTime(now.Add(lead)), model.ReminderPickup, limit))
}

// ListReturnReminderDue returns outstanding reservations whose expected
// return date is at least offset in the past and that have not received
// the return reminder of the given level for their current due date.  An
// approved extension moves the due date, which re-arms every level.
func (r *ReservationRepo) ListReturnReminderDue(ctx context.Context, now time.Time, offset time.Duration, level, limit int) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations r
	           WHERE r.state IN (?, ?) AND r.expected_return_date <= ?
	             AND NOT EXISTS (SELECT 1 FROM reminder_log l
	                             WHERE l.reservation_id = r.id AND l.kind = ? AND l.level = ?
	                               AND l.due_date = r.expected_return_date)
	           ORDER BY r.expected_return_date, r.id LIMIT ?`
	return collectReservations(r.db.QueryContext(ctx, q,
		string(model.StateActive), string(model.StateOverdue),
		dbTime(now.Add(-offset)), model.ReminderReturn, level, limit))
}
