package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
)

// OutboxRepo stores domain events until the relay has handed them to the
// broker.
type OutboxRepo struct {
	db *database.DB
}

// NewOutboxRepo constructs an OutboxRepo.
func NewOutboxRepo(db *database.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// InsertTx appends an event in the caller's transaction.
func (r *OutboxRepo) InsertTx(ctx context.Context, tx *sql.Tx, ev *model.OutboxEvent) error {
	ev.CreatedAt = dbTime(ev.CreatedAt)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (event_id, event_type, reservation_id, payload, attempts, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		ev.EventID, ev.EventType, ev.ReservationID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)
	return nil
}

// ListPending returns unpublished events in insertion order.
func (r *OutboxRepo) ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, event_type, reservation_id, payload, attempts, created_at
		 FROM outbox_events WHERE published_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.OutboxEvent{}
	for rows.Next() {
		var ev model.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.EventType, &ev.ReservationID, &ev.Payload, &ev.Attempts, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListForReservation returns every event recorded for a reservation in
// insertion order, published or not.
func (r *OutboxRepo) ListForReservation(ctx context.Context, reservationID uint64) ([]model.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, event_type, reservation_id, payload, attempts, created_at, published_at
		 FROM outbox_events WHERE reservation_id = ? ORDER BY id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.OutboxEvent{}
	for rows.Next() {
		var (
			ev        model.OutboxEvent
			published sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.EventType, &ev.ReservationID, &ev.Payload, &ev.Attempts, &ev.CreatedAt, &published); err != nil {
			return nil, err
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		ev.PublishedAt = timePtr(published)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkPublished records a successful hand-off.
func (r *OutboxRepo) MarkPublished(ctx context.Context, id uint64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET published_at = ?, attempts = attempts + 1 WHERE id = ? AND published_at IS NULL`,
		dbTime(at), id)
	return err
}

// RecordFailure counts a failed publish attempt and keeps the event pending.
func (r *OutboxRepo) RecordFailure(ctx context.Context, id uint64, cause error) error {
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`, msg, id)
	return err
}
