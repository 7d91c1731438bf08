package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/hub-lending/internal/database"
)

// ReminderRepo records which reminders were emitted.  The primary key
// (reservation_id, kind, level, due_date) makes each reminder exactly-once
// per date it refers to: the pickup date for pickup reminders and the
// expected return date for return reminders.
type ReminderRepo struct {
	dialect database.Dialect
}

// NewReminderRepo constructs a ReminderRepo for the given dialect.
func NewReminderRepo(d database.Dialect) *ReminderRepo { return &ReminderRepo{dialect: d} }

// ClaimTx inserts the reminder row and reports whether this call created
// it.  A false result means the reminder was already emitted for due.
func (r *ReminderRepo) ClaimTx(ctx context.Context, tx *sql.Tx, reservationID uint64, kind string, level int, due, at time.Time) (bool, error) {
	n, err := affected(tx.ExecContext(ctx,
		r.dialect.InsertIgnore()+` INTO reminder_log (reservation_id, kind, level, due_date, sent_at) VALUES (?, ?, ?, ?, ?)`,
		reservationID, kind, level, dbTime(due), dbTime(at)))
	return n == 1, err
}
