package queue

import (
	"context"
	"database/sql"

	"github.com/iliyamo/hub-lending/internal/repository"
)

// Outbox appends events inside the transaction of the change that caused
// them, so an event is published if and only if the change committed.
type Outbox struct {
	repo *repository.OutboxRepo
}

// NewOutbox constructs an Outbox.
func NewOutbox(repo *repository.OutboxRepo) *Outbox { return &Outbox{repo: repo} }

// Add writes ev to the outbox within tx.
func (o *Outbox) Add(ctx context.Context, tx *sql.Tx, ev Event) error {
	row, err := ev.Outbox()
	if err != nil {
		return err
	}
	return o.repo.InsertTx(ctx, tx, row)
}
