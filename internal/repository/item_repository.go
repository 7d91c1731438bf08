package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
)

// ItemRepo provides persistence for item variants.  The quantity columns
// are only ever changed through the conditional statements at the bottom
// of this file; none of them reads a quantity before writing it.
type ItemRepo struct {
	db *database.DB
}

// NewItemRepo constructs an ItemRepo.
func NewItemRepo(db *database.DB) *ItemRepo { return &ItemRepo{db: db} }

const itemCols = `id, hub_id, name, category, item_condition, quantity_total, quantity_available, is_active, version, created_at, updated_at`

func scanItem(s rowScanner) (*model.ItemVariant, error) {
	var it model.ItemVariant
	err := s.Scan(&it.ID, &it.HubID, &it.Name, &it.Category, &it.Condition,
		&it.QuantityTotal, &it.QuantityAvailable, &it.IsActive, &it.Version,
		&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.CreatedAt, it.UpdatedAt = it.CreatedAt.UTC(), it.UpdatedAt.UTC()
	return &it, nil
}

// CreateTx inserts a new item variant with no stock.  Stock arrives
// through donation intake so that every unit passes the ledger.
func (r *ItemRepo) CreateTx(ctx context.Context, tx *sql.Tx, it *model.ItemVariant, now time.Time) error {
	now = dbTime(now)
	if it.Condition == "" {
		it.Condition = model.ConditionGood
	}
	const q = `INSERT INTO item_variants (hub_id, name, category, item_condition, quantity_total, quantity_available, is_active, version, created_at, updated_at)
	           VALUES (?, ?, ?, ?, 0, 0, ?, 0, ?, ?)`
	res, err := tx.ExecContext(ctx, q, it.HubID, it.Name, it.Category, it.Condition, it.IsActive, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = uint64(id)
	it.QuantityTotal, it.QuantityAvailable, it.Version = 0, 0, 0
	it.CreatedAt, it.UpdatedAt = now, now
	return nil
}

// GetByID loads an item variant or returns ErrNotFound.
func (r *ItemRepo) GetByID(ctx context.Context, id uint64) (*model.ItemVariant, error) {
	return r.get(ctx, r.db, id)
}

// GetByIDTx is GetByID inside a transaction.
func (r *ItemRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.ItemVariant, error) {
	return r.get(ctx, tx, id)
}

func (r *ItemRepo) get(ctx context.Context, q querier, id uint64) (*model.ItemVariant, error) {
	it, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemCols+` FROM item_variants WHERE id = ?`, id))
	return it, notFound(err)
}

// FindByNameTx returns the variant called name at a hub, or ErrNotFound.
func (r *ItemRepo) FindByNameTx(ctx context.Context, tx *sql.Tx, hubID uint64, name string) (*model.ItemVariant, error) {
	it, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemCols+` FROM item_variants WHERE hub_id = ? AND name = ? ORDER BY id LIMIT 1`, hubID, name))
	return it, notFound(err)
}

// ListByHub returns the active variants of a hub, optionally filtered by a
// case-insensitive substring of name or category.
func (r *ItemRepo) ListByHub(ctx context.Context, hubID uint64, search string) ([]model.ItemVariant, error) {
	q := `SELECT ` + itemCols + ` FROM item_variants WHERE hub_id = ? AND is_active = 1`
	args := []any{hubID}
	if s := strings.TrimSpace(search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q += ` AND (LOWER(name) LIKE ? OR LOWER(category) LIKE ?)`
		args = append(args, like, like)
	}
	q += ` ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ItemVariant{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// SetActiveTx flips is_active.  Existing reservations are unaffected.
func (r *ItemRepo) SetActiveTx(ctx context.Context, tx *sql.Tx, id uint64, active bool, now time.Time) error {
	n, err := affected(tx.ExecContext(ctx,
		`UPDATE item_variants SET is_active = ?, updated_at = ? WHERE id = ?`, active, dbTime(now), id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TakeTx removes qty units from the available pool of an active variant.
// It reports false when the variant is missing, inactive or has fewer
// than qty units available.
func (r *ItemRepo) TakeTx(ctx context.Context, tx *sql.Tx, id uint64, qty int, now time.Time) (bool, error) {
	const q = `UPDATE item_variants
	           SET quantity_available = quantity_available - ?, version = version + 1, updated_at = ?
	           WHERE id = ? AND is_active = 1 AND quantity_available >= ?`
	n, err := affected(tx.ExecContext(ctx, q, qty, dbTime(now), id, qty))
	return n == 1, err
}

// GiveBackTx returns qty units to the available pool.  It reports false
// when doing so would push available above total.
func (r *ItemRepo) GiveBackTx(ctx context.Context, tx *sql.Tx, id uint64, qty int, now time.Time) (bool, error) {
	const q = `UPDATE item_variants
	           SET quantity_available = quantity_available + ?, version = version + 1, updated_at = ?
	           WHERE id = ? AND quantity_available + ? <= quantity_total`
	n, err := affected(tx.ExecContext(ctx, q, qty, dbTime(now), id, qty))
	return n == 1, err
}

// GrowTx adds n newly donated units to both total and available.
func (r *ItemRepo) GrowTx(ctx context.Context, tx *sql.Tx, id uint64, n int, now time.Time) (bool, error) {
	const q = `UPDATE item_variants
	           SET quantity_total = quantity_total + ?, quantity_available = quantity_available + ?,
	               version = version + 1, updated_at = ?
	           WHERE id = ?`
	rows, err := affected(tx.ExecContext(ctx, q, n, n, dbTime(now), id))
	return rows == 1, err
}

// ShrinkTx decommissions n units.  Only uncommitted units can leave, so it
// reports false when fewer than n are available.
func (r *ItemRepo) ShrinkTx(ctx context.Context, tx *sql.Tx, id uint64, n int, now time.Time) (bool, error) {
	const q = `UPDATE item_variants
	           SET quantity_total = quantity_total - ?, quantity_available = quantity_available - ?,
	               version = version + 1, updated_at = ?
	           WHERE id = ? AND quantity_available >= ?`
	rows, err := affected(tx.ExecContext(ctx, q, n, n, dbTime(now), id, n))
	return rows == 1, err
}
