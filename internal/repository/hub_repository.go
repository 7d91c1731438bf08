package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
)

// HubRepo encapsulates all database queries related to hubs.
type HubRepo struct {
	db *database.DB
}

// NewHubRepo constructs a HubRepo with the provided DB handle.
func NewHubRepo(db *database.DB) *HubRepo { return &HubRepo{db: db} }

// Create inserts a new hub.  A duplicate name yields ErrConflict.  On
// success the hub's ID and timestamps are populated.
func (r *HubRepo) Create(ctx context.Context, h *model.Hub, now time.Time) error {
	now = dbTime(now)
	const q = `INSERT INTO hubs (name, address, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, h.Name, h.Address, h.IsActive, now, now)
	if err != nil {
		if database.IsDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = uint64(id)
	h.CreatedAt, h.UpdatedAt = now, now
	return nil
}

const hubCols = `id, name, address, is_active, created_at, updated_at`

func scanHub(s rowScanner) (*model.Hub, error) {
	var h model.Hub
	if err := s.Scan(&h.ID, &h.Name, &h.Address, &h.IsActive, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.CreatedAt, h.UpdatedAt = h.CreatedAt.UTC(), h.UpdatedAt.UTC()
	return &h, nil
}

// GetByID returns one hub or ErrNotFound.
func (r *HubRepo) GetByID(ctx context.Context, id uint64) (*model.Hub, error) {
	h, err := scanHub(r.db.QueryRowContext(ctx, `SELECT `+hubCols+` FROM hubs WHERE id = ?`, id))
	return h, notFound(err)
}

// ListActive returns every active hub ordered by name.
func (r *HubRepo) ListActive(ctx context.Context) ([]model.Hub, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+hubCols+` FROM hubs WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Hub{}
	for rows.Next() {
		h, err := scanHub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// GetByName returns the hub with the given name or ErrNotFound.  Donation
// manifests refer to hubs by name.
func (r *HubRepo) GetByName(ctx context.Context, name string) (*model.Hub, error) {
	h, err := scanHub(r.db.QueryRowContext(ctx, `SELECT `+hubCols+` FROM hubs WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return h, err
}
