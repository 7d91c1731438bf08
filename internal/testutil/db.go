// Package testutil provides SQLite-backed fixtures for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hub-lending/internal/database"
)

// Epoch is the reference instant fixtures are built around.
var Epoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// OpenDB returns a migrated SQLite database in a temporary directory.  The
// database is closed when the test ends.
func OpenDB(t testing.TB) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "hublend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db))
	return db
}

// SeedHub inserts an active hub and returns its id.
func SeedHub(t testing.TB, db *database.DB, name string) uint64 {
	t.Helper()
	res, err := db.ExecContext(context.Background(),
		`INSERT INTO hubs (name, address, is_active, created_at, updated_at) VALUES (?, '', 1, ?, ?)`,
		name, Epoch, Epoch)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

// SeedItem inserts an active item variant with total == available == qty.
func SeedItem(t testing.TB, db *database.DB, hubID uint64, name string, qty int) uint64 {
	t.Helper()
	res, err := db.ExecContext(context.Background(),
		`INSERT INTO item_variants (hub_id, name, category, item_condition, quantity_total, quantity_available, is_active, created_at, updated_at)
		 VALUES (?, ?, 'general', 'good', ?, ?, 1, ?, ?)`,
		hubID, name, qty, qty, Epoch, Epoch)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

// Quantities returns (total, available) of an item variant.
func Quantities(t testing.TB, db *database.DB, itemID uint64) (int, int) {
	t.Helper()
	var total, avail int
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT quantity_total, quantity_available FROM item_variants WHERE id = ?`, itemID).Scan(&total, &avail))
	return total, avail
}

// OpenCommitted returns the sum of unreleased commit token quantities for
// an item.  It must equal total - available at every commit point.
func OpenCommitted(t testing.TB, db *database.DB, itemID uint64) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COALESCE(SUM(quantity), 0) FROM commit_tokens WHERE item_variant_id = ? AND released_at IS NULL`,
		itemID).Scan(&n))
	return n
}

// CountEvents returns how many outbox events of the given type exist for a
// reservation.
func CountEvents(t testing.TB, db *database.DB, reservationID uint64, eventType string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM outbox_events WHERE reservation_id = ? AND event_type = ?`,
		reservationID, eventType).Scan(&n))
	return n
}
