package database

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema_mysql.sql
var mysqlSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// Schema returns the DDL for the dialect.
func (d Dialect) Schema() string {
	if d == SQLite {
		return sqliteSchema
	}
	return mysqlSchema
}

// Migrate creates every table and index that does not exist yet.  It is
// idempotent and safe to run on every start.
func Migrate(ctx context.Context, db *DB) error {
	for i, stmt := range splitStatements(db.Dialect.Schema()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}

// splitStatements breaks a schema file on semicolons.  Comment lines are
// dropped; the schema files contain no semicolons inside literals.
func splitStatements(schema string) []string {
	var b strings.Builder
	for _, line := range strings.Split(schema, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, s := range strings.Split(b.String(), ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
