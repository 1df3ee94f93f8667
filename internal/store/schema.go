package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// reservedDDL is every reserved column of the jobs table, using
// un-prefixed lowercase names internally — the JOBSCHEDULER_-prefixed names
// are a CSV import/export surface concern this repo doesn't implement, and
// map onto these columns one-to-one.
const reservedDDL = `
	job_id        TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	estimate_time REAL NOT NULL DEFAULT 0,
	elapsed_time  REAL NOT NULL DEFAULT 0,
	depends_on    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	started_at    TEXT,
	finished_at   TEXT,
	error_message TEXT NOT NULL DEFAULT ''
`

// Initialize creates the jobs table (if absent) with the reserved columns
// plus one TEXT column per entry in paramColumns, and records paramColumns
// as the fixed schema for the life of the store. Calling Initialize again
// with the same columns in the same order is a no-op; calling it with a
// different list once the jobs table exists is refused with
// ErrSchemaMismatch, whether or not jobs has rows yet — the param
// column set is fixed for the store's lifetime, since every claim/scan
// query builds its column list from what was recorded here.
func (s *Store) Initialize(ctx context.Context, paramColumns []string) error {
	return s.withWriteTxn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS param_columns (
				ordinal INTEGER PRIMARY KEY,
				name    TEXT NOT NULL UNIQUE
			)
		`); err != nil {
			return wrapDBError("create param_columns table", err)
		}

		existing, err := loadParamColumns(ctx, conn)
		if err != nil {
			return err
		}

		var jobsTables int
		if err := conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'jobs'`,
		).Scan(&jobsTables); err != nil {
			return wrapDBError("check for jobs table", err)
		}
		if jobsTables > 0 {
			if !sameColumnSet(existing, paramColumns) {
				return fmt.Errorf("initialize: %w", ErrSchemaMismatch)
			}
			return nil // already initialized with this exact schema
		}

		var cols strings.Builder
		cols.WriteString(reservedDDL)
		for _, name := range paramColumns {
			fmt.Fprintf(&cols, ", %s TEXT NOT NULL DEFAULT ''", quoteIdent(name))
		}

		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS jobs (%s)`, cols.String())); err != nil {
			return wrapDBError("create jobs table", err)
		}

		if _, err := conn.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON jobs(status, priority DESC)
		`); err != nil {
			return wrapDBError("create status/priority index", err)
		}

		for i, name := range paramColumns {
			if _, err := conn.ExecContext(ctx,
				`INSERT INTO param_columns (ordinal, name) VALUES (?, ?)`, i, name,
			); err != nil {
				return wrapDBError("record param column", err)
			}
		}

		return nil
	})
}

// ParamColumns returns the param column order fixed at Initialize time.
func (s *Store) ParamColumns(ctx context.Context) ([]string, error) {
	conn, err := s.read.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire read connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return loadParamColumns(ctx, conn)
}

func loadParamColumns(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT name FROM param_columns ORDER BY ordinal`)
	if err != nil {
		return nil, wrapDBError("load param columns", err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapDBError("scan param column", err)
		}
		cols = append(cols, name)
	}
	return cols, wrapDBError("iterate param columns", rows.Err())
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// quoteIdent quotes a SQLite identifier defensively; param column names come
// from a CSV header the operator controls, not untrusted network input, but
// quoting avoids surprises from names that collide with SQL keywords.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
