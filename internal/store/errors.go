package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the store's error taxonomy. Every operation wraps the
// underlying driver error with one of these via wrapDBError so callers can
// errors.Is against a stable taxonomy regardless of which SQLite driver
// error type sits underneath.
var (
	ErrSchemaMismatch = errors.New("schema mismatch: param columns differ from existing table")
	ErrLockTimeout    = errors.New("lock timeout: store busy")
	ErrIntegrity      = errors.New("integrity error")
	ErrNotFound       = errors.New("not found")
)

// wrapDBError wraps a raw driver/SQL error with operation context, mapping
// it onto the sentinel taxonomy above. sql.ErrNoRows becomes ErrNotFound;
// anything that looks like a busy-timeout exhaustion becomes ErrLockTimeout;
// everything else passes through wrapped but unclassified — a fatal,
// unrecognized store error, left for the caller to propagate rather than
// silently retry.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isBusy(err) {
		return fmt.Errorf("%s: %w", op, ErrLockTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isBusy reports whether err indicates SQLite returned SQLITE_BUSY /
// SQLITE_BUSY_TIMEOUT, i.e. the busy_timeout pragma's sleep-retry window was
// exhausted. Matched on message rather than a driver-specific error type so
// this works the same whether the underlying error came from a direct query
// or from beginImmediateWithRetry giving up.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
