package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultBusyTimeout is long enough to absorb contended-lock retries across
// several concurrent workers sharing one file before the caller ever sees
// ErrLockTimeout.
const defaultBusyTimeout = 30 * time.Second

// busyTimeout honors JOBSCHEDULER_LOCK_TIMEOUT_MS for operators who need to
// tune contention behavior on a particularly busy shared filesystem, falling
// back to the spec default.
func busyTimeout() time.Duration {
	if v := strings.TrimSpace(os.Getenv("JOBSCHEDULER_LOCK_TIMEOUT_MS")); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultBusyTimeout
}

// dsn builds the SQLite connection string for path, applying the pragmas
// every connection needs: WAL journaling (concurrent readers, single
// writer, crash-safe), a busy timeout (sleep-retry on contention before
// failing), and foreign key enforcement. Pragmas are per-connection in
// SQLite, not per-file, so this string is reapplied whenever the pool opens
// a new physical connection.
func dsn(path string, readOnly bool) string {
	busyMs := busyTimeout().Milliseconds()
	mode := ""
	if readOnly {
		mode = "&mode=ro"
	}
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)%s",
		path, busyMs, mode,
	)
}
