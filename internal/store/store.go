// Package store is the embedded SQLite-backed job store: schema
// management, connection/pragma discipline, and the atomic state
// transitions a worker drives a job through (Initialize, AddJobs, Reset,
// RecoverStuck, TryClaim, Finish, SnapshotCounts).
//
// Every multi-statement operation runs inside a write-intent transaction —
// a raw BEGIN IMMEDIATE issued on a dedicated connection, not database/sql's
// default BeginTx (which modernc/ncruces both start DEFERRED, acquiring the
// write lock lazily at first write rather than up front). BEGIN IMMEDIATE
// acquires SQLite's RESERVED lock at the first statement, serializing
// concurrent claim attempts the moment they start rather than racing them
// to the first write.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the embedded job store for one worker or viewer process.
type Store struct {
	write *sql.DB // single connection: serializes write-intent transactions in-process
	read  *sql.DB // pool of read-only connections for non-blocking snapshots
}

// Open opens (creating if absent) the SQLite database at path and applies
// the store's standard pragmas. Call Initialize before using a fresh store.
func Open(path string) (*Store, error) {
	write, err := sql.Open("sqlite3", dsn(path, false))
	if err != nil {
		return nil, fmt.Errorf("open write handle: %w", err)
	}
	// Capping the writer to one open connection means every write-intent
	// transaction in this process queues behind the same in-process mutex
	// database/sql already gives a single *sql.DB connection, reducing
	// self-contention before a second worker's transaction is ever involved.
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite3", dsn(path, true))
	if err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("open read handle: %w", err)
	}

	return &Store{write: write, read: read}, nil
}

// Close releases both connections.
func (s *Store) Close() error {
	writeErr := s.write.Close()
	readErr := s.read.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// beginImmediateWithRetry opens a write-intent transaction on conn, retrying
// with bounded exponential backoff if SQLite reports busy — the busy_timeout
// pragma already sleeps-and-retries inside the driver, but a belt-and-braces
// retry here absorbs the rare case where that window still isn't enough
// under heavy multi-worker contention.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	b := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(10*time.Millisecond),
			backoff.WithMaxInterval(500*time.Millisecond),
		),
		5,
	), ctx)

	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && isBusy(err) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)
}

// withWriteTxn acquires a dedicated connection from the single-conn write
// pool, begins a write-intent transaction, runs fn, and commits on success
// or rolls back (using a background context, so cleanup happens even if ctx
// was canceled mid-operation) otherwise.
func (s *Store) withWriteTxn(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	conn, err := s.write.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire write connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return wrapDBError("begin write-intent transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(ctx, conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit write-intent transaction", err)
	}
	committed = true
	return nil
}
