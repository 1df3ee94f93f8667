package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jobscheduler/dispatcher/internal/domain"
)

// Finish records the terminal outcome of a claimed job: its elapsed runtime,
// error message (empty on success), and finished_at timestamp, and moves it
// from running to outcome. It only writes while the row is running, so it
// is not idempotent: a second call for the same job observes
// status != running and reports ErrNotFound. The executor's retry loop
// retries that error like any other failed write.
func (s *Store) Finish(ctx context.Context, jobID string, outcome domain.Outcome, elapsed time.Duration, errMessage string, finishedAt time.Time) error {
	return s.withWriteTxn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`UPDATE jobs SET status = ?, elapsed_time = ?, error_message = ?, finished_at = ?
			 WHERE job_id = ? AND status = 'running'`,
			string(outcome), elapsed.Seconds(), errMessage, formatTime(finishedAt), jobID,
		)
		if err != nil {
			return wrapDBError("finish job", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("finish job: rows affected", err)
		}
		if affected != 1 {
			return fmt.Errorf("finish job %q: %w", jobID, ErrNotFound)
		}
		return nil
	})
}

// Reset is the manual recovery primitive an operator uses to retry failed
// or stuck work by hand: every row matching statusFilter (or, with
// statusFilter left as the zero value, every row in error or running) is
// moved back to pending, with started_at, finished_at, elapsed_time, and
// error_message all cleared so the row looks exactly like a freshly
// inserted job. RecoverStuck is the narrower automatic sweep a worker runs
// over running jobs alone at startup. It returns the ids of the rows it
// reset.
func (s *Store) Reset(ctx context.Context, statusFilter domain.Status) ([]string, error) {
	if statusFilter != "" && statusFilter != domain.StatusError && statusFilter != domain.StatusRunning {
		return nil, fmt.Errorf("reset: status filter %q is not resettable (only error or running)", statusFilter)
	}

	var reset []string
	err := s.withWriteTxn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		query := `SELECT job_id FROM jobs WHERE status IN ('error', 'running')`
		args := []any{}
		if statusFilter != "" {
			query = `SELECT job_id FROM jobs WHERE status = ?`
			args = append(args, string(statusFilter))
		}

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("list resettable jobs", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return wrapDBError("scan resettable job id", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return wrapDBError("iterate resettable jobs", err)
		}
		_ = rows.Close()

		updateQuery := `UPDATE jobs SET status = 'pending', started_at = NULL, finished_at = NULL,
			elapsed_time = 0, error_message = '' WHERE status IN ('error', 'running')`
		if statusFilter != "" {
			updateQuery = `UPDATE jobs SET status = 'pending', started_at = NULL, finished_at = NULL,
				elapsed_time = 0, error_message = '' WHERE status = ?`
		}
		if _, err := conn.ExecContext(ctx, updateQuery, args...); err != nil {
			return wrapDBError("reset jobs", err)
		}

		reset = ids
		return nil
	})
	return reset, err
}

// RecoverStuck resets every running job back to pending. A worker calls this
// once at startup, before entering its claim loop, to heal jobs left
// running by a process that crashed, was killed, or was stopped by a signal
// before reaching Finish (a canceled worker context also cancels the
// in-flight Finish write). The sweep covers every running row in the store;
// it cannot tell a stuck row from one that another live worker is still
// executing. It returns the ids of the jobs it reset, for the startup log
// line.
func (s *Store) RecoverStuck(ctx context.Context) ([]string, error) {
	var recovered []string
	err := s.withWriteTxn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT job_id FROM jobs WHERE status = 'running'`)
		if err != nil {
			return wrapDBError("list running jobs", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return wrapDBError("scan running job id", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return wrapDBError("iterate running jobs", err)
		}
		_ = rows.Close()

		if _, err := conn.ExecContext(ctx,
			`UPDATE jobs SET status = 'pending', started_at = NULL WHERE status = 'running'`,
		); err != nil {
			return wrapDBError("recover stuck jobs", err)
		}

		recovered = ids
		return nil
	})
	return recovered, err
}
