package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jobscheduler/dispatcher/internal/deadline"
	"github.com/jobscheduler/dispatcher/internal/depgraph"
	"github.com/jobscheduler/dispatcher/internal/domain"
)

// candidateScanLimit bounds how many pending rows TryClaim inspects per
// attempt. Correctness only requires the chosen row be pending-and-ready at
// commit time, not that every pending row be considered on every attempt —
// a miss just means the next attempt (after the dep_wait_interval sleep)
// rescans, so a top-K window over the priority order is enough at the scale
// this store targets (thousands of rows, not millions).
const candidateScanLimit = 200

// TryClaim selects and claims the highest-priority Ready job whose
// estimated runtime fits the given budget, inside one write-intent
// transaction. It returns the claimed job (nil if nothing was claimed) and
// morePossible, which reports whether any scanned candidate other than the
// claimed one is Waiting; when nothing was claimed, the worker loop uses it
// to decide whether to keep polling or to exit cleanly on permanent blockage.
func (s *Store) TryClaim(ctx context.Context, now time.Time, model deadline.Model, budget time.Duration) (*domain.Job, bool, error) {
	var claimed *domain.Job
	var morePossible bool

	err := s.withWriteTxn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		candidates, err := loadCandidates(ctx, conn, candidateScanLimit)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
			for _, d := range c.DependsOn {
				ids = append(ids, d)
			}
		}
		statuses, err := loadStatuses(ctx, conn, ids)
		if err != nil {
			return err
		}

		for _, c := range candidates {
			switch depgraph.Classify(c, statuses) {
			case domain.Blocked:
				continue
			case domain.Waiting:
				morePossible = true
				continue
			}

			if claimed != nil {
				continue // already claimed one; keep scanning only to report Waiting candidates
			}

			if !model.Admits(c.EstimateTime, budget) {
				continue // deadline skip: never becomes claimable within this worker's remaining lifetime
			}

			res, err := conn.ExecContext(ctx,
				`UPDATE jobs SET status = 'running', started_at = ? WHERE job_id = ? AND status = 'pending'`,
				formatTime(now), c.ID,
			)
			if err != nil {
				return wrapDBError("claim job", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return wrapDBError("claim job: rows affected", err)
			}
			if affected != 1 {
				// Lost the race to another writer between the candidate scan
				// and this UPDATE; impossible under our single-writer-conn
				// BEGIN IMMEDIATE serialization, kept as a defensive guard.
				continue
			}

			c.Status = domain.StatusRunning
			c.StartedAt = &now
			claimed = c
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return claimed, morePossible, nil
}

// loadCandidates returns up to limit pending jobs ordered by
// (priority DESC, job_id ASC) — priority first, and a stable tiebreak so
// equal-priority jobs claim in a deterministic, reproducible order instead
// of whatever order SQLite happens to return them in.
func loadCandidates(ctx context.Context, conn *sql.Conn, limit int) ([]*domain.Job, error) {
	columns, err := loadParamColumns(ctx, conn)
	if err != nil {
		return nil, err
	}

	selectCols := []string{"job_id", "priority", "estimate_time", "elapsed_time", "depends_on", "created_at"}
	for _, c := range columns {
		selectCols = append(selectCols, quoteIdent(c))
	}

	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE status = 'pending'
		ORDER BY priority DESC, job_id ASC
		LIMIT ?
	`, joinQuoted(selectCols))

	rows, err := conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, wrapDBError("scan claim candidates", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Job
	for rows.Next() {
		j := &domain.Job{}
		var dependsOn, createdAt string
		dest := []any{&j.ID, &j.Priority, &j.EstimateTime, &j.ElapsedTime, &dependsOn, &createdAt}
		values := make([]string, len(columns))
		for i := range columns {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, wrapDBError("scan candidate row", err)
		}
		j.Status = domain.StatusPending
		j.DependsOn = depgraph.ParseDependsOn(dependsOn)
		if t, err := parseTime(createdAt); err == nil {
			j.CreatedAt = t
		}
		j.Params = make([]domain.Param, len(columns))
		for i, c := range columns {
			j.Params[i] = domain.Param{Name: c, Value: values[i]}
		}
		out = append(out, j)
	}
	return out, wrapDBError("iterate claim candidates", rows.Err())
}

// queryer is the common subset of *sql.Conn and *sql.DB that a read-only
// helper needs, so the same query function works whether it's called
// inside TryClaim's write-intent transaction (a dedicated *sql.Conn) or
// from SnapshotCounts against the store's shared read-only *sql.DB pool.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadStatuses batch-resolves the current status of every id in ids.
func loadStatuses(ctx context.Context, conn queryer, ids []string) (map[string]domain.Status, error) {
	result := make(map[string]domain.Status, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	seen := make(map[string]bool, len(ids))
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	query := fmt.Sprintf(`SELECT job_id, status FROM jobs WHERE job_id IN (%s)`, joinQuoted(placeholders))
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("load predecessor statuses", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, wrapDBError("scan predecessor status", err)
		}
		result[id] = domain.Status(status)
	}
	return result, wrapDBError("iterate predecessor statuses", rows.Err())
}

func joinQuoted(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}
