package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jobscheduler/dispatcher/internal/depgraph"
	"github.com/jobscheduler/dispatcher/internal/domain"
)

// Counts is a point-in-time tally of jobs, for the out-of-process progress
// viewer this repo treats as a collaborator rather than a module it
// implements itself. Pending is broken down the same way the viewer
// displays it — Ready/Waiting/Blocked — rather than left as one flat
// count, since "how many pending jobs can actually make progress right
// now" is the question an operator watching the viewer actually has.
// SnapshotCounts runs entirely against the read-only connection pool, so it
// never blocks on or behind a write-intent transaction.
type Counts struct {
	Running        int
	Done           int
	Error          int
	PendingReady   int
	PendingWaiting int
	PendingBlocked int
}

// Pending returns the total pending count across all three readiness
// classes.
func (c Counts) Pending() int {
	return c.PendingReady + c.PendingWaiting + c.PendingBlocked
}

// SnapshotCounts returns the current count of jobs in each status, with
// pending jobs further classified into Ready/Waiting/Blocked by the same
// depgraph.Classify rule TryClaim's candidate loop uses, read entirely
// through the store's dedicated read-only handle.
func (s *Store) SnapshotCounts(ctx context.Context) (Counts, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs WHERE status != 'pending' GROUP BY status`)
	if err != nil {
		return Counts{}, wrapDBError("snapshot counts", err)
	}

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			_ = rows.Close()
			return Counts{}, wrapDBError("scan status count", err)
		}
		switch domain.Status(status) {
		case domain.StatusRunning:
			c.Running = n
		case domain.StatusDone:
			c.Done = n
		case domain.StatusError:
			c.Error = n
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Counts{}, wrapDBError("iterate status counts", err)
	}
	_ = rows.Close()

	pending, err := loadPendingCandidates(ctx, s.read)
	if err != nil {
		return Counts{}, err
	}
	if len(pending) == 0 {
		return c, nil
	}

	ids := make([]string, 0, len(pending))
	for _, j := range pending {
		ids = append(ids, j.ID)
		ids = append(ids, j.DependsOn...)
	}
	statuses, err := loadStatuses(ctx, s.read, ids)
	if err != nil {
		return Counts{}, err
	}

	for _, j := range pending {
		switch depgraph.Classify(j, statuses) {
		case domain.Ready:
			c.PendingReady++
		case domain.Waiting:
			c.PendingWaiting++
		case domain.Blocked:
			c.PendingBlocked++
		}
	}
	return c, nil
}

// loadPendingCandidates returns every pending job's id and depends_on list
// (unlike loadCandidates, this is an unbounded full scan — SnapshotCounts is
// a read-only aggregate off the hot claim path, so there's no reason to cap
// it at candidateScanLimit).
func loadPendingCandidates(ctx context.Context, q queryer) ([]*domain.Job, error) {
	rows, err := q.QueryContext(ctx, `SELECT job_id, depends_on FROM jobs WHERE status = 'pending'`)
	if err != nil {
		return nil, wrapDBError("scan pending jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Job
	for rows.Next() {
		var id, dependsOn string
		if err := rows.Scan(&id, &dependsOn); err != nil {
			return nil, wrapDBError("scan pending job", err)
		}
		out = append(out, &domain.Job{ID: id, Status: domain.StatusPending, DependsOn: depgraph.ParseDependsOn(dependsOn)})
	}
	return out, wrapDBError("iterate pending jobs", rows.Err())
}

// Job returns a single job by id, read through the read-only handle. The
// tests use it to inspect rows; the executor formats argv from the job
// TryClaim returns and does not call it.
func (s *Store) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	columns, err := s.ParamColumns(ctx)
	if err != nil {
		return nil, err
	}

	selectCols := []string{"job_id", "status", "priority", "estimate_time", "elapsed_time", "depends_on", "created_at", "started_at", "finished_at", "error_message"}
	for _, c := range columns {
		selectCols = append(selectCols, quoteIdent(c))
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE job_id = ?`, joinQuoted(selectCols))
	row := s.read.QueryRowContext(ctx, query, jobID)

	j := &domain.Job{}
	var status, dependsOn, createdAt string
	var startedAt, finishedAt sql.NullString
	dest := []any{&j.ID, &status, &j.Priority, &j.EstimateTime, &j.ElapsedTime, &dependsOn, &createdAt, &startedAt, &finishedAt, &j.ErrorMessage}
	values := make([]string, len(columns))
	for i := range columns {
		dest = append(dest, &values[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, wrapDBError(fmt.Sprintf("load job %q", jobID), err)
	}

	j.Status = domain.Status(status)
	j.DependsOn = depgraph.ParseDependsOn(dependsOn)
	if t, err := parseTime(createdAt); err == nil {
		j.CreatedAt = t
	}
	j.StartedAt, err = parseTimePtr(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at for job %q: %w", jobID, err)
	}
	j.FinishedAt, err = parseTimePtr(finishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse finished_at for job %q: %w", jobID, err)
	}
	j.Params = make([]domain.Param, len(columns))
	for i, c := range columns {
		j.Params[i] = domain.Param{Name: c, Value: values[i]}
	}
	return j, nil
}
