package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jobscheduler/dispatcher/internal/depgraph"
	"github.com/jobscheduler/dispatcher/internal/domain"
)

// AddJobs inserts new rows for jobs, all within a single write-intent
// transaction: either every job is inserted, or none are.
//
// Fails with ErrSchemaMismatch if any job's param names differ from the
// column set recorded at Initialize. Fails with ErrIntegrity on a duplicate
// job_id, or if a job's depends_on references a job_id that exists in
// neither this batch nor the table already. The batch (plus whatever it
// depends on that already exists) is validated acyclic before anything is
// written; a cycle is also reported as ErrIntegrity, grouped with the other
// "graph is malformed" conditions rather than given its own sentinel.
func (s *Store) AddJobs(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	return s.withWriteTxn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		columns, err := loadParamColumns(ctx, conn)
		if err != nil {
			return err
		}

		for _, j := range jobs {
			if !sameParamSet(columns, j.Params) {
				return fmt.Errorf("add jobs: %w", ErrSchemaMismatch)
			}
		}

		if err := validateNewJobsGraph(ctx, conn, jobs); err != nil {
			return fmt.Errorf("add jobs: %w: %w", ErrIntegrity, err)
		}

		insertCols := append([]string{
			"job_id", "status", "priority", "estimate_time", "elapsed_time",
			"depends_on", "created_at", "started_at", "finished_at", "error_message",
		}, columns...)
		placeholders := strings.TrimRight(strings.Repeat("?,", len(insertCols)), ",")
		quoted := make([]string, len(insertCols))
		for i, c := range insertCols {
			quoted[i] = quoteIdent(c)
		}
		query := fmt.Sprintf(`INSERT INTO jobs (%s) VALUES (%s)`, strings.Join(quoted, ","), placeholders)

		for _, j := range jobs {
			if j.Status == "" {
				j.Status = domain.StatusPending
			}
			if j.CreatedAt.IsZero() {
				j.CreatedAt = time.Now()
			}

			args := make([]any, 0, len(insertCols))
			args = append(args,
				j.ID, string(j.Status), j.Priority, j.EstimateTime, j.ElapsedTime,
				depgraph.FormatDependsOn(j.DependsOn), formatTime(j.CreatedAt),
				formatTimePtr(j.StartedAt), formatTimePtr(j.FinishedAt), j.ErrorMessage,
			)
			for _, col := range columns {
				value, _ := j.ParamValue(col)
				args = append(args, value)
			}

			if _, err := conn.ExecContext(ctx, query, args...); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("add jobs: job %q: %w", j.ID, ErrIntegrity)
				}
				return wrapDBError(fmt.Sprintf("insert job %q", j.ID), err)
			}
		}

		return nil
	})
}

// sameParamSet reports whether job's params exactly match columns, as a
// set (order in job.Params need not match column order; BuildArgs/AddJobs
// always reorders to the fixed column order).
func sameParamSet(columns []string, params []domain.Param) bool {
	if len(columns) != len(params) {
		return false
	}
	have := make(map[string]bool, len(params))
	for _, p := range params {
		have[p.Name] = true
	}
	for _, c := range columns {
		if !have[c] {
			return false
		}
	}
	return true
}

// validateNewJobsGraph checks that every depends_on id in jobs resolves to
// either another job in the same batch or an already-existing row, then
// runs depgraph.ValidateAcyclic over the batch plus each already-existing
// predecessor as a leaf. A cycle through already-committed jobs is
// impossible (a committed job can't depend on one that didn't exist yet),
// so their own predecessors need not be loaded.
func validateNewJobsGraph(ctx context.Context, conn *sql.Conn, jobs []*domain.Job) error {
	inBatch := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		inBatch[j.ID] = true
	}

	graph := append([]*domain.Job(nil), jobs...)
	existing := make(map[string]bool)
	for _, j := range jobs {
		for _, dep := range j.DependsOn {
			if inBatch[dep] || existing[dep] {
				continue
			}
			var count int
			if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE job_id = ?`, dep).Scan(&count); err != nil {
				return wrapDBError("check predecessor existence", err)
			}
			if count == 0 {
				return fmt.Errorf("job %q depends on unknown job %q", j.ID, dep)
			}
			existing[dep] = true
			graph = append(graph, &domain.Job{ID: dep})
		}
	}

	return depgraph.ValidateAcyclic(graph)
}
