// Package worker drives one worker process's claim loop: N parallel
// execution slots, a startup stuck-job recovery sweep, and a clean exit
// once no more work can ever become claimable within the worker's
// remaining deadline budget.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobscheduler/dispatcher/internal/deadline"
	"github.com/jobscheduler/dispatcher/internal/domain"
	"github.com/jobscheduler/dispatcher/internal/logctx"
)

// claimer is the subset of *store.Store the worker loop needs to drive
// claiming; kept as an interface so tests can substitute an in-memory fake.
type claimer interface {
	TryClaim(ctx context.Context, now time.Time, model deadline.Model, budget time.Duration) (*domain.Job, bool, error)
	RecoverStuck(ctx context.Context) ([]string, error)
}

// executor runs one claimed job to completion and records its outcome.
type executor interface {
	Run(ctx context.Context, job *domain.Job) error
}

// Config holds the per-invocation parameters the worker CLI accepts.
type Config struct {
	Deadline        deadline.Model
	Parallel        int
	DepWaitInterval time.Duration
}

// Worker drives the claim loop for one process.
type Worker struct {
	store    claimer
	executor executor
	cfg      Config
	logger   *slog.Logger
	start    time.Time
}

// New builds a Worker. start is the worker's own start time, used with
// cfg.Deadline to compute the remaining claim-admission budget on each
// attempt.
func New(store claimer, exec executor, cfg Config, logger *slog.Logger, start time.Time) *Worker {
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return &Worker{store: store, executor: exec, cfg: cfg, logger: logger.With("component", "worker"), start: start}
}

// Run executes the startup recovery sweep, then drives the claim loop
// until no more work can ever become claimable or ctx is canceled, joining
// every in-flight executor slot before returning. It returns the first
// fatal store error encountered, if any (disk full, corruption — anything
// the store can't absorb internally); per-job failures never surface here.
func (w *Worker) Run(ctx context.Context) error {
	recovered, err := w.store.RecoverStuck(ctx)
	if err != nil {
		return err
	}
	if len(recovered) > 0 {
		w.logger.InfoContext(ctx, "recovered stuck jobs", "count", len(recovered), "job_ids", recovered)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Parallel)

	var claimErr error
claimLoop:
	for {
		select {
		case <-gctx.Done():
			break claimLoop
		default:
		}

		budget := w.cfg.Deadline.Budget(time.Since(w.start))
		if budget <= 0 {
			w.logger.InfoContext(ctx, "deadline budget exhausted, no longer claiming")
			break claimLoop
		}

		job, morePossible, err := w.store.TryClaim(gctx, time.Now(), w.cfg.Deadline, budget)
		if err != nil {
			claimErr = err
			break claimLoop
		}

		if job == nil {
			if !morePossible {
				w.logger.InfoContext(ctx, "no more claimable work, exiting cleanly")
				break claimLoop
			}
			select {
			case <-gctx.Done():
				break claimLoop
			case <-time.After(w.cfg.DepWaitInterval):
				continue claimLoop
			}
		}

		w.logger.InfoContext(ctx, "job claimed", "job_id", job.ID, "priority", job.Priority)
		g.Go(func() error {
			return w.executor.Run(logctx.WithJobID(ctx, job.ID), job)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return claimErr
}
