// Package executor runs one claimed job to completion: spawns the
// configured command with the job's argument vector, streams its output,
// waits for termination, and commits the outcome back to the store.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jobscheduler/dispatcher/internal/argfmt"
	"github.com/jobscheduler/dispatcher/internal/domain"
	"github.com/jobscheduler/dispatcher/internal/logctx"
	"github.com/jobscheduler/dispatcher/internal/runid"
)

// finisher is the subset of *store.Store the Executor needs, so tests can
// substitute a fake without spinning up a real SQLite file.
type finisher interface {
	Finish(ctx context.Context, jobID string, outcome domain.Outcome, elapsed time.Duration, errMessage string, finishedAt time.Time) error
}

// stderrRingSize bounds how many trailing stderr lines feed error_message —
// enough to show the failure without storing an unbounded log per row.
const stderrRingSize = 20

// finishRetryMaxElapsed bounds the Finish retry-with-backoff window at
// commit failure, long enough to ride out a momentary lock contention spike
// without holding the executor slot hostage indefinitely.
const finishRetryMaxElapsed = 60 * time.Second

// Executor runs one subprocess per claimed job and records its outcome.
type Executor struct {
	store       finisher
	commandArgv []string // tokenized command template, prepended to the job's argv
	columns     []string
	mode        argfmt.Mode
	logger      *slog.Logger
}

// New builds an Executor. commandArgv is the already-tokenized command
// template (argfmt.TokenizeCommand); columns is the store's fixed param
// column order.
func New(store finisher, commandArgv []string, columns []string, mode argfmt.Mode, logger *slog.Logger) *Executor {
	return &Executor{
		store:       store,
		commandArgv: commandArgv,
		columns:     columns,
		mode:        mode,
		logger:      logger.With("component", "executor"),
	}
}

// Run spawns, streams, and waits for job's subprocess, then commits its
// outcome to the store. The returned error is only non-nil when the
// terminal Finish write itself could not be committed after retrying — a
// nonzero job exit is a normal per-job outcome the worker records and moves
// past, not a condition Run propagates to its caller.
func (e *Executor) Run(ctx context.Context, job *domain.Job) error {
	runID := runid.New()
	ctx = runid.WithRunID(logctx.WithJobID(ctx, job.ID), runID)

	start := time.Now()
	args := append(append([]string(nil), e.commandArgv[1:]...), argfmt.BuildArgs(job, e.columns, e.mode)...)

	e.logger.InfoContext(ctx, "job starting", "command", e.commandArgv[0], "args", args)

	cmd := exec.CommandContext(ctx, e.commandArgv[0], args...)

	stderrRing := newRingBuffer(stderrRingSize)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return e.finishWithRetry(ctx, job.ID, start, fmt.Errorf("spawn failed: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return e.finishWithRetry(ctx, job.ID, start, fmt.Errorf("spawn failed: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return e.finishWithRetry(ctx, job.ID, start, fmt.Errorf("spawn failed: %w", err))
	}

	done := make(chan struct{}, 2)
	go func() { e.streamLines(ctx, job.ID, "stdout", stdout, nil); done <- struct{}{} }()
	go func() { e.streamLines(ctx, job.ID, "stderr", stderr, stderrRing); done <- struct{}{} }()
	<-done
	<-done

	waitErr := cmd.Wait()

	var execErr error
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			execErr = fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), stderrRing.tail())
		} else {
			execErr = fmt.Errorf("spawn failed: %w", waitErr)
		}
	}

	return e.finishWithRetry(ctx, job.ID, start, execErr)
}

func (e *Executor) streamLines(ctx context.Context, jobID, stream string, r io.Reader, ring *ringBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		e.logger.InfoContext(ctx, line, "job_id", jobID, "stream", stream)
		if ring != nil {
			ring.add(line)
		}
	}
}

// finishWithRetry commits the job's terminal outcome, retrying the store
// write with exponential backoff on transient failure. A persistent failure
// is returned to the caller, which aborts the worker while leaving the row
// in running for a subsequent recovery sweep.
func (e *Executor) finishWithRetry(ctx context.Context, jobID string, start time.Time, execErr error) error {
	finishedAt := time.Now()
	elapsed := finishedAt.Sub(start)

	outcome := domain.OutcomeDone
	errMessage := ""
	if execErr != nil {
		outcome = domain.OutcomeError
		errMessage = execErr.Error()
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = finishRetryMaxElapsed
	b := backoff.WithContext(bo, ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := e.store.Finish(ctx, jobID, outcome, elapsed, errMessage, finishedAt)
		if err != nil && attempt > 1 {
			e.logger.WarnContext(ctx, "retrying finish write", "job_id", jobID, "attempt", attempt, "error", err)
		}
		return err
	}, b)
	if err != nil {
		return fmt.Errorf("finish job %q after retries: %w", jobID, err)
	}

	e.logger.InfoContext(ctx, "job finished", "job_id", jobID, "outcome", outcome, "elapsed", elapsed)
	return nil
}
