package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jobscheduler/dispatcher/internal/argfmt"
	"github.com/jobscheduler/dispatcher/internal/domain"
)

type fakeFinisher struct {
	calls []finishCall
}

type finishCall struct {
	jobID      string
	outcome    domain.Outcome
	errMessage string
}

func (f *fakeFinisher) Finish(_ context.Context, jobID string, outcome domain.Outcome, _ time.Duration, errMessage string, _ time.Time) error {
	f.calls = append(f.calls, finishCall{jobID: jobID, outcome: outcome, errMessage: errMessage})
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSuccessfulCommand(t *testing.T) {
	fin := &fakeFinisher{}
	e := New(fin, []string{"true"}, nil, argfmt.Positional, discardLogger())

	job := &domain.Job{ID: "A"}
	if err := e.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fin.calls) != 1 {
		t.Fatalf("Finish calls = %d, want 1", len(fin.calls))
	}
	if fin.calls[0].outcome != domain.OutcomeDone {
		t.Fatalf("outcome = %s, want done", fin.calls[0].outcome)
	}
}

func TestRunFailingCommandRecordsErrorOutcome(t *testing.T) {
	fin := &fakeFinisher{}
	e := New(fin, []string{"sh", "-c", "echo boom >&2; exit 3"}, nil, argfmt.Positional, discardLogger())

	job := &domain.Job{ID: "B"}
	if err := e.Run(context.Background(), job); err != nil {
		t.Fatalf("Run should not itself error on a nonzero job exit: %v", err)
	}

	if len(fin.calls) != 1 {
		t.Fatalf("Finish calls = %d, want 1", len(fin.calls))
	}
	call := fin.calls[0]
	if call.outcome != domain.OutcomeError {
		t.Fatalf("outcome = %s, want error", call.outcome)
	}
	if call.errMessage == "" {
		t.Fatal("expected a non-empty error_message for a failing job")
	}
}

func TestRunSpawnFailureRecordsErrorOutcome(t *testing.T) {
	fin := &fakeFinisher{}
	e := New(fin, []string{"/no/such/executable-xyz"}, nil, argfmt.Positional, discardLogger())

	job := &domain.Job{ID: "C"}
	if err := e.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fin.calls) != 1 || fin.calls[0].outcome != domain.OutcomeError {
		t.Fatalf("calls = %+v, want one error outcome", fin.calls)
	}
}

func TestRunPassesPositionalArgsInColumnOrder(t *testing.T) {
	fin := &fakeFinisher{}
	// `printenv` isn't predictable across shells for argv; use `sh -c` to
	// test $1 and $2, so the exit status shows whether the expected argv
	// was delivered.
	e := New(fin, []string{"sh", "-c", `[ "$1" = "a.csv" ] && [ "$2" = "out" ]`, "--"}, []string{"input", "output"}, argfmt.Positional, discardLogger())

	job := &domain.Job{ID: "D", Params: []domain.Param{
		{Name: "input", Value: "a.csv"},
		{Name: "output", Value: "out"},
	}}
	if err := e.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fin.calls[0].outcome != domain.OutcomeDone {
		t.Fatalf("outcome = %s, want done (argv mismatch): %s", fin.calls[0].outcome, fin.calls[0].errMessage)
	}
}

func TestFinishRetriesOnTransientFailure(t *testing.T) {
	attempts := 0
	fin := finisherFunc(func(context.Context, string, domain.Outcome, time.Duration, string, time.Time) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient store busy")
		}
		return nil
	})
	e := New(fin, []string{"true"}, nil, argfmt.Positional, discardLogger())

	job := &domain.Job{ID: "E"}
	if err := e.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

type finisherFunc func(ctx context.Context, jobID string, outcome domain.Outcome, elapsed time.Duration, errMessage string, finishedAt time.Time) error

func (f finisherFunc) Finish(ctx context.Context, jobID string, outcome domain.Outcome, elapsed time.Duration, errMessage string, finishedAt time.Time) error {
	return f(ctx, jobID, outcome, elapsed, errMessage, finishedAt)
}

func TestRingBufferKeepsOnlyLastNLines(t *testing.T) {
	r := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		r.add(string(rune('a' + i)))
	}
	got := r.tail()
	want := "c\nd\ne"
	if got != want {
		t.Fatalf("tail = %q, want %q", got, want)
	}
}
