// Package argfmt builds the argument vector the Executor passes to a
// subprocess, and tokenizes the command template string into its own argv
// prefix.
//
// Positional mode appends each user-param value in column order, keeping
// empty strings as placeholders. Named mode flattens to [--k1, v1, --k2,
// v2, ...] in column order, verbatim (no shell quoting — the Executor spawns
// via argv, not a shell, so values containing spaces survive).
package argfmt

import (
	"fmt"

	"github.com/google/shlex"
	"github.com/jobscheduler/dispatcher/internal/domain"
)

// Mode selects positional or named argument formatting.
type Mode int

const (
	Positional Mode = iota
	Named
)

// BuildArgs returns the argument vector for job, in columns, according to
// mode. columns is the user-param column order fixed at store Initialize
// time; it may differ in length/order from job.Params only if the caller
// passes a stale schema, which is treated as a programmer error (not
// defended against here — the caller owns consistency).
func BuildArgs(job *domain.Job, columns []string, mode Mode) []string {
	switch mode {
	case Named:
		args := make([]string, 0, len(columns)*2)
		for _, col := range columns {
			value, _ := job.ParamValue(col)
			args = append(args, "--"+col, value)
		}
		return args
	default:
		args := make([]string, 0, len(columns))
		for _, col := range columns {
			value, _ := job.ParamValue(col)
			args = append(args, value)
		}
		return args
	}
}

// TokenizeCommand splits a shell-syntax command template (e.g. "bash
// run.sh") into its own argv using a POSIX-ish tokenizer, so that the
// Executor can append BuildArgs' output and spawn the whole thing as one
// argv vector without a shell in between.
func TokenizeCommand(template string) ([]string, error) {
	tokens, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("tokenize command template %q: %w", template, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("tokenize command template %q: empty after tokenizing", template)
	}
	return tokens, nil
}
