// Package depgraph classifies a pending job's readiness from the status of
// its predecessors, and validates the dependency graph at import time.
//
// The resolver itself is a pure function: it never touches the store.
// Callers (the claim engine) are responsible for supplying a fresh
// point-query of predecessor status — readiness is evaluated at claim
// time, never cached, so a predecessor that finishes between two claim
// attempts is picked up on the very next one.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jobscheduler/dispatcher/internal/domain"
)

// Classify returns the Readiness of a job given the statuses of its
// predecessors (keyed by job_id). A missing entry is not expected —
// ValidateAcyclic guarantees every depends_on id resolves to an existing
// job, so a missing entry here indicates a caller bug, not a data
// condition; Classify treats it as Waiting to stay conservative.
func Classify(job *domain.Job, predecessorStatus map[string]domain.Status) domain.Readiness {
	if len(job.DependsOn) == 0 {
		return domain.Ready
	}

	sawWaiting := false
	for _, dep := range job.DependsOn {
		status, ok := predecessorStatus[dep]
		if !ok {
			sawWaiting = true
			continue
		}
		switch status {
		case domain.StatusError:
			return domain.Blocked
		case domain.StatusPending, domain.StatusRunning:
			sawWaiting = true
		case domain.StatusDone:
			// satisfied, keep checking the rest
		}
	}

	if sawWaiting {
		return domain.Waiting
	}
	return domain.Ready
}

// ParseDependsOn splits the whitespace-separated depends_on column text into
// an ordered, deduplicated list of job ids.
func ParseDependsOn(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// FormatDependsOn serializes a dependency list back to the whitespace
// separated column text, in a deterministic (sorted) order so that exports
// are stable across runs regardless of insertion order.
func FormatDependsOn(deps []string) string {
	if len(deps) == 0 {
		return ""
	}
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// ErrCycle is returned by ValidateAcyclic when the dependency graph contains
// a cycle.
type ErrCycle struct {
	Cycle []string
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// ErrMissingDependency is returned by ValidateAcyclic when a job's
// depends_on references a job_id that does not exist among the jobs being
// validated.
type ErrMissingDependency struct {
	JobID        string
	MissingDepID string
}

func (e *ErrMissingDependency) Error() string {
	return fmt.Sprintf("job %q depends on unknown job %q", e.JobID, e.MissingDepID)
}

// ValidateAcyclic checks that every depends_on id in jobs resolves to a job
// present in jobs, and that the resulting graph has no cycles. It is run
// once at import time (AddJobs); the runtime resolver then only needs point
// queries against current status, not graph traversal.
func ValidateAcyclic(jobs []*domain.Job) error {
	byID := make(map[string]*domain.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	for _, j := range jobs {
		for _, dep := range j.DependsOn {
			if _, ok := byID[dep]; !ok {
				return &ErrMissingDependency{JobID: j.ID, MissingDepID: dep}
			}
		}
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(jobs))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				// Found the back-edge that closes the cycle; report the
				// portion of the stack from dep onward.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), dep)
				return &ErrCycle{Cycle: cycle}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, j := range jobs {
		if color[j.ID] == white {
			if err := visit(j.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
