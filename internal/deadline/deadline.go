// Package deadline computes a worker's remaining claim-admission budget and
// the smart-scheduling filter that rejects jobs whose estimated runtime
// would exceed it.
//
// max_runtime is a soft deadline for claim admission only; the host batch
// scheduler's hard wall-clock kill remains authoritative for actual
// termination. margin_time exists to leave headroom for in-flight jobs to
// commit their Finish before that hard kill lands.
package deadline

import "time"

// Model holds the deadline parameters a worker is started with.
type Model struct {
	MaxRuntime      time.Duration
	MarginTime      time.Duration
	SpeedFactor     float64
	SmartScheduling bool
}

// DefaultModel matches the worker CLI's own flag defaults.
func DefaultModel() Model {
	return Model{
		MaxRuntime:      24 * time.Hour,
		MarginTime:      0,
		SpeedFactor:     1.0,
		SmartScheduling: true,
	}
}

// Budget returns the remaining claim-admission budget at elapsed time since
// worker start. A non-positive result means the worker should stop claiming
// new jobs.
func (m Model) Budget(elapsed time.Duration) time.Duration {
	return m.MaxRuntime - m.MarginTime - elapsed
}

// Admits reports whether a job whose estimated runtime is estimateHours can
// be admitted under the given remaining budget.
//
// When SmartScheduling is disabled, every job is admitted regardless of
// estimate. Otherwise a job is admitted when its estimate, scaled by
// SpeedFactor and converted to the same units as budget, doesn't exceed it
// — this single formula already rejects every positive-estimate job once
// budget reaches zero, and every job once it is negative (estimate is never
// negative), so callers don't need to special-case a non-positive budget
// themselves; the worker loop still checks Budget
// up front so it never bothers calling TryClaim at all once its time is up.
func (m Model) Admits(estimateHours float64, budget time.Duration) bool {
	if !m.SmartScheduling {
		return true
	}
	required := estimateHours * float64(time.Hour) / m.SpeedFactor
	return required <= float64(budget)
}
