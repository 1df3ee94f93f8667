package store

import (
	"time"

	"github.com/jobscheduler/dispatcher/internal/deadline"
)

// unlimitedBudget is a stand-in for "no deadline pressure" in tests that
// aren't exercising the deadline model itself.
const unlimitedBudget = 365 * 24 * time.Hour

func unlimitedModel() deadline.Model {
	return deadline.Model{SmartScheduling: false}
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}
