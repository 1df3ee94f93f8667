package deadline_test

import (
	"testing"
	"time"

	"github.com/jobscheduler/dispatcher/internal/deadline"
)

func TestBudget(t *testing.T) {
	m := deadline.Model{MaxRuntime: time.Hour, MarginTime: 10 * time.Minute}
	got := m.Budget(5 * time.Minute)
	want := 45 * time.Minute
	if got != want {
		t.Fatalf("budget = %v, want %v", got, want)
	}
}

func TestBudget_Exhausted(t *testing.T) {
	m := deadline.Model{MaxRuntime: time.Minute}
	if got := m.Budget(2 * time.Minute); got > 0 {
		t.Fatalf("expected non-positive budget, got %v", got)
	}
}

func TestAdmits_SmartSchedulingDisabled_AdmitsEverything(t *testing.T) {
	m := deadline.Model{SmartScheduling: false, SpeedFactor: 1}
	if !m.Admits(1000, time.Second) {
		t.Fatal("expected admission with smart scheduling disabled regardless of estimate")
	}
}

func TestAdmits_WithinBudget(t *testing.T) {
	m := deadline.Model{SmartScheduling: true, SpeedFactor: 1}
	// 1 hour estimate == exactly 3600s required; budget is exactly 3600s.
	if !m.Admits(1, time.Hour) {
		t.Fatal("expected admission when required exactly equals budget")
	}
}

func TestAdmits_ExceedsBudget(t *testing.T) {
	m := deadline.Model{SmartScheduling: true, SpeedFactor: 1}
	if m.Admits(2, time.Hour) {
		t.Fatal("expected rejection when required exceeds budget")
	}
}

func TestAdmits_SpeedFactorScalesRequirement(t *testing.T) {
	m := deadline.Model{SmartScheduling: true, SpeedFactor: 2}
	// 2 hours at speed factor 2 requires 3600s of budget, not 7200s.
	if !m.Admits(2, time.Hour) {
		t.Fatal("expected admission: speed factor should reduce required time")
	}
}

func TestAdmits_NonPositiveBudget(t *testing.T) {
	m := deadline.Model{SmartScheduling: true, SpeedFactor: 1}
	if m.Admits(0.1, 0) {
		t.Fatal("expected rejection of any positive-estimate job at zero budget")
	}
	if !m.Admits(0, 0) {
		t.Fatal("expected admission of a zero-estimate job even at zero budget")
	}
}
