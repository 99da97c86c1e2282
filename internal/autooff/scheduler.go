// Package autooff arms, disarms and enforces per-light auto-off deadlines.
//
// The primary off command is expected to come from an external timer at the
// deadline. Sweep is the reconciliation pass that catches lights still on
// past their deadline plus a grace period, e.g. after a lost radio command.
package autooff

import (
	"time"

	"github.com/dokzlo13/lightmeter/internal/light"
)

// DefaultGrace is the tolerance for delivery delay of the original off command.
const DefaultGrace = 10 * time.Second

// Candidate is a snapshot of one light considered by Sweep.
type Candidate struct {
	ID    string
	Light light.Tracked
}

// Scheduler holds the deadline arithmetic.
type Scheduler struct {
	grace time.Duration
}

// New creates a Scheduler. A non-positive grace falls back to DefaultGrace.
func New(grace time.Duration) *Scheduler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Scheduler{grace: grace}
}

// Grace returns the configured grace period.
func (s *Scheduler) Grace() time.Duration {
	return s.grace
}

// ArmIfNeeded sets the deadline for a light that just turned on.
func (s *Scheduler) ArmIfNeeded(t *light.Tracked, now time.Time) {
	if t.AutoOff <= 0 {
		t.Deadline = nil
		return
	}
	d := now.Add(t.AutoOff)
	t.Deadline = &d
}

// Disarm clears the deadline.
func (s *Scheduler) Disarm(t *light.Tracked) {
	t.Deadline = nil
}

// Rearm recomputes the deadline after AutoOff changed. The deadline is
// anchored at the original switch-on time, not at now.
func (s *Scheduler) Rearm(t *light.Tracked, now time.Time) {
	if !t.IsOn {
		t.Deadline = nil
		return
	}
	anchor := now
	if t.LastOn != nil {
		anchor = *t.LastOn
	}
	s.ArmIfNeeded(t, anchor)
}

// Remaining returns the time left until the deadline. ok is false when no
// deadline is armed.
func (s *Scheduler) Remaining(t light.Tracked, now time.Time) (remaining time.Duration, ok bool) {
	if t.Deadline == nil {
		return 0, false
	}
	return t.Deadline.Sub(now), true
}

// Due reports whether the light is on and past deadline+grace.
func (s *Scheduler) Due(t light.Tracked, now time.Time) bool {
	if !t.IsOn || t.Deadline == nil {
		return false
	}
	return !now.Before(t.Deadline.Add(s.grace))
}

// Sweep returns the ids of all candidates that must be forced off,
// in candidate order.
func (s *Scheduler) Sweep(candidates []Candidate, now time.Time) []string {
	var due []string
	for _, c := range candidates {
		if s.Due(c.Light, now) {
			due = append(due, c.ID)
		}
	}
	return due
}
