package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightmeter/internal/autooff"
	"github.com/dokzlo13/lightmeter/internal/ledger"
)

// Failure is a forced-off attempt that did not succeed.
type Failure struct {
	ID  string
	Err error
}

// CheckResult reports the outcome of a periodic check.
type CheckResult struct {
	Forced []string
	Failed []Failure
}

// PeriodicCheck sweeps all lights for missed auto-off deadlines and sends an
// off command to each overdue light. Totals are not touched here: the
// resulting state change arrives later through OnDeviceStateChanged.
// A failing or slow adapter only affects its own light: the sweep reads
// snapshots under the state lock and never waits for device I/O.
func (r *Registry) PeriodicCheck(ctx context.Context, now time.Time) CheckResult {
	lights := r.snapshot()

	candidates := make([]autooff.Candidate, 0, len(lights))
	for _, t := range lights {
		t.mu.RLock()
		candidates = append(candidates, autooff.Candidate{ID: t.profile.ID, Light: t.state.Clone()})
		t.mu.RUnlock()
	}

	due := r.scheduler.Sweep(candidates, now)
	if len(due) == 0 {
		return CheckResult{}
	}

	type outcome struct {
		forced bool
		err    error
	}
	outcomes := make([]outcome, len(due))

	var wg sync.WaitGroup
	for i, id := range due {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			forced, err := r.forceOff(ctx, id, now)
			outcomes[i] = outcome{forced: forced, err: err}
		}(i, id)
	}
	wg.Wait()

	var result CheckResult
	for i, id := range due {
		switch o := outcomes[i]; {
		case o.err != nil:
			result.Failed = append(result.Failed, Failure{ID: id, Err: o.err})
		case o.forced:
			result.Forced = append(result.Forced, id)
		}
	}

	log.Info().
		Int("due", len(due)).
		Int("forced", len(result.Forced)).
		Int("failed", len(result.Failed)).
		Msg("Auto-off check completed")

	return result
}

// forceOff re-checks the deadline once it holds the light's operation
// lock, since a state change may have been applied after the sweep, then
// issues the off command.
func (r *Registry) forceOff(ctx context.Context, id string, now time.Time) (bool, error) {
	t, err := r.lookup(id)
	if err != nil {
		return false, err
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.failForcedOff(id, err)
			return false, err
		}
	}

	t.op.Lock()
	defer t.op.Unlock()

	t.mu.RLock()
	due := r.scheduler.Due(t.state, now)
	var overdue time.Duration
	if due {
		overdue = now.Sub(*t.state.Deadline)
	}
	t.mu.RUnlock()

	if !due {
		log.Debug().Str("light", id).Msg("Light no longer overdue, skipping forced off")
		return false, nil
	}

	if err := t.adapter.SwitchOff(ctx); err != nil {
		r.failForcedOff(id, err)
		return false, err
	}

	log.Warn().Str("light", id).Dur("overdue", overdue).Msg("Forced light off after missed auto-off deadline")
	r.record(ledger.EventForcedOff, id, map[string]any{"overdue_seconds": overdue.Seconds()})
	if r.observer != nil {
		r.observer.ObserveForcedOff(id, nil)
	}
	return true, nil
}

func (r *Registry) failForcedOff(id string, err error) {
	log.Error().Err(err).Str("light", id).Msg("Forced off failed")
	r.record(ledger.EventForcedOffFailed, id, map[string]any{"error": err.Error()})
	if r.observer != nil {
		r.observer.ObserveForcedOff(id, err)
	}
}
