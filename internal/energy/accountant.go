// Package energy converts observed light states and raw counter readings
// into monotonic runtime and energy totals.
package energy

import (
	"time"

	"github.com/dokzlo13/lightmeter/internal/light"
)

const secondsPerHour = 3600.0

// Result describes what a single accounting step added.
type Result struct {
	RuntimeSeconds float64
	EnergyWh       float64
	CounterReset   bool
}

// Accountant holds no state; all state lives in the light.Tracked it mutates.
type Accountant struct{}

// New creates an Accountant.
func New() *Accountant {
	return &Accountant{}
}

// Accumulate folds one observation into the light's totals.
// raw is the freshly read counter (nil for unmetered lights or when the
// adapter didn't report one). Runtime only advances on ON->OFF, i.e. when
// t.IsOn is still true and nowOn is false. The caller flips IsOn afterwards.
func (a *Accountant) Accumulate(t *light.Tracked, p light.Profile, raw *float64, nowOn bool, now time.Time) Result {
	var res Result

	if p.Class.IsMetered() && raw != nil {
		res.EnergyWh, res.CounterReset = a.ApplyCounter(t, *raw)
	}

	if t.IsOn && !nowOn {
		res.RuntimeSeconds = a.closeOnPeriod(t, now)
		if !p.Class.IsMetered() {
			wh := p.Watts * res.RuntimeSeconds / secondsPerHour
			t.EnergyWattHours += wh
			res.EnergyWh += wh
		}
	}

	return res
}

// ApplyCounter adds the delta between raw and the last reading to the
// energy total. A reading below the last one means the device reset its
// counter, so the whole reading counts. The first reading only sets the
// baseline.
func (a *Accountant) ApplyCounter(t *light.Tracked, raw float64) (delta float64, reset bool) {
	if raw < 0 {
		raw = 0
	}

	if t.LastRawWh != nil {
		last := *t.LastRawWh
		if raw < last {
			delta = raw
			reset = true
		} else {
			delta = raw - last
		}
	}

	t.EnergyWattHours += delta
	t.LastRawWh = &raw
	return delta, reset
}

// closeOnPeriod adds the elapsed on-time since LastOn to the runtime total.
// Without a LastOn (cold start) nothing is added.
func (a *Accountant) closeOnPeriod(t *light.Tracked, now time.Time) float64 {
	if t.LastOn == nil {
		return 0
	}
	elapsed := now.Sub(*t.LastOn).Seconds()
	if elapsed <= 0 {
		return 0
	}
	t.RuntimeSeconds += elapsed
	return elapsed
}
