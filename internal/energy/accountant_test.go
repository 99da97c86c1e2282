package energy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightmeter/internal/light"
)

var t0 = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func TestApplyCounter_ResetDetection(t *testing.T) {
	a := New()
	tr := &light.Tracked{}

	var resets int
	for _, raw := range []float64{100, 150, 30, 80} {
		if _, reset := a.ApplyCounter(tr, raw); reset {
			resets++
		}
	}

	assert.Equal(t, 130.0, tr.EnergyWattHours)
	assert.Equal(t, 1, resets)
	require.NotNil(t, tr.LastRawWh)
	assert.Equal(t, 80.0, *tr.LastRawWh)
}

func TestApplyCounter_NoResetEqualsFinalMinusFirst(t *testing.T) {
	sequences := [][]float64{
		{10},
		{10, 10, 10},
		{0, 5, 12.5, 40, 40, 41},
		{1000, 1001, 1500, 2500},
	}

	for _, seq := range sequences {
		a := New()
		tr := &light.Tracked{}
		for _, raw := range seq {
			a.ApplyCounter(tr, raw)
		}
		assert.InDelta(t, seq[len(seq)-1]-seq[0], tr.EnergyWattHours, 1e-9, "sequence %v", seq)
	}
}

func TestApplyCounter_NegativeReadingClamped(t *testing.T) {
	a := New()
	tr := &light.Tracked{}
	a.ApplyCounter(tr, 20)
	a.ApplyCounter(tr, -5)
	assert.Equal(t, 0.0, tr.EnergyWattHours)
	assert.Equal(t, 0.0, *tr.LastRawWh)
}

func TestAccumulate_UnmeteredOnePeriod(t *testing.T) {
	a := New()
	p := light.Profile{ID: "hall", Watts: 60, Class: light.ClassSwitch}
	on := t0
	tr := &light.Tracked{IsOn: true, LastOn: &on}

	res := a.Accumulate(tr, p, nil, false, t0.Add(time.Hour))

	assert.Equal(t, 3600.0, tr.RuntimeSeconds)
	assert.Equal(t, 60.0, tr.EnergyWattHours)
	assert.Equal(t, 3600.0, res.RuntimeSeconds)
	assert.Equal(t, 60.0, res.EnergyWh)
}

func TestAccumulate_MeteredIgnoresRatedWatts(t *testing.T) {
	a := New()
	p := light.Profile{ID: "plug", Watts: 60, Class: light.ClassMetered}
	on := t0
	tr := &light.Tracked{IsOn: true, LastOn: &on, LastRawWh: ptr(100)}

	res := a.Accumulate(tr, p, ptr(112.5), false, t0.Add(30*time.Minute))

	assert.Equal(t, 1800.0, tr.RuntimeSeconds)
	assert.Equal(t, 12.5, tr.EnergyWattHours)
	assert.Equal(t, 12.5, res.EnergyWh)
}

func TestAccumulate_MissingLastOnIsNoop(t *testing.T) {
	a := New()
	p := light.Profile{ID: "hall", Watts: 60, Class: light.ClassSwitch}
	tr := &light.Tracked{IsOn: true}

	res := a.Accumulate(tr, p, nil, false, t0)

	assert.Equal(t, Result{}, res)
	assert.Equal(t, light.Tracked{IsOn: true}, *tr)
}

func TestAccumulate_ClockSkewAddsNothing(t *testing.T) {
	a := New()
	p := light.Profile{ID: "hall", Watts: 60, Class: light.ClassDimmable}
	on := t0
	tr := &light.Tracked{IsOn: true, LastOn: &on}

	a.Accumulate(tr, p, nil, false, t0.Add(-time.Minute))

	assert.Equal(t, 0.0, tr.RuntimeSeconds)
	assert.Equal(t, 0.0, tr.EnergyWattHours)
}

func TestAccumulate_OnToOnAddsNoRuntime(t *testing.T) {
	a := New()
	p := light.Profile{ID: "hall", Watts: 60, Class: light.ClassSwitch}
	on := t0
	tr := &light.Tracked{IsOn: true, LastOn: &on}

	a.Accumulate(tr, p, nil, true, t0.Add(time.Hour))

	assert.Equal(t, 0.0, tr.RuntimeSeconds)
}
