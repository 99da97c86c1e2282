package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightmeter/internal/adapter/sim"
	"github.com/dokzlo13/lightmeter/internal/config"
)

func testConfig(t *testing.T, dbPath string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
database:
  path: %s
http:
  enabled: false
autooff:
  grace: 10s
lights:
  - id: hall
    watts: 60
    auto_off: 1m
  - id: desk
    watts: 9
    class: dimmable
  - id: heater
    class: metered
`, dbPath)))
	require.NoError(t, err)
	return cfg
}

func newTestServices(t *testing.T, cfg *config.Config) *Services {
	t.Helper()
	s, err := NewServices(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Devices.Connect(context.Background()))
	return s
}

func TestSimAdapters(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "lm.sqlite"))
	s := newTestServices(t, cfg)
	defer s.Close()

	tests := []struct {
		name string
		lc   config.LightConfig
		want any
	}{
		{name: "switch", lc: config.LightConfig{ID: "a", Driver: config.DriverSim}, want: &sim.Device{}},
		{name: "dimmable", lc: config.LightConfig{ID: "b", Class: "dimmable", Driver: config.DriverSim}, want: &sim.Dimmer{}},
		{name: "metered", lc: config.LightConfig{ID: "c", Class: "metered", Driver: config.DriverSim}, want: &sim.Device{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := s.Devices.newAdapter(tt.lc)
			require.NoError(t, err)
			assert.IsType(t, tt.want, a)
		})
	}

	_, err := s.Devices.newAdapter(config.LightConfig{ID: "x", Driver: "zigbee"})
	assert.Error(t, err)
}

func TestCheckForcesOverdueLightAndPersists(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "lm.sqlite")
	t0 := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	s := newTestServices(t, testConfig(t, dbPath))
	assert.Equal(t, 3, s.Registry.Len())

	require.NoError(t, s.Registry.SwitchOn(ctx, "hall"))
	require.NoError(t, s.Registry.OnDeviceStateChanged(ctx, "hall", t0))

	s.Check.now = func() time.Time { return t0.Add(65 * time.Second) }
	res := s.Check.RunOnce(ctx)
	assert.Empty(t, res.Forced, "still within grace")

	s.Check.now = func() time.Time { return t0.Add(2 * time.Minute) }
	res = s.Check.RunOnce(ctx)
	assert.Equal(t, []string{"hall"}, res.Forced)
	assert.Empty(t, res.Failed)

	require.NoError(t, s.Registry.OnDeviceStateChanged(ctx, "hall", t0.Add(2*time.Minute)))
	hall, err := s.Registry.Get("hall")
	require.NoError(t, err)
	assert.False(t, hall.IsOn)
	assert.InDelta(t, 120.0, hall.RuntimeSeconds, 1e-9)
	assert.InDelta(t, 2.0, hall.EnergyWattHours, 1e-9)
	s.Close()

	// Totals survive a restart.
	s = newTestServices(t, testConfig(t, dbPath))
	hall, err = s.Registry.Get("hall")
	require.NoError(t, err)
	assert.InDelta(t, 120.0, hall.RuntimeSeconds, 1e-9)

	history, err := s.Ledger.GetByLight("hall", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, history)
	s.Close()
}

func TestClearState(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "lm.sqlite")
	t0 := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	s := newTestServices(t, testConfig(t, dbPath))
	require.NoError(t, s.Registry.SwitchOn(ctx, "hall"))
	require.NoError(t, s.Registry.OnDeviceStateChanged(ctx, "hall", t0))
	require.NoError(t, s.Registry.SwitchOff(ctx, "hall"))
	require.NoError(t, s.Registry.OnDeviceStateChanged(ctx, "hall", t0.Add(time.Minute)))
	s.Close()

	s, err := NewServices(testConfig(t, dbPath))
	require.NoError(t, err)
	require.NoError(t, s.ClearState())
	require.NoError(t, s.Devices.Connect(ctx))
	defer s.Close()

	hall, err := s.Registry.Get("hall")
	require.NoError(t, err)
	assert.Zero(t, hall.RuntimeSeconds)
	assert.Zero(t, hall.EnergyWattHours)
}

func TestReadyWithoutMQTT(t *testing.T) {
	s := newTestServices(t, testConfig(t, filepath.Join(t.TempDir(), "lm.sqlite")))
	defer s.Close()
	assert.NoError(t, s.ready())
}
