package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightmeter/internal/light"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
pricing:
  price_per_kwh: 0.2
lights:
  - id: hall
    watts: 60
`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "LC_", cfg.Pricing.Prefix)
	assert.Equal(t, 30*time.Second, cfg.AutoOff.CheckInterval.Duration())
	assert.Equal(t, 10*time.Second, cfg.AutoOff.Grace.Duration())
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 4, cfg.EventBus.GetWorkers())
	assert.Equal(t, 100, cfg.EventBus.GetQueueSize())
	require.Len(t, cfg.Lights, 1)
	assert.Equal(t, DriverSim, cfg.Lights[0].Driver)

	p := cfg.Lights[0].Profile()
	assert.Equal(t, "hall", p.Name)
	assert.Equal(t, light.ClassSwitch, p.Class)
}

func TestParseLights(t *testing.T) {
	t.Setenv("LIGHTMETER_HUE_TOKEN", "secret")

	cfg, err := Parse([]byte(`
hue:
  bridge: 192.168.1.2
  token: ${LIGHTMETER_HUE_TOKEN}
mqtt:
  enabled: true
  broker:
    host: ${LIGHTMETER_MQTT_HOST:localhost}
lights:
  - id: desk
    name: Desk lamp
    watts: 9.5
    class: dimmable
    driver: hue
    hue_id: "3"
    auto_off: 15m
    manufacturer: Signify
  - id: heater
    class: metered
    driver: mqtt
    mqtt_topic: plug_heater
`))
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Hue.Token)
	assert.Equal(t, "localhost", cfg.MQTT.Broker.Host)
	assert.Equal(t, 1883, cfg.MQTT.Broker.Port)

	desk := cfg.Lights[0]
	assert.Equal(t, 15*time.Minute, desk.AutoOff.Duration())
	assert.Equal(t, light.ClassDimmable, desk.Profile().Class)
	assert.Equal(t, "Signify", desk.Profile().Manufacturer)
	assert.Equal(t, "plug_heater", cfg.Lights[1].MQTTTopic)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "duplicate id",
			yaml: `
lights:
  - id: hall
  - id: hall
`,
			wantErr: "duplicate id",
		},
		{
			name: "negative watts",
			yaml: `
lights:
  - id: hall
    watts: -1
`,
			wantErr: "watts must not be negative",
		},
		{
			name: "unknown class",
			yaml: `
lights:
  - id: hall
    class: rgbw
`,
			wantErr: "unknown light class",
		},
		{
			name: "unknown driver",
			yaml: `
lights:
  - id: hall
    driver: zigbee
`,
			wantErr: "unknown driver",
		},
		{
			name: "hue light without bridge",
			yaml: `
lights:
  - id: hall
    driver: hue
    hue_id: "1"
`,
			wantErr: "hue.bridge",
		},
		{
			name: "mqtt light without broker",
			yaml: `
lights:
  - id: hall
    driver: mqtt
    mqtt_topic: plug
`,
			wantErr: "mqtt is not enabled",
		},
		{
			name: "negative price",
			yaml: `
pricing:
  price_per_kwh: -0.1
`,
			wantErr: "price_per_kwh",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("LIGHTMETER_TEST_VAR", "value")

	assert.Equal(t, "value", ExpandEnvString("${LIGHTMETER_TEST_VAR}"))
	assert.Equal(t, "fallback", ExpandEnvString("${LIGHTMETER_UNSET_VAR:fallback}"))
	assert.Equal(t, "plain", ExpandEnvString("plain"))
}
