// Package mqttplug drives Tasmota-style smart plugs over MQTT.
//
// The plug publishes its relay state on stat/<topic>/POWER and
// tele/<topic>/STATE, and its energy meter on tele/<topic>/SENSOR. Commands
// go to cmnd/<topic>/POWER.
package mqttplug

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightmeter/internal/light"
	"github.com/dokzlo13/lightmeter/internal/mqtt"
)

// Broker is the subset of *mqtt.Client the plug needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Plug is a light.Adapter backed by MQTT messages.
type Plug struct {
	broker Broker
	topic  string
	qos    byte

	mu       sync.Mutex
	seen     bool
	on       bool
	rawWh    *float64
	onChange func()
}

// New creates a plug for the device topic. Call Start to subscribe.
func New(broker Broker, topic string, qos byte) *Plug {
	return &Plug{broker: broker, topic: topic, qos: qos}
}

// SetOnChange registers a callback fired when the relay state changes.
func (p *Plug) SetOnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Start subscribes to the plug's state and sensor topics and asks the plug
// to report its current state.
func (p *Plug) Start() error {
	subs := map[string]mqtt.MessageHandler{
		p.statTopic():   p.handlePower,
		p.stateTopic():  p.handleState,
		p.sensorTopic(): p.handleSensor,
	}
	for topic, handler := range subs {
		if err := p.broker.Subscribe(topic, p.qos, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	// An empty POWER command makes Tasmota answer with its current state.
	if err := p.broker.Publish(p.commandTopic(), nil, p.qos, false); err != nil {
		log.Warn().Err(err).Str("topic", p.topic).Msg("Failed to query plug state")
	}
	return nil
}

func (p *Plug) statTopic() string    { return "stat/" + p.topic + "/POWER" }
func (p *Plug) stateTopic() string   { return "tele/" + p.topic + "/STATE" }
func (p *Plug) sensorTopic() string  { return "tele/" + p.topic + "/SENSOR" }
func (p *Plug) commandTopic() string { return "cmnd/" + p.topic + "/POWER" }

// ReadState implements light.Adapter with the last reported values.
func (p *Plug) ReadState(ctx context.Context) (light.State, error) {
	if err := ctx.Err(); err != nil {
		return light.State{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.seen {
		return light.State{}, fmt.Errorf("%w: no report from %s yet", light.ErrDeviceUnreachable, p.topic)
	}

	st := light.State{On: p.on}
	if p.rawWh != nil {
		raw := *p.rawWh
		st.RawEnergyWh = &raw
	}
	return st, nil
}

// SwitchOn implements light.Adapter.
func (p *Plug) SwitchOn(ctx context.Context) error {
	return p.command(ctx, "ON")
}

// SwitchOff implements light.Adapter.
func (p *Plug) SwitchOff(ctx context.Context) error {
	return p.command(ctx, "OFF")
}

func (p *Plug) command(ctx context.Context, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.broker.Publish(p.commandTopic(), []byte(payload), p.qos, false); err != nil {
		return fmt.Errorf("%w: %s: %w", light.ErrDeviceUnreachable, p.topic, err)
	}
	return nil
}

func (p *Plug) handlePower(_ string, payload []byte) error {
	on, err := parsePower(string(payload))
	if err != nil {
		return err
	}
	p.setPower(on)
	return nil
}

type statePayload struct {
	Power string `json:"POWER"`
}

func (p *Plug) handleState(_ string, payload []byte) error {
	var st statePayload
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if st.Power == "" {
		return nil
	}
	on, err := parsePower(st.Power)
	if err != nil {
		return err
	}
	p.setPower(on)
	return nil
}

type sensorPayload struct {
	Energy *struct {
		Total float64 `json:"Total"` // kWh
	} `json:"ENERGY"`
}

func (p *Plug) handleSensor(_ string, payload []byte) error {
	var s sensorPayload
	if err := json.Unmarshal(payload, &s); err != nil {
		return fmt.Errorf("decode sensor: %w", err)
	}
	if s.Energy == nil {
		return nil
	}

	wh := s.Energy.Total * 1000
	p.mu.Lock()
	p.rawWh = &wh
	p.mu.Unlock()
	return nil
}

func (p *Plug) setPower(on bool) {
	p.mu.Lock()
	changed := !p.seen || p.on != on
	p.seen = true
	p.on = on
	callback := p.onChange
	p.mu.Unlock()

	if changed && callback != nil {
		callback()
	}
}

func parsePower(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	}
	return false, fmt.Errorf("unexpected power payload %q", s)
}
