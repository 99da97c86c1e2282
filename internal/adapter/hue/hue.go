// Package hue adapts Philips Hue bridge lights to light.Adapter using huego.
package hue

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightmeter/internal/light"
)

// Bridge is the subset of *huego.Bridge used by the adapters.
type Bridge interface {
	GetLightContext(ctx context.Context, id int) (*huego.Light, error)
	SetLightStateContext(ctx context.Context, id int, state huego.State) (*huego.Response, error)
}

const maxBri = 254

// Connect creates a bridge client and verifies the token against the bridge.
func Connect(ctx context.Context, host, token string) (*huego.Bridge, error) {
	bridge := huego.New(host, token)
	if _, err := bridge.GetConfigContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Hue bridge: %w", err)
	}
	log.Info().Str("address", host).Msg("Connected to Hue bridge")
	return bridge, nil
}

// Switch is an on/off Hue light.
type Switch struct {
	bridge  Bridge
	lightID string
	id      int
	limiter *rate.Limiter
}

// NewSwitch creates an adapter for the bridge light lightID. limiter may be
// nil; when set, it is shared by all lights of the bridge.
func NewSwitch(bridge Bridge, lightID string, limiter *rate.Limiter) (*Switch, error) {
	id, err := strconv.Atoi(lightID)
	if err != nil {
		return nil, fmt.Errorf("%w: hue light id %q", light.ErrInvalidArgument, lightID)
	}
	return &Switch{bridge: bridge, lightID: lightID, id: id, limiter: limiter}, nil
}

func (s *Switch) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *Switch) fetch(ctx context.Context) (*huego.State, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	l, err := s.bridge.GetLightContext(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("%w: hue light %s: %w", light.ErrDeviceUnreachable, s.lightID, err)
	}
	if l == nil || l.State == nil {
		return nil, fmt.Errorf("%w: hue light %s returned no state", light.ErrDeviceUnreachable, s.lightID)
	}
	if !l.State.Reachable {
		return nil, fmt.Errorf("%w: hue light %s is not reachable", light.ErrDeviceUnreachable, s.lightID)
	}
	return l.State, nil
}

func (s *Switch) apply(ctx context.Context, state huego.State) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	log.Debug().
		Str("light", s.lightID).
		Bool("on", state.On).
		Uint8("bri", state.Bri).
		Msg("Applying state to Hue light")

	if _, err := s.bridge.SetLightStateContext(ctx, s.id, state); err != nil {
		return fmt.Errorf("%w: hue light %s: %w", light.ErrDeviceUnreachable, s.lightID, err)
	}
	return nil
}

// ReadState implements light.Adapter.
func (s *Switch) ReadState(ctx context.Context) (light.State, error) {
	st, err := s.fetch(ctx)
	if err != nil {
		return light.State{}, err
	}
	return light.State{On: st.On}, nil
}

// SwitchOn implements light.Adapter.
func (s *Switch) SwitchOn(ctx context.Context) error {
	return s.apply(ctx, huego.State{On: true})
}

// SwitchOff implements light.Adapter.
func (s *Switch) SwitchOff(ctx context.Context) error {
	return s.apply(ctx, huego.State{On: false})
}

// Dimmer is a dimmable Hue light. It counts as on whenever the bridge
// reports it on with a brightness above zero.
type Dimmer struct {
	*Switch
}

// NewDimmer creates a dimmable adapter for the bridge light lightID.
func NewDimmer(bridge Bridge, lightID string, limiter *rate.Limiter) (*Dimmer, error) {
	s, err := NewSwitch(bridge, lightID, limiter)
	if err != nil {
		return nil, err
	}
	return &Dimmer{Switch: s}, nil
}

// ReadState implements light.Adapter.
func (d *Dimmer) ReadState(ctx context.Context) (light.State, error) {
	st, err := d.fetch(ctx)
	if err != nil {
		return light.State{}, err
	}

	level := 0.0
	if st.On {
		level = BriToLevel(st.Bri)
	}
	return light.State{On: level > 0, DimLevel: &level}, nil
}

// SwitchOn turns the light on at full brightness.
func (d *Dimmer) SwitchOn(ctx context.Context) error {
	return d.apply(ctx, huego.State{On: true, Bri: maxBri})
}

// SetDimLevel implements light.Dimmer. Level 0 switches the light off.
func (d *Dimmer) SetDimLevel(ctx context.Context, level float64) error {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return fmt.Errorf("%w: dim level %v", light.ErrInvalidArgument, level)
	}
	if level == 0 {
		return d.SwitchOff(ctx)
	}
	return d.apply(ctx, huego.State{On: true, Bri: LevelToBri(level)})
}

// LevelToBri maps a level in (0,1] to Hue brightness 1..254.
func LevelToBri(level float64) uint8 {
	bri := math.Round(level * maxBri)
	if bri < 1 {
		bri = 1
	}
	if bri > maxBri {
		bri = maxBri
	}
	return uint8(bri)
}

// BriToLevel maps Hue brightness to a level in [0,1].
func BriToLevel(bri uint8) float64 {
	if bri >= maxBri {
		return 1
	}
	return float64(bri) / maxBri
}
