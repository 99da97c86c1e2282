// Package sim provides in-process simulated light devices. They back the
// "sim" driver in configuration and are used throughout the tests.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dokzlo13/lightmeter/internal/light"
)

// Device simulates an on/off light, optionally with an energy counter.
type Device struct {
	mu sync.Mutex

	on       bool
	metered  bool
	rawWh    float64
	level    float64
	dimmable bool

	unreachable bool
	failOff     bool
	delay       time.Duration

	onCalls  int
	offCalls int
}

// NewSwitch creates a plain on/off device.
func NewSwitch() *Device {
	return &Device{}
}

// NewMetered creates a device reporting a raw cumulative counter starting at rawWh.
func NewMetered(rawWh float64) *Device {
	return &Device{metered: true, rawWh: rawWh}
}

// ReadState implements light.Adapter.
func (d *Device) ReadState(ctx context.Context) (light.State, error) {
	if err := d.wait(ctx); err != nil {
		return light.State{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.unreachable {
		return light.State{}, fmt.Errorf("%w: simulated device offline", light.ErrDeviceUnreachable)
	}

	st := light.State{On: d.on}
	if d.dimmable {
		level := d.level
		st.DimLevel = &level
	}
	if d.metered {
		raw := d.rawWh
		st.RawEnergyWh = &raw
	}
	return st, nil
}

// SwitchOn implements light.Adapter.
func (d *Device) SwitchOn(ctx context.Context) error {
	if err := d.wait(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.onCalls++
	if d.unreachable {
		return fmt.Errorf("%w: simulated device offline", light.ErrDeviceUnreachable)
	}
	d.on = true
	if d.dimmable {
		d.level = 1
	}
	return nil
}

// SwitchOff implements light.Adapter.
func (d *Device) SwitchOff(ctx context.Context) error {
	if err := d.wait(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.offCalls++
	if d.unreachable || d.failOff {
		return fmt.Errorf("%w: simulated off command lost", light.ErrDeviceUnreachable)
	}
	d.on = false
	if d.dimmable {
		d.level = 0
	}
	return nil
}

func (d *Device) wait(ctx context.Context) error {
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetOn changes the physical state without a command, as a wall switch would.
func (d *Device) SetOn(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.on = on
	if d.dimmable {
		if on && d.level == 0 {
			d.level = 1
		} else if !on {
			d.level = 0
		}
	}
}

// SetRaw sets the raw counter reading.
func (d *Device) SetRaw(wh float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rawWh = wh
}

// AddEnergy advances the raw counter.
func (d *Device) AddEnergy(wh float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rawWh += wh
}

// ResetCounter drops the raw counter to zero, as after a power cycle.
func (d *Device) ResetCounter() {
	d.SetRaw(0)
}

// SetUnreachable makes every call fail with light.ErrDeviceUnreachable.
func (d *Device) SetUnreachable(unreachable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unreachable = unreachable
}

// FailSwitchOff makes off commands fail while reads keep working.
func (d *Device) FailSwitchOff(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOff = fail
}

// SetDelay adds latency to every call.
func (d *Device) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// IsOn reports the physical state.
func (d *Device) IsOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

// OffCalls returns the number of off commands received.
func (d *Device) OffCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offCalls
}

// OnCalls returns the number of on commands received.
func (d *Device) OnCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onCalls
}

// Dimmer simulates a dimmable light. It is on whenever its level is above zero.
type Dimmer struct {
	*Device
}

// NewDimmer creates a dimmable device, initially off.
func NewDimmer() *Dimmer {
	return &Dimmer{Device: &Device{dimmable: true}}
}

// SetDimLevel implements light.Dimmer.
func (d *Dimmer) SetDimLevel(ctx context.Context, level float64) error {
	if level < 0 || level > 1 {
		return fmt.Errorf("%w: dim level %v", light.ErrInvalidArgument, level)
	}
	if err := d.wait(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.unreachable {
		return fmt.Errorf("%w: simulated device offline", light.ErrDeviceUnreachable)
	}
	d.level = level
	d.on = level > 0
	return nil
}

// Level returns the current dim level.
func (d *Dimmer) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}
