// Package light holds the data model shared by the accounting engine:
// light profiles, the tracked per-light state and the device capability
// interfaces adapters implement.
package light

import (
	"fmt"
	"strings"
	"time"
)

// Class is the capability class of a light device.
type Class string

const (
	ClassSwitch   Class = "switch"   // on/off only, energy derived from rated watts
	ClassDimmable Class = "dimmable" // on/off plus dim level, energy derived from rated watts
	ClassMetered  Class = "metered"  // on/off plus a raw cumulative energy counter
)

// ParseClass parses a class name from configuration.
func ParseClass(s string) (Class, error) {
	switch Class(strings.ToLower(strings.TrimSpace(s))) {
	case ClassSwitch, "":
		return ClassSwitch, nil
	case ClassDimmable:
		return ClassDimmable, nil
	case ClassMetered:
		return ClassMetered, nil
	}
	return "", fmt.Errorf("%w: unknown light class %q", ErrInvalidArgument, s)
}

// CanDim reports whether lights of this class accept dim commands.
func (c Class) CanDim() bool {
	return c == ClassDimmable
}

// IsMetered reports whether lights of this class report a raw energy counter.
func (c Class) IsMetered() bool {
	return c == ClassMetered
}

// UnknownVendor is used when no manufacturer or model is configured.
const UnknownVendor = "UNKNOWN"

// Profile is the static description of a light.
type Profile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Watts        float64 `json:"watts"`
	Class        Class   `json:"class"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// Validate checks the profile for registration.
func (p Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	if p.Watts < 0 {
		return fmt.Errorf("%w: negative wattage %v for %s", ErrInvalidArgument, p.Watts, p.ID)
	}
	if _, err := ParseClass(string(p.Class)); err != nil {
		return err
	}
	return nil
}

// Tracked is the derived operational state of one registered light.
type Tracked struct {
	RuntimeSeconds  float64 `json:"runtime_seconds"`
	EnergyWattHours float64 `json:"energy_wh"`

	// LastOn is set on OFF->ON and cleared on ON->OFF.
	LastOn *time.Time `json:"last_on,omitempty"`
	IsOn   bool       `json:"is_on"`

	DimLevel float64 `json:"dim_level,omitempty"`

	// AutoOff of zero means the light stays on indefinitely.
	AutoOff  time.Duration `json:"auto_off"`
	Deadline *time.Time    `json:"deadline,omitempty"`

	// LastRawWh shadows the last raw counter reading of a metered light.
	LastRawWh *float64 `json:"last_raw_wh,omitempty"`

	// LastActivated survives the OFF transition, for "time since last on".
	LastActivated *time.Time `json:"last_activated,omitempty"`
}

// Clone returns a deep copy safe to hand out of the registry.
func (t Tracked) Clone() Tracked {
	c := t
	c.LastOn = cloneTime(t.LastOn)
	c.Deadline = cloneTime(t.Deadline)
	c.LastActivated = cloneTime(t.LastActivated)
	if t.LastRawWh != nil {
		v := *t.LastRawWh
		c.LastRawWh = &v
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
