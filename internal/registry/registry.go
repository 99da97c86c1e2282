// Package registry owns the set of tracked lights and serializes all work on
// a single light. It is the entry point for device state changes, periodic
// checks and user commands.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightmeter/internal/autooff"
	"github.com/dokzlo13/lightmeter/internal/energy"
	"github.com/dokzlo13/lightmeter/internal/ledger"
	"github.com/dokzlo13/lightmeter/internal/light"
	"github.com/dokzlo13/lightmeter/internal/store"
)

// Recorder receives audit events. *ledger.Ledger implements it.
type Recorder interface {
	Append(eventType ledger.EventType, lightID string, payload map[string]any) (string, error)
}

// Observer is notified after a light's state changed.
type Observer interface {
	ObserveLight(p light.Profile, t light.Tracked)
	ObserveForcedOff(id string, err error)
}

// Entry pairs a profile with a state snapshot.
type Entry struct {
	Profile light.Profile `json:"profile"`
	State   light.Tracked `json:"state"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore restores and persists light totals through s. Keys are
// prefixed with prefix.
func WithStore(s store.Store, prefix string) Option {
	return func(r *Registry) {
		r.persist = &persister{store: s, prefix: prefix}
	}
}

// WithRecorder attaches an audit recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithObserver attaches an observer (metrics).
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithScheduler replaces the default auto-off scheduler.
func WithScheduler(s *autooff.Scheduler) Option {
	return func(r *Registry) { r.scheduler = s }
}

// WithCommandLimiter rate-limits forced-off commands issued by PeriodicCheck.
func WithCommandLimiter(l *rate.Limiter) Option {
	return func(r *Registry) { r.limiter = l }
}

// tracked is one registered light. op serializes adapter calls and the
// read-then-apply sequence for this light. mu guards profile and state and
// is never held across adapter I/O, so snapshots do not wait on a slow device.
type tracked struct {
	op      sync.Mutex
	mu      sync.RWMutex
	profile light.Profile
	adapter light.Adapter
	state   light.Tracked
}

// Registry maps device ids to tracked lights.
type Registry struct {
	mu     sync.RWMutex
	lights map[string]*tracked
	order  []string

	accountant *energy.Accountant
	scheduler  *autooff.Scheduler
	persist    *persister
	recorder   Recorder
	observer   Observer
	limiter    *rate.Limiter
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		lights:     make(map[string]*tracked),
		accountant: energy.New(),
		scheduler:  autooff.New(autooff.DefaultGrace),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scheduler returns the auto-off scheduler in use.
func (r *Registry) Scheduler() *autooff.Scheduler {
	return r.scheduler
}

// Register adds a light. If a store is attached, totals are restored from
// persisted values.
func (r *Registry) Register(p light.Profile, a light.Adapter, autoOff time.Duration) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if a == nil {
		return "", fmt.Errorf("%w: nil adapter for %s", light.ErrInvalidArgument, p.ID)
	}
	if autoOff < 0 {
		return "", fmt.Errorf("%w: negative auto-off for %s", light.ErrInvalidArgument, p.ID)
	}

	p.Class, _ = light.ParseClass(string(p.Class))
	if p.Class.CanDim() && !light.CanDim(a) {
		return "", fmt.Errorf("%w: adapter for %s cannot dim", light.ErrUnsupportedOperation, p.ID)
	}
	if p.Manufacturer == "" {
		p.Manufacturer = light.UnknownVendor
	}
	if p.Model == "" {
		p.Model = light.UnknownVendor
	}

	t := &tracked{
		profile: p,
		adapter: a,
		state:   light.Tracked{AutoOff: autoOff},
	}

	if r.persist != nil {
		if err := r.persist.restore(p.ID, &t.state); err != nil {
			return "", fmt.Errorf("restore %s: %w", p.ID, err)
		}
		if t.state.IsOn && t.state.LastOn != nil {
			r.scheduler.ArmIfNeeded(&t.state, *t.state.LastOn)
		}
	}

	r.mu.Lock()
	if _, exists := r.lights[p.ID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", light.ErrDuplicateID, p.ID)
	}
	r.lights[p.ID] = t
	r.order = append(r.order, p.ID)
	r.mu.Unlock()

	log.Info().
		Str("light", p.ID).
		Str("name", p.Name).
		Str("class", string(p.Class)).
		Float64("watts", p.Watts).
		Dur("auto_off", autoOff).
		Float64("runtime_seconds", t.state.RuntimeSeconds).
		Float64("energy_wh", t.state.EnergyWattHours).
		Msg("Registered light")

	t.mu.RLock()
	r.observe(t)
	t.mu.RUnlock()
	return p.ID, nil
}

func (r *Registry) lookup(id string) (*tracked, error) {
	r.mu.RLock()
	t, ok := r.lights[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", light.ErrNotFound, id)
	}
	return t, nil
}

// snapshot returns all lights in insertion order without holding the
// registry lock while reading each light.
func (r *Registry) snapshot() []*tracked {
	r.mu.RLock()
	out := make([]*tracked, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.lights[id])
	}
	r.mu.RUnlock()
	return out
}

// SwitchOn forwards an on command to the adapter.
func (r *Registry) SwitchOn(ctx context.Context, id string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}

	t.op.Lock()
	defer t.op.Unlock()

	log.Info().Str("light", id).Msg("Switching light on")
	return t.adapter.SwitchOn(ctx)
}

// SwitchOff forwards an off command to the adapter.
func (r *Registry) SwitchOff(ctx context.Context, id string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}

	t.op.Lock()
	defer t.op.Unlock()

	log.Info().Str("light", id).Msg("Switching light off")
	return t.adapter.SwitchOff(ctx)
}

// Dim forwards a dim command. The level is validated before the light's class.
func (r *Registry) Dim(ctx context.Context, id string, level float64) error {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return fmt.Errorf("%w: dim level %v outside [0,1]", light.ErrInvalidArgument, level)
	}

	t, err := r.lookup(id)
	if err != nil {
		return err
	}

	t.op.Lock()
	defer t.op.Unlock()

	t.mu.RLock()
	class := t.profile.Class
	t.mu.RUnlock()
	dimmer, ok := t.adapter.(light.Dimmer)
	if !class.CanDim() || !ok {
		return fmt.Errorf("%w: %s is a %s light", light.ErrUnsupportedOperation, id, class)
	}

	log.Info().Str("light", id).Float64("level", level).Msg("Dimming light")
	return dimmer.SetDimLevel(ctx, level)
}

// OnDeviceStateChanged reads the device state and applies the transition
// against the last known state. A report equal to the last known state is
// a no-op.
func (r *Registry) OnDeviceStateChanged(ctx context.Context, id string, now time.Time) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}

	t.op.Lock()
	defer t.op.Unlock()

	st, err := t.adapter.ReadState(ctx)
	if err != nil {
		return fmt.Errorf("read state of %s: %w", id, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	r.applyState(t, st, now)
	return nil
}

// applyState must be called with t.mu held for writing.
func (r *Registry) applyState(t *tracked, st light.State, now time.Time) {
	s := &t.state
	p := t.profile

	if st.DimLevel != nil {
		s.DimLevel = *st.DimLevel
	}

	var res energy.Result
	switch {
	case st.On && !s.IsOn:
		res = r.accountant.Accumulate(s, p, st.RawEnergyWh, true, now)
		on := now
		activated := now
		s.IsOn = true
		s.LastOn = &on
		s.LastActivated = &activated
		r.scheduler.ArmIfNeeded(s, now)

		ev := log.Info().Str("light", p.ID)
		if s.Deadline != nil {
			ev = ev.Time("deadline", *s.Deadline)
		}
		ev.Msg("Light switched on")
		r.record(ledger.EventSwitchedOn, p.ID, nil)

	case !st.On && s.IsOn:
		res = r.accountant.Accumulate(s, p, st.RawEnergyWh, false, now)
		s.IsOn = false
		s.LastOn = nil
		r.scheduler.Disarm(s)

		log.Info().
			Str("light", p.ID).
			Float64("runtime_delta", res.RuntimeSeconds).
			Float64("energy_delta_wh", res.EnergyWh).
			Float64("runtime_seconds", s.RuntimeSeconds).
			Float64("energy_wh", s.EnergyWattHours).
			Msg("Light switched off")
		r.record(ledger.EventSwitchedOff, p.ID, map[string]any{
			"runtime_seconds": res.RuntimeSeconds,
			"energy_wh":       res.EnergyWh,
		})

	default:
		log.Debug().Str("light", p.ID).Bool("on", st.On).Msg("No state change")
		if p.Class.IsMetered() && st.RawEnergyWh != nil {
			r.applyCounter(t, *st.RawEnergyWh)
		}
		return
	}

	if res.CounterReset {
		r.recordCounterReset(t)
	}

	r.save(t)
	r.observe(t)
}

// SyncCounters folds the current raw counter of every metered light into
// its energy total without waiting for a transition.
func (r *Registry) SyncCounters(ctx context.Context) error {
	var errs []error
	for _, t := range r.snapshot() {
		if !t.profile.Class.IsMetered() {
			continue
		}
		if err := r.syncCounter(ctx, t); err != nil {
			log.Warn().Err(err).Str("light", t.profile.ID).Msg("Failed to read energy counter")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) syncCounter(ctx context.Context, t *tracked) error {
	t.op.Lock()
	defer t.op.Unlock()

	st, err := t.adapter.ReadState(ctx)
	if err != nil {
		return fmt.Errorf("read state of %s: %w", t.profile.ID, err)
	}
	if st.RawEnergyWh != nil {
		t.mu.Lock()
		r.applyCounter(t, *st.RawEnergyWh)
		t.mu.Unlock()
	}
	return nil
}

// applyCounter folds a raw reading into the total. t.mu must be held for writing.
func (r *Registry) applyCounter(t *tracked, raw float64) {
	delta, reset := r.accountant.ApplyCounter(&t.state, raw)
	if reset {
		r.recordCounterReset(t)
	}

	log.Debug().
		Str("light", t.profile.ID).
		Float64("raw_wh", raw).
		Float64("delta_wh", delta).
		Msg("Energy counter synced")

	r.save(t)
	r.observe(t)
}

// Get returns a read-only snapshot of a light's state.
func (r *Registry) Get(id string) (light.Tracked, error) {
	e, err := r.Entry(id)
	if err != nil {
		return light.Tracked{}, err
	}
	return e.State, nil
}

// Entry returns the profile and state snapshot of a light.
func (r *Registry) Entry(id string) (Entry, error) {
	t, err := r.lookup(id)
	if err != nil {
		return Entry{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return Entry{Profile: t.profile, State: t.state.Clone()}, nil
}

// ListAll returns all lights in registration order.
func (r *Registry) ListAll() []Entry {
	lights := r.snapshot()
	out := make([]Entry, 0, len(lights))
	for _, t := range lights {
		t.mu.RLock()
		out = append(out, Entry{Profile: t.profile, State: t.state.Clone()})
		t.mu.RUnlock()
	}
	return out
}

// Remaining returns the time left before a light's auto-off deadline. It is
// negative once the deadline has passed; ok is false when none is armed.
func (r *Registry) Remaining(id string, now time.Time) (remaining time.Duration, ok bool, err error) {
	t, err := r.lookup(id)
	if err != nil {
		return 0, false, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	remaining, ok = r.scheduler.Remaining(t.state, now)
	return remaining, ok, nil
}

// Len returns the number of registered lights.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetAutoOff changes a light's auto-off duration. If the light is on, the
// deadline is recomputed from the time it was switched on.
func (r *Registry) SetAutoOff(id string, autoOff time.Duration, now time.Time) error {
	if autoOff < 0 {
		return fmt.Errorf("%w: negative auto-off", light.ErrInvalidArgument)
	}

	t, err := r.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.AutoOff = autoOff
	r.scheduler.Rearm(&t.state, now)

	log.Info().Str("light", id).Dur("auto_off", autoOff).Msg("Auto-off changed")
	return nil
}

// SetRatedWatts corrects the rated power draw of a light.
func (r *Registry) SetRatedWatts(id string, watts float64) error {
	if math.IsNaN(watts) || watts < 0 {
		return fmt.Errorf("%w: wattage %v", light.ErrInvalidArgument, watts)
	}

	t, err := r.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	log.Info().Str("light", id).Float64("old", t.profile.Watts).Float64("new", watts).Msg("Rated wattage corrected")
	t.profile.Watts = watts
	r.observe(t)
	return nil
}

// Reset zeroes a light's runtime and energy totals. This is the only way
// totals decrease; it is recorded in the ledger.
func (r *Registry) Reset(id string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r.record(ledger.EventTotalsReset, id, map[string]any{
		"runtime_seconds": t.state.RuntimeSeconds,
		"energy_wh":       t.state.EnergyWattHours,
	})

	t.state.RuntimeSeconds = 0
	t.state.EnergyWattHours = 0

	log.Warn().Str("light", id).Msg("Totals reset")
	r.save(t)
	r.observe(t)
	return nil
}

func (r *Registry) recordCounterReset(t *tracked) {
	raw := 0.0
	if t.state.LastRawWh != nil {
		raw = *t.state.LastRawWh
	}
	log.Warn().Str("light", t.profile.ID).Float64("raw_wh", raw).Msg("Energy counter reset detected")
	r.record(ledger.EventCounterReset, t.profile.ID, map[string]any{"raw_wh": raw})
}

func (r *Registry) record(eventType ledger.EventType, id string, payload map[string]any) {
	if r.recorder == nil {
		return
	}
	if _, err := r.recorder.Append(eventType, id, payload); err != nil {
		log.Warn().Err(err).Str("light", id).Str("event", string(eventType)).Msg("Failed to record ledger event")
	}
}

func (r *Registry) save(t *tracked) {
	if r.persist == nil {
		return
	}
	if err := r.persist.save(t.profile.ID, t.state); err != nil {
		log.Error().Err(err).Str("light", t.profile.ID).Msg("Failed to persist light state")
	}
}

func (r *Registry) observe(t *tracked) {
	if r.observer != nil {
		r.observer.ObserveLight(t.profile, t.state.Clone())
	}
}
