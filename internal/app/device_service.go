package app

import (
	"context"
	"fmt"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightmeter/internal/adapter/hue"
	"github.com/dokzlo13/lightmeter/internal/adapter/mqttplug"
	"github.com/dokzlo13/lightmeter/internal/adapter/sim"
	"github.com/dokzlo13/lightmeter/internal/config"
	"github.com/dokzlo13/lightmeter/internal/eventbus"
	"github.com/dokzlo13/lightmeter/internal/light"
	"github.com/dokzlo13/lightmeter/internal/mqtt"
	"github.com/dokzlo13/lightmeter/internal/registry"
)

// DeviceService connects device backends, builds an adapter per configured
// light and turns device activity into device_changed events.
type DeviceService struct {
	cfg      *config.Config
	registry *registry.Registry
	bus      *eventbus.Bus

	Bridge *huego.Bridge // nil unless a hue light is configured
	MQTT   *mqtt.Client  // nil unless mqtt is enabled

	hueLimiter *rate.Limiter
	hueLights  []string
	plugs      []*mqttplug.Plug
}

// NewDeviceService creates a new DeviceService.
func NewDeviceService(cfg *config.Config, reg *registry.Registry, bus *eventbus.Bus) *DeviceService {
	rps := cfg.Hue.RateLimitRPS
	return &DeviceService{
		cfg:        cfg,
		registry:   reg,
		bus:        bus,
		hueLimiter: rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
	}
}

// Connect connects to the configured backends and registers every light.
func (s *DeviceService) Connect(ctx context.Context) error {
	if s.needsHue() {
		connectCtx, cancel := context.WithTimeout(ctx, s.cfg.Hue.Timeout.Duration())
		bridge, err := hue.Connect(connectCtx, s.cfg.Hue.Bridge, s.cfg.Hue.Token)
		cancel()
		if err != nil {
			return err
		}
		s.Bridge = bridge
	}

	if s.cfg.MQTT.Enabled {
		client, err := mqtt.Connect(s.cfg.MQTT)
		if err != nil {
			return err
		}
		s.MQTT = client
	}

	for _, lc := range s.cfg.Lights {
		a, err := s.newAdapter(lc)
		if err != nil {
			return fmt.Errorf("light %s: %w", lc.ID, err)
		}
		if _, err := s.registry.Register(lc.Profile(), a, lc.AutoOff.Duration()); err != nil {
			return err
		}
	}

	log.Info().
		Int("lights", s.registry.Len()).
		Bool("hue", s.Bridge != nil).
		Bool("mqtt", s.MQTT != nil).
		Msg("Devices connected")
	return nil
}

func (s *DeviceService) needsHue() bool {
	for _, lc := range s.cfg.Lights {
		if lc.Driver == config.DriverHue {
			return true
		}
	}
	return false
}

func (s *DeviceService) newAdapter(lc config.LightConfig) (light.Adapter, error) {
	class := lc.Profile().Class

	switch lc.Driver {
	case config.DriverHue:
		s.hueLights = append(s.hueLights, lc.ID)
		if class.CanDim() {
			return hue.NewDimmer(s.Bridge, lc.HueID, s.hueLimiter)
		}
		return hue.NewSwitch(s.Bridge, lc.HueID, s.hueLimiter)

	case config.DriverMQTT:
		plug := mqttplug.New(s.MQTT, lc.MQTTTopic, byte(s.cfg.MQTT.QoS))
		id := lc.ID
		plug.SetOnChange(func() { s.publish(id, "mqtt") })
		s.plugs = append(s.plugs, plug)
		return plug, nil

	case config.DriverSim:
		switch {
		case class.CanDim():
			return sim.NewDimmer(), nil
		case class.IsMetered():
			return sim.NewMetered(0), nil
		}
		return sim.NewSwitch(), nil
	}
	return nil, fmt.Errorf("%w: unknown driver %q", light.ErrInvalidArgument, lc.Driver)
}

// StartBackground subscribes MQTT plugs and starts polling the Hue bridge.
func (s *DeviceService) StartBackground(ctx context.Context) {
	for _, p := range s.plugs {
		if err := p.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to subscribe plug")
		}
	}

	if len(s.hueLights) > 0 {
		go s.pollHue(ctx)
	}
}

// pollHue asks for every Hue light to be re-read each interval. Unchanged
// lights are no-ops in the registry.
func (s *DeviceService) pollHue(ctx context.Context) {
	interval := s.cfg.Hue.PollInterval.Duration()
	log.Info().Dur("interval", interval).Int("lights", len(s.hueLights)).Msg("Hue poller started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Hue poller stopping")
			return
		case <-ticker.C:
			for _, id := range s.hueLights {
				s.publish(id, "hue_poll")
			}
		}
	}
}

// RefreshAll asks for every registered light to be re-read.
func (s *DeviceService) RefreshAll(source string) {
	for _, e := range s.registry.ListAll() {
		s.publish(e.Profile.ID, source)
	}
}

func (s *DeviceService) publish(id, source string) {
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeDeviceChanged,
		Key:  id,
		Data: map[string]interface{}{"source": source},
	})
}

// Close disconnects from the MQTT broker.
func (s *DeviceService) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
}
