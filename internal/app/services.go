package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightmeter/internal/archive"
	"github.com/dokzlo13/lightmeter/internal/autooff"
	"github.com/dokzlo13/lightmeter/internal/config"
	"github.com/dokzlo13/lightmeter/internal/db"
	"github.com/dokzlo13/lightmeter/internal/eventbus"
	"github.com/dokzlo13/lightmeter/internal/ledger"
	"github.com/dokzlo13/lightmeter/internal/metrics"
	"github.com/dokzlo13/lightmeter/internal/registry"
	"github.com/dokzlo13/lightmeter/internal/store"
)

// storeBucket is the kv_store bucket holding light variables.
const storeBucket = "lights"

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Ledger  *ledger.Ledger
	Store   *store.SQLiteStore
	Archive *archive.Client // nil unless influxdb is enabled
	Metrics *metrics.Metrics
	Bus     *eventbus.Bus

	Registry *registry.Registry

	// High-level services
	Devices *DeviceService
	Check   *CheckService
	API     *APIService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)
	s.Store = store.NewSQLiteStore(database.DB, storeBucket)

	var persistent store.Store = s.Store
	if cfg.InfluxDB.Enabled {
		client, err := archive.Connect(cfg.InfluxDB)
		if err != nil {
			// Archiving is best effort; totals are still persisted locally.
			log.Warn().Err(err).Str("url", cfg.InfluxDB.URL).Msg("InfluxDB unavailable, archiving disabled")
		} else {
			client.SetOnError(func(err error) {
				log.Warn().Err(err).Msg("InfluxDB write failed")
			})
			s.Archive = client
			persistent = store.WithArchive(s.Store, client)
		}
	}

	s.Metrics = metrics.New()
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	rps := cfg.AutoOff.RateLimitRPS
	s.Registry = registry.New(
		registry.WithStore(persistent, cfg.Pricing.Prefix),
		registry.WithRecorder(s.Ledger),
		registry.WithObserver(s.Metrics),
		registry.WithScheduler(autooff.New(cfg.AutoOff.Grace.Duration())),
		registry.WithCommandLimiter(rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))),
	)

	s.Devices = NewDeviceService(cfg, s.Registry, s.Bus)
	s.Check = NewCheckService(cfg, s.Registry, s.Bus, s.Ledger)
	s.API = NewAPIService(cfg, s.Registry, s.Bus, s.Ledger, s.Metrics, s.ready)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Devices.Connect(ctx); err != nil {
		return err
	}

	s.registerHandlers(ctx)

	s.Devices.StartBackground(ctx)
	s.Check.Start(ctx)
	s.API.Start(ctx)

	// Pick up the current state of every light.
	s.Devices.RefreshAll("startup")
	return nil
}

func (s *Services) registerHandlers(ctx context.Context) {
	s.Bus.Subscribe(eventbus.EventTypeDeviceChanged, func(e eventbus.Event) {
		if err := s.Registry.OnDeviceStateChanged(ctx, e.Key, time.Now()); err != nil {
			log.Warn().Err(err).Str("light", e.Key).Interface("source", e.Data["source"]).Msg("Failed to apply device state")
		}
	})
	s.Bus.Subscribe(eventbus.EventTypePeriodicCheck, func(eventbus.Event) {
		s.Check.RunOnce(ctx)
	})
}

func (s *Services) ready() error {
	if s.Devices.MQTT != nil && !s.Devices.MQTT.IsConnected() {
		return errors.New("mqtt broker not connected")
	}
	return nil
}

// ClearState removes all persisted light variables.
func (s *Services) ClearState() error {
	return s.Store.Clear()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Devices != nil {
		s.Devices.Close()
	}
	if s.Archive != nil {
		s.Archive.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
