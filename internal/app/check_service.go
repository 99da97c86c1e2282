package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightmeter/internal/config"
	"github.com/dokzlo13/lightmeter/internal/eventbus"
	"github.com/dokzlo13/lightmeter/internal/ledger"
	"github.com/dokzlo13/lightmeter/internal/registry"
)

// CheckService runs the periodic auto-off sweep, the energy counter sync
// and the ledger retention cleanup.
type CheckService struct {
	cfg      *config.Config
	registry *registry.Registry
	bus      *eventbus.Bus
	ledger   *ledger.Ledger
	now      func() time.Time
}

// NewCheckService creates a new CheckService.
func NewCheckService(cfg *config.Config, reg *registry.Registry, bus *eventbus.Bus, l *ledger.Ledger) *CheckService {
	return &CheckService{
		cfg:      cfg,
		registry: reg,
		bus:      bus,
		ledger:   l,
		now:      time.Now,
	}
}

// Start begins the periodic tasks.
func (s *CheckService) Start(ctx context.Context) {
	go s.run(ctx)
	go s.runLedgerCleanup(ctx)
}

func (s *CheckService) run(ctx context.Context) {
	interval := s.cfg.AutoOff.CheckInterval.Duration()
	log.Info().
		Dur("interval", interval).
		Dur("grace", s.registry.Scheduler().Grace()).
		Msg("Periodic check started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Periodic check stopping")
			return
		case <-ticker.C:
			s.bus.Publish(eventbus.Event{Type: eventbus.EventTypePeriodicCheck})
		}
	}
}

// RunOnce sweeps for overdue lights, then folds in metered counters.
func (s *CheckService) RunOnce(ctx context.Context) registry.CheckResult {
	res := s.registry.PeriodicCheck(ctx, s.now())
	for _, id := range res.Forced {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeDeviceChanged,
			Key:  id,
			Data: map[string]interface{}{"source": "check"},
		})
	}

	if err := s.registry.SyncCounters(ctx); err != nil {
		log.Debug().Err(err).Msg("Some energy counters could not be read")
	}
	return res
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *CheckService) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
