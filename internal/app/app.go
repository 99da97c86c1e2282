package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightmeter/internal/config"
	"github.com/dokzlo13/lightmeter/internal/stats"
)

// App owns the lightmeter services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New wires all services without starting them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start registers the configured lights and starts the background services.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		return err
	}

	a.logTotals("Lightmeter started")
	return nil
}

// logTotals logs the restored (or final) totals across all lights.
func (a *App) logTotals(msg string) {
	s := stats.Summarize(a.services.Registry, a.cfg.Pricing.PricePerKwh)
	log.Info().
		Int("lights", s.Totals.Count).
		Float64("runtime_hours", s.Totals.RuntimeHours).
		Float64("energy_kwh", s.Totals.EnergyKwh).
		Float64("cost", s.Totals.Cost).
		Str("currency", a.cfg.Pricing.Currency).
		Msg(msg)
}

// Stop cancels background work and releases resources.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")
	if a.cancel != nil {
		a.cancel()
	}
	if a.services == nil {
		return nil
	}
	a.logTotals("Final totals")
	return a.services.Stop()
}

// Wait blocks until the context passed to Start is done.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ClearState drops all persisted light totals. Call it before Start.
func (a *App) ClearState() error {
	return a.services.ClearState()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		log.Warn().Msg("Received shutdown signal")
		stop()
	}()
	return ctx
}
