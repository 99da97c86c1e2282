package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightmeter/internal/api"
	"github.com/dokzlo13/lightmeter/internal/config"
	"github.com/dokzlo13/lightmeter/internal/eventbus"
	"github.com/dokzlo13/lightmeter/internal/ledger"
	"github.com/dokzlo13/lightmeter/internal/metrics"
	"github.com/dokzlo13/lightmeter/internal/registry"
)

// APIService wraps the HTTP API server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(
	cfg *config.Config,
	reg *registry.Registry,
	bus *eventbus.Bus,
	l *ledger.Ledger,
	m *metrics.Metrics,
	ready func() error,
) *APIService {
	server := api.NewServer(reg, api.Options{
		Host:        cfg.HTTP.Host,
		Port:        cfg.HTTP.Port,
		PricePerKwh: cfg.Pricing.PricePerKwh,
		Currency:    cfg.Pricing.Currency,
		Bus:         bus,
		History:     l,
		Metrics:     m,
		Ready:       ready,
	})
	return &APIService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the HTTP server if enabled.
func (s *APIService) Start(ctx context.Context) {
	if !s.cfg.HTTP.Enabled {
		log.Debug().Msg("HTTP API disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("HTTP API server error")
		}
	}()
}
