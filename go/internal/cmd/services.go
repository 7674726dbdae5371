package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/fishmarket/go/internal/auction"
	"github.com/mcdev12/fishmarket/go/internal/auction/events"
	"github.com/mcdev12/fishmarket/go/internal/auction/gateway"
	"github.com/mcdev12/fishmarket/go/internal/auth"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Gateway *gateway.Service

	pool      *pgxpool.Pool
	jetstream *events.JetStreamPublisher
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Engine (publishing on the bus) → Hub/Gateway (subscribed to the bus)
	services := &Services{}

	var (
		repo     auction.Repository
		accounts auth.AccountLookup
	)
	switch config.Store.Driver {
	case "postgres":
		pool, err := setupDatabase(ctx)
		if err != nil {
			return nil, err
		}
		services.pool = pool
		repo = auction.NewPostgresRepository(pool)
		accounts = auth.NewPostgresAccounts(pool)
	default:
		log.Warn().Msg("using in-memory auction store; state is lost on restart")
		repo = auction.NewMemoryRepository()
		memAccounts := auth.NewMemoryAccounts()
		memAccounts.AllowUnknown = true
		accounts = memAccounts
	}

	// Downstream of the in-process bus: JetStream when enabled, logs otherwise
	var (
		downstream events.Publisher = events.LogPublisher{}
		pusher     events.Pusher    = events.LogPublisher{}
	)
	if config.NATS.Enabled {
		js, err := events.NewJetStreamPublisher(ctx, config.NATS.JetStream)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to set up JetStream publisher: %w", err)
		}
		services.jetstream = js
		downstream, pusher = js, js
	}
	bus := events.NewLocalBus(downstream)

	engine := auction.NewEngine(repo,
		auction.WithPublisher(bus),
		auction.WithConfig(config.Engine),
	)

	verifier := auth.NewTokenVerifier(config.Auth.JWTSecret, nil)
	authn := auth.NewAuthenticator(verifier, accounts)

	services.Gateway = gateway.NewService(gateway.Config{
		Connection: config.WebSocket,
		Sweeper:    config.Sweeper,
	}, engine, bus, authn, pusher)
	return services, nil
}

// Close releases the external connections. The gateway service must be
// stopped first so pending events are flushed.
func (s *Services) Close() {
	if s.jetstream != nil {
		if err := s.jetstream.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close JetStream publisher")
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
