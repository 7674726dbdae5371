package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mcdev12/fishmarket/go/internal/auction"
	"github.com/mcdev12/fishmarket/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// Service is the auction gateway: WebSocket clients, state endpoints and
// the lifecycle sweeper around one engine.
type Service struct {
	engine       *auction.Engine
	hub          *Hub
	gateway      *Gateway
	stateHandler *StateHandler
	sweeper      *auction.Sweeper
}

// Config holds configuration for the auction gateway service
type Config struct {
	Connection ConnectionConfig      `yaml:"websocket"`
	Sweeper    auction.SweeperConfig `yaml:"sweeper"`
}

// DefaultConfig returns default configuration for the auction gateway
func DefaultConfig() Config {
	return Config{
		Connection: DefaultConnectionConfig(),
		Sweeper:    auction.DefaultSweeperConfig(),
	}
}

// NewService wires the hub into the engine's event bus. The bus must be
// the engine's publisher so lifecycle transitions reach connected rooms.
func NewService(config Config, engine *auction.Engine, bus *events.LocalBus, authn Authenticator, pusher events.Pusher) *Service {
	hub := NewHub(engine, pusher)
	bus.Subscribe(hub.HandleEvent)

	return &Service{
		engine:       engine,
		hub:          hub,
		gateway:      NewGateway(hub, authn, config.Connection),
		stateHandler: NewStateHandler(engine, authn),
		sweeper:      auction.NewSweeper(engine, config.Sweeper),
	}
}

// Start runs the sweeper until ctx is cancelled, then stops the service.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting auction gateway service")

	s.sweeper.Run(ctx)

	log.Info().Msg("auction gateway service shutting down")
	return s.Stop()
}

// Stop disconnects clients and drains the engine.
func (s *Service) Stop() error {
	s.gateway.Close()
	s.engine.Close()
	log.Info().Msg("auction gateway service stopped")
	return nil
}

// Hub exposes the hub for in-process callers.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Routes builds the HTTP handler for every gateway endpoint.
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/ws/auction", s.gateway.ServeWS)
	r.Get("/ws/stats", s.gateway.HandleStats)
	s.stateHandler.RegisterRoutes(r)

	log.Info().Msg("auction gateway routes registered")
	return r
}
