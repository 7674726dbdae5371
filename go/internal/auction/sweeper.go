package auction

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SweeperConfig controls the periodic lifecycle sweep.
type SweeperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// DefaultSweeperConfig returns default sweeper configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:  time.Second,
		BatchSize: 100,
	}
}

// Sweeper applies start and end time transitions to auctions nobody is
// interacting with. Each due auction is routed through the engine so the
// transition is serialized with bids on that auction.
type Sweeper struct {
	engine *Engine
	repo   Repository
	clock  clockwork.Clock
	cfg    SweeperConfig
}

// NewSweeper creates a sweeper driven by the engine's clock.
func NewSweeper(engine *Engine, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		engine: engine,
		repo:   engine.repo,
		clock:  engine.clock,
		cfg:    cfg,
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.Interval).Msg("auction sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("auction sweeper stopped")
			return
		case <-ticker.Chan():
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce advances every due auction and returns how many changed status.
func (s *Sweeper) sweepOnce(ctx context.Context) int {
	ids, err := s.repo.ListDue(ctx, s.clock.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list due auctions")
		return 0
	}

	changed := 0
	for _, id := range ids {
		ok, err := s.engine.Advance(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("auction_id", id.String()).Msg("failed to advance auction")
			continue
		}
		if ok {
			changed++
		}
	}
	if changed > 0 {
		log.Debug().Int("changed", changed).Int("due", len(ids)).Msg("sweep complete")
	}
	return changed
}
