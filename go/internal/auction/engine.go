package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fishmarket/go/internal/auction/events"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config tunes the engine.
type Config struct {
	// AcquireTimeout bounds how long a call waits for its turn on an auction.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// WorkerIdleTimeout retires an auction worker after this much inactivity.
	WorkerIdleTimeout time.Duration `yaml:"worker_idle_timeout"`

	// MaxCommitRetries is how often a write is re-validated after a stale
	// version before giving up.
	MaxCommitRetries int `yaml:"max_commit_retries"`

	EventBuffer    int           `yaml:"event_buffer"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		AcquireTimeout:    2 * time.Second,
		WorkerIdleTimeout: 5 * time.Minute,
		MaxCommitRetries:  3,
		EventBuffer:       1024,
		PublishTimeout:    5 * time.Second,
	}
}

// BidResult is the outcome of an accepted bid.
type BidResult struct {
	Bid models.Bid
	// Outbid is the bid that lost winning status, nil for the first bid.
	Outbid  *models.Bid
	Auction *models.Auction
}

// Engine owns the authoritative auction state. Every mutation of a given
// auction runs on that auction's worker goroutine, so reads, validation and
// commits for one auction never interleave while different auctions proceed
// independently.
type Engine struct {
	repo      Repository
	clock     clockwork.Clock
	publisher events.Publisher
	cfg       Config

	mu      sync.Mutex
	workers map[uuid.UUID]*auctionWorker
	closed  bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	eventCh   chan events.Event
	relayDone chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for bidding windows and timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPublisher sets where committed domain events are relayed.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// NewEngine creates an engine over repo and starts its event relay.
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		clock:     clockwork.NewRealClock(),
		publisher: events.LogPublisher{},
		cfg:       DefaultConfig(),
		workers:   make(map[uuid.UUID]*auctionWorker),
		relayDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.EventBuffer <= 0 {
		e.cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	e.eventCh = make(chan events.Event, e.cfg.EventBuffer)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	go e.relay()
	return e
}

// PlaceBid validates and commits a bid against the latest state of the
// auction.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*BidResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var (
		res *BidResult
		err error
	)
	if serr := e.submit(ctx, auctionID, func(w *auctionWorker) {
		res, err = w.placeBid(ctx, bidderID, amount)
	}); serr != nil {
		return nil, serr
	}
	return res, err
}

// GetState returns the current auction record after applying any due
// time-driven transitions.
func (e *Engine) GetState(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	var (
		state *models.Auction
		err   error
	)
	if serr := e.submit(ctx, auctionID, func(w *auctionWorker) {
		state, _, err = w.applyDue(ctx, true)
	}); serr != nil {
		return nil, serr
	}
	return state, err
}

// Advance applies due time-driven transitions and reports whether the
// status changed.
func (e *Engine) Advance(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	var (
		changed bool
		err     error
	)
	if serr := e.submit(ctx, auctionID, func(w *auctionWorker) {
		_, changed, err = w.applyDue(ctx, true)
	}); serr != nil {
		return false, serr
	}
	return changed, err
}

// Activate moves a pending auction whose start time has been reached to
// active.
func (e *Engine) Activate(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	return e.transition(ctx, auctionID, func(a *models.Auction, now time.Time) (models.AuctionStatus, error) {
		if a.Status != models.AuctionStatusPending {
			return a.Status, fmt.Errorf("%w: cannot activate %s auction", ErrInvalidTransition, a.Status)
		}
		if now.Before(a.StartTime) {
			return a.Status, ErrStartTimeNotReached
		}
		return models.AuctionStatusActive, nil
	})
}

// CloseAuction moves an active auction to closed. Closing a closed auction
// is a no-op.
func (e *Engine) CloseAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	return e.transition(ctx, auctionID, func(a *models.Auction, now time.Time) (models.AuctionStatus, error) {
		switch a.Status {
		case models.AuctionStatusActive, models.AuctionStatusClosed:
			return models.AuctionStatusClosed, nil
		}
		return a.Status, fmt.Errorf("%w: cannot close %s auction", ErrInvalidTransition, a.Status)
	})
}

// Cancel moves a pending or active auction to cancelled.
func (e *Engine) Cancel(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	return e.transition(ctx, auctionID, func(a *models.Auction, now time.Time) (models.AuctionStatus, error) {
		if a.Status.Terminal() {
			return a.Status, fmt.Errorf("%w: auction already %s", ErrInvalidTransition, a.Status)
		}
		return models.AuctionStatusCancelled, nil
	})
}

// Bids returns the auction's bid history in placement order.
func (e *Engine) Bids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	bids, err := e.repo.ListBids(ctx, auctionID)
	if err != nil {
		return nil, e.storeErr(ctx, auctionID, err)
	}
	return bids, nil
}

// Close stops all workers and flushes pending events. Calls already handed
// to a worker complete; waiting calls fail with ErrEngineClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	close(e.eventCh)
	<-e.relayDone
	log.Info().Msg("auction engine stopped")
}

func (e *Engine) transition(ctx context.Context, auctionID uuid.UUID, decide decideFunc) (*models.Auction, error) {
	var (
		state *models.Auction
		err   error
	)
	if serr := e.submit(ctx, auctionID, func(w *auctionWorker) {
		state, _, err = w.setStatus(ctx, decide)
	}); serr != nil {
		return nil, serr
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// submit hands fn to the auction's worker and waits for it to run. Waiting
// callers are served in arrival order. A caller that is not served within
// AcquireTimeout fails with ErrTimeout.
func (e *Engine) submit(ctx context.Context, auctionID uuid.UUID, fn func(w *auctionWorker)) error {
	timer := e.clock.NewTimer(e.cfg.AcquireTimeout)
	defer timer.Stop()

	t := &task{run: fn, done: make(chan struct{})}
	for {
		w, err := e.worker(auctionID)
		if err != nil {
			return err
		}

		select {
		case w.tasks <- t:
			<-t.done
			return nil
		case <-w.stopped:
			// Worker retired or engine closing; look it up again.
		case <-timer.Chan():
			log.Warn().Str("auction_id", auctionID.String()).Msg("timed out waiting for auction worker")
			return ErrTimeout
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
	}
}

// worker returns the live worker for auctionID, starting one if needed.
func (e *Engine) worker(auctionID uuid.UUID) (*auctionWorker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if w, ok := e.workers[auctionID]; ok {
		return w, nil
	}

	w := newAuctionWorker(e, auctionID)
	e.workers[auctionID] = w
	e.wg.Add(1)
	go w.run()
	return w, nil
}

func (e *Engine) retire(w *auctionWorker) {
	e.mu.Lock()
	if e.workers[w.auctionID] == w {
		delete(e.workers, w.auctionID)
	}
	e.mu.Unlock()
	close(w.stopped)
}

// storeErr classifies a repository error for the caller.
func (e *Engine) storeErr(ctx context.Context, auctionID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, ErrAuctionNotFound):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("auction store failure")
	return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
}

// emit queues an event for the relay. Events are dropped when the queue is
// full.
func (e *Engine) emit(eventType events.EventType, auctionID uuid.UUID, at time.Time, payload any) {
	ev, err := events.New(eventType, auctionID, at, payload)
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to build event")
		return
	}
	select {
	case e.eventCh <- ev:
	default:
		log.Warn().
			Str("auction_id", auctionID.String()).
			Str("event_type", string(eventType)).
			Msg("event queue full, dropping event")
	}
}

func (e *Engine) relay() {
	defer close(e.relayDone)

	for ev := range e.eventCh {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PublishTimeout)
		if err := e.publisher.Publish(ctx, ev); err != nil {
			log.Error().
				Err(err).
				Str("auction_id", ev.AuctionID.String()).
				Str("event_type", string(ev.Type)).
				Msg("failed to publish event")
		}
		cancel()
	}
}
