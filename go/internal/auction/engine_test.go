package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fishmarket/go/internal/auction/events"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var windowStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(ctx context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) ofType(t events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	repo   *MemoryRepository
	clock  *clockwork.FakeClock
	pub    *capturePublisher
	engine *Engine
	seller uuid.UUID
}

func newFixture(t *testing.T, repo Repository, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   NewMemoryRepository(),
		clock:  clockwork.NewFakeClockAt(windowStart.Add(time.Minute)),
		pub:    &capturePublisher{},
		seller: uuid.New(),
	}
	if repo == nil {
		repo = f.repo
	}
	opts = append([]Option{WithClock(f.clock), WithPublisher(f.pub)}, opts...)
	f.engine = NewEngine(repo, opts...)
	t.Cleanup(f.engine.Close)
	return f
}

// newAuction stores an active auction at price 100 with increment 10.
func (f *fixture) newAuction(t *testing.T, mutate ...func(a *models.Auction)) *models.Auction {
	t.Helper()
	a := &models.Auction{
		ItemID:        uuid.New(),
		SellerID:      f.seller,
		Status:        models.AuctionStatusActive,
		StartTime:     windowStart,
		EndTime:       windowStart.Add(time.Hour),
		StartingPrice: decimal.NewFromInt(100),
		BidIncrement:  decimal.NewFromInt(10),
	}
	for _, m := range mutate {
		m(a)
	}
	require.NoError(t, f.repo.CreateAuction(context.Background(), a))
	return a
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func winningBids(t *testing.T, repo *MemoryRepository, auctionID uuid.UUID) []models.Bid {
	t.Helper()
	bids, err := repo.ListBids(context.Background(), auctionID)
	require.NoError(t, err)
	var out []models.Bid
	for _, b := range bids {
		if b.Status == models.BidStatusWinning {
			out = append(out, b)
		}
	}
	return out
}

func TestEngine_OutbidScenario(t *testing.T) {
	f := newFixture(t, nil)
	a := f.newAuction(t)
	ctx := context.Background()
	bidderA, bidderB := uuid.New(), uuid.New()

	res, err := f.engine.PlaceBid(ctx, a.ID, bidderA, amount(110))
	require.NoError(t, err)
	assert.Nil(t, res.Outbid)
	assert.True(t, res.Auction.CurrentPrice.Equal(amount(110)))
	assert.Equal(t, bidderA, *res.Auction.CurrentWinnerID)
	firstBid := res.Bid

	_, err = f.engine.PlaceBid(ctx, a.ID, bidderB, amount(115))
	require.ErrorIs(t, err, ErrBidTooLow)
	assert.Equal(t, CodeBidTooLow, ErrorCode(err))
	assert.Contains(t, err.Error(), "120")

	res, err = f.engine.PlaceBid(ctx, a.ID, bidderB, amount(120))
	require.NoError(t, err)
	require.NotNil(t, res.Outbid)
	assert.Equal(t, firstBid.ID, res.Outbid.ID)
	assert.Equal(t, bidderA, res.Outbid.BidderID)
	assert.Equal(t, models.BidStatusOutbid, res.Outbid.Status)
	assert.True(t, res.Bid.Amount.Equal(amount(120)))

	bids, err := f.engine.Bids(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, models.BidStatusOutbid, bids[0].Status)
	assert.Equal(t, models.BidStatusWinning, bids[1].Status)

	state, err := f.engine.GetState(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, state.CurrentPrice.Equal(amount(120)))
	assert.Equal(t, bidderB, *state.CurrentWinnerID)

	require.Eventually(t, func() bool {
		return len(f.pub.ofType(events.EventTypeBidPlaced)) == 2
	}, time.Second, 5*time.Millisecond)

	var payload events.BidPlacedPayload
	require.NoError(t, f.pub.ofType(events.EventTypeBidPlaced)[1].Decode(&payload))
	assert.Equal(t, bidderB, payload.BidderID)
	require.NotNil(t, payload.PreviousBidderID)
	assert.Equal(t, bidderA, *payload.PreviousBidderID)
}

func TestEngine_BidRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	active := f.newAuction(t)
	notStarted := f.newAuction(t, func(a *models.Auction) {
		a.Status = models.AuctionStatusPending
		a.StartTime = windowStart.Add(time.Hour)
		a.EndTime = windowStart.Add(2 * time.Hour)
	})

	tests := []struct {
		name      string
		auctionID uuid.UUID
		bidder    uuid.UUID
		amount    decimal.Decimal
		wantErr   error
	}{
		{"unknown auction", uuid.New(), uuid.New(), amount(500), ErrAuctionNotFound},
		{"zero amount", active.ID, uuid.New(), decimal.Zero, ErrInvalidAmount},
		{"negative amount", active.ID, uuid.New(), amount(-5), ErrInvalidAmount},
		{"seller", active.ID, f.seller, amount(100000), ErrSelfBidForbidden},
		{"below minimum", active.ID, uuid.New(), amount(109), ErrBidTooLow},
		{"pending auction", notStarted.ID, uuid.New(), amount(500), ErrAuctionNotActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.PlaceBid(ctx, tt.auctionID, tt.bidder, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	state, err := f.repo.GetAuction(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, state.CurrentPrice.Equal(amount(100)))
	assert.Nil(t, state.CurrentWinnerID)
	assert.Equal(t, int64(1), state.Version)
}

func TestEngine_BoundaryBid(t *testing.T) {
	f := newFixture(t, nil)
	a := f.newAuction(t)
	ctx := context.Background()

	_, err := f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(109))
	assert.ErrorIs(t, err, ErrBidTooLow)

	_, err = f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(110))
	assert.NoError(t, err)
}

func TestEngine_DuplicateBidFromLeader(t *testing.T) {
	f := newFixture(t, nil)
	a := f.newAuction(t, func(a *models.Auction) { a.BidIncrement = decimal.Zero })
	ctx := context.Background()
	leader := uuid.New()

	_, err := f.engine.PlaceBid(ctx, a.ID, leader, amount(110))
	require.NoError(t, err)

	_, err = f.engine.PlaceBid(ctx, a.ID, leader, amount(110))
	assert.ErrorIs(t, err, ErrDuplicateOrLowerBid)

	_, err = f.engine.PlaceBid(ctx, a.ID, leader, amount(111))
	assert.NoError(t, err)
}

func TestEngine_ExpiredWindowReportsWindowThenCloses(t *testing.T) {
	f := newFixture(t, nil)
	a := f.newAuction(t)
	ctx := context.Background()

	f.clock.Advance(2 * time.Hour)

	_, err := f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(500))
	require.ErrorIs(t, err, ErrOutsideBiddingWindow)

	stored, err := f.repo.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusClosed, stored.Status)

	_, err = f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(500))
	assert.ErrorIs(t, err, ErrAuctionNotActive)
}

func TestEngine_BidBeforeWindowOnActiveAuction(t *testing.T) {
	f := newFixture(t, nil)
	a := f.newAuction(t, func(a *models.Auction) {
		a.StartTime = windowStart.Add(time.Hour)
		a.EndTime = windowStart.Add(2 * time.Hour)
	})

	_, err := f.engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(500))
	assert.ErrorIs(t, err, ErrOutsideBiddingWindow)

	stored, err := f.repo.GetAuction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, stored.Status)
}

func TestEngine_LazyActivationOnBid(t *testing.T) {
	f := newFixture(t, nil)
	a := f.newAuction(t, func(a *models.Auction) {
		a.Status = models.AuctionStatusPending
	})

	res, err := f.engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(110))
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, res.Auction.Status)

	require.Eventually(t, func() bool {
		return len(f.pub.ofType(events.EventTypeAuctionStatusChanged)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_ConcurrentIncrementPair(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, nil)
		a := f.newAuction(t)
		ctx := context.Background()

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for j, amt := range []int64{110, 120} {
			wg.Add(1)
			go func(j int, amt int64) {
				defer wg.Done()
				<-start
				_, errs[j] = f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(amt))
			}(j, amt)
		}
		close(start)
		wg.Wait()

		require.NoError(t, errs[1], "the higher bid is always valid")
		if errs[0] != nil {
			require.ErrorIs(t, errs[0], ErrBidTooLow)
		}

		winning := winningBids(t, f.repo, a.ID)
		require.Len(t, winning, 1)
		assert.True(t, winning[0].Amount.Equal(amount(120)))

		state, err := f.repo.GetAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, state.CurrentPrice.Equal(amount(120)))
		f.engine.Close()
	}
}

func TestEngine_ManyConcurrentBidders(t *testing.T) {
	f := newFixture(t, nil)
	a := f.newAuction(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		committed []decimal.Decimal
	)
	for i := 1; i <= 40; i++ {
		wg.Add(1)
		go func(step int64) {
			defer wg.Done()
			<-start
			res, err := f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(100+10*step))
			if err != nil {
				assert.ErrorIs(t, err, ErrBidTooLow)
				return
			}
			mu.Lock()
			committed = append(committed, res.Bid.Amount)
			mu.Unlock()
		}(int64(i))
	}
	close(start)
	wg.Wait()

	bids, err := f.repo.ListBids(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, bids, len(committed))

	winners := 0
	for i, b := range bids {
		if i > 0 {
			assert.True(t, b.Amount.GreaterThan(bids[i-1].Amount), "commits must strictly increase")
		}
		if b.Status == models.BidStatusWinning {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	state, err := f.repo.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, state.CurrentPrice.Equal(amount(500)))
}

// blockingRepo holds the first CommitBid until released.
type blockingRepo struct {
	*MemoryRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRepo) CommitBid(ctx context.Context, c BidCommit) (*models.Auction, *models.Bid, error) {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.MemoryRepository.CommitBid(ctx, c)
}

func TestEngine_TimeoutWhileAuctionBusy(t *testing.T) {
	repo := &blockingRepo{
		MemoryRepository: NewMemoryRepository(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	cfg := DefaultConfig()
	cfg.AcquireTimeout = 50 * time.Millisecond
	engine := NewEngine(repo, WithConfig(cfg), WithPublisher(&capturePublisher{}))
	defer engine.Close()

	now := time.Now().UTC()
	a := &models.Auction{
		ItemID:        uuid.New(),
		SellerID:      uuid.New(),
		Status:        models.AuctionStatusActive,
		StartTime:     now.Add(-time.Minute),
		EndTime:       now.Add(time.Hour),
		StartingPrice: amount(100),
		BidIncrement:  amount(10),
	}
	require.NoError(t, repo.CreateAuction(context.Background(), a))

	firstDone := make(chan error, 1)
	go func() {
		_, err := engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(110))
		firstDone <- err
	}()
	<-repo.entered

	started := time.Now()
	_, err := engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(500))
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, CodeTimeout, ErrorCode(err))
	assert.Less(t, time.Since(started), time.Second)

	close(repo.release)
	require.NoError(t, <-firstDone)

	_, err = engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(500))
	assert.NoError(t, err)
}

// racingRepo commits a competing bid from another writer right before the
// engine's first commit.
type racingRepo struct {
	*MemoryRepository
	once       sync.Once
	competitor decimal.Decimal
	rival      uuid.UUID
}

func (r *racingRepo) CommitBid(ctx context.Context, c BidCommit) (*models.Auction, *models.Bid, error) {
	r.once.Do(func() {
		rival := c.Bid
		rival.ID = uuid.New()
		rival.BidderID = r.rival
		rival.Amount = r.competitor
		if _, _, err := r.MemoryRepository.CommitBid(ctx, BidCommit{Bid: rival, ExpectedVersion: c.ExpectedVersion}); err != nil {
			panic(err)
		}
	})
	return r.MemoryRepository.CommitBid(ctx, c)
}

func TestEngine_StaleStateRevalidates(t *testing.T) {
	tests := []struct {
		name       string
		competitor int64
		bid        int64
		wantErr    error
		wantPrice  int64
	}{
		{"retry succeeds against newer price", 110, 130, nil, 130},
		{"retry rejects against newer price", 150, 110, ErrBidTooLow, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &racingRepo{MemoryRepository: NewMemoryRepository(), competitor: amount(tt.competitor), rival: uuid.New()}
			f := newFixture(t, repo)
			f.repo = repo.MemoryRepository
			a := f.newAuction(t)

			res, err := f.engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(tt.bid))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, res.Outbid)
				assert.Equal(t, repo.rival, res.Outbid.BidderID)
			}

			state, err := f.repo.GetAuction(context.Background(), a.ID)
			require.NoError(t, err)
			assert.True(t, state.CurrentPrice.Equal(amount(tt.wantPrice)))
			assert.Len(t, winningBids(t, f.repo, a.ID), 1)
		})
	}
}

type flakyRepo struct {
	*MemoryRepository
	mu   sync.Mutex
	fail bool
}

func (r *flakyRepo) CommitBid(ctx context.Context, c BidCommit) (*models.Auction, *models.Bid, error) {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return nil, nil, errors.New("connection reset by peer")
	}
	return r.MemoryRepository.CommitBid(ctx, c)
}

func TestEngine_FailedCommitLeavesStateUnchanged(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository(), fail: true}
	f := newFixture(t, repo)
	f.repo = repo.MemoryRepository
	a := f.newAuction(t)
	ctx := context.Background()

	_, err := f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(110))
	require.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Equal(t, CodeEngineUnavailable, ErrorCode(err))
	assert.NotContains(t, ErrorMessage(err), "connection reset")

	state, err := f.engine.GetState(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, state.CurrentPrice.Equal(amount(100)))
	assert.Nil(t, state.CurrentWinnerID)

	repo.mu.Lock()
	repo.fail = false
	repo.mu.Unlock()

	_, err = f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(110))
	assert.NoError(t, err)
}

func TestEngine_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	t.Run("activate", func(t *testing.T) {
		a := f.newAuction(t, func(a *models.Auction) {
			a.Status = models.AuctionStatusPending
			a.StartTime = f.clock.Now().Add(time.Minute)
			a.EndTime = f.clock.Now().Add(time.Hour)
		})

		_, err := f.engine.Activate(ctx, a.ID)
		require.ErrorIs(t, err, ErrStartTimeNotReached)

		f.clock.Advance(time.Minute)
		state, err := f.engine.Activate(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusActive, state.Status)

		_, err = f.engine.Activate(ctx, a.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		a := f.newAuction(t, func(a *models.Auction) {
			a.StartTime = f.clock.Now().Add(-time.Minute)
			a.EndTime = f.clock.Now().Add(time.Hour)
		})

		state, err := f.engine.CloseAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusClosed, state.Status)

		state, err = f.engine.CloseAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusClosed, state.Status)

		_, err = f.engine.Cancel(ctx, a.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(500))
		assert.ErrorIs(t, err, ErrAuctionNotActive)
	})

	t.Run("close pending fails", func(t *testing.T) {
		a := f.newAuction(t, func(a *models.Auction) {
			a.Status = models.AuctionStatusPending
			a.StartTime = f.clock.Now().Add(time.Hour)
			a.EndTime = f.clock.Now().Add(2 * time.Hour)
		})
		_, err := f.engine.CloseAuction(ctx, a.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("cancel clears winning bid", func(t *testing.T) {
		a := f.newAuction(t, func(a *models.Auction) {
			a.StartTime = f.clock.Now().Add(-time.Minute)
			a.EndTime = f.clock.Now().Add(time.Hour)
		})
		_, err := f.engine.PlaceBid(ctx, a.ID, uuid.New(), amount(110))
		require.NoError(t, err)

		state, err := f.engine.Cancel(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusCancelled, state.Status)
		assert.Empty(t, winningBids(t, f.repo, a.ID))

		_, err = f.engine.Cancel(ctx, a.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown auction", func(t *testing.T) {
		_, err := f.engine.CloseAuction(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrAuctionNotFound)
	})
}

func TestEngine_ClosedEngineRejects(t *testing.T) {
	f := newFixture(t, nil)
	a := f.newAuction(t)
	f.engine.Close()

	_, err := f.engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(110))
	require.ErrorIs(t, err, ErrEngineClosed)
	assert.Equal(t, CodeEngineUnavailable, ErrorCode(err))
}

func TestEngine_IdleWorkerRetires(t *testing.T) {
	repo := NewMemoryRepository()
	cfg := DefaultConfig()
	cfg.WorkerIdleTimeout = 20 * time.Millisecond
	engine := NewEngine(repo, WithConfig(cfg), WithPublisher(&capturePublisher{}))
	defer engine.Close()

	now := time.Now().UTC()
	a := &models.Auction{
		ItemID:        uuid.New(),
		SellerID:      uuid.New(),
		Status:        models.AuctionStatusActive,
		StartTime:     now.Add(-time.Minute),
		EndTime:       now.Add(time.Hour),
		StartingPrice: amount(100),
		BidIncrement:  amount(10),
	}
	require.NoError(t, repo.CreateAuction(context.Background(), a))

	_, err := engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(110))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.workers) == 0
	}, time.Second, 5*time.Millisecond)

	_, err = engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(115))
	assert.ErrorIs(t, err, ErrBidTooLow)
	_, err = engine.PlaceBid(context.Background(), a.ID, uuid.New(), amount(120))
	assert.NoError(t, err)
}

func TestEngine_UnknownAuctionWorkerRetires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	liveWorkers := func() int {
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		return len(f.engine.workers)
	}

	for i := 0; i < 50; i++ {
		_, err := f.engine.GetState(ctx, uuid.New())
		require.ErrorIs(t, err, ErrAuctionNotFound)
	}
	_, err := f.engine.PlaceBid(ctx, uuid.New(), uuid.New(), amount(110))
	require.ErrorIs(t, err, ErrAuctionNotFound)

	// The fake clock never fires the idle timer, so only the missing-auction
	// path can retire these workers.
	require.Eventually(t, func() bool { return liveWorkers() == 0 }, time.Second, 5*time.Millisecond)

	a := f.newAuction(t)
	_, err = f.engine.GetState(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, liveWorkers())
}
