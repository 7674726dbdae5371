package auction

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()

	upcoming := f.newAuction(t, func(a *models.Auction) {
		a.Status = models.AuctionStatusPending
		a.StartTime = now.Add(10 * time.Minute)
		a.EndTime = now.Add(20 * time.Minute)
	})
	expired := f.newAuction(t, func(a *models.Auction) {
		a.StartTime = now.Add(-time.Hour)
		a.EndTime = now.Add(-time.Minute)
	})

	s := NewSweeper(f.engine, DefaultSweeperConfig())

	assert.Equal(t, 1, s.sweepOnce(ctx))
	got, err := f.repo.GetAuction(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusClosed, got.Status)

	f.clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, s.sweepOnce(ctx))
	got, err = f.repo.GetAuction(ctx, upcoming.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, got.Status)

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, s.sweepOnce(ctx))
	got, err = f.repo.GetAuction(ctx, upcoming.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusClosed, got.Status)

	assert.Equal(t, 0, s.sweepOnce(ctx))
}

func TestSweeper_Run(t *testing.T) {
	f := newFixture(t, nil)
	now := f.clock.Now()
	expired := f.newAuction(t, func(a *models.Auction) {
		a.StartTime = now.Add(-time.Hour)
		a.EndTime = now.Add(-time.Minute)
	})

	cfg := DefaultSweeperConfig()
	s := NewSweeper(f.engine, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(cfg.Interval)

	require.Eventually(t, func() bool {
		got, err := f.repo.GetAuction(context.Background(), expired.ID)
		return err == nil && got.Status == models.AuctionStatusClosed
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
