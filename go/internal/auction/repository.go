package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fishmarket/go/internal/models"
)

// BidCommit is the atomic unit written for an accepted bid, tied to the
// auction version the decision was made against.
type BidCommit struct {
	Bid             models.Bid
	ExpectedVersion int64
}

// Repository is the relational store behind the engine. Every write is
// conditional on ExpectedVersion and fails with ErrStaleState on mismatch,
// leaving the store unchanged.
type Repository interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	CreateAuction(ctx context.Context, a *models.Auction) error
	// CommitBid marks the current winning bid outbid, inserts c.Bid as
	// winning and moves the auction price and winner, all or nothing. It
	// returns the updated auction and the bid that was outbid, if any.
	CommitBid(ctx context.Context, c BidCommit) (*models.Auction, *models.Bid, error)
	// UpdateStatus moves the auction to status. Cancelling also cancels
	// the auction's open bids.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.AuctionStatus, expectedVersion int64, at time.Time) (*models.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	// ListDue returns auctions whose time window implies a transition at now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// prepareNew fills creation defaults shared by all repositories.
func prepareNew(a *models.Auction, now time.Time) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AuctionStatusPending
	}
	if a.CurrentPrice.IsZero() {
		a.CurrentPrice = a.StartingPrice
	}
	a.Version = 1
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
}
