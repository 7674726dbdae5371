package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fishmarket/go/internal/models"
)

// MemoryRepository keeps auctions and bids in process memory. It honours
// the same version checks as the Postgres repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*models.Auction
	bids     map[uuid.UUID][]*models.Bid
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		auctions: make(map[uuid.UUID]*models.Auction),
		bids:     make(map[uuid.UUID][]*models.Bid),
	}
}

func (r *MemoryRepository) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[id]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) CreateAuction(ctx context.Context, a *models.Auction) error {
	prepareNew(a, time.Now().UTC())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[a.ID]; exists {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	r.auctions[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) CommitBid(ctx context.Context, c BidCommit) (*models.Auction, *models.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[c.Bid.AuctionID]
	if !ok {
		return nil, nil, ErrAuctionNotFound
	}
	if a.Version != c.ExpectedVersion || a.Status != models.AuctionStatusActive {
		return nil, nil, ErrStaleState
	}

	var outbid *models.Bid
	for _, b := range r.bids[a.ID] {
		if b.Status == models.BidStatusWinning {
			b.Status = models.BidStatusOutbid
			prev := *b
			outbid = &prev
		}
	}

	bid := c.Bid
	bid.Status = models.BidStatusWinning
	r.bids[a.ID] = append(r.bids[a.ID], &bid)

	bidderID, bidID := bid.BidderID, bid.ID
	a.CurrentPrice = bid.Amount
	a.CurrentWinnerID = &bidderID
	a.WinningBidID = &bidID
	a.Version++
	a.UpdatedAt = bid.PlacedAt

	return a.Clone(), outbid, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AuctionStatus, expectedVersion int64, at time.Time) (*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if a.Version != expectedVersion {
		return nil, ErrStaleState
	}

	a.Status = status
	a.Version++
	a.UpdatedAt = at

	if status == models.AuctionStatusCancelled {
		for _, b := range r.bids[id] {
			if b.Status == models.BidStatusWinning || b.Status == models.BidStatusActive {
				b.Status = models.BidStatusCancelled
			}
		}
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, ErrAuctionNotFound
	}
	bids := make([]models.Bid, 0, len(r.bids[auctionID]))
	for _, b := range r.bids[auctionID] {
		bids = append(bids, *b)
	}
	return bids, nil
}

func (r *MemoryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*models.Auction
	for _, a := range r.auctions {
		if nextDueStatus(a, now, true) != a.Status {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].EndTime.Before(due[j].EndTime)
	})

	ids := make([]uuid.UUID, 0, len(due))
	for _, a := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}
