package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidStatus defines the status of a bid.
type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusWinning   BidStatus = "winning"
	BidStatusCancelled BidStatus = "cancelled"
)

// Bid is a committed offer on an auction.
type Bid struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    BidStatus       `json:"status"`
	PlacedAt  time.Time       `json:"placed_at"`
}
