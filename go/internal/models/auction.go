package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusPending   AuctionStatus = "pending"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusClosed    AuctionStatus = "closed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusClosed || s == AuctionStatusCancelled
}

// AcceptsJoins reports whether clients may enter the auction room.
func (s AuctionStatus) AcceptsJoins() bool {
	return s == AuctionStatusActive || s == AuctionStatusPending
}

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionStatusPending, AuctionStatusActive, AuctionStatusClosed, AuctionStatusCancelled:
		return true
	}
	return false
}

// Auction is the authoritative price and lifecycle record of a single auction.
type Auction struct {
	ID              uuid.UUID       `json:"id"`
	ItemID          uuid.UUID       `json:"item_id"`
	SellerID        uuid.UUID       `json:"seller_id"`
	Status          AuctionStatus   `json:"status"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	BidIncrement    decimal.Decimal `json:"bid_increment"`
	CurrentWinnerID *uuid.UUID      `json:"current_winner_id,omitempty"`
	WinningBidID    *uuid.UUID      `json:"winning_bid_id,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MinimumBid is the smallest amount a new bid must reach.
func (a *Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.BidIncrement)
}

// InWindow reports whether t falls inside the closed bidding window.
func (a *Auction) InWindow(t time.Time) bool {
	return !t.Before(a.StartTime) && !t.After(a.EndTime)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	if a.CurrentWinnerID != nil {
		id := *a.CurrentWinnerID
		c.CurrentWinnerID = &id
	}
	if a.WinningBidID != nil {
		id := *a.WinningBidID
		c.WinningBidID = &id
	}
	return &c
}
