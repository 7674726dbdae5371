package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/shopspring/decimal"
)

// validateBid checks a bid against the auction state as of now. Checks run
// in a fixed order and the first failure wins.
func validateBid(a *models.Auction, bidderID uuid.UUID, amount decimal.Decimal, now time.Time) error {
	if a.Status != models.AuctionStatusActive {
		return fmt.Errorf("%w: status is %s", ErrAuctionNotActive, a.Status)
	}
	if !a.InWindow(now) {
		return ErrOutsideBiddingWindow
	}
	if bidderID == a.SellerID {
		return ErrSelfBidForbidden
	}
	if minimum := a.MinimumBid(); amount.LessThan(minimum) {
		return fmt.Errorf("%w: minimum is %s", ErrBidTooLow, minimum.String())
	}
	if a.CurrentWinnerID != nil && *a.CurrentWinnerID == bidderID && amount.LessThanOrEqual(a.CurrentPrice) {
		return ErrDuplicateOrLowerBid
	}
	return nil
}

// nextDueStatus returns the status the time window implies for a. Expired
// active auctions only close when closeExpired is set, so a bid arriving
// after the end time still reports the window rather than the status.
func nextDueStatus(a *models.Auction, now time.Time, closeExpired bool) models.AuctionStatus {
	switch {
	case a.Status == models.AuctionStatusPending && !now.Before(a.StartTime):
		return models.AuctionStatusActive
	case closeExpired && a.Status == models.AuctionStatusActive && now.After(a.EndTime):
		return models.AuctionStatusClosed
	}
	return a.Status
}
