package auction

import (
	"context"
	"errors"
)

// Bid-level failures. All are reported to the submitting caller and leave
// the auction untouched.
var (
	ErrAuctionNotFound      = errors.New("auction not found")
	ErrAuctionNotActive     = errors.New("auction is not active")
	ErrOutsideBiddingWindow = errors.New("bid placed outside the bidding window")
	ErrSelfBidForbidden     = errors.New("sellers cannot bid on their own auction")
	ErrBidTooLow            = errors.New("bid is below the minimum")
	ErrDuplicateOrLowerBid  = errors.New("bidder already holds a higher or equal bid")
	ErrInvalidAmount        = errors.New("bid amount must be positive")
	ErrTimeout              = errors.New("timed out waiting for auction")
)

// Lifecycle failures.
var (
	ErrInvalidTransition   = errors.New("invalid auction status transition")
	ErrStartTimeNotReached = errors.New("auction start time not reached")
)

// Store and engine failures.
var (
	ErrEngineUnavailable = errors.New("auction engine unavailable")
	ErrEngineClosed      = errors.New("auction engine closed")
	// ErrStaleState is returned by a Repository when the expected version no
	// longer matches the stored record.
	ErrStaleState = errors.New("auction state changed since it was read")
)

// Wire codes reported to clients.
const (
	CodeAuctionNotFound      = "AuctionNotFound"
	CodeAuctionNotActive     = "AuctionNotActive"
	CodeOutsideBiddingWindow = "OutsideBiddingWindow"
	CodeSelfBidForbidden     = "SelfBidForbidden"
	CodeBidTooLow            = "BidTooLow"
	CodeDuplicateOrLowerBid  = "DuplicateOrLowerBid"
	CodeInvalidAmount        = "InvalidAmount"
	CodeTimeout              = "Timeout"
	CodeInvalidTransition    = "InvalidTransition"
	CodeStartTimeNotReached  = "StartTimeNotReached"
	CodeEngineUnavailable    = "EngineUnavailable"
)

// ErrorCode maps an engine error to its wire code. Unknown errors map to
// EngineUnavailable.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuctionNotFound):
		return CodeAuctionNotFound
	case errors.Is(err, ErrAuctionNotActive):
		return CodeAuctionNotActive
	case errors.Is(err, ErrOutsideBiddingWindow):
		return CodeOutsideBiddingWindow
	case errors.Is(err, ErrSelfBidForbidden):
		return CodeSelfBidForbidden
	case errors.Is(err, ErrBidTooLow):
		return CodeBidTooLow
	case errors.Is(err, ErrDuplicateOrLowerBid):
		return CodeDuplicateOrLowerBid
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrStartTimeNotReached):
		return CodeStartTimeNotReached
	default:
		return CodeEngineUnavailable
	}
}

// ErrorMessage returns a client-safe description of err. Store causes are
// never exposed.
func ErrorMessage(err error) string {
	if ErrorCode(err) == CodeEngineUnavailable {
		return ErrEngineUnavailable.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return ErrTimeout.Error()
	}
	return err.Error()
}
