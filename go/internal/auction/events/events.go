package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/shopspring/decimal"
)

// EventType represents the type of auction domain event
type EventType string

const (
	EventTypeBidPlaced            EventType = "BidPlaced"
	EventTypeAuctionStatusChanged EventType = "AuctionStatusChanged"
)

// Event is the envelope every domain event travels in.
type Event struct {
	ID        uuid.UUID       `json:"eventId"`
	Type      EventType       `json:"eventType"`
	AuctionID uuid.UUID       `json:"auctionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// BidPlacedPayload is the payload for a BidPlaced event
type BidPlacedPayload struct {
	BidID            uuid.UUID       `json:"bidId"`
	BidderID         uuid.UUID       `json:"bidderId"`
	Amount           decimal.Decimal `json:"amount"`
	PlacedAt         time.Time       `json:"placedAt"`
	PreviousBidID    *uuid.UUID      `json:"previousBidId,omitempty"`
	PreviousBidderID *uuid.UUID      `json:"previousBidderId,omitempty"`
}

// StatusChangedPayload is the payload for an AuctionStatusChanged event
type StatusChangedPayload struct {
	From      models.AuctionStatus `json:"from"`
	To        models.AuctionStatus `json:"to"`
	ChangedAt time.Time            `json:"changedAt"`
}

// New builds an event with a fresh id.
func New(eventType EventType, auctionID uuid.UUID, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		AuctionID: auctionID,
		Timestamp: at.UTC(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Publisher relays domain events to the rest of the system.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Pusher dispatches an event to a single user out of band, for users
// without a live connection.
type Pusher interface {
	Push(ctx context.Context, userID uuid.UUID, event Event) error
}
