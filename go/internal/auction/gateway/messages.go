package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/shopspring/decimal"
)

// MessageType names a real-time message.
type MessageType string

// Client to server.
const (
	MsgJoinAuction    MessageType = "join-auction"
	MsgLeaveAuction   MessageType = "leave-auction"
	MsgPlaceBid       MessageType = "place-bid"
	MsgWatchAuction   MessageType = "watch-auction"
	MsgUnwatchAuction MessageType = "unwatch-auction"
	MsgTypingStart    MessageType = "typing-start"
	MsgTypingStop     MessageType = "typing-stop"
)

// Server to client.
const (
	MsgConnected         MessageType = "connected"
	MsgAuctionJoined     MessageType = "auction-joined"
	MsgAuctionLeft       MessageType = "auction-left"
	MsgBidPlaced         MessageType = "bid-placed"
	MsgBidError          MessageType = "bid-error"
	MsgNewBid            MessageType = "new-bid"
	MsgOutbid            MessageType = "outbid"
	MsgParticipantCount  MessageType = "participant-count"
	MsgAuctionWatched    MessageType = "auction-watched"
	MsgAuctionUnwatched  MessageType = "auction-unwatched"
	MsgAuctionStatus     MessageType = "auction-status"
	MsgUserTyping        MessageType = "user-typing"
	MsgUserStoppedTyping MessageType = "user-stopped-typing"
	MsgError             MessageType = "error"
)

// ClientMessage is an inbound frame.
type ClientMessage struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// ServerMessage is an outbound frame.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

type AuctionRequest struct {
	AuctionID uuid.UUID `json:"auctionId"`
}

type PlaceBidRequest struct {
	AuctionID uuid.UUID       `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
}

type ConnectedPayload struct {
	UserID       uuid.UUID `json:"userId"`
	ConnectionID string    `json:"connectionId"`
}

type AuctionJoinedPayload struct {
	AuctionID        uuid.UUID            `json:"auctionId"`
	Status           models.AuctionStatus `json:"status"`
	CurrentPrice     decimal.Decimal      `json:"currentPrice"`
	MinimumBid       decimal.Decimal      `json:"minimumBid"`
	CurrentWinnerID  *uuid.UUID           `json:"currentWinnerId"`
	EndTime          time.Time            `json:"endTime"`
	ParticipantCount int                  `json:"participantCount"`
}

type AuctionRefPayload struct {
	AuctionID uuid.UUID `json:"auctionId"`
}

type BidPlacedPayload struct {
	BidID     uuid.UUID       `json:"bidId"`
	AuctionID uuid.UUID       `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placedAt"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type NewBidPayload struct {
	AuctionID uuid.UUID       `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
	BidderID  uuid.UUID       `json:"bidderId"`
	PlacedAt  time.Time       `json:"placedAt"`
}

type OutbidPayload struct {
	AuctionID uuid.UUID       `json:"auctionId"`
	NewAmount decimal.Decimal `json:"newAmount"`
}

type ParticipantCountPayload struct {
	AuctionID uuid.UUID `json:"auctionId"`
	Count     int       `json:"count"`
}

type TypingPayload struct {
	AuctionID uuid.UUID `json:"auctionId"`
	UserID    uuid.UUID `json:"userId"`
}

type AuctionStatusPayload struct {
	AuctionID uuid.UUID            `json:"auctionId"`
	Status    models.AuctionStatus `json:"status"`
}

func newMessage(t MessageType, data any) ServerMessage {
	return ServerMessage{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// reply builds a response correlated with a client request.
func reply(req ClientMessage, t MessageType, data any) ServerMessage {
	msg := newMessage(t, data)
	msg.RequestID = req.RequestID
	return msg
}
