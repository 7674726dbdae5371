package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fishmarket/go/internal/auction"
	"github.com/mcdev12/fishmarket/go/internal/auction/events"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// AuctionEngine is what the hub needs from the auction engine.
type AuctionEngine interface {
	GetState(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*auction.BidResult, error)
}

// Hub ties client intents to the engine and the registries, and emits the
// notifications each successful intent implies.
type Hub struct {
	engine   AuctionEngine
	presence *PresenceRegistry
	watches  *WatchRegistry
	conns    *ConnectionIndex
	fanout   *Fanout
	pusher   events.Pusher
}

// NewHub creates a hub with fresh registries. pusher may be nil.
func NewHub(engine AuctionEngine, pusher events.Pusher) *Hub {
	presence := NewPresenceRegistry()
	conns := NewConnectionIndex()
	return &Hub{
		engine:   engine,
		presence: presence,
		watches:  NewWatchRegistry(),
		conns:    conns,
		fanout:   NewFanout(presence, conns),
		pusher:   pusher,
	}
}

// Connect makes conn reachable for targeted notifications.
func (h *Hub) Connect(conn Conn) {
	h.conns.Add(conn)
}

// Disconnect removes every trace of conn and tells affected rooms their
// new participant count.
func (h *Hub) Disconnect(conn Conn) {
	h.conns.Remove(conn)
	for _, rc := range h.presence.RemoveConnection(conn.ID()) {
		h.broadcastCount(rc.AuctionID, rc.Count, conn.UserID())
	}
}

// Join adds conn's user to the auction room. The caller delivers the
// returned confirmation to the joining user; the rest of the room receives
// the new participant count.
func (h *Hub) Join(ctx context.Context, conn Conn, auctionID uuid.UUID) (AuctionJoinedPayload, error) {
	state, err := h.engine.GetState(ctx, auctionID)
	if err != nil {
		return AuctionJoinedPayload{}, err
	}
	if !state.Status.AcceptsJoins() {
		return AuctionJoinedPayload{}, fmt.Errorf("%w: auction is %s", auction.ErrAuctionNotActive, state.Status)
	}

	count := h.presence.Join(auctionID, conn)
	h.broadcastCount(auctionID, count, conn.UserID())

	log.Info().
		Str("auction_id", auctionID.String()).
		Str("user_id", conn.UserID().String()).
		Str("connection_id", conn.ID()).
		Int("participants", count).
		Msg("user joined auction")

	return AuctionJoinedPayload{
		AuctionID:        auctionID,
		Status:           state.Status,
		CurrentPrice:     state.CurrentPrice,
		MinimumBid:       state.MinimumBid(),
		CurrentWinnerID:  state.CurrentWinnerID,
		EndTime:          state.EndTime,
		ParticipantCount: count,
	}, nil
}

// Leave removes the connection's user from the room. Leaving a room the
// user is not in changes nothing.
func (h *Hub) Leave(conn Conn, auctionID uuid.UUID) (int, bool) {
	count, removed := h.presence.Leave(auctionID, conn.UserID())
	if removed {
		h.broadcastCount(auctionID, count, conn.UserID())
		log.Info().
			Str("auction_id", auctionID.String()).
			Str("user_id", conn.UserID().String()).
			Int("participants", count).
			Msg("user left auction")
	}
	return count, removed
}

// PlaceBid submits a bid for conn's user. On success the room receives
// new-bid and the previous leader, if someone else, receives outbid. Offline
// watchers are reached through HandleEvent.
func (h *Hub) PlaceBid(ctx context.Context, conn Conn, auctionID uuid.UUID, amount decimal.Decimal) (*auction.BidResult, error) {
	res, err := h.engine.PlaceBid(ctx, auctionID, conn.UserID(), amount)
	if err != nil {
		return nil, err
	}

	h.fanout.BroadcastToRoom(auctionID, newMessage(MsgNewBid, NewBidPayload{
		AuctionID: auctionID,
		Amount:    res.Bid.Amount,
		BidderID:  res.Bid.BidderID,
		PlacedAt:  res.Bid.PlacedAt,
	}))

	if res.Outbid != nil && res.Outbid.BidderID != res.Bid.BidderID {
		h.fanout.NotifyUser(res.Outbid.BidderID, newMessage(MsgOutbid, OutbidPayload{
			AuctionID: auctionID,
			NewAmount: res.Bid.Amount,
		}))
	}
	return res, nil
}

// Typing relays a typing indicator to the rest of the room. Users who have
// not joined the room are ignored.
func (h *Hub) Typing(conn Conn, auctionID uuid.UUID, typing bool) bool {
	if !h.presence.Contains(auctionID, conn.UserID()) {
		return false
	}
	mt := MsgUserStoppedTyping
	if typing {
		mt = MsgUserTyping
	}
	h.fanout.BroadcastToRoom(auctionID, newMessage(mt, TypingPayload{
		AuctionID: auctionID,
		UserID:    conn.UserID(),
	}), conn.UserID())
	return true
}

// Watch subscribes userID to an existing auction.
func (h *Hub) Watch(ctx context.Context, userID, auctionID uuid.UUID) error {
	if _, err := h.engine.GetState(ctx, auctionID); err != nil {
		return err
	}
	h.watches.Watch(userID, auctionID)
	return nil
}

// Unwatch drops the subscription if present.
func (h *Hub) Unwatch(userID, auctionID uuid.UUID) {
	h.watches.Unwatch(userID, auctionID)
}

// HandleEvent reacts to engine domain events. It runs on the engine's relay
// goroutine, never on a request path. Status changes are broadcast to the
// room whatever triggered them. Offline watchers are pushed the engine's own
// event for every accepted bid and terminal outcome.
func (h *Hub) HandleEvent(ctx context.Context, ev events.Event) {
	switch ev.Type {
	case events.EventTypeBidPlaced:
		var payload events.BidPlacedPayload
		if err := ev.Decode(&payload); err != nil {
			log.Error().Err(err).Str("auction_id", ev.AuctionID.String()).Msg("failed to decode bid event")
			return
		}
		h.pushOfflineWatchers(ctx, ev, payload.BidderID)

	case events.EventTypeAuctionStatusChanged:
		var payload events.StatusChangedPayload
		if err := ev.Decode(&payload); err != nil {
			log.Error().Err(err).Str("auction_id", ev.AuctionID.String()).Msg("failed to decode status event")
			return
		}
		h.BroadcastStatus(ev.AuctionID, payload.To)
		if payload.To.Terminal() {
			h.pushOfflineWatchers(ctx, ev, uuid.Nil)
		}
	}
}

// BroadcastStatus tells the room about an auction's lifecycle status.
func (h *Hub) BroadcastStatus(auctionID uuid.UUID, status models.AuctionStatus) {
	h.fanout.BroadcastToRoom(auctionID, newMessage(MsgAuctionStatus, AuctionStatusPayload{
		AuctionID: auctionID,
		Status:    status,
	}))
}

// Stats summarises connections and rooms.
type Stats struct {
	Users       int            `json:"users"`
	Connections int            `json:"total_connections"`
	Rooms       int            `json:"active_auctions"`
	RoomCounts  map[string]int `json:"auction_connections"`
}

func (h *Hub) Stats() Stats {
	users, conns := h.conns.Stats()
	rooms := h.presence.RoomCounts()
	counts := make(map[string]int, len(rooms))
	for id, n := range rooms {
		counts[id.String()] = n
	}
	return Stats{Users: users, Connections: conns, Rooms: len(rooms), RoomCounts: counts}
}

func (h *Hub) broadcastCount(auctionID uuid.UUID, count int, exclude uuid.UUID) {
	h.fanout.BroadcastToRoom(auctionID, newMessage(MsgParticipantCount, ParticipantCountPayload{
		AuctionID: auctionID,
		Count:     count,
	}), exclude)
}

// pushOfflineWatchers hands ev to the pusher for every watcher without a
// live connection.
func (h *Hub) pushOfflineWatchers(ctx context.Context, ev events.Event, skip uuid.UUID) {
	if h.pusher == nil {
		return
	}
	for _, userID := range h.watches.ListWatchers(ev.AuctionID) {
		if userID == skip || h.conns.Online(userID) {
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := h.pusher.Push(pushCtx, userID, ev); err != nil {
			log.Warn().
				Err(err).
				Str("auction_id", ev.AuctionID.String()).
				Str("user_id", userID.String()).
				Msg("failed to push to offline watcher")
		}
		cancel()
	}
}
