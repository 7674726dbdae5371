package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Fanout delivers server messages to rooms and to individual users.
// Delivery is best effort: a failing recipient never affects the others.
type Fanout struct {
	presence *PresenceRegistry
	conns    *ConnectionIndex
}

// NewFanout creates a fanout over the registries.
func NewFanout(presence *PresenceRegistry, conns *ConnectionIndex) *Fanout {
	return &Fanout{presence: presence, conns: conns}
}

// BroadcastToRoom sends msg to every room member except the excluded users
// and returns how many connections accepted it.
func (f *Fanout) BroadcastToRoom(auctionID uuid.UUID, msg ServerMessage, exclude ...uuid.UUID) int {
	targets := lo.Filter(f.presence.Members(auctionID), func(c Conn, _ int) bool {
		return !lo.Contains(exclude, c.UserID())
	})
	delivered := f.deliver(targets, msg)

	log.Debug().
		Str("event_type", string(msg.Type)).
		Str("auction_id", auctionID.String()).
		Int("connections", delivered).
		Msg("event broadcasted")
	return delivered
}

// NotifyUser sends msg to all of userID's connections. Users without a live
// connection are silently skipped.
func (f *Fanout) NotifyUser(userID uuid.UUID, msg ServerMessage) int {
	return f.deliver(f.conns.ForUser(userID), msg)
}

// SendTo sends msg to a single connection.
func (f *Fanout) SendTo(conn Conn, msg ServerMessage) bool {
	return f.deliver([]Conn{conn}, msg) == 1
}

func (f *Fanout) deliver(targets []Conn, msg ServerMessage) int {
	if len(targets) == 0 {
		return 0
	}

	// Marshal the event once
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(msg.Type)).Msg("failed to marshal event for broadcast")
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if err := c.Send(frame); err != nil {
			log.Debug().
				Err(err).
				Str("connection_id", c.ID()).
				Str("user_id", c.UserID().String()).
				Msg("dropped message for connection")
			continue
		}
		delivered++
	}
	return delivered
}
