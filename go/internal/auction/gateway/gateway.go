package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/fishmarket/go/internal/auction"
	"github.com/mcdev12/fishmarket/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// Codes for failures that do not come from the engine.
const (
	CodeBadRequest     = "BadRequest"
	CodeUnknownMessage = "UnknownMessageType"
)

// Authenticator verifies a connection's identity token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// Gateway accepts WebSocket connections, authenticates them and dispatches
// their messages to the hub.
type Gateway struct {
	hub      *Hub
	authn    Authenticator
	upgrader websocket.Upgrader
	config   ConnectionConfig

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGateway creates a gateway.
func NewGateway(hub *Hub, authn Authenticator, config ConnectionConfig) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		hub:   hub,
		authn: authn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.checkOrigin,
		},
		config: config,
		conns:  make(map[string]*Connection),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeWS authenticates the request and upgrades it. Authentication happens
// before the upgrade so a rejected client gets a plain HTTP status.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authn.Authenticate(r.Context(), tokenFromRequest(r))
	if err != nil {
		status := authStatus(err)
		log.Info().Err(err).Int("status", status).Str("remote_addr", r.RemoteAddr).Msg("rejected WebSocket connection")
		http.Error(w, http.StatusText(status), status)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("user_id", identity.UserID.String()).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := newConnection(g, ws, identity)
	if !g.register(c) {
		c.Close()
		return
	}
	g.hub.Connect(c)
	c.activate()
	g.hub.fanout.SendTo(c, newMessage(MsgConnected, ConnectedPayload{
		UserID:       identity.UserID,
		ConnectionID: c.id,
	}))

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", identity.UserID.String()).
		Msg("WebSocket connection established")
}

// HandleStats returns statistics about active connections
func (g *Gateway) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.hub.Stats())
}

// Close disconnects every client and waits for their pumps to exit.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	g.cancel()
	for _, c := range conns {
		c.Close()
	}
	g.wg.Wait()
}

// register tracks c and reserves the wait group slots for its pumps.
func (g *Gateway) register(c *Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c.id] = c
	g.wg.Add(2)
	return true
}

// release removes a connection from every registry. Called once per
// connection, from its read pump.
func (g *Gateway) release(c *Connection) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()

	g.hub.Disconnect(c)

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", c.UserID().String()).
		Dur("duration", time.Since(c.connectedAt)).
		Msg("connection unregistered")
}

// handleMessage processes a message received from the client. Messages of
// one connection are handled in order.
func (g *Gateway) handleMessage(c *Connection, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		g.reply(c, newMessage(MsgError, ErrorPayload{Code: CodeBadRequest, Message: "malformed message"}))
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, g.config.RequestTimeout)
	defer cancel()

	switch msg.Type {
	case MsgJoinAuction:
		var req AuctionRequest
		if !g.decode(c, msg, &req, req.validate) {
			return
		}
		joined, err := g.hub.Join(ctx, c, req.AuctionID)
		if err != nil {
			g.replyError(c, msg, MsgError, err)
			return
		}
		g.reply(c, reply(msg, MsgAuctionJoined, joined))

	case MsgLeaveAuction:
		var req AuctionRequest
		if !g.decode(c, msg, &req, req.validate) {
			return
		}
		g.hub.Leave(c, req.AuctionID)
		g.reply(c, reply(msg, MsgAuctionLeft, AuctionRefPayload{AuctionID: req.AuctionID}))

	case MsgPlaceBid:
		var req PlaceBidRequest
		if !g.decode(c, msg, &req, func() bool { return req.AuctionID != uuid.Nil }) {
			return
		}
		res, err := g.hub.PlaceBid(ctx, c, req.AuctionID, req.Amount)
		if err != nil {
			g.replyError(c, msg, MsgBidError, err)
			return
		}
		g.reply(c, reply(msg, MsgBidPlaced, BidPlacedPayload{
			BidID:     res.Bid.ID,
			AuctionID: res.Bid.AuctionID,
			Amount:    res.Bid.Amount,
			PlacedAt:  res.Bid.PlacedAt,
		}))

	case MsgWatchAuction:
		var req AuctionRequest
		if !g.decode(c, msg, &req, req.validate) {
			return
		}
		if err := g.hub.Watch(ctx, c.UserID(), req.AuctionID); err != nil {
			g.replyError(c, msg, MsgError, err)
			return
		}
		g.reply(c, reply(msg, MsgAuctionWatched, AuctionRefPayload{AuctionID: req.AuctionID}))

	case MsgUnwatchAuction:
		var req AuctionRequest
		if !g.decode(c, msg, &req, req.validate) {
			return
		}
		g.hub.Unwatch(c.UserID(), req.AuctionID)
		g.reply(c, reply(msg, MsgAuctionUnwatched, AuctionRefPayload{AuctionID: req.AuctionID}))

	case MsgTypingStart, MsgTypingStop:
		var req AuctionRequest
		if !g.decode(c, msg, &req, req.validate) {
			return
		}
		g.hub.Typing(c, req.AuctionID, msg.Type == MsgTypingStart)

	default:
		g.reply(c, reply(msg, MsgError, ErrorPayload{Code: CodeUnknownMessage, Message: "unknown message type " + string(msg.Type)}))
	}
}

func (r *AuctionRequest) validate() bool {
	return r.AuctionID != uuid.Nil
}

// decode unmarshals the message data into v and checks it with valid.
func (g *Gateway) decode(c *Connection, msg ClientMessage, v any, valid func() bool) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil || !valid() {
		g.reply(c, reply(msg, MsgError, ErrorPayload{Code: CodeBadRequest, Message: "invalid " + string(msg.Type) + " payload"}))
		return false
	}
	return true
}

func (g *Gateway) replyError(c *Connection, msg ClientMessage, t MessageType, err error) {
	code := auction.ErrorCode(err)
	log.Debug().
		Err(err).
		Str("connection_id", c.id).
		Str("user_id", c.UserID().String()).
		Str("code", code).
		Msg("request failed")
	g.reply(c, reply(msg, t, ErrorPayload{Code: code, Message: auction.ErrorMessage(err)}))
}

func (g *Gateway) reply(c *Connection, msg ServerMessage) {
	g.hub.fanout.SendTo(c, msg)
}

// tokenFromRequest reads the identity token from the `token` query
// parameter or a Bearer Authorization header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrAccountInactive):
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
