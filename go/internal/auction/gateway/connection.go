package gateway

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/fishmarket/go/internal/auth"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer full")
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`

	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		RequestTimeout:  5 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
	}
}

func (c ConnectionConfig) checkOrigin(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range c.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ConnState is the lifecycle of a connection.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Connection is an authenticated WebSocket client.
type Connection struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	send     chan []byte
	gateway  *Gateway
	state    atomic.Int32

	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once

	connectedAt time.Time
	lastPing    atomic.Int64
}

func newConnection(g *Gateway, ws *websocket.Conn, identity auth.Identity) *Connection {
	c := &Connection{
		id:          uuid.New().String(),
		identity:    identity,
		ws:          ws,
		send:        make(chan []byte, g.config.SendBufferSize),
		gateway:     g,
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	c.lastPing.Store(c.connectedAt.UnixNano())
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) UserID() uuid.UUID { return c.identity.UserID }

func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

// Send queues a frame for the write pump. A client that cannot keep up is
// stopped without blocking the sender; the write pump tears the socket down.
func (c *Connection) Send(frame []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		log.Warn().
			Str("connection_id", c.id).
			Str("user_id", c.identity.UserID.String()).
			Msg("connection send buffer full, closing connection")
		c.stop()
		return ErrSendBufferFull
	}
}

// stop marks the connection closed and wakes the write pump.
func (c *Connection) stop() {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

// Close tears the connection down. It is safe to call more than once and
// from any goroutine.
func (c *Connection) Close() {
	c.stop()
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.ws.Close()
	})
}

func (c *Connection) activate() {
	c.state.CompareAndSwap(int32(StateOpen), int32(StateActive))
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.gateway.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		c.gateway.wg.Done()
	}()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection. Its exit
// is the single point where the connection is released.
func (c *Connection) readPump() {
	cfg := c.gateway.config
	defer func() {
		c.Close()
		c.gateway.release(c)
		c.gateway.wg.Done()
	}()

	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.lastPing.Store(time.Now().UnixNano())
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.gateway.handleMessage(c, message)
		c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
