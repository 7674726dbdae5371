package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type wireMessage struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

type fakeConn struct {
	id     string
	userID uuid.UUID

	mu     sync.Mutex
	frames [][]byte
	err    error
}

func newFakeConn(userID uuid.UUID) *fakeConn {
	return &fakeConn{id: uuid.NewString(), userID: userID}
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) UserID() uuid.UUID { return c.userID }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) messages(t *testing.T) []wireMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wireMessage, 0, len(c.frames))
	for _, f := range c.frames {
		var m wireMessage
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, mt MessageType) []wireMessage {
	t.Helper()
	var out []wireMessage
	for _, m := range c.messages(t) {
		if m.Type == mt {
			out = append(out, m)
		}
	}
	return out
}

func TestPresence_JoinLeaveRestoresCount(t *testing.T) {
	p := NewPresenceRegistry()
	auctionID := uuid.New()
	a, b := newFakeConn(uuid.New()), newFakeConn(uuid.New())

	assert.Equal(t, 1, p.Join(auctionID, a))
	assert.Equal(t, 2, p.Join(auctionID, b))

	count, removed := p.Leave(auctionID, b.UserID())
	assert.True(t, removed)
	assert.Equal(t, 1, count)

	count, removed = p.Leave(auctionID, b.UserID())
	assert.False(t, removed, "second leave is a no-op")
	assert.Equal(t, 1, count)

	count, removed = p.Leave(uuid.New(), a.UserID())
	assert.False(t, removed)
	assert.Zero(t, count)
}

func TestPresence_RejoinRebindsConnection(t *testing.T) {
	p := NewPresenceRegistry()
	auctionID := uuid.New()
	user := uuid.New()
	first, second := newFakeConn(user), newFakeConn(user)

	p.Join(auctionID, first)
	assert.Equal(t, 1, p.Join(auctionID, second), "one entry per user")

	members := p.Members(auctionID)
	require.Len(t, members, 1)
	assert.Equal(t, second.ID(), members[0].ID())
	assert.Empty(t, p.Auctions(first.ID()))

	// Closing the stale connection must not evict the rebound entry.
	assert.Nil(t, p.RemoveConnection(first.ID()))
	assert.Equal(t, 1, p.Count(auctionID))
}

func TestPresence_RemoveConnection(t *testing.T) {
	p := NewPresenceRegistry()
	roomA, roomB := uuid.New(), uuid.New()
	conn := newFakeConn(uuid.New())
	other := newFakeConn(uuid.New())

	p.Join(roomA, conn)
	p.Join(roomB, conn)
	p.Join(roomB, other)
	assert.ElementsMatch(t, []uuid.UUID{roomA, roomB}, p.Auctions(conn.ID()))

	counts := p.RemoveConnection(conn.ID())
	assert.ElementsMatch(t, []RoomCount{{AuctionID: roomA, Count: 0}, {AuctionID: roomB, Count: 1}}, counts)
	assert.Equal(t, map[uuid.UUID]int{roomB: 1}, p.RoomCounts())
	assert.Nil(t, p.RemoveConnection(conn.ID()))
}

func TestWatchRegistry(t *testing.T) {
	w := NewWatchRegistry()
	user := uuid.New()
	a1, a2 := uuid.New(), uuid.New()

	w.Watch(user, a1)
	w.Watch(user, a1)
	w.Watch(user, a2)
	assert.Equal(t, []uuid.UUID{user}, w.ListWatchers(a1))
	assert.ElementsMatch(t, []uuid.UUID{a1, a2}, w.Watching(user))

	w.Unwatch(user, a1)
	w.Unwatch(user, a1)
	assert.Empty(t, w.ListWatchers(a1))
	assert.Equal(t, []uuid.UUID{a2}, w.Watching(user))
}

func TestConnectionIndex(t *testing.T) {
	ci := NewConnectionIndex()
	user := uuid.New()
	c1, c2 := newFakeConn(user), newFakeConn(user)

	ci.Add(c1)
	ci.Add(c2)
	assert.True(t, ci.Online(user))
	users, conns := ci.Stats()
	assert.Equal(t, 1, users)
	assert.Equal(t, 2, conns)

	ci.Remove(c1)
	assert.Len(t, ci.ForUser(user), 1)
	ci.Remove(c2)
	assert.False(t, ci.Online(user))
}

func TestFanout_FailingRecipientDoesNotAffectOthers(t *testing.T) {
	presence := NewPresenceRegistry()
	conns := NewConnectionIndex()
	f := NewFanout(presence, conns)
	auctionID := uuid.New()

	good := newFakeConn(uuid.New())
	bad := newFakeConn(uuid.New())
	bad.err = errors.New("broken pipe")
	excluded := newFakeConn(uuid.New())
	for _, c := range []*fakeConn{good, bad, excluded} {
		presence.Join(auctionID, c)
		conns.Add(c)
	}

	msg := newMessage(MsgAuctionStatus, AuctionStatusPayload{AuctionID: auctionID, Status: "closed"})
	assert.Equal(t, 1, f.BroadcastToRoom(auctionID, msg, excluded.UserID()))
	assert.Len(t, good.messages(t), 1)
	assert.Empty(t, excluded.messages(t))

	assert.Equal(t, 1, f.NotifyUser(good.UserID(), msg))
	assert.Zero(t, f.NotifyUser(uuid.New(), msg), "offline user is skipped")
	assert.False(t, f.SendTo(bad, msg))
}
