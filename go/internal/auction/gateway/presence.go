package gateway

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Conn is a live client connection as seen by the registries.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	// Send queues a frame without blocking. It fails once the connection
	// is closed.
	Send(frame []byte) error
}

// RoomCount is the participant count of one auction room.
type RoomCount struct {
	AuctionID uuid.UUID
	Count     int
}

// PresenceRegistry tracks which users are in which auction rooms and which
// connection each presence entry is bound to.
type PresenceRegistry struct {
	mu sync.RWMutex
	// auction -> user -> bound connection
	rooms map[uuid.UUID]map[uuid.UUID]Conn
	// connection id -> auctions it holds presence in
	byConn map[string]map[uuid.UUID]struct{}
}

// NewPresenceRegistry creates an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		rooms:  make(map[uuid.UUID]map[uuid.UUID]Conn),
		byConn: make(map[string]map[uuid.UUID]struct{}),
	}
}

// Join records the connection's user in the room, rebinding an existing
// entry for the same user. It returns the room's participant count.
func (p *PresenceRegistry) Join(auctionID uuid.UUID, conn Conn) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[auctionID]
	if !ok {
		room = make(map[uuid.UUID]Conn)
		p.rooms[auctionID] = room
	}
	if prev, ok := room[conn.UserID()]; ok && prev.ID() != conn.ID() {
		p.unbind(prev.ID(), auctionID)
	}
	room[conn.UserID()] = conn

	held, ok := p.byConn[conn.ID()]
	if !ok {
		held = make(map[uuid.UUID]struct{})
		p.byConn[conn.ID()] = held
	}
	held[auctionID] = struct{}{}

	return len(room)
}

// Leave removes the user from the room. removed is false when the user was
// not present.
func (p *PresenceRegistry) Leave(auctionID, userID uuid.UUID) (count int, removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[auctionID]
	if !ok {
		return 0, false
	}
	conn, ok := room[userID]
	if !ok {
		return len(room), false
	}
	p.remove(auctionID, userID, conn.ID())
	return len(p.rooms[auctionID]), true
}

// RemoveConnection drops every presence entry bound to connID and returns
// the new count of each affected room. Entries the same user holds through
// another connection are kept.
func (p *PresenceRegistry) RemoveConnection(connID string) []RoomCount {
	p.mu.Lock()
	defer p.mu.Unlock()

	held, ok := p.byConn[connID]
	if !ok {
		return nil
	}

	counts := make([]RoomCount, 0, len(held))
	for auctionID := range held {
		for userID, conn := range p.rooms[auctionID] {
			if conn.ID() == connID {
				p.remove(auctionID, userID, connID)
				break
			}
		}
		counts = append(counts, RoomCount{AuctionID: auctionID, Count: len(p.rooms[auctionID])})
	}
	delete(p.byConn, connID)
	return counts
}

// Members returns the connections bound in the room.
func (p *PresenceRegistry) Members(auctionID uuid.UUID) []Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Values(p.rooms[auctionID])
}

// Contains reports whether userID is present in the room.
func (p *PresenceRegistry) Contains(auctionID, userID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rooms[auctionID][userID]
	return ok
}

// Count returns the room's participant count.
func (p *PresenceRegistry) Count(auctionID uuid.UUID) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms[auctionID])
}

// Auctions returns the rooms connID holds presence in.
func (p *PresenceRegistry) Auctions(connID string) []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Keys(p.byConn[connID])
}

// RoomCounts returns the participant count of every non-empty room.
func (p *PresenceRegistry) RoomCounts() map[uuid.UUID]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.MapValues(p.rooms, func(room map[uuid.UUID]Conn, _ uuid.UUID) int {
		return len(room)
	})
}

func (p *PresenceRegistry) remove(auctionID, userID uuid.UUID, connID string) {
	room := p.rooms[auctionID]
	delete(room, userID)
	if len(room) == 0 {
		delete(p.rooms, auctionID)
	}
	p.unbind(connID, auctionID)
}

func (p *PresenceRegistry) unbind(connID string, auctionID uuid.UUID) {
	held := p.byConn[connID]
	delete(held, auctionID)
	if len(held) == 0 {
		delete(p.byConn, connID)
	}
}
