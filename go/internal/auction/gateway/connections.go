package gateway

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ConnectionIndex maps users to their live connections.
type ConnectionIndex struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]map[string]Conn
}

// NewConnectionIndex creates an empty index.
func NewConnectionIndex() *ConnectionIndex {
	return &ConnectionIndex{byUser: make(map[uuid.UUID]map[string]Conn)}
}

func (ci *ConnectionIndex) Add(conn Conn) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	conns, ok := ci.byUser[conn.UserID()]
	if !ok {
		conns = make(map[string]Conn)
		ci.byUser[conn.UserID()] = conns
	}
	conns[conn.ID()] = conn
}

func (ci *ConnectionIndex) Remove(conn Conn) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	conns := ci.byUser[conn.UserID()]
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(ci.byUser, conn.UserID())
	}
}

// ForUser returns every live connection of userID.
func (ci *ConnectionIndex) ForUser(userID uuid.UUID) []Conn {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return lo.Values(ci.byUser[userID])
}

// Online reports whether userID has at least one live connection.
func (ci *ConnectionIndex) Online(userID uuid.UUID) bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return len(ci.byUser[userID]) > 0
}

// Stats returns the number of connected users and connections.
func (ci *ConnectionIndex) Stats() (users, connections int) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	for _, conns := range ci.byUser {
		connections += len(conns)
	}
	return len(ci.byUser), connections
}
