package gateway

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// WatchRegistry holds explicit watch subscriptions. Watches are keyed by
// user, not connection, and survive disconnects.
type WatchRegistry struct {
	mu        sync.RWMutex
	byAuction map[uuid.UUID]map[uuid.UUID]struct{}
	byUser    map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewWatchRegistry creates an empty registry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{
		byAuction: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		byUser:    make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Watch subscribes userID to auctionID. Repeated calls are no-ops.
func (w *WatchRegistry) Watch(userID, auctionID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	add(w.byAuction, auctionID, userID)
	add(w.byUser, userID, auctionID)
}

// Unwatch removes the subscription if present.
func (w *WatchRegistry) Unwatch(userID, auctionID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	del(w.byAuction, auctionID, userID)
	del(w.byUser, userID, auctionID)
}

// ListWatchers returns the users watching auctionID.
func (w *WatchRegistry) ListWatchers(auctionID uuid.UUID) []uuid.UUID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return lo.Keys(w.byAuction[auctionID])
}

// Watching returns the auctions userID watches.
func (w *WatchRegistry) Watching(userID uuid.UUID) []uuid.UUID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return lo.Keys(w.byUser[userID])
}

func add(m map[uuid.UUID]map[uuid.UUID]struct{}, k, v uuid.UUID) {
	set, ok := m[k]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m[k] = set
	}
	set[v] = struct{}{}
}

func del(m map[uuid.UUID]map[uuid.UUID]struct{}, k, v uuid.UUID) {
	set := m[k]
	delete(set, v)
	if len(set) == 0 {
		delete(m, k)
	}
}
