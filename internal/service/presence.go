package service

import (
	"sync"

	"github.com/kiraya-in/kiraya-api/internal/models"
	"github.com/kiraya-in/kiraya-api/internal/observability"
)

// PresenceTracker holds the in-memory online map: user -> connection and
// user -> joined rooms. It is process-local by design; entries do not survive
// a restart and are not shared across instances. It is constructed explicitly
// and injected into the gateway so tests can observe and drive it directly.
type PresenceTracker struct {
	mu     sync.RWMutex
	conns  map[string]string              // userID -> connection id
	byConn map[string]string              // connection id -> userID
	rooms  map[string]map[string]struct{} // userID -> joined room ids
	byRoom map[string]map[string]struct{} // roomID -> joined user ids
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		conns:  make(map[string]string),
		byConn: make(map[string]string),
		rooms:  make(map[string]map[string]struct{}),
		byRoom: make(map[string]map[string]struct{}),
	}
}

// MarkOnline records the user's connection. Reconnects overwrite the stale
// connection id.
func (p *PresenceTracker) MarkOnline(userID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.conns[userID]; ok && old != connID {
		delete(p.byConn, old)
	}
	if _, ok := p.conns[userID]; !ok {
		observability.PresenceOnlineUsers().Inc()
	}
	p.conns[userID] = connID
	p.byConn[connID] = userID
}

// JoinRoom adds the room to the user's joined set; joining implies being
// online.
func (p *PresenceTracker) JoinRoom(userID, connID, roomID string) {
	p.MarkOnline(userID, connID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.rooms[userID]; !ok {
		p.rooms[userID] = make(map[string]struct{})
	}
	p.rooms[userID][roomID] = struct{}{}

	if _, ok := p.byRoom[roomID]; !ok {
		p.byRoom[roomID] = make(map[string]struct{})
	}
	p.byRoom[roomID][userID] = struct{}{}
}

// LeaveRoom removes the association between the user and the room.
func (p *PresenceTracker) LeaveRoom(userID, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removeFromRoom(userID, roomID)
}

func (p *PresenceTracker) removeFromRoom(userID, roomID string) {
	if joined, ok := p.rooms[userID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(p.rooms, userID)
		}
	}
	if members, ok := p.byRoom[roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(p.byRoom, roomID)
		}
	}
}

// Disconnect tears down all state for a connection and returns the user plus
// every room that still needs a presence broadcast to its remaining members.
func (p *PresenceTracker) Disconnect(connID string) (string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.byConn[connID]
	if !ok {
		return "", nil
	}

	// A newer connection may have taken over the user; only drop the online
	// entry when it still points at this connection.
	if current, ok := p.conns[userID]; ok && current == connID {
		delete(p.conns, userID)
		observability.PresenceOnlineUsers().Dec()
	}
	delete(p.byConn, connID)

	joined := make([]string, 0, len(p.rooms[userID]))
	for roomID := range p.rooms[userID] {
		joined = append(joined, roomID)
	}
	for _, roomID := range joined {
		p.removeFromRoom(userID, roomID)
	}

	return userID, joined
}

// IsOnline reports whether the user currently has a live connection.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.conns[userID]
	return ok
}

// IsInRoom reports whether the user is currently joined to the room.
func (p *PresenceTracker) IsInRoom(userID, roomID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members, ok := p.byRoom[roomID]
	if !ok {
		return false
	}
	_, joined := members[userID]
	return joined
}

// StatusFor computes the online flag for every participant of the room. The
// viewer is always reported online: the snapshot is taken on their behalf, so
// they are by definition present even if MarkOnline has not landed yet.
func (p *PresenceTracker) StatusFor(room models.ChatRoom, viewerID string) map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := make(map[string]bool, 2)
	for _, participant := range room.Participants() {
		if participant == viewerID {
			status[participant] = true
			continue
		}
		_, online := p.conns[participant]
		status[participant] = online
	}
	return status
}
