// Package events implements best-effort fanout of captured interactions
// to an owner's live dashboard sessions. Delivery is a refresh hint only:
// there is no queue and no replay, and publishing never blocks capture.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/oobits/snare/internal/models"
)

// Event is the payload pushed to subscribed sessions.
type Event struct {
	Kind        string             `json:"kind"`
	Label       string             `json:"label"`
	Interaction models.Interaction `json:"interaction"`
}

// Bus is the fanout capability the capture listeners depend on. It is
// injected so the listeners are testable without a live transport.
type Bus interface {
	Publish(ownerID int64, ev Event)
}

// Noop is a Bus that discards everything.
type Noop struct{}

func (Noop) Publish(int64, Event) {}

const sessionBuffer = 16

// Hub is an in-process Bus with per-owner session channels.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[string]chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[int64]map[string]chan Event)}
}

// Subscribe registers a new session for ownerID and returns its id and
// receive channel. The channel is closed by Unsubscribe.
func (h *Hub) Subscribe(ownerID int64) (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, sessionBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[ownerID] == nil {
		h.sessions[ownerID] = make(map[string]chan Event)
	}
	h.sessions[ownerID][id] = ch
	return id, ch
}

// Unsubscribe removes a session and closes its channel.
func (h *Hub) Unsubscribe(ownerID int64, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owner := h.sessions[ownerID]
	if owner == nil {
		return
	}
	if ch, ok := owner[id]; ok {
		delete(owner, id)
		close(ch)
	}
	if len(owner) == 0 {
		delete(h.sessions, ownerID)
	}
}

// Publish delivers ev to every live session of ownerID. Sessions with a
// full buffer are skipped rather than waited for.
func (h *Hub) Publish(ownerID int64, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.sessions[ownerID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
