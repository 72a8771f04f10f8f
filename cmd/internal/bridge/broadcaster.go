package bridge

import (
	"log/slog"
	"sync"

	v1 "github.com/tarnapit/LASSMUO-FN-sub002/shared/contracts/bridge/v1"
)

// Broadcaster fans agent events out to every connected client.
// Broadcast never blocks; a client whose queue is full misses the event.
type Broadcaster struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log, clients: make(map[string]*Client)}
}

// Add registers a client.
func (b *Broadcaster) Add(c *Client) {
	b.mu.Lock()
	b.clients[c.SessionID] = c
	b.mu.Unlock()
}

// Remove unregisters a client by session id.
func (b *Broadcaster) Remove(sessionID string) {
	b.mu.Lock()
	delete(b.clients, sessionID)
	b.mu.Unlock()
}

// Len returns the number of connected clients.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast offers env to every client and returns how many accepted it.
func (b *Broadcaster) Broadcast(env v1.Envelope) int {
	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.offer(env) {
			n++
			continue
		}
		b.log.Info("bridge.broadcast.drop", "session_id", c.SessionID, "type", env.Type)
	}
	return n
}
