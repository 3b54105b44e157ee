package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"rps_duel/internal/duel"
	"rps_duel/internal/lobby"
	"rps_duel/internal/logger"
	"rps_duel/internal/metrics"
	"rps_duel/internal/presence"
	"rps_duel/internal/store"
)

// Hub tracks the websocket connection of every participant served by
// this process and hands each one the components it plays through.
type Hub struct {
	store     store.Store
	engine    *duel.Engine
	tracker   *presence.Tracker
	directory *lobby.Directory
	clock     clockwork.Clock
	inviteTTL time.Duration
	log       *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(st store.Store, engine *duel.Engine, clock clockwork.Clock, inviteTTL time.Duration) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		store:     st,
		engine:    engine,
		tracker:   presence.NewTracker(st, nil),
		directory: lobby.NewDirectory(st, nil),
		clock:     clock,
		inviteTTL: inviteTTL,
		log:       logger.Component("ws"),
		clients:   make(map[string]*Client),
	}
}

// Attach registers c as its participant's connection and returns the
// connection it replaces, which is being closed.
func (h *Hub) Attach(c *Client) *Client {
	h.mu.Lock()
	old := h.clients[c.Participant]
	h.clients[c.Participant] = c
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedPlayers.Set(float64(n))
	if old != nil && old != c {
		h.log.Info("replacing connection", "participant", c.Participant, "old", old.ID, "new", c.ID)
		_ = old.Conn.Close()
		return old
	}
	return nil
}

// Detach forgets c unless it was already replaced.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	if h.clients[c.Participant] == c {
		delete(h.clients, c.Participant)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedPlayers.Set(float64(n))
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits, up to timeout, for their
// final presence writes.
func (h *Hub) Shutdown(timeout time.Duration) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.Conn.Close()
	}

	deadline := time.After(timeout)
	for _, c := range clients {
		select {
		case <-c.Done:
		case <-deadline:
			h.log.Warn("shutdown: connections still closing", "left", h.Count())
			return
		}
	}
}
