package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/manpreetbhatti/canvasflow/internal/room"
)

// Connection limits and flood policy applied to new clients
type Settings struct {
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	MaxStrikes        int

	// Nil allows every origin
	CheckOrigin func(origin string) bool
}

func DefaultSettings() Settings {
	return Settings{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		MaxMessageSize:    1024 * 1024,
		MessagesPerSecond: 100,
		Burst:             200,
		MaxStrikes:        1000,
	}
}

// The set of connected clients. Room membership and fan-out live in the
// room registry; the hub only owns connections.
type Hub struct {
	registry *room.Registry
	logger   *slog.Logger

	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done     chan struct{}
	settings Settings

	mu         sync.RWMutex
	settingsMu sync.RWMutex
}

func NewHub(registry *room.Registry, settings Settings, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry:   registry,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		settings:   settings,
	}
}

// Runs until ctx is cancelled, then closes every remaining connection
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			h.logger.Debug("client connected", "session_id", client.id, "clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			total := len(h.clients)
			h.mu.Unlock()

			h.logger.Debug("client disconnected", "session_id", client.id, "clients", total)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("hub stopped")
			return
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Registry() *room.Registry {
	return h.registry
}

// Replaces the settings used for connections accepted from now on
func (h *Hub) UpdateSettings(s Settings) {
	h.settingsMu.Lock()
	h.settings = s
	h.settingsMu.Unlock()
}

func (h *Hub) Settings() Settings {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.settings
}

func (h *Hub) addClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) removeClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
