package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/canvasflow/internal/protocol"
	"github.com/manpreetbhatti/canvasflow/internal/ratelimit"
	"github.com/manpreetbhatti/canvasflow/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 512
)

// One websocket connection. It is the room.Peer for its session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	session *session.Session
	guard   *ratelimit.Guard
	id      string
	logger  *slog.Logger

	closed bool
	mu     sync.Mutex
}

// Queues msg without blocking. A client whose buffer is full is treated
// as lost and its connection is closed.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("send buffer full, dropping client")
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	settings := h.Settings()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  settings.ReadBufferSize,
		WriteBufferSize: settings.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if settings.CheckOrigin == nil {
				return true
			}
			return settings.CheckOrigin(r.Header.Get("Origin"))
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	logger := h.logger.With("session_id", id)
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		guard:  ratelimit.NewGuard(settings.MessagesPerSecond, settings.Burst, settings.MaxStrikes),
		id:     id,
		logger: logger,
	}
	client.session = session.New(id, h.registry, client, logger)

	if !h.addClient(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(settings.MaxMessageSize)
}

// The connection itself is closed by writePump once it has flushed the
// queued frames and the close frame.
func (c *Client) readPump(maxMessageSize int64) {
	defer func() {
		c.session.Close()
		c.hub.removeClient(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		switch c.guard.Check() {
		case ratelimit.Drop:
			if strikes := c.guard.Strikes(); strikes%100 == 1 {
				c.logger.Warn("rate limit exceeded", "room_id", c.session.RoomID(), "strikes", strikes)
			}
			continue
		case ratelimit.Disconnect:
			c.logger.Warn("disconnecting client for excessive rate limit violations", "strikes", c.guard.Strikes())
			return
		}

		in, err := protocol.Decode(message)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownEvent) {
				c.logger.Debug("ignoring unknown event", "error", err)
			} else {
				c.logger.Debug("ignoring malformed frame", "error", err)
			}
			continue
		}
		c.session.Handle(in)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
