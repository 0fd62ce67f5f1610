// Package client is a Go websocket client for the canvas server, used by
// the canvasbot CLI and in end-to-end tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/canvasflow/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	eventsBuffer = 256
)

var ErrClosed = errors.New("client: connection closed")

type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan protocol.Outbound
	done   chan struct{}

	nextID  atomic.Int64
	pending map[int64]chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	mu        sync.Mutex
}

// Opens a connection to a canvas server websocket URL
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		events:  make(chan protocol.Outbound, eventsBuffer),
		done:    make(chan struct{}),
		pending: make(map[int64]chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Server events other than ping acks. Closed when the connection ends.
func (c *Client) Events() <-chan protocol.Outbound {
	return c.events
}

// Closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Send(in protocol.Inbound) error {
	frame, err := protocol.EncodeInbound(in)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", in.Event(), err)
	}
	return nil
}

// Round-trip time of a ping until its ack arrives
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	id := c.nextID.Add(1)
	acked := make(chan struct{})

	c.mu.Lock()
	c.pending[id] = acked
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	start := time.Now()
	if err := c.Send(protocol.Ping{ID: &id}); err != nil {
		return 0, err
	}

	select {
	case <-acked:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.done:
		return 0, ErrClosed
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		close(c.events)
		c.conn.Close()
	}()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("connection lost", "error", err)
			}
			return
		}

		out, err := protocol.DecodeOutbound(frame)
		if err != nil {
			c.logger.Debug("ignoring server frame", "error", err)
			continue
		}

		if ack, ok := out.(protocol.Ack); ok {
			c.resolve(ack)
			continue
		}

		select {
		case c.events <- out:
		default:
			c.logger.Warn("event buffer full, dropping event", "event", out.Event())
		}
	}
}

func (c *Client) resolve(ack protocol.Ack) {
	if ack.ID == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.pending[*ack.ID]; ok {
		close(ch)
		delete(c.pending, *ack.ID)
	}
}
