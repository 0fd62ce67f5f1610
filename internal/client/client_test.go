package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/canvasflow/internal/protocol"
	"github.com/manpreetbhatti/canvasflow/internal/reconnect"
	"github.com/manpreetbhatti/canvasflow/internal/room"
	"github.com/manpreetbhatti/canvasflow/internal/stroke"
	"github.com/manpreetbhatti/canvasflow/internal/ws"
)

func startServer(t *testing.T) string {
	t.Helper()
	hub := ws.NewHub(room.NewRegistry(nil), ws.DefaultSettings(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, c *Client) protocol.Outbound {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "connection closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func ptr(v float64) *float64 { return &v }

func TestJoinAndDraw(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	a, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(protocol.JoinRoom{RoomID: "e2e", Username: "Ann"}))
	_, ok := nextEvent(t, a).(protocol.RoomState)
	require.True(t, ok)

	require.NoError(t, b.Send(protocol.JoinRoom{RoomID: "e2e", Username: "Ben"}))
	state := nextEvent(t, b).(protocol.RoomState)
	assert.Len(t, state.Users, 2)
	nextEvent(t, a)

	throttle := NewThrottler(DefaultThrottle)
	require.NoError(t, a.Send(protocol.StartStroke{X: ptr(0), Y: ptr(0), Tool: "brush", Color: "#000", Width: 2}))
	if pts := throttle.Add(stroke.Point{X: 1, Y: 1}); pts != nil {
		require.NoError(t, a.Send(protocol.DrawStroke{PathChunk: protocol.PathChunk(pts)}))
	}
	if pts := throttle.Flush(); pts != nil {
		require.NoError(t, a.Send(protocol.DrawStroke{PathChunk: protocol.PathChunk(pts)}))
	}
	require.NoError(t, a.Send(protocol.EndStroke{StrokeID: "s1"}))

	nextEvent(t, b)
	for {
		relay := nextEvent(t, b).(protocol.StrokeRelay)
		if relay.End {
			assert.Equal(t, []stroke.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}, relay.Path)
			break
		}
	}
}

func TestPingLatency(t *testing.T) {
	url := startServer(t)
	c, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rtt, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Less(t, rtt, 2*time.Second)
}

func TestSendAfterClose(t *testing.T) {
	url := startServer(t)
	c, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
	assert.ErrorIs(t, c.Send(protocol.Undo{}), ErrClosed)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", nil)
	assert.Error(t, err)
}

func TestMaintainGivesUp(t *testing.T) {
	policy := reconnect.NewPolicy(2, time.Millisecond, 2*time.Millisecond)

	err := Maintain(context.Background(), "ws://127.0.0.1:1/ws", policy, nil, func(ctx context.Context, c *Client) error {
		t.Fatal("session must not run without a connection")
		return nil
	})

	assert.True(t, errors.Is(err, ErrGaveUp))
	assert.Equal(t, reconnect.Exhausted, policy.State())
}

func TestMaintainRedialsAfterLoss(t *testing.T) {
	url := startServer(t)
	policy := reconnect.NewPolicy(3, time.Millisecond, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sessions atomic.Int32
	err := Maintain(ctx, url, policy, nil, func(ctx context.Context, c *Client) error {
		if sessions.Add(1) == 3 {
			cancel()
			return nil
		}
		assert.Equal(t, reconnect.Idle, policy.State(), "policy resets on connect")
		return errors.New("dropped")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), sessions.Load())
}
