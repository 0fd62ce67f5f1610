// Command canvasbot joins a drawing room, draws a scripted stroke and
// reports ping latency. Useful for smoke testing a running server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/manpreetbhatti/canvasflow/internal/client"
	"github.com/manpreetbhatti/canvasflow/internal/discovery"
	"github.com/manpreetbhatti/canvasflow/internal/logging"
	"github.com/manpreetbhatti/canvasflow/internal/protocol"
	"github.com/manpreetbhatti/canvasflow/internal/reconnect"
	"github.com/manpreetbhatti/canvasflow/internal/stroke"
)

var (
	server   = flag.String("server", "", "websocket url, e.g. ws://localhost:3000/ws")
	roomID   = flag.String("room", "lobby", "room to join")
	name     = flag.String("name", "", "display name (generated when empty)")
	discover = flag.Bool("discover", false, "find a server on the LAN when -server is empty")
	pings    = flag.Int("pings", 3, "latency probes to send after drawing")
	stay     = flag.Bool("stay", false, "keep the session open and print room events")
	verbose  = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(level, "text").Logger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	url := *server
	if url == "" {
		if !*discover {
			url = "ws://localhost:3000/ws"
		} else {
			found, err := findServer(ctx)
			if err != nil {
				color.Red("Discovery failed: %s\n", err)
				os.Exit(1)
			}
			url = found
		}
	}

	color.Green("Connecting to server @ %s\n", url)

	err := client.Maintain(ctx, url, reconnect.DefaultPolicy(), logger, func(ctx context.Context, c *client.Client) error {
		return run(ctx, c, logger)
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, client.ErrGaveUp):
		color.Red("Server unreachable, exiting.\n")
		os.Exit(1)
	default:
		color.Red("Connection error, exiting: %s\n", err)
		os.Exit(1)
	}
}

func findServer(ctx context.Context) (string, error) {
	color.Yellow("Browsing for %s servers...\n", discovery.ServiceType)
	servers, err := discovery.Browse(ctx, 3*time.Second)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", errors.New("no servers found")
	}
	for _, s := range servers {
		color.Cyan("  %s at %s\n", s.Instance, s.Addr)
	}
	return servers[0].URL(), nil
}

// One connected session. Returning nil ends the program; an error asks
// Maintain to redial.
func run(ctx context.Context, c *client.Client, logger *slog.Logger) error {
	if err := c.Send(protocol.JoinRoom{RoomID: *roomID, Username: *name}); err != nil {
		return err
	}

	select {
	case ev := <-c.Events():
		state, ok := ev.(protocol.RoomState)
		if !ok {
			return fmt.Errorf("expected room_state, got %s", ev.Event())
		}
		color.Green("Joined %q: %d ops, %d members\n", *roomID, len(state.Ops), len(state.Users))
	case <-c.Done():
		return errors.New("connection closed before join")
	case <-ctx.Done():
		return nil
	}

	if err := drawCircle(ctx, c, 200, 200, 80); err != nil {
		return err
	}
	color.Yellow("Stroke committed.\n")

	for i := 0; i < *pings; i++ {
		rtt, err := c.Ping(ctx)
		if err != nil {
			return err
		}
		color.Cyan("ping %d: %s\n", i+1, rtt.Round(time.Microsecond))
	}

	if !*stay {
		return nil
	}

	for {
		select {
		case ev := <-c.Events():
			printEvent(ev)
		case <-c.Done():
			color.Red("Server closed.\n")
			return errors.New("connection lost")
		case <-ctx.Done():
			logger.Debug("leaving room", "room", *roomID)
			return nil
		}
	}
}

func drawCircle(ctx context.Context, c *client.Client, cx, cy, r float64) error {
	const steps = 120
	x, y := cx+r, cy
	if err := c.Send(protocol.StartStroke{X: &x, Y: &y, Color: "#3b82f6", Width: 4, Tool: "brush"}); err != nil {
		return err
	}

	throttle := client.NewThrottler(client.DefaultThrottle)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for i := 1; i <= steps; i++ {
		a := 2 * math.Pi * float64(i) / steps
		p := stroke.Point{X: cx + r*math.Cos(a), Y: cy + r*math.Sin(a)}
		if pts := throttle.Add(p); len(pts) > 0 {
			if err := c.Send(protocol.DrawStroke{PathChunk: protocol.PathChunk(pts), Tool: "brush"}); err != nil {
				return err
			}
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if pts := throttle.Flush(); len(pts) > 0 {
		if err := c.Send(protocol.DrawStroke{PathChunk: protocol.PathChunk(pts), Tool: "brush"}); err != nil {
			return err
		}
	}
	return c.Send(protocol.EndStroke{})
}

func printEvent(ev protocol.Outbound) {
	switch e := ev.(type) {
	case protocol.UpdateUsers:
		color.Yellow("members: %d\n", len(e.Users))
	case protocol.RoomState:
		color.Yellow("room reset: %d ops\n", len(e.Ops))
	case protocol.OpCommitted:
		color.Cyan("%s committed %s\n", e.Op.UserID, e.Op.Type)
	case protocol.StrokeRelay:
		if e.End {
			color.Cyan("%s finished a %s stroke (%d points)\n", e.UserID, e.Tool, len(e.Path))
		}
	}
}
