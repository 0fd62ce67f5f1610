package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/manpreetbhatti/canvasflow/internal/reconnect"
)

var ErrGaveUp = errors.New("client: reconnect attempts exhausted")

// Handles one live connection and returns when it should be dropped
type SessionFunc func(ctx context.Context, c *Client) error

// Keeps a connection to url open, redialing per policy whenever it is
// lost. session runs once per successful connect. Returns ErrGaveUp once
// the policy is exhausted, or ctx's error.
func Maintain(ctx context.Context, url string, policy *reconnect.Policy, logger *slog.Logger, session SessionFunc) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		c, err := Dial(ctx, url, logger)
		if err == nil {
			policy.Reset()
			err = session(ctx, c)
			c.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay, ok := policy.Next()
		if !ok {
			logger.Warn("giving up on reconnect", "attempts", policy.Attempt(), "error", err)
			return ErrGaveUp
		}
		logger.Info("reconnecting", "attempt", policy.Attempt(), "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
