package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/router"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
)

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	limit      int
	window     time.Duration
	timestamps []time.Time
	mu         sync.Mutex
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimitMessages
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &rateLimiter{limit: limit, window: window}
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= r.limit {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// wsConn adapts a WebSocket to router.Conn. Writes are serialized; messages
// over the rate limit are answered with RATE_LIMITED and skipped.
type wsConn struct {
	c       *websocket.Conn
	limiter *rateLimiter
	mu      sync.Mutex
}

func newConn(c *websocket.Conn, limiter *rateLimiter) *wsConn {
	return &wsConn{c: c, limiter: limiter}
}

func (w *wsConn) Read(ctx context.Context) (json.RawMessage, error) {
	for {
		// Frames are handed over undecoded so a malformed one is answered
		// by the router instead of closing the socket.
		_, data, err := w.c.Read(ctx)
		if err != nil {
			return nil, err
		}
		if w.limiter.allow() {
			return json.RawMessage(data), nil
		}
		trace.Logger(ctx).Warn("rate limit exceeded")
		err = w.Write(ctx, router.ErrorMessage{
			Status:  router.StatusError,
			Message: rateLimitedMessage,
			Code:    apperrors.CodeRateLimited.String(),
		})
		if err != nil {
			return nil, err
		}
	}
}

func (w *wsConn) Write(ctx context.Context, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.c, v)
}
