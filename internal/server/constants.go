// Package server exposes the router over WebSocket and the emotion window
// over REST.
package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding-window rate limit
	DefaultRateLimitMessages = 30
	DefaultRateLimitWindow   = time.Second

	// Largest inbound message; frames and audio arrive base64 encoded
	DefaultReadLimit = 8 << 20

	// Per-message write deadline
	WriteTimeout = 10 * time.Second

	// How long a closed REST window may take to reach the store
	persistTimeout = 2 * time.Second

	rateLimitedMessage = "Rate limit exceeded."
)
