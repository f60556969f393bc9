package store

import "time"

// Batcher defaults
const (
	DefaultBatchSize    = 16
	DefaultFlushDelay   = 2 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)
