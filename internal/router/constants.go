package router

import "time"

// Router defaults
const (
	DefaultCollectDuration    = 5 * time.Second
	DefaultMaxCollectDuration = 60 * time.Second
	DefaultClassifyTimeout    = 3 * time.Second

	persistTimeout = 2 * time.Second
)
