package pipeline

import "time"

// Pipeline defaults
const (
	DefaultProviderTimeout = 10 * time.Second
	persistTimeout         = 2 * time.Second
)
