package vision

import "time"

// Sampler defaults
const (
	DefaultRate = 2.0 // frames per second

	// Hamming distance at or below which two frames count as the same scene.
	DefaultMaxHashDistance = 5

	DefaultClassifyTimeout = 3 * time.Second
)
