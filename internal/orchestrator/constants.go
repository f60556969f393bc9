// Package orchestrator owns the process-wide pieces shared by every
// connection: the session registry, the vision hub and the camera sampler.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// SharedSessionID names the session behind the REST collection endpoints.
	SharedSessionID = "rest"

	// How long Stop waits for the sampler to return.
	StopTimeout = 5 * time.Second
)
