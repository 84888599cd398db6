// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Login outcomes for IncLogin.
const (
	LoginSuccess     = "success"
	LoginFailure     = "failure"
	LoginRateLimited = "rate_limited"
)

// Event publish outcomes for IncEventPublished.
const (
	PublishSuccess = "success"
	PublishDropped = "dropped"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Account lifecycle
	IncSignup()
	IncUserUpdated(kind string) // kind: "profile", "email", "password"
	IncUserDeleted()
	IncPasswordChanged()

	// Authentication
	IncLogin(status string)       // status: success, failure, rate_limited
	IncAuthFailure(reason string) // reason from auth.FailureReason
	ObserveHashDuration(duration time.Duration)

	// Lifecycle events
	IncEventPublished(status string) // status: "success" or "dropped"
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
