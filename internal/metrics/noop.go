package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncSignup is a no-op.
func (n *NoopRecorder) IncSignup() {}

// IncUserUpdated is a no-op.
func (n *NoopRecorder) IncUserUpdated(kind string) {}

// IncUserDeleted is a no-op.
func (n *NoopRecorder) IncUserDeleted() {}

// IncPasswordChanged is a no-op.
func (n *NoopRecorder) IncPasswordChanged() {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(status string) {}

// IncAuthFailure is a no-op.
func (n *NoopRecorder) IncAuthFailure(reason string) {}

// ObserveHashDuration is a no-op.
func (n *NoopRecorder) ObserveHashDuration(duration time.Duration) {}

// IncEventPublished is a no-op.
func (n *NoopRecorder) IncEventPublished(status string) {}
