package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Signups             uint64
	UsersDeleted        uint64
	PasswordsChanged    uint64
	UsersUpdated        map[string]uint64
	Logins              map[string]uint64
	AuthFailures        map[string]uint64
	EventsPublished     map[string]uint64
	HashDurationCount   uint64
	HashDurationTotalNs int64
}

// InMemoryRecorder stores metrics in memory for tests and the /metrics
// endpoint.
type InMemoryRecorder struct {
	signups             uint64
	usersDeleted        uint64
	passwordsChanged    uint64
	hashDurationCount   uint64
	hashDurationTotalNs int64

	mu              sync.Mutex
	usersUpdated    map[string]uint64
	logins          map[string]uint64
	authFailures    map[string]uint64
	eventsPublished map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		usersUpdated:    make(map[string]uint64),
		logins:          make(map[string]uint64),
		authFailures:    make(map[string]uint64),
		eventsPublished: make(map[string]uint64),
	}
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Signups:             atomic.LoadUint64(&m.signups),
		UsersDeleted:        atomic.LoadUint64(&m.usersDeleted),
		PasswordsChanged:    atomic.LoadUint64(&m.passwordsChanged),
		UsersUpdated:        copyCounts(m.usersUpdated),
		Logins:              copyCounts(m.logins),
		AuthFailures:        copyCounts(m.authFailures),
		EventsPublished:     copyCounts(m.eventsPublished),
		HashDurationCount:   atomic.LoadUint64(&m.hashDurationCount),
		HashDurationTotalNs: atomic.LoadInt64(&m.hashDurationTotalNs),
	}
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

// IncSignup increments the signup counter.
func (m *InMemoryRecorder) IncSignup() {
	atomic.AddUint64(&m.signups, 1)
}

// IncUserUpdated increments the update counter for kind.
func (m *InMemoryRecorder) IncUserUpdated(kind string) {
	m.inc(m.usersUpdated, kind)
}

// IncUserDeleted increments the deletion counter.
func (m *InMemoryRecorder) IncUserDeleted() {
	atomic.AddUint64(&m.usersDeleted, 1)
}

// IncPasswordChanged increments the password change counter.
func (m *InMemoryRecorder) IncPasswordChanged() {
	atomic.AddUint64(&m.passwordsChanged, 1)
}

// IncLogin increments the login counter for status.
func (m *InMemoryRecorder) IncLogin(status string) {
	m.inc(m.logins, status)
}

// IncAuthFailure increments the authentication failure counter for reason.
func (m *InMemoryRecorder) IncAuthFailure(reason string) {
	m.inc(m.authFailures, reason)
}

// ObserveHashDuration records how long a password hash or verify took.
func (m *InMemoryRecorder) ObserveHashDuration(duration time.Duration) {
	atomic.AddUint64(&m.hashDurationCount, 1)
	atomic.AddInt64(&m.hashDurationTotalNs, duration.Nanoseconds())
}

// IncEventPublished increments the lifecycle event counter for status.
func (m *InMemoryRecorder) IncEventPublished(status string) {
	m.inc(m.eventsPublished, status)
}
