package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/lilofinance/usermanager/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "usermanager_signups_total %d\n", snap.Signups)
	writeMetric(w, "usermanager_users_deleted_total %d\n", snap.UsersDeleted)
	writeMetric(w, "usermanager_passwords_changed_total %d\n", snap.PasswordsChanged)

	writeLabeled(w, "usermanager_users_updated_total", "kind", snap.UsersUpdated)
	writeLabeled(w, "usermanager_logins_total", "status", snap.Logins)
	writeLabeled(w, "usermanager_auth_failures_total", "reason", snap.AuthFailures)
	writeLabeled(w, "usermanager_events_published_total", "status", snap.EventsPublished)

	writeMetric(w, "usermanager_password_hash_duration_seconds_count %d\n", snap.HashDurationCount)
	writeMetric(w, "usermanager_password_hash_duration_seconds_sum %.6f\n", float64(snap.HashDurationTotalNs)/1e9)
}

// writeLabeled writes one sample per label value in sorted order.
func writeLabeled(w http.ResponseWriter, name, label string, counts map[string]uint64) {
	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Strings(values)

	for _, v := range values {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, v, counts[v])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
