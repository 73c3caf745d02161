// Package telemetry exposes the server's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flock/pkg/store"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_messages_sent_total",
		Help: "Messages accepted into chats.",
	})
	UpdatesCompacted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_journal_entries_compacted_total",
		Help: "Journal entries removed by compaction.",
	})
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flock_requests_total",
		Help: "Handled API requests by action and outcome.",
	}, []string{"action", "status"})
	FederationPushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_federation_pushes_total",
		Help: "Outbound federation update batches delivered.",
	})
	FederationPushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_federation_push_failures_total",
		Help: "Outbound federation deliveries that failed.",
	})
	FederationApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_federation_entries_applied_total",
		Help: "Inbound federation update entries applied.",
	})
	FederationSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_federation_entries_skipped_total",
		Help: "Inbound federation update entries skipped as malformed or denied.",
	})
	LongPollWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flock_longpoll_waiters",
		Help: "Clients currently parked in long-poll waits.",
	})
)

var diskBytes = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Name: "flock_storage_disk_bytes",
	Help: "On-disk size of the storage directory.",
}, func() float64 {
	return float64(store.GetMetrics().DiskBytes)
})

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
