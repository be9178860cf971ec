// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "verygoodmail"

var (
	// MessagesDelivered counts mailbox copies written, by origin (compose, inbound).
	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_delivered_total",
		Help:      "Mailbox copies persisted, by origin.",
	}, []string{"origin"})

	// DeliveryFailures counts per-recipient failures, by pipeline stage.
	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_failures_total",
		Help:      "Per-recipient delivery failures, by stage.",
	}, []string{"stage"})

	ClassifierVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifier_verdicts_total",
		Help:      "Verdicts produced, by classifier tier.",
	}, []string{"source"})

	ClassifierRemoteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "classifier_remote_duration_seconds",
		Help:      "Latency of remote classification calls.",
		Buckets:   prometheus.DefBuckets,
	})

	// ListenerState exposes the inbound listener state as its numeric value.
	ListenerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "listener_state",
		Help:      "Current inbound listener state (0 disconnected, 1 connecting, 2 connected, 3 idle, 4 stopped).",
	}, []string{"mailbox"})

	ListenerReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_reconnects_total",
		Help:      "Reconnect attempts scheduled by the inbound listener.",
	}, []string{"mailbox"})

	ListenerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_messages_total",
		Help:      "Inbound messages handled, by result.",
	}, []string{"result"})

	DispatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_results_total",
		Help:      "Outbound submission outcomes, by result kind.",
	}, []string{"result"})

	// TrashPurged counts rows removed by the trash janitor, by kind (thread, blob).
	TrashPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trash_purged_total",
		Help:      "Trashed threads and attachment blobs permanently removed.",
	}, []string{"kind"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Time to build the per-request index and rank results.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
