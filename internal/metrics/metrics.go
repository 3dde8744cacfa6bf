// Package metrics exposes the control plane's Prometheus collectors: RPC
// retry counts, the webhook delivery queue depth, and the count of
// currently-open SSE streams. client_golang is a direct teacher dependency
// never exercised in the retrieved subset; this package gives it its one
// real home, registered against the default registry the way
// promauto-style packages commonly are, so every subsystem can record
// against a package-level collector without threading a registry handle
// through every constructor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RPCRetries counts transient-error retries issued by the gateway
	// JSON-RPC client, labeled by method.
	RPCRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_gateway_rpc_retries_total",
		Help: "Number of transient-error retries issued by the gateway RPC client.",
	}, []string{"method"})

	// WebhookQueueDepth tracks the number of delivery jobs currently
	// sitting in the in-process webhook dispatch queue.
	WebhookQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_webhook_queue_depth",
		Help: "Current depth of the in-process webhook delivery queue.",
	})

	// WebhookDispatchAttempts counts dispatch attempts by outcome
	// ("success", "retry", "dropped").
	WebhookDispatchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_webhook_dispatch_attempts_total",
		Help: "Webhook dispatch attempts by outcome.",
	}, []string{"outcome"})

	// SSEStreamsActive tracks the number of currently-open SSE streams,
	// labeled by stream kind ("task_comments", "agents").
	SSEStreamsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controlplane_sse_streams_active",
		Help: "Number of currently open SSE streams.",
	}, []string{"stream"})
)

func init() {
	prometheus.MustRegister(RPCRetries, WebhookQueueDepth, WebhookDispatchAttempts, SSEStreamsActive)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
