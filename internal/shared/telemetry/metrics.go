// Package telemetry holds the Prometheus collectors exported by the sidecar.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sidecar"

var (
	Registry = prometheus.NewRegistry()

	PacketsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transit",
			Name:      "packets_sent_total",
			Help:      "Packets posted to remote gateways.",
		},
		[]string{"type"},
	)

	PacketsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transit",
			Name:      "packets_received_total",
			Help:      "Packets received on the listener or in gateway replies.",
		},
		[]string{"type"},
	)

	SendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transit",
			Name:      "send_failures_total",
			Help:      "Packets whose delivery to a gateway failed.",
		},
		[]string{"type"},
	)

	PendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transit",
			Name:      "pending_requests",
			Help:      "Outbound requests waiting for a response.",
		},
	)

	OrphanResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transit",
			Name:      "orphan_responses_total",
			Help:      "Responses that matched no pending request.",
		},
	)

	RegistryNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "nodes",
			Help:      "Known remote nodes by availability.",
		},
		[]string{"state"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by the sidecar.",
		},
		[]string{"method", "path", "code"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests served by the sidecar.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"method", "path"},
	)

	RecoveredPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_panics_total",
			Help:      "Panics recovered in background goroutines.",
		},
		[]string{"goroutine"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		PacketsSent, PacketsReceived, SendFailures, PendingRequests, OrphanResponses,
		RegistryNodes, HTTPRequests, HTTPRequestDuration, RecoveredPanics, buildInfo, uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes the sidecar registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

// SetNodeCounts publishes the registry node gauge.
func SetNodeCounts(available, unavailable int) {
	RegistryNodes.WithLabelValues("available").Set(float64(available))
	RegistryNodes.WithLabelValues("unavailable").Set(float64(unavailable))
}
