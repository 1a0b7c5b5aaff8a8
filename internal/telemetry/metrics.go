package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wave",
			Name:      "messages_sent_total",
			Help:      "Messages put on the bus, by kind.",
		},
		[]string{"kind"},
	)

	MessagesHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wave",
			Name:      "messages_handled_total",
			Help:      "Messages processed by a node, by kind.",
		},
		[]string{"kind"},
	)

	ExploresDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wave",
			Name:      "explores_dropped_total",
			Help:      "Explore messages ignored because the node already had a parent.",
		},
	)

	SendsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wave",
			Name:      "sends_dropped_total",
			Help:      "Messages the bus could not deliver, by reason.",
		},
		[]string{"reason"},
	)

	ParentsAssigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wave",
			Name:      "parents_assigned_total",
			Help:      "Parent assignments, labeled root or child.",
		},
		[]string{"role"},
	)

	InitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wave",
			Name:      "init_duration_seconds",
			Help:      "Latency of one Init/InitAck round trip.",
			// 10us .. ~1.3s
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 18),
		},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wave",
			Name:      "runs_total",
			Help:      "Coordinator runs, by result.",
		},
		[]string{"result"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wave",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "wave",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesSent, MessagesHandled, ExploresDropped, SendsDropped,
		ParentsAssigned, InitDuration, RunsTotal, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// CounterValue sums the samples of the named family whose labels include all
// of the given pairs. It returns 0 when nothing matches.
func CounterValue(name string, labels map[string]string) float64 {
	families, err := Registry.Gather()
	if err != nil {
		return 0
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
						break
					}
				}
				if !found {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
