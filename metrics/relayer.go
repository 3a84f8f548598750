package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayerSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrelay",
		Subsystem: "relayer",
		Name:      "sync_total",
		Help:      "Count of header sync runs.",
	}, []string{"network", "status"})
	relayerSyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btcrelay",
		Subsystem: "relayer",
		Name:      "sync_duration_seconds",
		Help:      "Duration of header sync runs.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"network", "status"})
	relayerSyncHeaders = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btcrelay",
		Subsystem: "relayer",
		Name:      "sync_headers",
		Help:      "Number of headers submitted per sync run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1..2048
	}, []string{"network"})
)

// Relayer tracks metrics for the node-to-relay header pump.
type Relayer struct {
	network string
}

// NewRelayer constructs a Relayer collector labelled with network.
func NewRelayer(network string) *Relayer {
	if network == "" {
		network = "unknown"
	}
	return &Relayer{network: network}
}

// ObserveSync records a sync run that submitted headers headers.
func (m Relayer) ObserveSync(err error, headers int, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	relayerSyncTotal.WithLabelValues(m.network, status).Inc()
	relayerSyncDuration.WithLabelValues(m.network, status).
		Observe(time.Since(started).Seconds())
	relayerSyncHeaders.WithLabelValues(m.network).Observe(float64(headers))
}
