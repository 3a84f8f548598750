// Package metrics exposes Prometheus collectors for the relay and its
// node client.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bitfsorg/btcrelay-go/relay"
)

var (
	relayHeadersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrelay",
		Subsystem: "relay",
		Name:      "headers_total",
		Help:      "Count of submitted block headers by outcome.",
	}, []string{"network", "status"})
	relayHeaderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btcrelay",
		Subsystem: "relay",
		Name:      "header_duration_seconds",
		Help:      "Duration of block header submissions.",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"network", "status"})

	relayForksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrelay",
		Subsystem: "relay",
		Name:      "forks_total",
		Help:      "Count of forks opened.",
	}, []string{"network"})
	relayReorgsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrelay",
		Subsystem: "relay",
		Name:      "reorgs_total",
		Help:      "Count of best-chain reorganizations.",
	}, []string{"network"})
	relayReorgDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btcrelay",
		Subsystem: "relay",
		Name:      "reorg_depth_blocks",
		Help:      "Number of blocks disconnected per reorganization.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8), // 1..128
	}, []string{"network"})

	relayBestHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "btcrelay",
		Subsystem: "relay",
		Name:      "best_height",
		Help:      "Height of the best chain tip.",
	}, []string{"network"})

	relayInclusionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrelay",
		Subsystem: "relay",
		Name:      "inclusion_checks_total",
		Help:      "Count of transaction inclusion checks by outcome.",
	}, []string{"network", "status"})
	relayInclusionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btcrelay",
		Subsystem: "relay",
		Name:      "inclusion_duration_seconds",
		Help:      "Duration of transaction inclusion checks.",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"network", "status"})
)

// Relay tracks metrics for one relay instance. It implements relay.Metrics.
type Relay struct {
	network string
}

// NewRelay constructs a Relay collector labelled with network.
func NewRelay(network string) *Relay {
	if network == "" {
		network = "unknown"
	}
	return &Relay{network: network}
}

// ObserveStoreHeader records a header submission outcome and duration.
func (m Relay) ObserveStoreHeader(err error, started time.Time) {
	status := headerStatus(err)
	relayHeadersTotal.WithLabelValues(m.network, status).Inc()
	relayHeaderDuration.WithLabelValues(m.network, status).Observe(time.Since(started).Seconds())
}

// ObserveFork records a newly opened fork.
func (m Relay) ObserveFork() {
	relayForksTotal.WithLabelValues(m.network).Inc()
}

// ObserveReorg records a reorganization that disconnected depth blocks.
func (m Relay) ObserveReorg(depth uint32) {
	relayReorgsTotal.WithLabelValues(m.network).Inc()
	relayReorgDepth.WithLabelValues(m.network).Observe(float64(depth))
}

// SetBestHeight records the best chain height.
func (m Relay) SetBestHeight(height uint32) {
	relayBestHeight.WithLabelValues(m.network).Set(float64(height))
}

// ObserveInclusion records an inclusion check outcome and duration.
func (m Relay) ObserveInclusion(err error, started time.Time) {
	status := inclusionStatus(err)
	relayInclusionsTotal.WithLabelValues(m.network, status).Inc()
	relayInclusionDuration.WithLabelValues(m.network, status).Observe(time.Since(started).Seconds())
}

func headerStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, relay.ErrDuplicateBlock):
		return "duplicate"
	case errors.Is(err, relay.ErrOrphanBlock):
		return "orphan"
	case errors.Is(err, relay.ErrInvalidProofOfWork):
		return "invalid_pow"
	case errors.Is(err, relay.ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, relay.ErrMalformedInput):
		return "malformed"
	default:
		return "error"
	}
}

func inclusionStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, relay.ErrNoHeaderAtHeight):
		return "no_header"
	case errors.Is(err, relay.ErrMalformedInput):
		return "malformed"
	case errors.Is(err, relay.ErrInvalidMerkleProof):
		return "invalid_proof"
	case errors.Is(err, relay.ErrInsufficientConfirmations):
		return "unconfirmed"
	default:
		return "error"
	}
}

var _ relay.Metrics = (*Relay)(nil)
