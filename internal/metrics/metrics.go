// Package metrics registers the Prometheus metrics of population and
// resolution runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "osmresolve"

var (
	BlobsDecodedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blobs_decoded_total",
		Help:      "Number of data blobs decoded, by phase",
	}, []string{"phase"})
	BlobDecodeDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "blob_decode_duration_ms",
		Help:      "Time to decompress and decode one blob in milliseconds",
		Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
	}, []string{"phase"})
	NodesWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nodes_written_total",
		Help:      "Number of node locations written to the cache",
	})
	WaysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ways_total",
		Help:      "Number of ways seen by resolution passes, by outcome",
	}, []string{"outcome"})
	PassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "passes_total",
		Help:      "Number of completed resolution passes",
	})
	ChunkStart = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chunk_start",
		Help:      "First node id of the chunk being resolved",
	})
	ChunkEnd = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chunk_end",
		Help:      "Node id one past the end of the chunk being resolved",
	})
	MaxRefID = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "max_ref_id",
		Help:      "Largest node id referenced by any way seen so far",
	})
)

// Way outcomes used as the label of WaysTotal.
const (
	OutcomeResolved = "resolved"
	OutcomeDeferred = "deferred"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
)

// Phases used as the label of blob metrics.
const (
	PhasePopulate = "populate"
	PhaseResolve  = "resolve"
)

func init() {
	prometheus.MustRegister(BlobsDecodedTotal)
	prometheus.MustRegister(BlobDecodeDurationMs)
	prometheus.MustRegister(NodesWrittenTotal)
	prometheus.MustRegister(WaysTotal)
	prometheus.MustRegister(PassesTotal)
	prometheus.MustRegister(ChunkStart)
	prometheus.MustRegister(ChunkEnd)
	prometheus.MustRegister(MaxRefID)
}

// Handler serves every registered metric.
func Handler() http.Handler { return promhttp.Handler() }
