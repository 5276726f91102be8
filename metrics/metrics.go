// Package metrics exposes Prometheus instrumentation for the feed and
// snapshot pipelines, plus a small HTTP server for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tickdesk"

// Known feed states, pre-registered so the state gauge always exports the
// full vector.
var feedStates = []string{"idle", "connecting", "connected", "disconnected", "failed"}

// Collector implements the feed client's Metrics interface and carries the
// snapshot-side counters.
type Collector struct {
	ticksTotal       prometheus.Counter
	protocolErrors   prometheus.Counter
	subscribeReplays prometheus.Counter
	snapshotFetches  *prometheus.CounterVec
	feedState        *prometheus.GaugeVec
	frameSeconds     prometheus.Histogram
	frameBytes       prometheus.Histogram
}

// NewCollector registers the tickdesk metrics with reg and returns the
// collector. Pass prometheus.DefaultRegisterer outside of tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_ticks_total",
			Help:      "Normalized ticks delivered for watched instruments.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_protocol_errors_total",
			Help:      "Inbound feed frames dropped as undecodable or unrecognized.",
		}),
		subscribeReplays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_subscribe_replays_total",
			Help:      "Subscription set replays, including retry passes.",
		}),
		snapshotFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fetches_total",
			Help:      "Snapshot REST fetches by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		feedState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_state",
			Help:      "Current feed connection state (1 for the active state).",
		}, []string{"state"}),
		frameSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_frame_processing_seconds",
			Help:      "Inbound frame handling latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		frameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_frame_bytes",
			Help:      "Inbound frame size.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}

	for _, state := range feedStates {
		c.feedState.WithLabelValues(state).Set(0)
	}
	c.feedState.WithLabelValues("idle").Set(1)
	return c
}

// TickReceived counts one delivered tick.
func (c *Collector) TickReceived() {
	c.ticksTotal.Inc()
}

// ProtocolError counts one dropped inbound frame.
func (c *Collector) ProtocolError() {
	c.protocolErrors.Inc()
}

// SubscribeReplay counts one subscription replay pass.
func (c *Collector) SubscribeReplay() {
	c.subscribeReplays.Inc()
}

// FeedState moves the state gauge to the given state.
func (c *Collector) FeedState(status string) {
	for _, state := range feedStates {
		v := 0.0
		if state == status {
			v = 1
		}
		c.feedState.WithLabelValues(state).Set(v)
	}
}

// FrameProcessed records one inbound frame's size and handling latency.
func (c *Collector) FrameProcessed(bytes int, elapsed time.Duration) {
	c.frameBytes.Observe(float64(bytes))
	c.frameSeconds.Observe(elapsed.Seconds())
}

// FrameError counts one failed frame handler invocation.
func (c *Collector) FrameError() {
	c.protocolErrors.Inc()
}

// SnapshotFetch counts one snapshot REST fetch.
func (c *Collector) SnapshotFetch(endpoint string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.snapshotFetches.WithLabelValues(endpoint, outcome).Inc()
}

// NewServer builds an HTTP server exposing /metrics for the registry and a
// /healthz liveness endpoint.
func NewServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
