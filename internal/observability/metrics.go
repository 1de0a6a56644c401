package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus metrics: swarm lifecycle,
// channel lifecycle, chunk throughput, and Merkle verification outcomes.
type Metrics struct {
	SwarmsStartedTotal *prometheus.CounterVec
	SwarmsActive       prometheus.Gauge
	SwarmDuration      prometheus.Histogram

	BytesTransferredTotal *prometheus.CounterVec
	ChunksSentTotal       prometheus.Counter
	ChunksReceivedTotal   prometheus.Counter
	ChunksRetransmitted   *prometheus.CounterVec

	ChannelsEstablishedTotal *prometheus.CounterVec
	ChannelsActive           prometheus.Gauge
	ChannelDuration          prometheus.Histogram

	MerkleVerificationsTotal *prometheus.CounterVec

	activeSwarms   int64
	activeChannels int64
	registry       *prometheus.Registry
}

// NewMetrics creates and registers the engine's Prometheus metrics
// against a fresh registry, so that multiple Loop instances (as in
// tests) never collide on the global default registerer.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SwarmsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmd_swarms_started_total",
				Help: "Total swarms started, by outcome",
			},
			[]string{"status"},
		),

		SwarmsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "swarmd_swarms_active",
				Help: "Currently active swarms",
			},
		),

		SwarmDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swarmd_swarm_duration_seconds",
				Help:    "Time a swarm stayed active before being removed",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		BytesTransferredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmd_bytes_transferred_total",
				Help: "Total chunk payload bytes transferred",
			},
			[]string{"direction"},
		),

		ChunksSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "swarmd_chunks_sent_total",
				Help: "Total DATA records sent",
			},
		),

		ChunksReceivedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "swarmd_chunks_received_total",
				Help: "Total DATA records received and verified",
			},
		),

		ChunksRetransmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmd_chunks_retransmitted_total",
				Help: "Requests retransmitted by the scheduler sweep, by reason",
			},
			[]string{"reason"},
		),

		ChannelsEstablishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmd_channels_established_total",
				Help: "Channel handshakes completed, by role",
			},
			[]string{"role"},
		),

		ChannelsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "swarmd_channels_active",
				Help: "Currently established channels",
			},
		),

		ChannelDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swarmd_channel_duration_seconds",
				Help:    "Channel lifetime from handshake to close",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		MerkleVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmd_merkle_verifications_total",
				Help: "Chunk Merkle verifications, by result",
			},
			[]string{"result"},
		),
	}
}

// RecordSwarmStart increments active/total swarm counters.
func (m *Metrics) RecordSwarmStart(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.SwarmsStartedTotal.WithLabelValues(status).Inc()
	if success {
		atomic.AddInt64(&m.activeSwarms, 1)
		m.SwarmsActive.Set(float64(atomic.LoadInt64(&m.activeSwarms)))
	}
}

// RecordSwarmRemoved records a swarm's lifetime and decrements the
// active gauge.
func (m *Metrics) RecordSwarmRemoved(durationSeconds float64) {
	atomic.AddInt64(&m.activeSwarms, -1)
	m.SwarmsActive.Set(float64(atomic.LoadInt64(&m.activeSwarms)))
	m.SwarmDuration.Observe(durationSeconds)
}

// RecordChunkSent updates metrics for a sent chunk.
func (m *Metrics) RecordChunkSent(bytes int) {
	m.ChunksSentTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordChunkReceived updates metrics for a received chunk.
func (m *Metrics) RecordChunkReceived(bytes int) {
	m.ChunksReceivedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordChunkRetransmit increments retransmit counters.
func (m *Metrics) RecordChunkRetransmit(reason string) {
	m.ChunksRetransmitted.WithLabelValues(reason).Inc()
}

// RecordChannelEstablished increments channel lifecycle counters.
func (m *Metrics) RecordChannelEstablished(role string) {
	m.ChannelsEstablishedTotal.WithLabelValues(role).Inc()
	atomic.AddInt64(&m.activeChannels, 1)
	m.ChannelsActive.Set(float64(atomic.LoadInt64(&m.activeChannels)))
}

// RecordChannelClosed records a channel's lifetime and decrements the
// active gauge.
func (m *Metrics) RecordChannelClosed(durationSeconds float64) {
	atomic.AddInt64(&m.activeChannels, -1)
	m.ChannelsActive.Set(float64(atomic.LoadInt64(&m.activeChannels)))
	m.ChannelDuration.Observe(durationSeconds)
}

// RecordMerkleVerification increments Merkle verification counters.
func (m *Metrics) RecordMerkleVerification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.MerkleVerificationsTotal.WithLabelValues(result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
