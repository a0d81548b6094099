// Package metrics provides Prometheus metrics for the batching engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netbatch"

// Send modes used as the "mode" label.
const (
	ModeDirect  = "direct"
	ModeBatched = "batched"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and
// records nothing, so components can be built without metrics.
type Registry struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Outbound metrics
	MessagesSent        *prometheus.CounterVec
	BatchesSent         *prometheus.CounterVec
	BytesSent           *prometheus.CounterVec
	MessagesPerBatch    *prometheus.HistogramVec
	QueueWaitSeconds    *prometheus.HistogramVec
	OversizeDrops       *prometheus.CounterVec
	AccountingViolation *prometheus.CounterVec
	TransportFailures   *prometheus.CounterVec

	// Inbound metrics
	MessagesReceived *prometheus.CounterVec
	TruncatedBatches *prometheus.CounterVec
	LateFrames       prometheus.Counter
}

// NewRegistry creates every metric and registers it with reg.
//
// Parameters:
//   - reg: The registerer to use; prometheus.DefaultRegisterer when nil
//
// Returns:
//   - A Registry whose metrics are registered with reg
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	channel := []string{"channel"}

	return &Registry{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Application messages handed to the transport, directly or inside a batch",
		}, []string{"channel", "mode"}),
		BatchesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_sent_total",
			Help:      "Batches handed to the transport",
		}, channel),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Frame bytes handed to the transport",
		}, []string{"channel", "mode"}),
		MessagesPerBatch: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "messages_per_batch",
			Help:      "Number of messages carried by each batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, channel),
		QueueWaitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time the oldest message of a batch waited before the batch was built",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, channel),
		OversizeDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oversize_frames_dropped_total",
			Help:      "Application frames dropped for exceeding the transport packet size",
		}, channel),
		AccountingViolation: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounting_violations_total",
			Help:      "Constructed batches dropped for exceeding the transport packet size",
		}, channel),
		TransportFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Transport send or disconnect calls that returned an error",
		}, []string{"op"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Application messages extracted from received frames",
		}, channel),
		TruncatedBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_batches_total",
			Help:      "Received batches cut short by malformed or missing data",
		}, channel),
		LateFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_frames_total",
			Help:      "Frames received for connections that were already closed",
		}),
	}
}

// ConnectionOpened records a new connection.
func (r *Registry) ConnectionOpened() {
	if r == nil {
		return
	}

	r.ConnectionsTotal.Inc()
	r.ConnectionsActive.Inc()
}

// ConnectionClosed records a closed connection.
func (r *Registry) ConnectionClosed() {
	if r == nil {
		return
	}

	r.ConnectionsActive.Dec()
}

// DirectSent records one message sent without batching.
func (r *Registry) DirectSent(channel string, bytes int) {
	if r == nil {
		return
	}

	r.MessagesSent.WithLabelValues(channel, ModeDirect).Inc()
	r.BytesSent.WithLabelValues(channel, ModeDirect).Add(float64(bytes))
}

// BatchSent records one batch and the messages it carried.
func (r *Registry) BatchSent(channel string, messages, bytes int, wait float64) {
	if r == nil {
		return
	}

	r.BatchesSent.WithLabelValues(channel).Inc()
	r.MessagesSent.WithLabelValues(channel, ModeBatched).Add(float64(messages))
	r.BytesSent.WithLabelValues(channel, ModeBatched).Add(float64(bytes))
	r.MessagesPerBatch.WithLabelValues(channel).Observe(float64(messages))
	if wait >= 0 {
		r.QueueWaitSeconds.WithLabelValues(channel).Observe(wait)
	}
}

// OversizeDropped records an application frame dropped at validation.
func (r *Registry) OversizeDropped(channel string) {
	if r == nil {
		return
	}

	r.OversizeDrops.WithLabelValues(channel).Inc()
}

// AccountingViolated records a constructed batch dropped at validation.
func (r *Registry) AccountingViolated(channel string) {
	if r == nil {
		return
	}

	r.AccountingViolation.WithLabelValues(channel).Inc()
}

// TransportFailed records a failed transport call; op is "send" or "disconnect".
func (r *Registry) TransportFailed(op string) {
	if r == nil {
		return
	}

	r.TransportFailures.WithLabelValues(op).Inc()
}

// MessageReceived records one inbound application message.
func (r *Registry) MessageReceived(channel string) {
	if r == nil {
		return
	}

	r.MessagesReceived.WithLabelValues(channel).Inc()
}

// Truncated records n truncated inbound batches.
func (r *Registry) Truncated(channel string, n int) {
	if r == nil || n <= 0 {
		return
	}

	r.TruncatedBatches.WithLabelValues(channel).Add(float64(n))
}

// LateFrame records a frame for an already closed connection.
func (r *Registry) LateFrame() {
	if r == nil {
		return
	}

	r.LateFrames.Inc()
}
