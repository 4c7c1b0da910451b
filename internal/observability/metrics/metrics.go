// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_interview"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Conversation metrics
	ConversationsTotal  prometheus.Counter
	ConversationsActive prometheus.Gauge
	ConversationsEnded  *prometheus.CounterVec
	TurnDuration        prometheus.Histogram

	// Turn-taking metrics
	UtterancesTotal     prometheus.Counter
	UtterancesDropped   *prometheus.CounterVec
	CountdownsStarted   prometheus.Counter
	RecognitionStarts   prometheus.Counter
	RecognitionRestarts *prometheus.CounterVec
	RecognitionErrors   *prometheus.CounterVec

	// Provider metrics
	ProviderLatency *prometheus.HistogramVec
	ProviderErrors  *prometheus.CounterVec

	// Persistence metrics
	PersistenceWrites *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Transport metrics
	HTTPRequests         *prometheus.CounterVec
	HTTPLatency          *prometheus.HistogramVec
	WebsocketConnections prometheus.Gauge
	GRPCStreamsActive    prometheus.Gauge
	GRPCStreamsTotal     *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConversationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Total number of conversations started",
		}),
		ConversationsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Number of conversations with an open client connection",
		}),
		ConversationsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_ended_total",
			Help:      "Total number of conversations ended",
		}, []string{"reason"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from utterance completion to the end of the spoken reply",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		UtterancesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total number of completed utterances",
		}),
		UtterancesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Total number of utterances or countdowns discarded",
		}, []string{"reason"}),
		CountdownsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silence_countdowns_total",
			Help:      "Total number of silence countdown (re)starts",
		}),
		RecognitionStarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_starts_total",
			Help:      "Total number of recognition engine instances started",
		}),
		RecognitionRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_restarts_total",
			Help:      "Total number of automatic recognition restarts",
		}, []string{"reason"}),
		RecognitionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of recognition errors",
		}, []string{"code"}),

		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "External provider call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "operation"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of external provider errors",
		}, []string{"provider", "operation"}),

		PersistenceWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_writes_total",
			Help:      "Total number of persistence writes",
		}, []string{"backend", "result"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "code"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		WebsocketConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Number of open conversation websockets",
		}),
		GRPCStreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of currently active gRPC streams",
		}),
		GRPCStreamsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_streams_total",
			Help:      "Total number of gRPC streams by outcome",
		}, []string{"result"}),
	}
}

// RecordConversationStart records a new conversation.
func (m *Metrics) RecordConversationStart() {
	m.ConversationsTotal.Inc()
	m.ConversationsActive.Inc()
}

// RecordConversationEnd records why a conversation ended.
func (m *Metrics) RecordConversationEnd(reason string) {
	m.ConversationsEnded.WithLabelValues(reason).Inc()
	m.ConversationsActive.Dec()
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(d time.Duration) {
	m.TurnDuration.Observe(d.Seconds())
}

// RecordUtterance records an utterance boundary detection.
func (m *Metrics) RecordUtterance() {
	m.UtterancesTotal.Inc()
}

// RecordUtteranceDropped records a discarded utterance or countdown.
func (m *Metrics) RecordUtteranceDropped(reason string) {
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

// RecordCountdown records a countdown (re)start.
func (m *Metrics) RecordCountdown() {
	m.CountdownsStarted.Inc()
}

// RecordRecognitionStart records a confirmed engine start.
func (m *Metrics) RecordRecognitionStart() {
	m.RecognitionStarts.Inc()
}

// RecordRecognitionRestart records an automatic restart.
func (m *Metrics) RecordRecognitionRestart(reason string) {
	m.RecognitionRestarts.WithLabelValues(reason).Inc()
}

// RecordRecognitionError records a recognition error code.
func (m *Metrics) RecordRecognitionError(code string) {
	m.RecognitionErrors.WithLabelValues(code).Inc()
}

// ObserveProvider records latency and failures of an external provider call.
func (m *Metrics) ObserveProvider(provider, operation string, start time.Time, err error) {
	m.ProviderLatency.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.ProviderErrors.WithLabelValues(provider, operation).Inc()
	}
}

// RecordPersistence records a persistence write outcome.
func (m *Metrics) RecordPersistence(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PersistenceWrites.WithLabelValues(backend, result).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method, code string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, code).Inc()
	m.HTTPLatency.WithLabelValues(route, method).Observe(d.Seconds())
}

// RecordStreamStart records a new gRPC stream starting.
func (m *Metrics) RecordStreamStart() {
	m.GRPCStreamsActive.Inc()
}

// RecordStreamEnd records a gRPC stream ending.
func (m *Metrics) RecordStreamEnd(success bool) {
	m.GRPCStreamsActive.Dec()
	result := "success"
	if !success {
		result = "failed"
	}
	m.GRPCStreamsTotal.WithLabelValues(result).Inc()
}
