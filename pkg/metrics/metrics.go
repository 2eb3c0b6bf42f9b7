// Package metrics содержит метрики Prometheus сервиса обменов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration длительность HTTP-запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal количество HTTP-запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ExchangesCreated количество созданных предложений обмена
	ExchangesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchanges_created_total",
			Help: "Total exchange proposals created",
		},
	)

	// ExchangeTransitions переходы между статусами обмена
	ExchangeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_transitions_total",
			Help: "Exchange status transitions",
		},
		[]string{"from", "to"},
	)

	// ExchangeRejectedOps отклонённые бизнес-правилами операции
	ExchangeRejectedOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_rejected_operations_total",
			Help: "Exchange operations rejected by business rules",
		},
		[]string{"operation", "kind"},
	)

	// ExchangeMessages количество отправленных сообщений
	ExchangeMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_messages_total",
			Help: "Total messages posted to exchanges",
		},
	)

	// RatingsApplied количество применённых оценок
	RatingsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_ratings_applied_total",
			Help: "Total reputation ratings applied on completion",
		},
	)

	// MatchDuration время расчёта совпадений
	MatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matching_duration_seconds",
			Help:    "Matching engine run duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// MatchCandidates количество кандидатов в одном расчёте
	MatchCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matching_candidates",
			Help:    "Candidates scored per matching run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// WebsocketConnections активные WebSocket-соединения
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// ActivityEvents события аудита по приёмнику и результату
	ActivityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_events_total",
			Help: "Audit events emitted by sink and result",
		},
		[]string{"sink", "result"},
	)
)

// RecordRequest записывает метрики HTTP-запроса
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTransition записывает переход статуса обмена
func RecordTransition(from, to string) {
	ExchangeTransitions.WithLabelValues(from, to).Inc()
}

// RecordRejected записывает операцию, отклонённую бизнес-правилом
func RecordRejected(operation, kind string) {
	ExchangeRejectedOps.WithLabelValues(operation, kind).Inc()
}
