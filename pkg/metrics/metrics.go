package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "Kafka message processing latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"topic", "result"},
	)

	// 消费消息计数 result: processed, skipped, failed
	MQMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_consumed_total",
			Help: "Total number of consumed Kafka messages by outcome",
		},
		[]string{"topic", "result"},
	)

	// Broker 错误计数 reason: topic_unavailable, fetch, commit
	MQBrokerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_broker_errors_total",
			Help: "Total number of Kafka broker errors seen by the consumer",
		},
		[]string{"topic", "reason"},
	)

	NotificationsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_persisted_total",
			Help: "Total number of notification rows written",
		},
		[]string{"target_type"},
	)

	// 未读数推送计数 result: delivered, failed
	UnreadPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unread_count_pushes_total",
			Help: "Total number of unread-count push attempts by outcome",
		},
		[]string{"result"},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_connections",
			Help: "Number of live client connections registered in the hub",
		},
	)

	// 数据库慢查询计数
	DBSlowQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Total number of queries slower than the configured threshold",
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordMQConsume 记录一条消息的处理结果与耗时
func RecordMQConsume(topic, result string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(topic, result).Observe(float64(duration.Milliseconds()))
	MQMessagesConsumed.WithLabelValues(topic, result).Inc()
}

func IncrementBrokerError(topic, reason string) {
	MQBrokerErrors.WithLabelValues(topic, reason).Inc()
}

func AddNotificationsPersisted(targetType string, n int) {
	NotificationsPersisted.WithLabelValues(targetType).Add(float64(n))
}

func IncrementUnreadPush(result string) {
	UnreadPushes.WithLabelValues(result).Inc()
}

func IncrementSlowQuery() {
	DBSlowQueries.Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
