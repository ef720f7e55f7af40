package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// HTTP Метрики
// =============================================================================

// HttpRequestsTotal - счётчик всех HTTP запросов
// Labels: service, method, path, status
var HttpRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	},
	[]string{"service", "method", "path", "status"},
)

// HttpRequestDuration - гистограмма времени ответа
var HttpRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"service", "method", "path"},
)

// HttpRequestsInFlight - текущее количество обрабатываемых запросов
var HttpRequestsInFlight = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "Current number of HTTP requests being processed",
	},
	[]string{"service"},
)

// HttpRateLimited - запросы, отклонённые лимитером
var HttpRateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	},
	[]string{"service"},
)

// =============================================================================
// Database Метрики (MongoDB и PostgreSQL)
// =============================================================================

// DbQueryDuration - время выполнения запросов
var DbQueryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"service", "operation", "table"},
)

// DbConnectionsOpen - количество открытых соединений с PostgreSQL
var DbConnectionsOpen = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_connections_open",
		Help: "Number of open database connections",
	},
	[]string{"service", "state"}, // state: idle, in_use
)

// DbErrors - счётчик ошибок базы данных
var DbErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "db_errors_total",
		Help: "Total number of database errors",
	},
	[]string{"service", "operation"},
)

// =============================================================================
// Redis Метрики
// =============================================================================

var RedisCacheHits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "redis_cache_hits_total",
		Help: "Total number of Redis cache hits",
	},
	[]string{"service", "key_prefix"},
)

var RedisCacheMisses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "redis_cache_misses_total",
		Help: "Total number of Redis cache misses",
	},
	[]string{"service", "key_prefix"},
)

var RedisOperationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "redis_operation_duration_seconds",
		Help:    "Duration of Redis operations in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	},
	[]string{"service", "operation"},
)

var RedisErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "redis_errors_total",
		Help: "Total number of Redis errors",
	},
	[]string{"service", "operation"},
)

// =============================================================================
// Kafka Метрики
// =============================================================================

var KafkaMessagesProduced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_messages_produced_total",
		Help: "Total number of Kafka messages produced",
	},
	[]string{"service", "topic"},
)

var KafkaProduceDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "kafka_produce_duration_seconds",
		Help:    "Duration of Kafka produce operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	},
	[]string{"service", "topic"},
)

var KafkaErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_errors_total",
		Help: "Total number of Kafka errors",
	},
	[]string{"service", "topic", "operation"},
)

// =============================================================================
// Media Store Метрики
// =============================================================================

// MediaStoreDuration - время загрузки/удаления файлов в хранилище
var MediaStoreDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "media_store_duration_seconds",
		Help:    "Duration of media store operations in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"backend", "operation"},
)

var MediaStoreErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "media_store_errors_total",
		Help: "Total number of media store errors",
	},
	[]string{"backend", "operation"},
)

// MediaStoreBreakerState - состояние circuit breaker (0=closed, 1=half-open, 2=open)
var MediaStoreBreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "media_store_circuit_breaker_state",
		Help: "Media store circuit breaker state",
	},
	[]string{"name"},
)

// =============================================================================
// Business Метрики (отзывы и рейтинги продавцов)
// =============================================================================

// ReviewsCreated - созданные отзывы
var ReviewsCreated = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "reviews_created_total",
		Help: "Total number of reviews created",
	},
)

// ReviewsDeleted - удалённые отзывы
var ReviewsDeleted = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "reviews_deleted_total",
		Help: "Total number of reviews deleted",
	},
)

// ReviewsDuplicateRejected - отклонённые повторные отзывы на заказ
var ReviewsDuplicateRejected = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "reviews_duplicate_rejected_total",
		Help: "Total number of duplicate review attempts",
	},
)

// ReviewsRating - распределение оценок
var ReviewsRating = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "reviews_rating",
		Help:    "Distribution of review ratings",
		Buckets: []float64{1, 2, 3, 4, 5},
	},
)

// ReviewAttachments - результаты загрузки вложений
var ReviewAttachments = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "review_attachments_total",
		Help: "Total number of review attachments processed",
	},
	[]string{"result"}, // stored, failed
)

// SellerRatingUpdates - обновления агрегата рейтинга продавца
var SellerRatingUpdates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "seller_rating_updates_total",
		Help: "Total number of seller rating aggregate updates",
	},
	[]string{"kind", "result"}, // kind: created, changed, deleted
)

// SellerRatingRepairs - исправления рейтинга фоновой задачей
var SellerRatingRepairs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "seller_rating_repairs_total",
		Help: "Total number of seller rating repairs",
	},
	[]string{"result"}, // consistent, repaired, conflict, failed
)

// SellerRatingRepairDuration - длительность одного прохода ремонта
var SellerRatingRepairDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "seller_rating_repair_duration_seconds",
		Help:    "Duration of a seller rating repair sweep",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	},
)
