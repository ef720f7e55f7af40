package metrics

import (
	"time"
)

type RedisOperation string

const (
	RedisOpGet  RedisOperation = "get"
	RedisOpSet  RedisOperation = "set"
	RedisOpDel  RedisOperation = "del"
	RedisOpSAdd RedisOperation = "sadd"
	RedisOpSPop RedisOperation = "spop"
)

type RedisTimer struct {
	service   string
	operation RedisOperation
	start     time.Time
}

func NewRedisTimer(service string, op RedisOperation) *RedisTimer {
	return &RedisTimer{
		service:   service,
		operation: op,
		start:     time.Now(),
	}
}

func (rt *RedisTimer) ObserveDuration() {
	RedisOperationDuration.WithLabelValues(rt.service, string(rt.operation)).Observe(time.Since(rt.start).Seconds())
}

func RecordCacheHit(service, keyPrefix string) {
	RedisCacheHits.WithLabelValues(service, keyPrefix).Inc()
}

func RecordCacheMiss(service, keyPrefix string) {
	RedisCacheMisses.WithLabelValues(service, keyPrefix).Inc()
}

func RecordRedisError(service string, op RedisOperation) {
	RedisErrors.WithLabelValues(service, string(op)).Inc()
}

type KafkaProduceTimer struct {
	service string
	topic   string
	start   time.Time
}

func NewKafkaProduceTimer(service, topic string) *KafkaProduceTimer {
	return &KafkaProduceTimer{
		service: service,
		topic:   topic,
		start:   time.Now(),
	}
}

func (kt *KafkaProduceTimer) Success(count int) {
	KafkaMessagesProduced.WithLabelValues(kt.service, kt.topic).Add(float64(count))
	KafkaProduceDuration.WithLabelValues(kt.service, kt.topic).Observe(time.Since(kt.start).Seconds())
}

func (kt *KafkaProduceTimer) Error() {
	KafkaErrors.WithLabelValues(kt.service, kt.topic, "produce").Inc()
}

type DbOperation string

const (
	DbOpSelect    DbOperation = "select"
	DbOpInsert    DbOperation = "insert"
	DbOpUpdate    DbOperation = "update"
	DbOpUpsert    DbOperation = "upsert"
	DbOpDelete    DbOperation = "delete"
	DbOpAggregate DbOperation = "aggregate"
)

type DbTimer struct {
	service   string
	operation DbOperation
	table     string
	start     time.Time
}

func NewDbTimer(service string, op DbOperation, table string) *DbTimer {
	return &DbTimer{
		service:   service,
		operation: op,
		table:     table,
		start:     time.Now(),
	}
}

func (dt *DbTimer) ObserveDuration() {
	DbQueryDuration.WithLabelValues(dt.service, string(dt.operation), dt.table).Observe(time.Since(dt.start).Seconds())
}

func RecordDbError(service string, op DbOperation) {
	DbErrors.WithLabelValues(service, string(op)).Inc()
}

// UpdateDbConnections выставляет gauge по статистике пула
func UpdateDbConnections(service string, idle, inUse int) {
	DbConnectionsOpen.WithLabelValues(service, "idle").Set(float64(idle))
	DbConnectionsOpen.WithLabelValues(service, "in_use").Set(float64(inUse))
}

type MediaStoreTimer struct {
	backend   string
	operation string
	start     time.Time
}

func NewMediaStoreTimer(backend, operation string) *MediaStoreTimer {
	return &MediaStoreTimer{backend: backend, operation: operation, start: time.Now()}
}

// Done фиксирует длительность и, при ошибке, увеличивает счётчик ошибок
func (mt *MediaStoreTimer) Done(err error) {
	MediaStoreDuration.WithLabelValues(mt.backend, mt.operation).Observe(time.Since(mt.start).Seconds())
	if err != nil {
		MediaStoreErrors.WithLabelValues(mt.backend, mt.operation).Inc()
	}
}

// RecordReviewCreated обновляет бизнес-метрики при создании отзыва
func RecordReviewCreated(rating int) {
	ReviewsCreated.Inc()
	ReviewsRating.Observe(float64(rating))
}

func RecordAttachment(stored bool) {
	if stored {
		ReviewAttachments.WithLabelValues("stored").Inc()
		return
	}
	ReviewAttachments.WithLabelValues("failed").Inc()
}

func RecordSellerRatingUpdate(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	SellerRatingUpdates.WithLabelValues(kind, result).Inc()
}
