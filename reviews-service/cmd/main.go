package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"foodmarket/pkg/logger"
	"foodmarket/pkg/metrics"
	"foodmarket/pkg/tracing"
	"foodmarket/reviews-service/internal/app/reviews/config"
	"foodmarket/reviews-service/internal/app/reviews/handler"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure/cache"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure/messaging"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure/storage"
	"foodmarket/reviews-service/internal/app/reviews/processor"
	"foodmarket/reviews-service/internal/app/reviews/repository"
	"foodmarket/reviews-service/internal/app/reviews/service"
)

const serviceName = "reviews-service"

func main() {
	// .env нужен только для локального запуска
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(serviceName, cfg.Log.Level)
	if cfg.Log.LogstashAddr != "" {
		if err := logger.InitLogstash(cfg.Log.LogstashAddr, serviceName, cfg.Log.Level); err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Logstash, using stdout only")
		} else {
			logger.Info().Str("logstash_addr", cfg.Log.LogstashAddr).Msg("Connected to Logstash")
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Tracing.Environment,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to init tracing, continuing without it")
	} else {
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(tctx)
		}()
	}

	// MongoDB: отзывы, изображения, GridFS
	mongoClient, err := connectMongoDB(cfg.MongoDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(dctx); err != nil {
			logger.Error().Err(err).Msg("Error disconnecting from MongoDB")
		}
	}()
	logger.Info().Str("database", cfg.MongoDB.Database).Msg("Connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB.Database)

	// PostgreSQL: агрегаты продавцов (gorm) и справочник заказов/пользователей (pgx)
	pool, err := connectPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	logger.Info().Msg("Connected to PostgreSQL")

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to init gorm")
	}

	go reportPoolStats(ctx, pool)

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	ratingCache := cache.NewRatingCache(redisClient)
	defer ratingCache.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// без Redis работает всё, кроме кэша и очереди ремонта
		logger.Warn().Err(err).Msg("Redis is unavailable, rating cache degraded")
	}
	pingCancel()

	kafkaProducer := messaging.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer kafkaProducer.Close()
	logger.Info().Str("topic", cfg.Kafka.Topic).Msg("Initialized Kafka producer")

	mediaStore, mediaReader, err := newMediaStore(cfg.Media, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to init media store")
	}
	logger.Info().Str("store", cfg.Media.Store).Msg("Initialized media store")

	// Репозитории
	reviewRepo := repository.NewReviewRepository(db)
	mediaRepo := repository.NewMediaRepository(db)
	ratingRepo := repository.NewSellerRatingRepository(gormDB)

	schemaCtx, schemaCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ratingRepo.EnsureSchema(schemaCtx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to prepare seller_ratings table")
	}
	schemaCancel()

	var directory repository.DirectoryRepository
	if cfg.Rating.OrderVerification {
		directory = repository.NewDirectoryRepository(pool)
	}

	// Сервисы
	attachments := service.NewAttachmentManager(mediaRepo, mediaStore)
	aggregator := service.NewRatingAggregator(ratingRepo, reviewRepo, ratingCache, cfg.Rating.CacheTTL)
	reviewService := service.NewReviewService(
		reviewRepo,
		mediaRepo,
		directory,
		attachments,
		aggregator,
		kafkaProducer,
		service.Limits{MaxFiles: cfg.Media.MaxFiles, MaxFileBytes: cfg.Media.MaxFileBytes},
	)

	scheduler := processor.NewCronScheduler(aggregator, cfg.Rating.RepairBatch)
	if err := scheduler.Start(ctx, cfg.Rating.RepairSchedule); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Rating.RepairSchedule).Msg("Failed to start rating repair scheduler")
	}

	// HTTP
	authMiddleware := handler.NewAuthMiddleware(cfg.JWT.Secret)
	limiter := handler.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	defer limiter.Close()

	var mediaHandler *handler.MediaHandler
	if mediaReader != nil {
		mediaHandler = handler.NewMediaHandler(mediaReader)
	}

	router := handler.SetupRoutes(handler.NewReviewHandler(reviewService), mediaHandler, authMiddleware, limiter)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("address", cfg.Server.Address()).Msg("Starting Reviews Service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down Reviews Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	stop()
	scheduler.Stop()

	logger.Info().Msg("Reviews Service stopped gracefully")
}

func connectMongoDB(cfg config.MongoDBConfig) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)

	var client *mongo.Client
	var err error

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err = mongo.Connect(ctx, clientOptions)
		cancel()
		if err == nil {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = client.Ping(pingCtx, nil)
			pingCancel()
			if err == nil {
				return client, nil
			}
		}

		logger.Warn().
			Int("attempt", i+1).
			Err(err).
			Msg("Failed to connect to MongoDB, retrying...")
		time.Sleep(3 * time.Second)
	}

	return nil, err
}

// connectPostgres создает pgx pool; тот же пул отдаётся gorm через database/sql
func connectPostgres(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	var pool *pgxpool.Pool
	for i := 0; i < 10; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		logger.Warn().
			Int("attempt", i+1).
			Err(err).
			Msg("Failed to connect to PostgreSQL, retrying...")
		time.Sleep(3 * time.Second)
	}

	return nil, fmt.Errorf("failed to connect after 10 attempts: %w", err)
}

// newMediaStore выбирает хранилище изображений. MediaReader есть только у GridFS.
func newMediaStore(cfg config.MediaConfig, db *mongo.Database) (infrastructure.MediaStore, infrastructure.MediaReader, error) {
	switch cfg.Store {
	case config.MediaStoreHTTP:
		return storage.NewHTTPStore(cfg.HTTPEndpoint, cfg.PublicBaseURL, cfg.HTTPTimeout, storage.DefaultBreakerConfig()), nil, nil
	default:
		store, err := storage.NewGridFSStore(db, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			metrics.UpdateDbConnections(serviceName, int(stat.IdleConns()), int(stat.AcquiredConns()))
		}
	}
}
