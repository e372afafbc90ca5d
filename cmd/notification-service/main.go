package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/backplane"
	"notifyhub/internal/config"
	"notifyhub/internal/handler"
	"notifyhub/internal/httpserver"
	"notifyhub/internal/mqhandler"
	"notifyhub/internal/realtime"
	"notifyhub/internal/repository"
	"notifyhub/internal/service"
	"notifyhub/pkg/db"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/otel"
	"notifyhub/pkg/rbac"
	"notifyhub/pkg/redis"
	"notifyhub/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting notification-service...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("backplane", cfg.Realtime.Backplane),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	notificationRepo := repository.NewNotificationRepository(dbConn)
	if err := notificationRepo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}

	// Realtime hub + backplane
	hub := realtime.NewHub(cfg.Realtime.BufferSize, log)
	notifier, closeBackplane, err := newNotifier(ctx, cfg, hub, log)
	if err != nil {
		log.Fatal("Failed to init backplane", zap.Error(err))
	}
	defer closeBackplane()

	// Services
	notificationService := service.NewNotificationService(notificationRepo, notifier, log,
		service.WithPushConcurrency(cfg.Realtime.PushConcurrency),
		service.WithPushTimeout(cfg.Realtime.PushTimeout),
	)

	// Kafka publisher (POST /api/notifications/publish)
	publisher := mq.NewPublisher(mq.NewWriter(cfg.Kafka), cfg.Kafka.Topic)
	defer publisher.Close()

	// Kafka consumer
	batchHandler := mqhandler.NewBatchNotificationHandler(notificationService, log)
	provisioner := mq.NewTopicProvisioner(
		mq.NewAdminClient(cfg.Kafka),
		cfg.Kafka.Topic,
		cfg.Kafka.NumPartitions,
		cfg.Kafka.ReplicationFactor,
		cfg.Kafka.AdminTimeout,
		log,
	)
	consumer := mq.NewConsumer(
		mq.ConsumerConfig{
			Topic:           cfg.Kafka.Topic,
			GroupID:         cfg.Kafka.GroupID,
			PollTimeout:     cfg.Kafka.PollTimeout,
			TopicRetryDelay: cfg.Kafka.TopicRetryDelay,
			RetryBackoff:    cfg.Kafka.RetryBackoff,
			MaxRetryBackoff: cfg.Kafka.MaxRetryBackoff,
			ProcessTimeout:  cfg.Kafka.ProcessTimeout,
		},
		provisioner,
		func() mq.Reader { return mq.NewReader(cfg.Kafka) },
		batchHandler.Handle,
		log,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting batch notification consumer...")
		if err := consumer.Run(ctx); err != nil {
			// topic 无法创建时服务不能工作
			log.Fatal("Notification consumer failed", zap.Error(err))
		}
	}()

	// HTTP Server
	policy, err := rbac.NewPolicy(cfg.Auth.AdminUserIDs)
	if err != nil {
		log.Fatal("Invalid auth config", zap.Error(err))
	}
	router := httpserver.NewRouter(
		handler.NewNotificationHandler(notificationService, log),
		handler.NewStreamHandler(hub, notificationService, cfg.Realtime.Heartbeat, log),
		handler.NewPublishHandler(publisher, log),
		util.TokenOptions{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Audience: cfg.JWT.Audience},
		policy,
		dbConn,
		log,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("notification-service is fully initialized and running")

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down notification-service gracefully...")

	// 等待正在处理的消息完成并离开消费组
	wg.Wait()

	// 关闭所有 SSE 连接，否则 srv.Shutdown 会一直等待长连接
	hub.Shutdown()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("notification-service shutdown complete")
}

// newNotifier 根据 realtime.backplane 选择推送路径
// none: 直接推送到本地 hub；redis/rabbitmq: 发布到 backplane，由每个实例的 relay 转发到本地 hub
func newNotifier(ctx context.Context, cfg *config.Config, hub *realtime.Hub, log *zap.Logger) (service.Notifier, func(), error) {
	var (
		broker  backplane.Broker
		release = func() {}
	)
	switch cfg.Realtime.Backplane {
	case "redis":
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		broker = backplane.NewRedisBroker(rdb, cfg.Realtime.Channel)
		release = func() { _ = rdb.Close() }
	case "rabbitmq":
		b, err := backplane.NewAMQPBroker(cfg.MQ.URL, cfg.Realtime.Exchange)
		if err != nil {
			return nil, nil, err
		}
		broker = b
	default:
		return hub, func() {}, nil
	}

	// relay 在订阅断开后自动重订阅，直到 ctx 取消
	relay := backplane.NewRelay(broker, hub, log)
	go relay.Run(ctx)

	closeFn := func() {
		if err := broker.Close(); err != nil {
			log.Warn("Failed to close backplane", zap.Error(err))
		}
		release()
	}
	return backplane.NewNotifier(broker), closeFn, nil
}
