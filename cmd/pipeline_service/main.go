package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video_pipeline_service/internal/api/handlers"
	"video_pipeline_service/internal/api/router"
	"video_pipeline_service/internal/pipeline/app"
	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/queue"
	"video_pipeline_service/internal/pipeline/repository"
	"video_pipeline_service/pkg/config"
	"video_pipeline_service/pkg/database"
	"video_pipeline_service/pkg/logger"
	testtool "video_pipeline_service/pkg/test_tool"
	t_token "video_pipeline_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.Pipeline, config.EnvConfig.PipelineLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Pipeline](config.EnvConfig.Pipeline, config.EnvConfig.PipelineYAMLPath)
	cfg.ApplyDefaults()
	t_token.SetSecret(cfg.JWT.Secret)

	testtool.StartPprof()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 連線 PostgreSQL
	db, err := database.NewPGConnection(database.Connection{
		ConnectStr:    database.PGConnectString(cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database),
		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgreSQL database after retries", zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
	}

	// 自動遷移影片資料表
	videoRepo := repository.NewVideoRepo(db)
	if err := videoRepo.AutoMigrate(); err != nil {
		log.Fatalf("資料表遷移失敗: %v", err)
	}

	// 2. 初始化 MinIO 客戶端
	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:   fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
		User:       cfg.MinIO.User,
		Password:   cfg.MinIO.Password,
		BucketName: cfg.MinIO.BucketName,
		UseSSL:     cfg.MinIO.UseSSL,

		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: time.Duration(cfg.MinIO.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to minio after retries", zap.String("host", cfg.MinIO.Host), zap.Error(err))
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := minioClient.Ping(pingCtx); err != nil {
		// bucket 不通時 stream 會回 503，不擋啟動
		logger.Log.Warn("minio bucket unreachable", zap.String("bucket", cfg.MinIO.BucketName), zap.Error(err))
	}
	cancelPing()

	// 3. job store + 三個 queue
	backend, err := newBackend(cfg)
	if err != nil {
		logger.Log.Fatal("job store init failed", zap.String("job_store", cfg.JobStore), zap.Error(err))
	}
	queues, err := app.NewQueues(backend, cfg.Queues)
	if err != nil {
		logger.Log.Fatal("declare queues failed", zap.Error(err))
	}

	// 4. 事件發布
	events, closeEvents, err := newEventPublisher(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("event publisher init failed", zap.String("driver", cfg.Events.Driver), zap.Error(err))
	}
	defer closeEvents()

	orchestrator := app.NewOrchestrator(videoRepo, queues, events)
	resolver := app.NewStatusResolver(queues)
	gateway := app.NewStreamGateway(videoRepo, minioClient, cfg.Stream.TTLSeconds)

	// 5. grpc health + reporter
	healthServer := health.NewServer()
	reporter := app.NewReporter(app.Counters(queues.All()), cfg.Health.FailedThreshold, cfg.Health.Timeout, app.WithHealthServer(healthServer))
	grpcServer := database.NewHealthGRPCServer(healthServer)
	if cfg.GRPCPort != "" {
		if err := database.ServeGRPC(grpcServer, ":"+cfg.GRPCPort); err != nil {
			logger.Log.Fatal("grpc health server failed", zap.Error(err))
		}
	}

	// 6. 啟動 queue consumer
	service := app.NewService(backend, queues, orchestrator, newProcessors(cfg, minioClient), reporter, cfg.Health.Interval)
	if err := service.Start(ctx); err != nil {
		logger.Log.Fatal("start pipeline workers failed", zap.Error(err))
	}

	// 7. 建立 Fiber 應用
	r := fiber.New(fiber.Config{AppName: config.EnvConfig.Pipeline})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.PipelineLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(recover.New())
	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 將日誌輸出到檔案
	}))
	router.RegisterRoutes(r,
		handlers.NewPipelineHandler(orchestrator, resolver, reporter),
		handlers.NewStreamingHandler(gateway),
	)

	port := cfg.Port
	if config.EnvConfig.PipelinePort != "" {
		port = config.EnvConfig.PipelinePort
	}
	logger.Log.Infof("pipeline service listening on port", port)
	go func() {
		if err := r.Listen(":" + port); err != nil {
			logger.Log.Error("Server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down pipeline service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Log.Errorf("fiber shutdown", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("pipeline service shutdown", zap.Error(err))
	}
	healthServer.Shutdown()
	grpcServer.GracefulStop()
}

// newBackend local = 行程內 memory store，redis = asynq
func newBackend(cfg config.Pipeline) (queue.Backend, error) {
	switch cfg.JobStore {
	case "local":
		logger.Log.Warn("using in-memory job store, jobs are lost on restart")
		return queue.NewMemoryBackend(), nil
	case "redis":
		backend := queue.NewAsynqBackend(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("ping asynq redis %s: %w", cfg.Redis.Addr, err)
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown job_store %q, expect local or redis", cfg.JobStore)
}

// newEventPublisher 依 events.driver 建立 publisher，回傳的 close 一定可呼叫
func newEventPublisher(ctx context.Context, cfg config.Pipeline) (app.EventPublisher, func(), error) {
	noop := func() {}
	switch cfg.Events.Driver {
	case "none":
		return app.NopPublisher{}, noop, nil

	case "redis":
		rdb, err := database.NewRedisClient(ctx, database.RedisConnection{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.RedisDB,
		})
		if err != nil {
			return nil, noop, err
		}
		return app.NewRedisPublisher(database.NewRedisPubSub(rdb), cfg.Events.Channel), func() { _ = rdb.Close() }, nil

	case "rabbitmq":
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr:    database.RabbitMQURL(cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.IP, cfg.RabbitMQ.Port),
			RetryCount:    cfg.RabbitMQ.RetryCount,
			RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval),
		})
		if err != nil {
			return nil, noop, err
		}
		ch, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, time.Duration(cfg.RabbitMQ.RetryInterval))
		if err != nil {
			_ = conn.Close()
			return nil, noop, err
		}
		repo := database.NewRabbitRepository(conn, ch)
		pub, err := app.NewRabbitPublisher(repo, cfg.Events.Channel)
		if err != nil {
			_ = repo.Close()
			return nil, noop, err
		}
		return pub, func() { _ = repo.Close() }, nil

	case "kafka":
		topic := cfg.KafKa.Topic
		if topic == "" {
			topic = cfg.Events.Channel
		}
		writer, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
			Brokers:       cfg.KafKa.Brokers,
			Topic:         topic,
			RetryCount:    cfg.KafKa.RetryCount,
			RetryInterval: time.Duration(cfg.KafKa.RetryInterval),
		})
		if err != nil {
			return nil, noop, err
		}
		return app.NewKafkaPublisher(writer), func() { _ = writer.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
}

// newProcessors ai / strategy 沒設定 endpoint 時直接略過
func newProcessors(cfg config.Pipeline, storage database.ObjectStorage) map[domain.Stage]queue.Processor {
	remote := func(stage domain.Stage, endpoint string) queue.Processor {
		if endpoint == "" {
			logger.Log.Warn("no worker endpoint, stage results are placeholders", zap.String("stage", string(stage)))
			return app.EchoProcessor{}
		}
		return app.NewRemoteProcessor(endpoint, cfg.Workers.Timeout)
	}
	return map[domain.Stage]queue.Processor{
		domain.StageVideo:    app.NewVideoProcessor(storage, cfg.Workers.TempDir),
		domain.StageAI:       remote(domain.StageAI, cfg.Workers.AIEndpoint),
		domain.StageStrategy: remote(domain.StageStrategy, cfg.Workers.StrategyEndpoint),
	}
}
