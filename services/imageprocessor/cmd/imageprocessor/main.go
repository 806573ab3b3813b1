package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"streetviewai/internal/ratelimit"
	"streetviewai/internal/util"
	"streetviewai/pkg/ai"
	"streetviewai/pkg/queue"
	"streetviewai/pkg/storage"
	"streetviewai/pkg/store"
	"streetviewai/services/imageprocessor/internal/app"
	"streetviewai/services/imageprocessor/internal/config"
	"streetviewai/services/imageprocessor/internal/server"
)

func main() {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL, store.WithMaxOpenConns(cfg.DatabaseMaxOpenConns))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reports, err := newReportStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init report store: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var (
		redisClient *redis.Client
		jobs        *queue.RedisJobQueue
		limiter     *ratelimit.FixedWindowLimiter
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		jobs, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Client:      redisClient,
			Stream:      cfg.QueueName,
			Group:       cfg.QueueGroup,
			MaxAttempts: cfg.QueueMaxAttempts,
		})
		if err != nil {
			log.Fatalf("failed to init analysis queue: %v", err)
		}
		if cfg.AnalyzeRateLimitPerMin > 0 {
			limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "streetview:ratelimit:analyze", cfg.AnalyzeRateLimitPerMin, time.Minute)
			if err != nil {
				log.Fatalf("failed to init rate limiter: %v", err)
			}
		}
	}

	appCfg := app.Config{
		InputDir:         cfg.InputDir,
		OutputDir:        cfg.OutputDir,
		OllamaBaseURL:    cfg.OllamaBaseURL,
		DefaultModel:     cfg.OllamaModel,
		BatchConcurrency: cfg.BatchConcurrency,
		Store:            db,
		Model:            ai.NewOllamaClient(cfg.OllamaBaseURL),
	}
	if reports != nil {
		appCfg.Reports = reports
	}
	if jobs != nil {
		appCfg.Queue = jobs
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if jobs != nil {
		jobs.Start(ctx, cfg.QueueConcurrency, appCore.RunJob)
		slog.Info("analysis workers started", "queue", cfg.QueueName, "concurrency", cfg.QueueConcurrency)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Multi-kind analyses run one model call after another.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("image processor listening", "addr", addr, "model", cfg.OllamaModel, "input_dir", cfg.InputDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	if jobs != nil {
		jobs.Wait()
	}
}

func newReportStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	switch cfg.ReportStore {
	case config.ReportStoreMinio:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
	case config.ReportStoreNone:
		return nil, nil
	default:
		return storage.NewFileStore(cfg.OutputDir)
	}
}
