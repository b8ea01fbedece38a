package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vidforge/internal/config"
	"vidforge/internal/notifier"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/pkg/shutdown"
	"vidforge/internal/queue"
	"vidforge/internal/repositories"
	"vidforge/internal/storage"
	"vidforge/internal/worker"
	"vidforge/internal/worker/renderer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "vidforge-worker",
	})

	log.Info("starting vidforge worker",
		"version", "0.1.0",
		"concurrency", cfg.Worker.Concurrency,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}

	if err := repositories.EnsureSchema(ctx, pool); err != nil {
		log.LogFatal("failed to ensure database schema", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	deps := worker.Deps{
		Store:    repositories.NewJobRepository(pool),
		Queue:    queue.NewRedisQueue(rdb, cfg.Queue.Name, cfg.Queue.ProcessingName()),
		Renderer: renderer.NewHTTPClient(cfg.Renderer.BaseURL, cfg.Renderer.Timeout),
		Notifier: notifier.New(notifier.Options{
			MaxAttempts:    cfg.Notifier.MaxAttempts,
			BaseBackoff:    cfg.Notifier.BaseBackoff,
			AttemptTimeout: cfg.Notifier.AttemptTimeout,
			BufferSize:     cfg.Notifier.BufferSize,
			Log:            log,
		}),
		Storage:     sp,
		ScratchRoot: cfg.Storage.ScratchRoot,
		Cfg:         cfg.Worker,
		Log:         log,
	}

	// Cancel the work loops first so in-flight jobs stop before the
	// connections close.
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		cancel()
		return nil
	})

	go func() {
		if err := worker.Run(ctx, deps); err != nil && ctx.Err() == nil {
			log.Error("worker stopped", "error", err.Error())
			shutdownMgr.Shutdown()
		}
	}()

	shutdownMgr.WaitWithContext(ctx)
}
