package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/logging"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/store"
	"geoattend/internal/worker"
)

// Worker consumes attendance events from Redis and writes the audit trail.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Env, cfg.Debug).With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if redisClient == nil {
		// the in-memory queue lives inside the API process, which runs its own auditor
		log.Fatalf("worker requires REDIS_ADDR")
	}
	defer redisClient.Close()
	if err := redisClient.Check(ctx); err != nil {
		logger.Warn("redis not reachable yet, will keep retrying", "error", err)
	}

	m := metrics.New()
	if port := cfg.WorkerMetricsPort; port != "" {
		srv := &http.Server{Addr: ":" + port, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	auditor := &worker.Auditor{
		Queue:   queue.NewRedisQueue(redisClient.Client, queue.DefaultKey),
		Store:   attendance.NewRepository(db.Client),
		Metrics: m,
		Logger:  logger,
		Timeout: cfg.StoreTimeout,
	}
	if err := auditor.Run(ctx); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
}
