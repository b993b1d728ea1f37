package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/config"
	"geoattend/internal/handler"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/logging"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/store"
	"geoattend/internal/worker"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	logger := logging.New(cfg.Env, cfg.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("database not reachable: %w", err)
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	lookupCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	classID, err := repo.ClassID(lookupCtx, cfg.Class.LookupName)
	if err != nil {
		cancel()
		return fmt.Errorf("resolve class %q: %w", cfg.Class.LookupName, err)
	}
	controllerID, err := repo.UserID(lookupCtx, cfg.Class.ControllerAccount)
	cancel()
	if err != nil {
		// login reports the missing account; everything else keeps working
		logger.Warn("controller account not found", "username", cfg.Class.ControllerAccount, "error", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	q, err := selectQueue(cfg, redisClient)
	if err != nil {
		return err
	}
	m := metrics.New()

	if mem, ok := q.(*queue.InMemory); ok {
		auditor := &worker.Auditor{Queue: mem, Store: repo, Metrics: m, Logger: logger.With("component", "auditor")}
		go func() {
			if err := auditor.Run(ctx); err != nil {
				logger.Error("auditor stopped", "error", err)
			}
		}()
	}

	opts := attendance.Options{
		Store: repo,
		Class: attendance.Class{
			ID:              classID,
			BatchCode:       cfg.Class.BatchCode,
			GeofenceRadius:  cfg.Class.GeofenceRadius,
			SessionDuration: cfg.Class.SessionDuration,
		},
		Events: q,
		Logger: logger,
	}
	sessions := auth.Sessions{
		Key:    cfg.SecretKey,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	}
	h := handler.New(handler.Config{
		ClassName:    cfg.Class.Name,
		CSVLabels:    cfg.Class.CSV,
		FilePrefix:   cfg.Class.FilePrefix,
		ExcelBOM:     cfg.CSVExcelBOM,
		StoreTimeout: cfg.StoreTimeout,
		Credentials:  auth.Credentials{Username: cfg.ControllerUser, Password: cfg.ControllerPass},
		ControllerID: controllerID,
	}, handler.Deps{
		Sessions:   attendance.NewSessionManager(opts),
		Recorder:   attendance.NewRecorder(opts),
		Aggregator: attendance.NewAggregator(opts),
		Auth:       sessions,
		Metrics:    m,
		Logger:     logger,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger, "/healthz", "/metrics"))
	r.Use(m.GinMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition", httpmiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders(cfg.Production()))
	r.Use(sessions.Identify())

	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/healthz", healthz(db, redisClient, cfg.StoreTimeout))

	limit := httpmiddleware.RateLimit(selectLimiter(cfg, redisClient, logger), logger)
	h.Register(r, limit)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "class", cfg.Class.Name, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

func selectQueue(cfg config.App, redisClient *store.Redis) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "redis":
		if redisClient == nil {
			return nil, errors.New("QUEUE_BACKEND=redis requires REDIS_ADDR")
		}
		return queue.NewRedisQueue(redisClient.Client, queue.DefaultKey), nil
	case "none":
		return queue.Discard{}, nil
	default:
		return queue.NewInMemory(256), nil
	}
}

func selectLimiter(cfg config.App, redisClient *store.Redis, logger *slog.Logger) httpmiddleware.Limiter {
	if cfg.RateLimitBackend == "redis" {
		if redisClient != nil {
			return httpmiddleware.NewRedisWindow(redisClient.Client, "geoattend:ratelimit", cfg.RateLimitPerMin)
		}
		logger.Warn("RATE_LIMIT_BACKEND=redis without REDIS_ADDR, using in-memory limiter")
	}
	return httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
}

func healthz(db *store.DB, redisClient *store.Redis, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok", "db": true}
		if err := db.Ping(c.Request.Context(), timeout); err != nil {
			status = http.StatusServiceUnavailable
			body["db"] = false
		}
		if redisClient != nil {
			healthy := redisClient.Healthy(c.Request.Context())
			body["redis"] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
			}
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	}
}
