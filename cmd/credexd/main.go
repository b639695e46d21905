package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/config"
	dbRedis "github.com/kailas-cloud/credex/internal/db/redis"
	"github.com/kailas-cloud/credex/internal/domain"
	logpkg "github.com/kailas-cloud/credex/internal/logger"
	"github.com/kailas-cloud/credex/internal/metrics"
	channelrepo "github.com/kailas-cloud/credex/internal/repository/channel"
	ledgerrepo "github.com/kailas-cloud/credex/internal/repository/ledger"
	manifestrepo "github.com/kailas-cloud/credex/internal/repository/manifest"
	chiTransport "github.com/kailas-cloud/credex/internal/transport/chi"
	channeluc "github.com/kailas-cloud/credex/internal/usecase/channel"
	healthuc "github.com/kailas-cloud/credex/internal/usecase/health"
	ledgeruc "github.com/kailas-cloud/credex/internal/usecase/ledger"
	manifestuc "github.com/kailas-cloud/credex/internal/usecase/manifest"
	resetuc "github.com/kailas-cloud/credex/internal/usecase/reset"
	sweepuc "github.com/kailas-cloud/credex/internal/usecase/sweep"
	"github.com/kailas-cloud/credex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting credexd",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.Strings("agents", cfg.Ledger.Agents),
	)

	// Valkey speaks the same protocol; rueidis covers both drivers.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register ledger metrics explicitly (no init())
	metrics.RegisterLedgerMetrics()

	// Repositories
	ledgerRepo := ledgerrepo.New(store, cfg.Ledger.KeyPrefix)
	manifestRepo := manifestrepo.New(store, cfg.Ledger.KeyPrefix)
	channelRepo := channelrepo.New(store, cfg.Ledger.KeyPrefix)

	// Use case services
	channelSvc := channeluc.New(channelRepo, logger).
		WithPollLimit(cfg.Channel.PollLimit)

	limits := domain.Limits{
		DailyLimit:       cfg.Ledger.DailyLimit,
		WarningThreshold: cfg.Ledger.WarningThreshold,
		OverageTolerance: cfg.Ledger.OverageTolerance,
	}
	ledgerSvc := ledgeruc.New(ledgerRepo, limits, logger).
		WithAgents(cfg.Ledger.Agents).
		WithNotifier(channelSvc)

	manifestSvc := manifestuc.New(
		manifestRepo, ledgerSvc, cfg.Manifest.StalenessThreshold.Std(), logger,
	)

	healthSvc := healthuc.New(store, manifestSvc, "")

	// Daily reset scheduler
	scheduler := resetuc.New(ledgerSvc, cfg.Ledger.ResetOffset.Std(), logger).
		WithSharedPublisher(manifestSvc)
	go scheduler.Run(ctx)

	// Expired reservation sweeper, doubling as channel retention
	sweeper := sweepuc.New(
		ledgerRepo, ledgerSvc,
		cfg.Ledger.ReservationTTL.Std(), cfg.Ledger.SweepInterval.Std(),
		logger,
	)
	if cfg.Channel.Retention.Std() > 0 {
		sweeper = sweeper.WithRetention(channelRepo, cfg.Channel.Retention.Std())
	}
	go sweeper.Run(ctx)

	// Usage mirror: keep daily_used in the manifest fresh between agent
	// publishes, preserving each agent's own commit ref.
	go runUsageMirror(ctx, manifestSvc, cfg.Ledger.Agents, cfg.Manifest.PublishInterval.Std(), logger)

	// Create chi server
	server := chiTransport.NewServer(ledgerSvc, manifestSvc, channelSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second,
	)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// runUsageMirror republishes each agent's manifest fields on interval so
// daily_used tracks the ledger even when agents publish rarely. An agent that
// never published yet is skipped; its first publish comes from the agent side.
func runUsageMirror(
	ctx context.Context,
	manifestSvc *manifestuc.Service,
	agents []string,
	interval time.Duration,
	logger *zap.Logger,
) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, err := manifestSvc.Snapshot(ctx)
		if err != nil {
			logger.Warn("usage mirror: manifest read failed", zap.Error(err))
			continue
		}
		for _, agent := range agents {
			st, ok := snap.Agents[agent]
			if !ok {
				continue
			}
			if err := manifestSvc.Publish(ctx, agent, st.LastCommitRef); err != nil {
				logger.Warn("usage mirror: publish failed",
					zap.String("agent", agent), zap.Error(err))
			}
		}
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
