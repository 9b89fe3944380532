package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courseloop/simulation-backend/internal/config"
	"github.com/courseloop/simulation-backend/internal/database"
	"github.com/courseloop/simulation-backend/internal/handler"
	"github.com/courseloop/simulation-backend/internal/logger"
	"github.com/courseloop/simulation-backend/internal/repository"
	"github.com/courseloop/simulation-backend/internal/router"
	"github.com/courseloop/simulation-backend/internal/scheduler"
	"github.com/courseloop/simulation-backend/internal/service"
	"github.com/courseloop/simulation-backend/internal/stream"
	"github.com/courseloop/simulation-backend/internal/validator"
	"github.com/courseloop/simulation-backend/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Simulation Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	suiteRepo := repository.NewSuiteRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	eventRepo := repository.NewTimeEventRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	statsRepo := repository.NewStatsRepository(pool)
	budgetCache := repository.NewBudgetCache(rdb, log)

	// ─── Initialize Countdown Infrastructure ──────────────────────────
	sched := scheduler.New(log, cfg.TickInterval)
	registry := stream.NewRegistry(log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb, studentRepo)
	statsQueue := worker.NewStatsQueue(rdb)
	simService := service.NewSimulationService(
		testRepo, eventRepo, answerRepo, suiteRepo,
		budgetCache, statsQueue, statsRepo,
		sched, registry, log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		Test:   handler.NewTestHandler(simService),
		Stream: handler.NewStreamHandler(simService, registry, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	statsWorker := worker.NewStatsWorker(pool, rdb, log)
	go statsWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop live countdowns and close push streams. State is re-derived
	// from the event journal on the next start, so nothing is lost.
	sched.Shutdown()
	registry.Shutdown()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
