package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"promptarena-backend/internal/config"
	"promptarena-backend/internal/database"
	"promptarena-backend/internal/handlers"
	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/metrics"
	"promptarena-backend/internal/middleware"
	"promptarena-backend/internal/repository"
	"promptarena-backend/internal/router"
	"promptarena-backend/internal/services"
	"promptarena-backend/internal/websocket"
	"promptarena-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Configuration ────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Logger initialization failed: %v", err)
	}
	defer appLog.Sync()
	appLog.Info("Starting PromptArena backend", "env", cfg.Env)

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		appLog.Fatal("PostgreSQL connection failed", "error", err)
	}
	defer pool.Close()
	appLog.Info("PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		appLog.Fatal("Redis connection failed", "error", err)
	}
	defer redisClients.Close()
	appLog.Info("Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations", appLog); err != nil {
		appLog.Fatal("Database migration failed", "error", err)
	}

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)
	jobQueue := repository.NewJobQueue(redisClients.Store, cfg.ChainMaxRetries)

	m := metrics.New()

	// ──── Step 5: Initialize Gemini Client ────
	geminiService, err := services.NewGeminiService(services.GeminiConfig{
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.GeminiModel,
		ConcurrentReqs: cfg.GeminiConcurrentReqs,
		Timeout:        cfg.GeminiTimeout,
	}, m, appLog)
	if err != nil {
		appLog.Fatal("Gemini client initialization failed", "error", err)
	}
	defer geminiService.Close()
	appLog.Info("Gemini client initialized", "model", cfg.GeminiModel)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	executor := services.NewExecutor(cfg.ExecutorURL, cfg.ExecutorTimeout, m)
	storage := services.NewLocalStorage(cfg.StoragePath)
	publisher := services.NewRedisPublisher(redisClients.Store, appLog)
	cache := services.NewRedisCache(redisClients.Store, appLog)

	leaderboardService := services.NewLeaderboardService(sessionRepo, taskRepo, userRepo, cache, cfg.LeaderboardCacheTTL, m, appLog)
	ledgerService := services.NewLedgerService(sessionRepo, publisher, leaderboardService, m, appLog)
	promptService := services.NewPromptService(sessionRepo, taskRepo, storage, geminiService, executor, ledgerService, jobQueue, appLog)
	sessionService := services.NewSessionService(sessionRepo, taskRepo)
	authService := services.NewAuthService(userRepo, redisClients.Store, jwtAuth, appLog)

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService, appLog)
	taskHandler := handlers.NewTaskHandler(taskRepo, appLog)
	sessionHandler := handlers.NewSessionHandler(sessionService, ledgerService, promptService, appLog)
	leaderboardHandler := handlers.NewLeaderboardHandler(leaderboardService, appLog)
	transcribeHandler := handlers.NewTranscribeHandler(geminiService, appLog)

	// ──── Step 6: Start Chain Worker Pool ────
	workerPool := worker.NewPool(jobQueue, sessionRepo, taskRepo, geminiService, ledgerService, publisher, m, appLog, cfg.WorkerCount)
	workerPool.Start()

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(websocket.NewRedisSubscriber(redisClients.PubSub), jwtAuth, cfg.FrontendURL, appLog)

	// ──── Step 8: Start HTTP Server ────
	done := make(chan struct{})
	r := router.New(
		jwtAuth,
		authHandler,
		taskHandler,
		sessionHandler,
		leaderboardHandler,
		transcribeHandler,
		wsHub,
		m,
		cfg.FrontendURL,
		done,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // prompt scoring waits on several model calls
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		appLog.Info("Shutting down")
		close(done)
		workerPool.Stop()
		wsHub.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	appLog.Info("PromptArena backend ready",
		"api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port),
		"ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		appLog.Fatal("Server error", "error", err)
	}
}
