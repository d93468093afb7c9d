package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"reelflow-backend/internal/config"
	"reelflow-backend/internal/database"
	"reelflow-backend/internal/handlers"
	"reelflow-backend/internal/logging"
	"reelflow-backend/internal/middleware"
	"reelflow-backend/internal/queue"
	"reelflow-backend/internal/repository"
	"reelflow-backend/internal/router"
	"reelflow-backend/internal/services"
	"reelflow-backend/internal/storage"
	"reelflow-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.Env)
	log.Info().Str("env", cfg.Env).Msg("Starting ReelFlow backend")
	if cfg.WebhookSecret == "" {
		log.Warn().Msg("WEBHOOK_SECRET is empty: worker callbacks are unauthenticated and admin routes are disabled")
	}

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("PostgreSQL connection failed")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := database.RunMigrations(pool, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("Database migration failed")
	}
	log.Info().Msg("Database migrations applied")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClients.Close()
	log.Info().Msg("Redis connected")

	// ──── Step 4: Job Queue and Object Store ────
	queueClient := queue.NewClient(redisClients.Queue, queue.Options{
		KeyPrefix:  cfg.QueueKeyPrefix,
		MinBackoff: cfg.QueueReconnectMin,
		MaxBackoff: cfg.QueueReconnectMax,
	})
	queueClient.Start()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	objects, err := storage.New(initCtx, storage.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		PublicURL: cfg.S3PublicURL,
	})
	cancelInit()
	if err != nil {
		log.Fatal().Err(err).Msg("Object store initialization failed")
	}
	log.Info().Str("bucket", cfg.S3Bucket).Msg("Object store ready")

	// ──── Initialize Repositories ────
	videoRepo := repository.NewVideoRepo(pool)
	audioRepo := repository.NewAudioRepo(pool)
	voiceRepo := repository.NewVoiceChunkRepo(pool)
	presetRepo := repository.NewPresetRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	orchestrator := services.NewOrchestrator(
		videoRepo,
		audioRepo,
		presetRepo,
		queueClient,
		objects,
		services.NewStatusPublisher(redisClients.PubSub),
		services.OrchestratorConfig{
			DefaultLanguage:  cfg.DefaultLanguage,
			PresignTTL:       time.Duration(cfg.PresignTTLSeconds) * time.Second,
			UploadPresignTTL: time.Duration(cfg.UploadPresignTTLSeconds) * time.Second,
		},
	)

	// ──── Step 5: Start Retention Scheduler ────
	collector := services.NewRetentionCollector(videoRepo, audioRepo, voiceRepo, objects, cfg.RetentionWindow())
	scheduler := services.NewRetentionScheduler(collector, services.NewRedisLocker(redisClients.Queue), cfg.CleanupCron, cfg.CleanupLockTTL)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Retention scheduler failed to start")
	}

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(websocket.RedisListener(redisClients.PubSub), jwtAuth)

	// ──── Step 7: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		handlers.NewVideoHandler(orchestrator),
		handlers.NewWebhookHandler(orchestrator),
		handlers.NewAdminHandler(scheduler),
		wsHub.HandleWebSocket,
		router.Options{
			FrontendURL:     cfg.FrontendURL,
			WebhookSecret:   cfg.WebhookSecret,
			SubmitRateLimit: cfg.SubmitRateLimit,
		},
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
		scheduler.Stop(ctx)
		queueClient.Stop()
	}()

	log.Info().Str("port", cfg.Port).Msg("ReelFlow backend ready")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
	<-stopped
	log.Info().Msg("Shutdown complete")
}
