// Tutoring turn orchestration server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/vidyalabs/tutor-server/internal/api"
	"github.com/vidyalabs/tutor-server/internal/config"
	"github.com/vidyalabs/tutor-server/internal/inference"
	"github.com/vidyalabs/tutor-server/internal/middleware"
	"github.com/vidyalabs/tutor-server/internal/pipeline"
	"github.com/vidyalabs/tutor-server/internal/prompts"
	"github.com/vidyalabs/tutor-server/internal/quiz"
	"github.com/vidyalabs/tutor-server/internal/ratelimit"
	"github.com/vidyalabs/tutor-server/internal/store"
	"github.com/vidyalabs/tutor-server/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	sessions, err := store.NewSQLite(cfg.DBPath, store.SQLiteOptions{
		TTL:        cfg.SessionTTL,
		WindowSize: cfg.ContextWindowSize,
	})
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := sessions.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	library, err := prompts.Load()
	if err != nil {
		slog.Error("Failed to load prompt templates", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(map[ratelimit.Capability]ratelimit.Budget{
		ratelimit.CapabilityTurn:          {Limit: cfg.RateLimit.Turns, Window: cfg.RateLimit.Window},
		ratelimit.CapabilityTranscription: {Limit: cfg.RateLimit.Transcription, Window: cfg.RateLimit.Window},
		ratelimit.CapabilityGeneration:    {Limit: cfg.RateLimit.Generation, Window: cfg.RateLimit.Window},
		ratelimit.CapabilityQuiz:          {Limit: cfg.RateLimit.Quiz, Window: cfg.RateLimit.Window},
		ratelimit.CapabilityHomework:      {Limit: cfg.RateLimit.Homework, Window: cfg.RateLimit.Window},
	})
	defer limiter.Close()

	gateway := inference.NewClient(cfg.Inference.BaseURL, cfg.Inference.APIKey)
	publisher := stream.NewPublisher()
	quizzes := quiz.NewService(sessions, gateway)

	stages := map[string]pipeline.Stage{
		pipeline.StageTranscription:  pipeline.NewTranscriptionStage(gateway, cfg.Budgets.Transcription),
		pipeline.StageLanguage:       pipeline.NewLanguageDetectionStage(gateway, cfg.Budgets.Classification),
		pipeline.StageIntent:         pipeline.NewIntentClassificationStage(gateway, cfg.Budgets.Classification),
		pipeline.StageTeaching:       pipeline.NewTeachingStage(gateway, library, cfg.Budgets.Teaching),
		pipeline.StageQuiz:           pipeline.NewQuizStage(quizzes, cfg.Budgets.Quiz),
		pipeline.StageHomework:       pipeline.NewHomeworkStage(gateway, cfg.Budgets.Homework),
		pipeline.StageSynthesizer:    pipeline.NewSynthesizerStage(),
		pipeline.StageSpeech:         pipeline.NewSpeechStage(gateway, cfg.Budgets.Speech),
		pipeline.StageAvatarRenderer: pipeline.NewAvatarStage(gateway, cfg.Budgets.Avatar),
	}
	orchestrator := pipeline.NewOrchestrator(sessions, limiter, publisher, stages)

	// Initialize handlers.
	apiHandler := api.NewHandler(sessions, orchestrator, quizzes)
	wsHandler := stream.NewWebSocketHandler(sessions, publisher, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint for the live event channel.
	r.Get("/ws/{sessionID}", wsHandler.ServeHTTP)

	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Evicted sessions drop their live channel along with their state.
	store.StartSweeper(ctx, sessions, cfg.SweepInterval, cfg.SessionTTL, publisher.CloseSession)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
