package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/ai"
	"github.com/leadline-ai/leadline/internal/api"
	"github.com/leadline-ai/leadline/internal/api/middleware"
	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/conversation"
	"github.com/leadline-ai/leadline/internal/handlers"
	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/notify"
	"github.com/leadline-ai/leadline/internal/rooms"
	"github.com/leadline-ai/leadline/internal/store"
)

// rearmHorizon bounds how far ahead restart recovery re-arms auto-joins.
const rearmHorizon = 24 * time.Hour

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the relational store: PostgreSQL when configured, SQLite
	// otherwise
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		db = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}

	// Initialize Redis store (optional, enables room message replay)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Room registry
	registry := rooms.NewRegistry(logger)
	registry.SetGracePeriod(cfg.RoomGrace)
	registry.SetDefaultCapacity(cfg.MaxParticipants)

	// Release a room's replay window when the room itself is destroyed
	if redisStore != nil {
		rs := redisStore
		registry.OnDestroy(func(roomID string) {
			dropCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := rs.DropRoom(dropCtx, roomID); err != nil {
				logger.Warn().Err(err).Str("room_id", roomID).Msg("replay window cleanup failed")
			}
		})
	}

	// AI collaborators: question generation and analysis degrade to built-in
	// defaults when Gemini is not configured
	var questions conversation.QuestionGenerator
	var analyzer conversation.Analyzer
	if gemini, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger); err != nil {
		logger.Warn().Err(err).Msg("gemini unavailable, using fallback questions and analysis")
	} else {
		questions = gemini
		analyzer = gemini
	}

	// Notifier (nil when SMTP is not configured)
	var notifier conversation.Notifier
	if mailer := notify.NewMailer(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort), cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromEmail, logger); mailer != nil && cfg.SMTPUsername != "" {
		notifier = mailer
	}

	// Conversation orchestrator
	orch := conversation.NewOrchestrator(registry, db, questions, analyzer, nil, notifier, conversation.Options{
		SilenceTimeout: cfg.SilenceTimeout,
		ResponseDelay:  cfg.ResponseDelay,
		MaxExchanges:   cfg.MaxExchanges,
		JoinWaitBound:  cfg.JoinWaitBound,
	}, logger)
	defer orch.Shutdown()
	defer registry.Shutdown()

	// Tell waiting rooms when their agent is on the way
	registry.OnFirstHuman(orch.AnnouncePendingJoin)

	// Re-arm auto-joins for meetings scheduled before a restart
	rearmPendingJoins(ctx, db, orch, logger)

	// Create router
	verifier := middleware.NewTokenVerifier(cfg.JWTSecret, cfg.IsDevelopment())
	h := handlers.NewHandler(db, redisStore, registry, orch, verifier, cfg, logger)
	router := api.NewRouter(logger, h, verifier)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections outlive any write timeout
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting LeadLine server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// rearmPendingJoins restores auto-join timers for meetings that were
// scheduled before the process restarted.
func rearmPendingJoins(ctx context.Context, db store.DataStore, orch *conversation.Orchestrator, logger zerolog.Logger) {
	meetings, err := db.ListPendingMeetings(ctx, time.Now().Add(rearmHorizon))
	if err != nil {
		logger.Warn().Err(err).Msg("pending meeting scan failed")
		return
	}
	for _, m := range meetings {
		var lead *models.Lead
		if l, err := db.GetLead(ctx, m.LeadID.String()); err == nil {
			lead = l
		}
		orch.ScheduleAutoJoin(m.ID, m.ScheduledTime, m.RoomID, lead)
	}
	if len(meetings) > 0 {
		logger.Info().Int("count", len(meetings)).Msg("re-armed pending auto-joins")
	}
}
