package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ashureev/codetutor/internal/api"
	"github.com/ashureev/codetutor/internal/config"
	"github.com/ashureev/codetutor/internal/dialogue"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/executor"
	"github.com/ashureev/codetutor/internal/grpcserver"
	"github.com/ashureev/codetutor/internal/identity"
	"github.com/ashureev/codetutor/internal/llm"
	"github.com/ashureev/codetutor/internal/quiz"
	"github.com/ashureev/codetutor/internal/realtime"
	"github.com/ashureev/codetutor/internal/retention"
	"github.com/ashureev/codetutor/internal/sandbox"
	"github.com/ashureev/codetutor/internal/store"
	"github.com/ashureev/codetutor/internal/submission"
	"github.com/ashureev/codetutor/internal/transcript"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and gRPC health servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

//nolint:gocognit,funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(cmd *cobra.Command) error {
	logger := slog.Default()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "in_container", config.IsContainer())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	repo, err := store.NewSQLite(cfg.DBPath, cfg.StoreTimeout)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	provider, err := llm.NewProvider(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initialize completion provider: %w", err)
	}
	slog.Info("Completion provider ready", "provider", cfg.LLM.Resolved(), "model", provider.ModelID())

	// Services.
	quizzes := quiz.NewService(repo, quiz.NewEngine(provider, cfg.LLMTimeout, logger), cfg.QuizDefaultQuestions, logger)
	registry := executor.NewDefaultRegistry(executor.Deps{
		Provider:  provider,
		Timeout:   cfg.LLMTimeout,
		MaxTokens: cfg.LLM.MaxTokens,
		Logger:    logger,
		Quizzes:   quizzes,
		History:   quizzes,
	})
	orchestrator := dialogue.New(repo, registry, quizzes, logger)

	var runner sandbox.Runner
	if cfg.Sandbox.Enabled {
		docker, err := sandbox.NewDockerRunner(cfg.Sandbox.Runtime, sandbox.Limits{
			Timeout:  cfg.Sandbox.Timeout,
			MemoryMB: cfg.Sandbox.MemoryMB,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize sandbox: %w", err)
		}
		defer docker.Close()
		if err := docker.Ping(ctx); err != nil {
			slog.Warn("Docker unreachable, code runs disabled", "error", err, "in_container", config.IsContainer())
		} else {
			runner = docker
			slog.Info("Sandbox enabled", "runtime", cfg.Sandbox.Runtime, "timeout", cfg.Sandbox.Timeout)
		}
	}
	feedback, _ := registry.Get(domain.ModeCodeFeedback)
	submissions := submission.NewService(repo, feedback, runner, logger)

	transcripts, err := transcript.New(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize transcript logger: %w", err)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Realtime delivery.
	hub := realtime.NewHub(logger)
	defer hub.CloseAll()
	var bus realtime.Bus = realtime.NewLocalBus()
	if cfg.RedisAddr != "" {
		redisBus, err := realtime.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannel, logger)
		if err != nil {
			slog.Warn("Redis unavailable, chat delivery stays on this instance", "error", err)
		} else {
			bus = redisBus
		}
	}
	if err := bus.Start(ctx, hub.Forward); err != nil {
		return fmt.Errorf("start chat bus: %w", err)
	}
	defer bus.Close()

	wsHandler := realtime.NewHandler(orchestrator, hub, bus, realtime.HandlerOptions{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Transcripts:   transcripts,
		Logger:        logger,
	})
	apiHandler := api.NewHandler(api.Deps{
		Repo:        repo,
		Chat:        orchestrator,
		Quizzes:     quizzes,
		Submissions: submissions,
		Transcripts: transcripts,
		IsDev:       cfg.IsDevelopment(),
		Logger:      logger,
	})

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	apiHandler.RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, identity.Options{
			JWTSecret: cfg.JWTSecret,
			IsDev:     cfg.IsDevelopment(),
			Logger:    logger,
		}))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Websocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	retention.NewSweeper(repo, cfg.ChatSessionRetention, cfg.RetentionInterval, logger).Start(ctx)

	var health *grpcserver.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		health = grpcserver.New(repo, grpcserver.DefaultConfig(), logger)
		go func() {
			if err := health.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if health != nil {
		health.Stop()
	}
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
