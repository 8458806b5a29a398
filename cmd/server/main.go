// Nudge - proactive private-chat trigger daemon
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/nudge/internal/api"
	"github.com/ashureev/nudge/internal/compose"
	"github.com/ashureev/nudge/internal/config"
	"github.com/ashureev/nudge/internal/middleware"
	"github.com/ashureev/nudge/internal/recall"
	"github.com/ashureev/nudge/internal/store"
	"github.com/ashureev/nudge/internal/transport"
	"github.com/ashureev/nudge/internal/trigger"
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

	slog.Info("Starting nudge",
		"port", cfg.Port,
		"transport", cfg.Transport.Kind,
		"timezone", cfg.Location.String(),
		"enabled", cfg.Policy.Enabled,
	)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Connecting to recall service", "address", cfg.Recall.Address)
	recallClient, err := recall.NewClient(recall.Config{
		Address:         cfg.Recall.Address,
		ConnectTimeout:  cfg.Recall.ConnectTimeout,
		GenerateTimeout: cfg.Recall.GenerateTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to connect to recall service", "error", err)
		os.Exit(1)
	}
	defer recallClient.Close()

	tr, err := newTransport(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize transport", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := tr.Close(); closeErr != nil {
			slog.Error("Failed to close transport", "error", closeErr)
		}
	}()

	// Initialize services.
	composer := compose.New(recallClient, recallClient, compose.Config{
		MemoryEnabled:    cfg.Policy.Memory.Enabled,
		QuestionTemplate: cfg.Policy.Memory.QuestionTemplate,
		HistoryCount:     cfg.Policy.Context.HistoryCount,
		MemoryTimeout:    cfg.Recall.MemoryTimeout,
		ContextTimeout:   cfg.Recall.ContextTimeout,
	}, logger)

	engine := trigger.NewEngine(repo, composer, recallClient, tr, trigger.Options{
		Policy:          cfg.Policy,
		SelfID:          cfg.SelfID,
		DispatchTimeout: cfg.DispatchTimeout,
		Now:             cfg.Now,
		Logger:          logger,
	})

	scheduler := trigger.NewScheduler(engine, repo, trigger.SchedulerConfig{
		Enabled:       cfg.Policy.Enabled && cfg.Policy.Schedule.Enabled,
		Interval:      cfg.Policy.Schedule.ScanInterval,
		MaxConcurrent: cfg.MaxConcurrentDispatch,
	}, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, engine)
	debugHandler := api.NewDebugHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, map[string]api.Check{
		"recall": func(context.Context) error {
			if !recallClient.Ready() {
				return errors.New("recall connection not ready")
			}
			return nil
		},
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Operator routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.AdminToken))
		debugHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DispatchTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	sweepDone := store.NewSweeper(repo, cfg.Policy.State.Retention, cfg.SweepInterval, cfg.Now).Start(ctx)

	if err := scheduler.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	inbound, err := tr.Receive(ctx)
	if err != nil {
		slog.Error("Failed to start receiving messages", "error", err)
		os.Exit(1)
	}

	var g errgroup.Group
	g.Go(func() error {
		engine.Consume(ctx, inbound)
		return nil
	})

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
	}

	scheduler.Stop()
	_ = g.Wait()
	<-sweepDone

	slog.Info("Server stopped successfully")
}

// newTransport builds the configured chat transport.
func newTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportRedis:
		opts, err := redis.ParseURL(cfg.Transport.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		rs, err := transport.NewRedisStreams(ctx, client, transport.RedisConfig{
			InboundStream:  cfg.Transport.InboundStream,
			OutboundStream: cfg.Transport.OutboundStream,
			Group:          cfg.Transport.ConsumerGroup,
			Consumer:       cfg.Transport.ConsumerName,
		}, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		slog.Info("Redis streams transport ready", "inbound", cfg.Transport.InboundStream, "group", cfg.Transport.ConsumerGroup)
		return rs, nil
	default:
		slog.Info("WebSocket transport configured", "url", cfg.Transport.GatewayURL)
		return transport.NewWebSocket(transport.WebSocketConfig{
			URL:   cfg.Transport.GatewayURL,
			Token: cfg.Transport.GatewayToken,
		}, logger), nil
	}
}
