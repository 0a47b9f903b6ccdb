package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mdx-vision/mdx/internal/config"
	"github.com/mdx-vision/mdx/internal/domain/encounter"
	"github.com/mdx-vision/mdx/internal/domain/ingest"
	"github.com/mdx-vision/mdx/internal/domain/session"
	"github.com/mdx-vision/mdx/internal/platform/audit"
	"github.com/mdx-vision/mdx/internal/platform/auth"
	"github.com/mdx-vision/mdx/internal/platform/bus"
	"github.com/mdx-vision/mdx/internal/platform/channel"
	"github.com/mdx-vision/mdx/internal/platform/db"
	"github.com/mdx-vision/mdx/internal/platform/middleware"
	"github.com/mdx-vision/mdx/internal/platform/sse"
	"github.com/mdx-vision/mdx/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdx-server",
		Short: "MDx Vision real-time clinical session server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the session API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := "-"
				if s.Applied {
					status = "applied"
					appliedAt = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Event bus and session coordination core
	events := bus.New(bus.Options{
		SubscriberBuffer:   cfg.BusSubscriberBuffer,
		ReplayDepth:        cfg.BusReplayDepth,
		PauseBlocksPublish: cfg.PauseBlocksPublish,
	})
	registry := session.NewRegistry()
	allocator := channel.NewAllocator()
	coordinator := session.NewCoordinator(registry, allocator, events, nil, session.CoordinatorOptions{
		Retention:          cfg.SessionRetention,
		PauseBlocksPublish: cfg.PauseBlocksPublish,
	}, logger)

	// Background subscribers: durable session history and the audit trail.
	sinkCtx, sinkCancel := context.WithCancel(ctx)
	defer sinkCancel()

	sessionRepo := session.NewPGRepository(pool)
	recorder := session.NewRecorder(sessionRepo, events, logger)
	go recorder.Run(sinkCtx)

	auditSink := audit.NewSink(events, audit.NewPGRecorder(pool), logger)
	go auditSink.Run(sinkCtx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case "development":
		e.Use(auth.DevAuthMiddleware())
	case "hmac":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSigningKey),
		}))
	default:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// API group with rate limiting
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Domain handlers
	sessionHandler := session.NewHandler(coordinator, sessionRepo)
	sessionHandler.RegisterRoutes(apiV1)

	encounterSvc := encounter.NewService(encounter.NewPGRepository(pool))
	encounterHandler := encounter.NewHandler(encounterSvc)
	encounterHandler.RegisterRoutes(apiV1)

	ingestHandler := ingest.NewHandler(events, registry, logger)
	ingestHandler.RegisterRoutes(apiV1)

	// Streaming transports
	sseHandler := sse.NewStreamHandler(events, registry, logger)
	sseHandler.RegisterRoutes(apiV1)

	wsHandler := websocket.NewStreamHandler(events, registry, logger)
	wsHandler.RegisterRoutes(e.Group(""))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}

	// Stop background subscribers before tearing down the bus so the last
	// lifecycle events still reach the durable store.
	sinkCancel()
	coordinator.Close()
	events.Close()

	logger.Info().Msg("server stopped")
	return nil
}
