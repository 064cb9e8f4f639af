package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/handlers"
	"github.com/SAP-F-2025/exam-session-service/internal/oracle"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories/casdoor"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/SAP-F-2025/exam-session-service/pkg"
)

// serveFlags override the environment when set on the command line
type serveFlags struct {
	port     string
	logLevel string
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = config.ParseLogLevel(f.logLevel)
	}
}

func main() {
	flags := &serveFlags{}
	runServe := func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		flags.apply(cmd, cfg)
		return serve(cfg)
	}

	rootCmd := &cobra.Command{
		Use:          "exam-session-service",
		Short:        "Proctored exam sessions with assisted grading",
		RunE:         runServe,
		SilenceUsage: true,
	}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&flags.port, "port", "", "HTTP port (overrides PORT)")
		cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	}

	rootCmd.AddCommand(
		serveCmd,
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate()
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func migrate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	if err := pkg.Migrate(db); err != nil {
		return err
	}
	logger.Info("Database schema is up to date", "driver", cfg.DatabaseDriver)
	return nil
}

func serve(cfg *config.Config) error {
	// Initialize logger
	slogLogger := newLogger(cfg)
	logger := utils.NewSlogLogger(slogLogger)

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return err
	}
	if cfg.DatabaseDriver == "sqlite" {
		// sqlite deployments have no separate migration step
		if err := pkg.Migrate(db); err != nil {
			return err
		}
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, running without cache", "error", err)
			redisClient = nil
		}
	}

	// Initialize repositories
	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
		CasdoorConfig: casdoor.CasdoorConfig{
			Endpoint:         cfg.Casdoor.Endpoint,
			ClientID:         cfg.Casdoor.ClientID,
			ClientSecret:     cfg.Casdoor.ClientSecret,
			Certificate:      cfg.Casdoor.Cert,
			OrganizationName: cfg.Casdoor.Organization,
			ApplicationName:  cfg.Casdoor.Application,
		},
	})
	if err := repoManager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}
	repo := repoManager.GetRepository()

	// Event bus: Kafka when brokers are configured, in-process otherwise
	publisher, subscriber, err := events.NewPubSub(cfg.KafkaBrokers, slogLogger)
	if err != nil {
		return err
	}

	opts := services.Options{
		Publisher:      events.NewWatermillPublisher(publisher, slogLogger),
		Cache:          cache.NewCacheManager(redisClient),
		GradingWorkers: cfg.Grading.Workers,
		OracleTimeout:  cfg.Oracle.Timeout,
	}
	if cfg.Oracle.APIKey != "" {
		client := oracle.New(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.Model)
		opts.Scorer = client
		opts.Assistant = client
	} else {
		logger.Warn("ORACLE_API_KEY not set, clarifications and automated grading are disabled")
	}

	// Initialize services
	serviceManager := services.NewServiceManager(db, repo, slogLogger, validator.New(), services.ServiceManagerConfig{
		Options: opts,
	})
	if err := serviceManager.Initialize(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// Auto-grade on submit
	var gradingRouter *message.Router
	if cfg.Grading.AutoOnSubmit {
		gradingRouter, err = events.NewSubmittedRouter(subscriber, serviceManager.Grading().GradeSubmittedSession, slogLogger)
		if err != nil {
			return err
		}
		go func() {
			if err := gradingRouter.Run(context.Background()); err != nil {
				logger.Error("Grading consumer stopped", "error", err)
			}
		}()
	}

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlers.SetupMiddleware(router, logger)

	auth := handlers.NewCasdoorAuthMiddleware(cfg.Casdoor, repo.User(), logger)
	handlerManager := handlers.NewHandlerManager(serviceManager, logger, auth.AuthMiddleware())
	handlerManager.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	if gradingRouter != nil {
		if err := gradingRouter.Close(); err != nil {
			logger.Error("Failed to close grading consumer", "error", err)
		}
	}
	if err := subscriber.Close(); err != nil {
		logger.Error("Failed to close event subscriber", "error", err)
	}

	// Closes the publisher, the database and redis
	if err := serviceManager.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown services", "error", err)
	}

	logger.Info("Server exited")
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
