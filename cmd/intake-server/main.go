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

	"github.com/intake/intake/internal/config"
	"github.com/intake/intake/internal/domain/intake"
	"github.com/intake/intake/internal/domain/patient"
	"github.com/intake/intake/internal/platform/blobstore"
	"github.com/intake/intake/internal/platform/db"
	"github.com/intake/intake/internal/platform/middleware"
	"github.com/intake/intake/internal/platform/queue"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Healthcare batch intake API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start a standalone reconciliation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
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
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
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
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
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
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
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

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.ArtifactDriver == "s3" {
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
	return blobstore.NewInMemoryBlobStore(), nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize artifact store")
	}

	storeTimeout := time.Duration(cfg.StoreTimeout) * time.Second

	// Queue: Redis when configured, otherwise in-memory with an embedded
	// worker so single-process deployments still reconcile.
	var (
		jobQueue    queue.Queue
		statusStore queue.StatusStore
		embedded    bool
	)
	if cfg.RedisURL != "" {
		rq, err := queue.NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis queue")
		}
		defer rq.Close()
		rs, err := queue.NewRedisStatusStore(ctx, cfg.RedisURL, time.Duration(cfg.TaskTTLHours)*time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis status store")
		}
		defer rs.Close()
		jobQueue, statusStore = rq, rs
		logger.Info().Str("queue", cfg.QueueName).Msg("using redis queue")
	} else {
		jobQueue = queue.NewMemoryQueue(256)
		statusStore = queue.NewMemoryStatusStore()
		embedded = true
		logger.Info().Msg("using in-memory queue with embedded worker")
	}

	patientRepo := patient.NewRepo(pool)
	patientHandler := patient.NewHandler(patient.NewService(patientRepo))

	intakeSvc := intake.NewService(store, jobQueue, statusStore, logger, storeTimeout)
	intakeHandler := intake.NewHandler(intakeSvc)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if embedded {
		reconciler := intake.NewReconciler(patientRepo, pool, logger)
		w := intake.NewWorker(jobQueue, statusStore, store, reconciler, logger, storeTimeout)
		go func() {
			if err := w.Run(workerCtx); err != nil {
				logger.Error().Err(err).Msg("embedded worker exited")
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeout) * time.Second))

	apiV1 := e.Group("/api/v1", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	intakeHandler.RegisterRoutes(apiV1)
	patientHandler.RegisterRoutes(apiV1)

	e.GET("/health", db.HealthHandler(pool))
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service": "intake-server",
			"version": version,
		})
	})

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
	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWorker() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.RedisURL == "" {
		return fmt.Errorf("standalone worker requires REDIS_URL")
	}
	if cfg.ArtifactDriver != "s3" {
		return fmt.Errorf("standalone worker requires ARTIFACT_DRIVER=s3")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize artifact store")
	}

	rq, err := queue.NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis queue")
	}
	defer rq.Close()
	rs, err := queue.NewRedisStatusStore(ctx, cfg.RedisURL, time.Duration(cfg.TaskTTLHours)*time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis status store")
	}
	defer rs.Close()

	reconciler := intake.NewReconciler(patient.NewRepo(pool), pool, logger)
	w := intake.NewWorker(rq, rs, store, reconciler, logger, time.Duration(cfg.StoreTimeout)*time.Second)
	return w.Run(ctx)
}
