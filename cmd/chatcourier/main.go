package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"chatcourier/internal/config"
	"chatcourier/internal/constants"
	"chatcourier/internal/database"
	"chatcourier/internal/processlock"
	"chatcourier/internal/queue"
	"chatcourier/internal/ratelimit"
	"chatcourier/internal/reminder"
	"chatcourier/internal/retry"
	"chatcourier/internal/service"
	"chatcourier/internal/tracing"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("ChatCourier %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting ChatCourier")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Open the database with exponential backoff so a slow volume mount does
	// not kill the process at boot.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg.Database)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	lock, err := processlock.New(cfg.Queue.LockPath, logger)
	if err != nil {
		return fmt.Errorf("failed to create processor lock: %w", err)
	}

	responder := service.NewHTTPResponder(cfg.Responder)
	notifier := service.NewHTTPNotifier(cfg.Notifier)

	limiter := ratelimit.New(db, ratelimit.Limits{
		Window:        time.Duration(cfg.RateLimit.WindowSec) * time.Second,
		MaxRequests:   cfg.RateLimit.MaxRequests,
		BurstWindow:   time.Duration(cfg.RateLimit.BurstWindowSec) * time.Second,
		BurstLimit:    cfg.RateLimit.BurstLimit,
		BlockDuration: time.Duration(cfg.RateLimit.BlockDurationSec) * time.Second,
	}, logger)

	queueSvc := queue.NewService(db, cfg.Queue, logger)
	processor := queue.NewProcessor(db, responder, notifier, lock, queue.ProcessorConfig{
		BatchSize:     cfg.Queue.BatchSize,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		RetentionDays: cfg.RetentionDays,
	}, logger)

	scheduler := reminder.NewScheduler(db, notifier, reminder.SchedulerConfig{
		IdleWait: time.Duration(cfg.Reminders.IdleWaitSec) * time.Second,
		BusyWait: time.Duration(cfg.Reminders.BusyWaitSec) * time.Second,
	}, logger)
	reminderSvc := reminder.NewService(db, scheduler, logger)

	intake := service.NewIntakeService(queueSvc, limiter, db, scheduler, logger)

	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue processor: %w", err)
	}
	defer processor.Stop()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := NewServer(cfg.Server, intake, queueSvc, processor, limiter, reminderSvc, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
