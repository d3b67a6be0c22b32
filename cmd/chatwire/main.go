package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwire/internal/broker"
	"chatwire/internal/config"
	"chatwire/internal/constants"
	"chatwire/internal/database"
	"chatwire/internal/hub"
	"chatwire/internal/models"
	"chatwire/internal/queue"
	"chatwire/internal/retry"
	"chatwire/internal/service"
	"chatwire/internal/tracing"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
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
		fmt.Printf("chatwire %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

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
	}).Info("Starting chatwire")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	// Broker connect uses a fixed delay with a bounded attempt count, the
	// same policy the client applies on reconnect. Exhaustion is fatal.
	brokerClient := broker.NewClient(cfg.Broker, logger)
	connectRetry := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Broker.ReconnectDelaySec) * time.Second,
		MaxDelay:     time.Duration(cfg.Broker.ReconnectDelaySec) * time.Second,
		Multiplier:   1.0,
		MaxAttempts:  cfg.Broker.MaxReconnectAttempts,
		Jitter:       false,
	})
	err = connectRetry.Retry(ctx, func() error {
		if connErr := brokerClient.Connect(ctx); connErr != nil {
			logger.Warnf("Failed to connect to broker: %v", connErr)
			return connErr
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker after retries: %w", err)
	}
	defer brokerClient.Close()

	producer := queue.NewProducer(brokerClient, logger)
	chatService := service.NewChatService(db, producer, logger)

	verifier := hub.NewStaticVerifier(cfg.Auth.StaticTokens)
	liveHub := hub.New(producer, db, logger)
	wsHandler := hub.NewHandler(liveHub, verifier, logger)

	pushSender := queue.NewGuardedPushSender(queue.NewLogPushSender(logger), logger)
	consumer := queue.NewConsumer(brokerClient, db, producer, liveHub, pushSender, logger)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue consumers: %w", err)
	}

	// Config watcher applies live-safe settings; everything else logs a
	// restart hint.
	watcher := config.NewWatcher(*configPath, logger)
	watcher.OnConfigChange(func(updated *models.Config) {
		if updated.LogLevel == "" {
			return
		}
		level, err := logrus.ParseLevel(updated.LogLevel)
		if err != nil {
			logger.Warnf("Ignoring invalid log level %q from reloaded config", updated.LogLevel)
			return
		}
		logger.SetLevel(level)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher exited")
		}
	}()

	server := NewServer(cfg, chatService, producer, wsHandler, brokerClient, verifier, liveHub, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	liveHub.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	consumer.Wait()

	logger.Info("Server shutdown completed")
	return nil
}
