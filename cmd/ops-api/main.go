// Package main is the entrypoint for the ops API server.
//
// The ops API exposes the expiry-check job to environments without
// EventBridge and to operators who need a manual re-run: POST
// /v1/jobs/expiry-check/run (guarded by X-Admin-Key) and GET /healthz.
// It shares all business logic with the Lambda entrypoint.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleetops/internal/api"
	"fleetops/internal/config"
	"fleetops/internal/db"
	"fleetops/internal/expiry"
	"fleetops/internal/external"
	emailpkg "fleetops/internal/notifications/email"
	"fleetops/internal/telemetry"
	"fleetops/internal/types"
)

// shutdownTimeout bounds graceful drain on SIGTERM.
const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	job, err := buildJob(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error("failed to wire expiry job", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(job, pool, cfg.Server.AdminAPIKey, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("ops API listening",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops API server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// newPool builds the pgx pool with the configured tuning parameters.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// buildJob wires the repositories, provider, renderer, and services into
// a ready-to-run expiry job. Mirrors the cold-start wiring in
// cmd/expiry-checker.
func buildJob(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*expiry.Job, error) {
	alertRepo := db.NewAlertRepository(pool)
	recordRepo := db.NewExpiryRecordRepository(pool)
	userRepo := db.NewUserRepository(pool)
	lockRepo := db.NewJobLockRepository(pool)
	historyRepo := db.NewJobHistoryRepository(pool)

	renderer, err := emailpkg.NewDigestRenderer()
	if err != nil {
		return nil, fmt.Errorf("initializing digest renderer: %w", err)
	}

	provider, err := buildEmailProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics, err := buildMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	scanner := expiry.NewScanner(recordRepo, cfg.Alerts.LookaheadDays, logger)
	classifier := expiry.NewClassifier(alertRepo, logger)
	dispatcher := expiry.NewDispatcher(alertRepo, userRepo, renderer, provider, expiry.DispatcherConfig{
		Sender: types.SenderIdentity{
			Name:    cfg.Email.FromName,
			Address: cfg.Email.FromAddress,
		},
		Enabled: cfg.Alerts.EnableEmail,
		Logger:  logger,
	})
	runner := expiry.NewRunner(scanner, classifier, dispatcher, metrics, logger)

	return expiry.NewJob(runner, lockRepo, historyRepo, cfg.Alerts.LockTTL, logger), nil
}

// buildEmailProvider selects the delivery backend from configuration.
func buildEmailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (external.EmailProvider, error) {
	switch cfg.Email.Provider {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS SDK config: %w", err)
		}
		sesAPI := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		return external.NewSESClientWithAPI(sesAPI, external.SESClientConfig{Logger: logger}), nil
	case "sendgrid":
		return external.NewSendGridClient(
			&http.Client{Timeout: 10 * time.Second},
			external.SendGridClientConfig{
				APIKey: cfg.Email.SendGridAPIKey.Unmask(),
				Logger: logger,
			},
		), nil
	default:
		logger.Warn("using stub email provider, no mail will be sent")
		return external.NewStubEmailProvider(logger), nil
	}
}

// buildMetrics selects the metrics sink from configuration.
func buildMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (expiry.RunMetrics, error) {
	if !cfg.Observability.EnableMetrics || cfg.Environment == "local" {
		return telemetry.NoopRunMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return telemetry.NewCloudWatchRunMetrics(cwClient, cfg.Observability.MetricNamespace, logger), nil
}

// parseLogLevel maps the LOG_LEVEL config value to a slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
