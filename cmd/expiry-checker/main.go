// Package main is the entrypoint for the Expiry Checker Lambda function.
//
// An EventBridge rule fires once a day and invokes this function with an
// optional RunPayload. The handler acquires the daily job lock, sweeps
// the fleet/HR tables for documents approaching expiry, persists
// deduplicated alerts, and dispatches one batched email digest to all
// active admins and managers.
//
// This file handles dependency wiring (cold start) and delegates the
// business logic to internal/expiry.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleetops/internal/config"
	"fleetops/internal/db"
	"fleetops/internal/expiry"
	"fleetops/internal/external"
	emailpkg "fleetops/internal/notifications/email"
	"fleetops/internal/telemetry"
	"fleetops/internal/types"
)

// RunPayload is the EventBridge invocation payload. ReferenceTime is
// optional and exists so operators can replay a missed day.
type RunPayload struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Handler holds the wired job for reuse across warm invocations.
type Handler struct {
	job    *expiry.Job
	logger *slog.Logger
}

// Handle processes one scheduled invocation.
func (h *Handler) Handle(ctx context.Context, payload RunPayload) (string, error) {
	reference := time.Now().UTC()
	if payload.ReferenceTime != nil {
		reference = payload.ReferenceTime.UTC()
	}

	h.logger.InfoContext(ctx, "expiry checker invoked",
		"reference_time", reference.Format(time.RFC3339),
	)

	report, err := h.job.Run(ctx, reference)
	if err != nil {
		return "", fmt.Errorf("expiry check failed: %w", err)
	}
	if report.LockSkipped {
		return "skipped: lock held by another worker", nil
	}

	return fmt.Sprintf("expiry check complete: %d candidates, %d alerts created, %d dispatched",
		report.Candidates, report.Created, report.Dispatch.AlertCount), nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Expiry Checker Lambda initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	ctx := context.Background()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	job, err := buildJob(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error("failed to wire expiry job", "error", err)
		os.Exit(1)
	}

	handler := &Handler{job: job, logger: logger}

	logger.Info("Expiry Checker Lambda initialized",
		"environment", cfg.Environment,
		"lookahead_days", cfg.Alerts.LookaheadDays,
		"email_provider", cfg.Email.Provider,
		"email_enabled", cfg.Alerts.EnableEmail,
	)

	// Local mode: read an optional RunPayload from stdin instead of
	// starting the Lambda runtime. Enables local testing without the RIE.
	// Usage: echo '{}' | go run ./cmd/expiry-checker
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading payload from stdin")
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		var payload RunPayload
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				logger.Error("failed to parse stdin as run payload", "error", err)
				os.Exit(1)
			}
		}
		result, err := handler.Handle(ctx, payload)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("handler execution completed", "result", result)
		return
	}

	lambda.Start(handler.Handle)
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
// a ready-to-run expiry job.
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
		Sender:  senderIdentity(cfg),
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
		api := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		return external.NewSESClientWithAPI(api, external.SESClientConfig{Logger: logger}), nil
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

// senderIdentity builds the from-identity from configuration.
func senderIdentity(cfg *config.Config) types.SenderIdentity {
	return types.SenderIdentity{
		Name:    cfg.Email.FromName,
		Address: cfg.Email.FromAddress,
	}
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
