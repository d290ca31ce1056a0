// Command job-runner runs the expiry check from a developer machine or a
// one-off container. It wires the same job as the Lambda entrypoint but
// drives it from flags instead of an EventBridge payload.
//
// Usage:
//
//	go run ./cmd/tools/job-runner
//	go run ./cmd/tools/job-runner --reference-time 2026-03-01T00:00:00Z
//	go run ./cmd/tools/job-runner --dry-run
//
// --dry-run scans for expiring documents and prints the candidates as
// JSON without creating alerts or sending mail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"fleetops/internal/config"
	"fleetops/internal/db"
	"fleetops/internal/expiry"
	"fleetops/internal/external"
	emailpkg "fleetops/internal/notifications/email"
	"fleetops/internal/telemetry"
	"fleetops/internal/types"
)

func main() {
	var (
		referenceTime = flag.String("reference-time", "", "RFC 3339 reference time for the run (default: now)")
		dryRun        = flag.Bool("dry-run", false, "scan and print candidates without writing alerts or sending mail")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	reference := time.Now().UTC()
	if *referenceTime != "" {
		parsed, err := time.Parse(time.RFC3339, *referenceTime)
		if err != nil {
			logger.Error("invalid --reference-time, expected RFC 3339", "value", *referenceTime, "error", err)
			os.Exit(1)
		}
		reference = parsed.UTC()
	}

	// Best effort; CI and containers set real env vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if *dryRun {
		if err := runDryRun(ctx, cfg, pool, reference, logger); err != nil {
			logger.Error("dry run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runJob(ctx, cfg, pool, reference, logger); err != nil {
		logger.Error("expiry check failed", "error", err)
		os.Exit(1)
	}
}

// runDryRun scans all lookahead windows and prints the candidates to
// stdout. Nothing is written and no mail is sent.
func runDryRun(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, reference time.Time, logger *slog.Logger) error {
	scanner := expiry.NewScanner(db.NewExpiryRecordRepository(pool), cfg.Alerts.LookaheadDays, logger)

	result := scanner.Scan(ctx, reference)

	out := struct {
		ReferenceTime time.Time               `json:"reference_time"`
		LookaheadDays []int                   `json:"lookahead_days"`
		FailedQueries int                     `json:"failed_queries"`
		Candidates    []types.ExpiryCandidate `json:"candidates"`
	}{
		ReferenceTime: reference,
		LookaheadDays: cfg.Alerts.LookaheadDays,
		FailedQueries: result.FailedQueries,
		Candidates:    result.Candidates,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runJob executes the full lock-guarded expiry check, identical to a
// scheduled invocation.
func runJob(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, reference time.Time, logger *slog.Logger) error {
	renderer, err := emailpkg.NewDigestRenderer()
	if err != nil {
		return fmt.Errorf("initializing digest renderer: %w", err)
	}

	provider, err := buildEmailProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	scanner := expiry.NewScanner(db.NewExpiryRecordRepository(pool), cfg.Alerts.LookaheadDays, logger)
	classifier := expiry.NewClassifier(db.NewAlertRepository(pool), logger)
	dispatcher := expiry.NewDispatcher(db.NewAlertRepository(pool), db.NewUserRepository(pool), renderer, provider, expiry.DispatcherConfig{
		Sender: types.SenderIdentity{
			Name:    cfg.Email.FromName,
			Address: cfg.Email.FromAddress,
		},
		Enabled: cfg.Alerts.EnableEmail,
		Logger:  logger,
	})
	runner := expiry.NewRunner(scanner, classifier, dispatcher, telemetry.NoopRunMetrics{}, logger)
	job := expiry.NewJob(runner, db.NewJobLockRepository(pool), db.NewJobHistoryRepository(pool), cfg.Alerts.LockTTL, logger)

	report, err := job.Run(ctx, reference)
	if err != nil {
		return err
	}
	if report.LockSkipped {
		logger.Warn("run skipped, lock held by another worker",
			"reference_time", reference.Format(time.RFC3339),
		)
		return nil
	}

	logger.Info("expiry check complete",
		"candidates", report.Candidates,
		"failed_queries", report.FailedQueries,
		"alerts_created", report.Created,
		"alerts_skipped", report.Skipped,
		"alerts_failed", report.Failed,
		"dispatched", report.Dispatch.AlertCount,
		"dispatch_skipped", report.Dispatch.Skipped,
	)
	return nil
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
