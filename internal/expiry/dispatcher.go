package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fleetops/internal/external"
	"fleetops/internal/notifications/email"
	"fleetops/internal/types"
)

// DispatchStore defines the alert persistence operations needed by the
// Dispatcher.
type DispatchStore interface {
	// ListUnsent returns every alert with is_sent = false, ordered by
	// due date ascending.
	ListUnsent(ctx context.Context) ([]types.Alert, error)
	// MarkSent flags the given alert IDs as sent with a shared timestamp
	// and returns the number of rows updated.
	MarkSent(ctx context.Context, ids []string, sentAt time.Time) (int64, error)
}

// RecipientSource resolves who receives the digest.
type RecipientSource interface {
	ListAlertRecipients(ctx context.Context) ([]types.Recipient, error)
}

// DigestRenderer renders the batched digest for a set of alerts.
type DigestRenderer interface {
	Render(alerts []types.Alert, now time.Time) (*email.RenderedDigest, error)
}

// DispatchResult summarizes one dispatch attempt.
type DispatchResult struct {
	// Skipped is a short reason when the stage did nothing ("disabled",
	// "no_alerts", "no_recipients"). Empty when mail was sent.
	Skipped string
	// AlertCount is the size of the batch that went out.
	AlertCount int
	// RecipientCount is how many addresses received it.
	RecipientCount int
	// Marked is how many rows were flagged sent afterwards.
	Marked int64
	// ProviderMsgID is the delivery provider's message ID.
	ProviderMsgID string
}

// Dispatcher sends the batched expiry digest. It loads every unsent
// alert, resolves the active admin and manager addresses, sends one email
// covering the whole batch, and only then marks exactly that batch sent.
type Dispatcher struct {
	store      DispatchStore
	recipients RecipientSource
	renderer   DigestRenderer
	provider   external.EmailProvider
	sender     types.SenderIdentity
	enabled    bool
	logger     *slog.Logger
}

// DispatcherConfig holds the parameters needed to construct a Dispatcher.
type DispatcherConfig struct {
	Sender types.SenderIdentity
	// Enabled is the FEATURE_ENABLE_EMAIL kill switch. When false the
	// dispatcher is a silent no-op and alerts simply accumulate unsent.
	Enabled bool
	Logger  *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store DispatchStore, recipients RecipientSource, renderer DigestRenderer, provider external.EmailProvider, cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:      store,
		recipients: recipients,
		renderer:   renderer,
		provider:   provider,
		sender:     cfg.Sender,
		enabled:    cfg.Enabled,
		logger:     logger,
	}
}

// Dispatch runs the send stage once. The batch is snapshotted before the
// send: only the IDs loaded here are marked sent afterwards, all stamped
// with the same sent_at, so alerts created concurrently by another run
// are never falsely flagged. On a provider failure nothing is marked and
// the whole batch is retried next run.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) (DispatchResult, error) {
	if !d.enabled {
		d.logger.InfoContext(ctx, "email dispatch disabled by feature flag, skipping")
		return DispatchResult{Skipped: "disabled"}, nil
	}

	alerts, err := d.store.ListUnsent(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("listing unsent alerts: %w", err)
	}
	if len(alerts) == 0 {
		d.logger.InfoContext(ctx, "no unsent alerts, skipping dispatch")
		return DispatchResult{Skipped: "no_alerts"}, nil
	}

	recipients, err := d.recipients.ListAlertRecipients(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("listing alert recipients: %w", err)
	}
	if len(recipients) == 0 {
		// Alerts stay unsent and will ride along once someone qualifies.
		d.logger.WarnContext(ctx, "no active admin or manager recipients, skipping dispatch",
			"pending_alerts", len(alerts),
		)
		return DispatchResult{Skipped: "no_recipients"}, nil
	}

	rendered, err := d.renderer.Render(alerts, now)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("rendering expiry digest: %w", err)
	}

	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		to = append(to, r.Email)
	}

	msgID, err := d.provider.Send(ctx, types.SendInput{
		To:          to,
		From:        d.sender,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: "expiry_digest:" + now.UTC().Format("2006-01-02"),
	})
	if err != nil {
		// Nothing is marked sent; the full batch goes out on the next run.
		return DispatchResult{}, fmt.Errorf("sending expiry digest: %w", err)
	}

	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}

	sentAt := now.UTC()
	marked, err := d.store.MarkSent(ctx, ids, sentAt)
	if err != nil {
		// The mail went out but the flags did not stick. The next run will
		// resend these alerts; surfacing the error makes the run visible
		// as degraded rather than silently double-sending later.
		d.logger.ErrorContext(ctx, "digest sent but marking alerts failed",
			"alert_count", len(ids),
			"provider_msg_id", msgID,
			"error", err,
		)
		return DispatchResult{AlertCount: len(alerts), RecipientCount: len(to), ProviderMsgID: msgID},
			fmt.Errorf("marking alerts sent: %w", err)
	}

	d.logger.InfoContext(ctx, "expiry digest dispatched",
		"alert_count", len(alerts),
		"recipient_count", len(to),
		"marked_sent", marked,
		"provider_msg_id", msgID,
	)

	return DispatchResult{
		AlertCount:     len(alerts),
		RecipientCount: len(to),
		Marked:         marked,
		ProviderMsgID:  msgID,
	}, nil
}
