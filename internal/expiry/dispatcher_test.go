package expiry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fleetops/internal/notifications/email"
	"fleetops/internal/types"
)

// --- Mocks ---

// mockDispatchStore simulates the alert repository for dispatcher tests.
type mockDispatchStore struct {
	unsent     []types.Alert
	listErr    error
	markErr    error
	markedIDs  []string
	markedAt   time.Time
	markCalled bool
}

func (m *mockDispatchStore) ListUnsent(_ context.Context) ([]types.Alert, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.unsent, nil
}

func (m *mockDispatchStore) MarkSent(_ context.Context, ids []string, sentAt time.Time) (int64, error) {
	m.markCalled = true
	if m.markErr != nil {
		return 0, m.markErr
	}
	m.markedIDs = ids
	m.markedAt = sentAt
	return int64(len(ids)), nil
}

// mockRecipientSource returns a fixed recipient list.
type mockRecipientSource struct {
	recipients []types.Recipient
	err        error
}

func (m *mockRecipientSource) ListAlertRecipients(_ context.Context) ([]types.Recipient, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.recipients, nil
}

// mockDigestRenderer returns a canned digest and records its input.
type mockDigestRenderer struct {
	rendered *email.RenderedDigest
	err      error
	alerts   []types.Alert
}

func (m *mockDigestRenderer) Render(alerts []types.Alert, _ time.Time) (*email.RenderedDigest, error) {
	m.alerts = alerts
	if m.err != nil {
		return nil, m.err
	}
	return m.rendered, nil
}

// mockEmailProvider records the send input and returns a canned message ID.
type mockEmailProvider struct {
	input  types.SendInput
	msgID  string
	err    error
	called bool
}

func (m *mockEmailProvider) Send(_ context.Context, input types.SendInput) (string, error) {
	m.called = true
	m.input = input
	if m.err != nil {
		return "", m.err
	}
	return m.msgID, nil
}

func unsentAlert(id string, priority types.Priority) types.Alert {
	return types.Alert{
		ID:       id,
		Type:     types.AlertTypeVisaExpiry,
		Title:    "Visa Expiring: Amira Hassan",
		Priority: priority,
		Subject:  types.SubjectRef{Type: types.SubjectVisa, ID: "visa_1"},
		DueDate:  time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC),
	}
}

func newTestDispatcher(store *mockDispatchStore, recipients *mockRecipientSource, renderer *mockDigestRenderer, provider *mockEmailProvider, enabled bool) *Dispatcher {
	return NewDispatcher(store, recipients, renderer, provider, DispatcherConfig{
		Sender:  types.SenderIdentity{Name: "FleetOps Alerts", Address: "alerts@fleetops.example.com"},
		Enabled: enabled,
		Logger:  testLogger(),
	})
}

// --- Dispatch Tests ---

func TestDispatch_DisabledByFeatureFlag(t *testing.T) {
	store := &mockDispatchStore{unsent: []types.Alert{unsentAlert("alrt_1", types.PriorityMedium)}}
	provider := &mockEmailProvider{}
	d := newTestDispatcher(store, &mockRecipientSource{}, &mockDigestRenderer{}, provider, false)

	result, err := d.Dispatch(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != "disabled" {
		t.Errorf("got skipped=%q, want disabled", result.Skipped)
	}
	if provider.called || store.markCalled {
		t.Errorf("disabled dispatch must not send or mark anything")
	}
}

func TestDispatch_NoUnsentAlerts(t *testing.T) {
	store := &mockDispatchStore{}
	provider := &mockEmailProvider{}
	d := newTestDispatcher(store, &mockRecipientSource{
		recipients: []types.Recipient{{Name: "Ops", Email: "ops@fleetops.example.com"}},
	}, &mockDigestRenderer{}, provider, true)

	result, err := d.Dispatch(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != "no_alerts" {
		t.Errorf("got skipped=%q, want no_alerts", result.Skipped)
	}
	if provider.called {
		t.Errorf("no mail should go out with an empty batch")
	}
}

func TestDispatch_NoRecipientsLeavesAlertsUnsent(t *testing.T) {
	store := &mockDispatchStore{unsent: []types.Alert{unsentAlert("alrt_1", types.PriorityUrgent)}}
	provider := &mockEmailProvider{}
	d := newTestDispatcher(store, &mockRecipientSource{}, &mockDigestRenderer{}, provider, true)

	result, err := d.Dispatch(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != "no_recipients" {
		t.Errorf("got skipped=%q, want no_recipients", result.Skipped)
	}
	if provider.called || store.markCalled {
		t.Errorf("alerts must stay unsent when nobody qualifies to receive them")
	}
}

func TestDispatch_SendsOneDigestAndMarksExactBatch(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	store := &mockDispatchStore{unsent: []types.Alert{
		unsentAlert("alrt_1", types.PriorityUrgent),
		unsentAlert("alrt_2", types.PriorityMedium),
	}}
	recipients := &mockRecipientSource{recipients: []types.Recipient{
		{Name: "Admin", Email: "admin@fleetops.example.com"},
		{Name: "Manager", Email: "manager@fleetops.example.com"},
	}}
	renderer := &mockDigestRenderer{rendered: &email.RenderedDigest{
		Subject:  "[URGENT] 2 expiring documents need attention",
		BodyHTML: "<html>digest</html>",
		BodyText: "digest",
	}}
	provider := &mockEmailProvider{msgID: "msg_123"}

	d := newTestDispatcher(store, recipients, renderer, provider, true)

	result, err := d.Dispatch(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.AlertCount != 2 || result.RecipientCount != 2 {
		t.Errorf("got %+v, want 2 alerts to 2 recipients", result)
	}
	if result.Marked != 2 {
		t.Errorf("got %d marked, want 2", result.Marked)
	}
	if result.ProviderMsgID != "msg_123" {
		t.Errorf("got provider msg ID %q, want msg_123", result.ProviderMsgID)
	}

	// One mail covering the whole batch, to every recipient.
	if len(provider.input.To) != 2 {
		t.Errorf("got %d To addresses, want 2", len(provider.input.To))
	}
	if provider.input.Subject != "[URGENT] 2 expiring documents need attention" {
		t.Errorf("unexpected subject %q", provider.input.Subject)
	}
	if provider.input.ReferenceID != "expiry_digest:2026-03-10" {
		t.Errorf("unexpected reference ID %q", provider.input.ReferenceID)
	}

	// Exactly the loaded IDs are marked, all with the same timestamp.
	if len(store.markedIDs) != 2 || store.markedIDs[0] != "alrt_1" || store.markedIDs[1] != "alrt_2" {
		t.Errorf("unexpected marked IDs %v", store.markedIDs)
	}
	if !store.markedAt.Equal(now.UTC()) {
		t.Errorf("got sentAt %v, want %v", store.markedAt, now.UTC())
	}
}

func TestDispatch_ProviderFailureMarksNothing(t *testing.T) {
	store := &mockDispatchStore{unsent: []types.Alert{unsentAlert("alrt_1", types.PriorityHigh)}}
	recipients := &mockRecipientSource{recipients: []types.Recipient{
		{Name: "Admin", Email: "admin@fleetops.example.com"},
	}}
	renderer := &mockDigestRenderer{rendered: &email.RenderedDigest{Subject: "s", BodyHTML: "h", BodyText: "t"}}
	provider := &mockEmailProvider{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider down", nil)}

	d := newTestDispatcher(store, recipients, renderer, provider, true)

	_, err := d.Dispatch(context.Background(), time.Now())
	if err == nil {
		t.Fatalf("expected error from provider failure")
	}
	if store.markCalled {
		t.Errorf("nothing may be marked sent when the send fails")
	}
}

func TestDispatch_MarkSentFailureSurfacesAsError(t *testing.T) {
	store := &mockDispatchStore{
		unsent:  []types.Alert{unsentAlert("alrt_1", types.PriorityMedium)},
		markErr: fmt.Errorf("simulated update failure"),
	}
	recipients := &mockRecipientSource{recipients: []types.Recipient{
		{Name: "Admin", Email: "admin@fleetops.example.com"},
	}}
	renderer := &mockDigestRenderer{rendered: &email.RenderedDigest{Subject: "s", BodyHTML: "h", BodyText: "t"}}
	provider := &mockEmailProvider{msgID: "msg_9"}

	d := newTestDispatcher(store, recipients, renderer, provider, true)

	result, err := d.Dispatch(context.Background(), time.Now())
	if err == nil {
		t.Fatalf("expected error when marking fails after a successful send")
	}
	// The partial result still reports what actually went out.
	if result.AlertCount != 1 || result.ProviderMsgID != "msg_9" {
		t.Errorf("got %+v, want the sent batch reflected despite the mark failure", result)
	}
}
