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

// mockLockStore records lock acquisition attempts.
type mockLockStore struct {
	acquired bool
	err      error

	lockID   string
	workerID string
	ttl      time.Duration
}

func (m *mockLockStore) Acquire(_ context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	m.lockID = lockID
	m.workerID = workerID
	m.ttl = ttl
	if m.err != nil {
		return false, m.err
	}
	return m.acquired, nil
}

// mockHistoryStore records start/finish calls.
type mockHistoryStore struct {
	startErr  error
	finishErr error

	started      []string
	finishedID   int64
	finishStatus string
	finishItems  int
	finishErrArg error
}

func (m *mockHistoryStore) Start(_ context.Context, jobType string) (int64, error) {
	if m.startErr != nil {
		return 0, m.startErr
	}
	m.started = append(m.started, jobType)
	return 42, nil
}

func (m *mockHistoryStore) Finish(_ context.Context, id int64, status string, items int, jobErr error) error {
	m.finishedID = id
	m.finishStatus = status
	m.finishItems = items
	m.finishErrArg = jobErr
	return m.finishErr
}

// newTestJob builds a Job around fully mocked stages. The scan source,
// alert store, and dispatch dependencies come from the other test files
// in this package.
func newTestJob(locks *mockLockStore, history *mockHistoryStore, source *mockScanSource, alerts *mockAlertStore, dispatchStore *mockDispatchStore, provider *mockEmailProvider) *Job {
	scanner := NewScanner(source, []int{7}, testLogger())
	classifier := NewClassifier(alerts, testLogger())
	renderer := &mockDigestRenderer{rendered: &email.RenderedDigest{Subject: "s", BodyHTML: "h", BodyText: "t"}}
	recipients := &mockRecipientSource{recipients: []types.Recipient{
		{Name: "Admin", Email: "admin@fleetops.example.com"},
	}}
	dispatcher := NewDispatcher(dispatchStore, recipients, renderer, provider, DispatcherConfig{
		Sender:  types.SenderIdentity{Name: "FleetOps Alerts", Address: "alerts@fleetops.example.com"},
		Enabled: true,
		Logger:  testLogger(),
	})
	runner := NewRunner(scanner, classifier, dispatcher, nil, testLogger())
	return NewJob(runner, locks, history, time.Minute, testLogger())
}

// --- Run Tests ---

func TestJobRun_LockHeldSkipsEverything(t *testing.T) {
	locks := &mockLockStore{acquired: false}
	history := &mockHistoryStore{}
	source := &mockScanSource{}
	job := newTestJob(locks, history, source, &mockAlertStore{}, &mockDispatchStore{}, &mockEmailProvider{})

	reference := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	report, err := job.Run(context.Background(), reference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !report.LockSkipped {
		t.Errorf("expected LockSkipped report")
	}
	if report.ReferenceDate != "2026-03-10" {
		t.Errorf("got reference date %q, want 2026-03-10", report.ReferenceDate)
	}
	if len(history.started) != 0 {
		t.Errorf("no history row may be written for a skipped run")
	}
	if len(source.queried) != 0 {
		t.Errorf("no scan may run without the lock")
	}
}

func TestJobRun_LockIDEmbedsReferenceDate(t *testing.T) {
	locks := &mockLockStore{acquired: true}
	job := newTestJob(locks, &mockHistoryStore{}, &mockScanSource{}, &mockAlertStore{}, &mockDispatchStore{}, &mockEmailProvider{msgID: "m"})

	reference := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	if _, err := job.Run(context.Background(), reference); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if locks.lockID != "expiry_check:2026-03-10" {
		t.Errorf("got lock ID %q, want expiry_check:2026-03-10", locks.lockID)
	}
	if locks.ttl != time.Minute {
		t.Errorf("got TTL %v, want 1m", locks.ttl)
	}
	if locks.workerID == "" {
		t.Errorf("worker ID must be set")
	}
}

func TestJobRun_SuccessRecordsHistory(t *testing.T) {
	locks := &mockLockStore{acquired: true}
	history := &mockHistoryStore{}

	due := time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)
	source := &mockScanSource{
		byVariantDate: map[string][]types.ExpiryCandidate{
			"visas|2026-03-17": {
				candidate(types.AlertTypeVisaExpiry, types.SubjectVisa, "visa_1", "Amira Hassan", due),
			},
		},
	}
	dispatchStore := &mockDispatchStore{unsent: []types.Alert{unsentAlert("alrt_1", types.PriorityUrgent)}}

	job := newTestJob(locks, history, source, &mockAlertStore{}, dispatchStore, &mockEmailProvider{msgID: "msg_1"})

	reference := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	report, err := job.Run(context.Background(), reference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Created != 1 {
		t.Errorf("got %d created, want 1", report.Created)
	}
	if history.finishStatus != "success" {
		t.Errorf("got history status %q, want success", history.finishStatus)
	}
	if history.finishedID != 42 {
		t.Errorf("got history ID %d, want 42", history.finishedID)
	}
	// Items counts created alerts plus the dispatched batch.
	if history.finishItems != report.Created+report.Dispatch.AlertCount {
		t.Errorf("got %d items, want %d", history.finishItems, report.Created+report.Dispatch.AlertCount)
	}
}

func TestJobRun_DispatchFailureMarksHistoryFailed(t *testing.T) {
	locks := &mockLockStore{acquired: true}
	history := &mockHistoryStore{}
	dispatchStore := &mockDispatchStore{unsent: []types.Alert{unsentAlert("alrt_1", types.PriorityHigh)}}
	provider := &mockEmailProvider{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider down", nil)}

	job := newTestJob(locks, history, &mockScanSource{}, &mockAlertStore{}, dispatchStore, provider)

	report, err := job.Run(context.Background(), time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatalf("expected dispatch failure to surface")
	}
	if report == nil {
		t.Fatalf("partial report expected alongside the error")
	}
	if history.finishStatus != "failed" {
		t.Errorf("got history status %q, want failed", history.finishStatus)
	}
	if history.finishErrArg == nil {
		t.Errorf("history must record the run error")
	}
}

func TestJobRun_HistoryStartFailureAborts(t *testing.T) {
	locks := &mockLockStore{acquired: true}
	history := &mockHistoryStore{startErr: fmt.Errorf("simulated insert failure")}
	source := &mockScanSource{}

	job := newTestJob(locks, history, source, &mockAlertStore{}, &mockDispatchStore{}, &mockEmailProvider{})

	if _, err := job.Run(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected error when job history cannot be started")
	}
	if len(source.queried) != 0 {
		t.Errorf("no scan may run without a history row")
	}
}

func TestJobRun_LockErrorAborts(t *testing.T) {
	locks := &mockLockStore{err: fmt.Errorf("simulated lock failure")}
	job := newTestJob(locks, &mockHistoryStore{}, &mockScanSource{}, &mockAlertStore{}, &mockDispatchStore{}, &mockEmailProvider{})

	if _, err := job.Run(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected lock acquisition error to surface")
	}
}
