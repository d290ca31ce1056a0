package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetops/internal/expiry"
	"fleetops/internal/types"
)

const testAdminKey = "test-admin-key-123"

// mockJobRunner records the reference time and returns a configured report.
type mockJobRunner struct {
	report    *expiry.RunReport
	err       error
	reference time.Time
	called    bool
}

func (m *mockJobRunner) Run(_ context.Context, reference time.Time) (*expiry.RunReport, error) {
	m.called = true
	m.reference = reference
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

// mockPinger simulates the database liveness check.
type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error {
	return m.err
}

func newTestServer(job *mockJobRunner, db *mockPinger) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(job, db, types.SecretString(testAdminKey), logger)
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte, adminKey string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if adminKey != "" {
		req.Header.Set("X-Admin-Key", adminKey)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// --- Health Tests ---

func TestHealthz_OK(t *testing.T) {
	srv := newTestServer(&mockJobRunner{}, &mockPinger{})

	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHealthz_DegradedWhenDatabaseUnreachable(t *testing.T) {
	srv := newTestServer(&mockJobRunner{}, &mockPinger{err: fmt.Errorf("connection refused")})

	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil, "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())
}

// --- Admin Key Tests ---

func TestRunExpiryCheck_MissingAdminKey(t *testing.T) {
	job := &mockJobRunner{}
	srv := newTestServer(job, &mockPinger{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/jobs/expiry-check/run", nil, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeAuthKeyMissing), resp.Error.Code)
	assert.False(t, job.called)
}

func TestRunExpiryCheck_InvalidAdminKey(t *testing.T) {
	job := &mockJobRunner{}
	srv := newTestServer(job, &mockPinger{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/jobs/expiry-check/run", nil, "wrong-key")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeAuthKeyInvalid), resp.Error.Code)
	assert.False(t, job.called)
}

// --- Run Trigger Tests ---

func TestRunExpiryCheck_DefaultsToNow(t *testing.T) {
	job := &mockJobRunner{report: &expiry.RunReport{ReferenceDate: "2026-03-10"}}
	srv := newTestServer(job, &mockPinger{})

	before := time.Now().UTC()
	rec := doRequest(t, srv, http.MethodPost, "/v1/jobs/expiry-check/run", nil, testAdminKey)
	after := time.Now().UTC()

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, job.called)
	assert.False(t, job.reference.Before(before))
	assert.False(t, job.reference.After(after))

	var resp struct {
		Report expiry.RunReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-03-10", resp.Report.ReferenceDate)
}

func TestRunExpiryCheck_PinsReferenceTime(t *testing.T) {
	job := &mockJobRunner{report: &expiry.RunReport{ReferenceDate: "2026-03-01"}}
	srv := newTestServer(job, &mockPinger{})

	body := []byte(`{"reference_time":"2026-03-01T08:00:00Z"}`)
	rec := doRequest(t, srv, http.MethodPost, "/v1/jobs/expiry-check/run", body, testAdminKey)

	assert.Equal(t, http.StatusOK, rec.Code)
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	assert.True(t, job.reference.Equal(want), "got %v, want %v", job.reference, want)
}

func TestRunExpiryCheck_MalformedBody(t *testing.T) {
	job := &mockJobRunner{}
	srv := newTestServer(job, &mockPinger{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/jobs/expiry-check/run", []byte(`{"reference_time":"yesterday"}`), testAdminKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationInvalidTime), resp.Error.Code)
	assert.False(t, job.called)
}

func TestRunExpiryCheck_LockSkippedReturnsConflict(t *testing.T) {
	job := &mockJobRunner{report: &expiry.RunReport{ReferenceDate: "2026-03-10", LockSkipped: true}}
	srv := newTestServer(job, &mockPinger{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/jobs/expiry-check/run", nil, testAdminKey)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunExpiryCheck_JobErrorHidesInternals(t *testing.T) {
	job := &mockJobRunner{err: fmt.Errorf("pq: relation alerts does not exist")}
	srv := newTestServer(job, &mockPinger{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/jobs/expiry-check/run", nil, testAdminKey)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.NotContains(t, rec.Body.String(), "relation alerts")
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestRunExpiryCheck_AppErrorMapsToStatus(t *testing.T) {
	job := &mockJobRunner{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider down", nil)}
	srv := newTestServer(job, &mockPinger{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/jobs/expiry-check/run", nil, testAdminKey)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeUpstreamUnavailable), resp.Error.Code)
}
