// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

type fakeTrigger struct {
	calls []string
	err   error
}

func (f *fakeTrigger) TriggerFullSync(_ context.Context, serverID int64, manual bool) error {
	f.calls = append(f.calls, "full-sync")
	return f.err
}
func (f *fakeTrigger) TriggerUserSync(_ context.Context, serverID int64) error {
	f.calls = append(f.calls, "user-sync")
	return f.err
}
func (f *fakeTrigger) TriggerLibraryItemsSync(_ context.Context, serverID int64) error {
	f.calls = append(f.calls, "library-items-sync")
	return f.err
}
func (f *fakeTrigger) TriggerPeopleSync(_ context.Context, serverID int64) error {
	f.calls = append(f.calls, "people-sync")
	return f.err
}
func (f *fakeTrigger) TriggerGeolocationBackfill(_ context.Context, serverID int64) error {
	f.calls = append(f.calls, "geolocation-backfill")
	return f.err
}

func newTestRouter(trigger JobTrigger) http.Handler {
	h := &Handler{trigger: trigger}
	r := chi.NewRouter()
	r.Post("/servers/{id}/trigger/{jobKey}", h.TriggerJob)
	return r
}

func TestTriggerJobDispatchesToScheduler(t *testing.T) {
	ft := &fakeTrigger{}
	r := newTestRouter(ft)

	req := httptest.NewRequest(http.MethodPost, "/servers/42/trigger/user-sync", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ft.calls) != 1 || ft.calls[0] != "user-sync" {
		t.Fatalf("expected user-sync to be triggered, got %v", ft.calls)
	}
}

func TestTriggerJobRejectsUnknownJobKey(t *testing.T) {
	ft := &fakeTrigger{}
	r := newTestRouter(ft)

	req := httptest.NewRequest(http.MethodPost, "/servers/42/trigger/not-a-real-job", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown jobKey, got %d", rec.Code)
	}
	if len(ft.calls) != 0 {
		t.Fatalf("expected no trigger calls for unknown jobKey, got %v", ft.calls)
	}
}

func TestTriggerJobRejectsNonNumericServerID(t *testing.T) {
	ft := &fakeTrigger{}
	r := newTestRouter(ft)

	req := httptest.NewRequest(http.MethodPost, "/servers/not-a-number/trigger/user-sync", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric server id, got %d", rec.Code)
	}
}

func TestTriggerJobReturns500WhenTriggerFails(t *testing.T) {
	ft := &fakeTrigger{err: errBoom}
	r := newTestRouter(ft)

	req := httptest.NewRequest(http.MethodPost, "/servers/1/trigger/full-sync", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when trigger fails, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected non-empty error message")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
