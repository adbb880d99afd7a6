package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) report {
	t.Helper()
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthzAlwaysReturns200(t *testing.T) {
	h := New(Config{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	body := decodeReport(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.ActiveSessions != nil {
		t.Errorf("activeSessions = %v, want omitted without a session source", *body.ActiveSessions)
	}
}

func TestPayloadsCarrySessionCount(t *testing.T) {
	h := New(Config{Sessions: func() int64 { return 3 }})

	for _, serve := range []func(http.ResponseWriter, *http.Request){h.Healthz, h.Readyz} {
		rec := httptest.NewRecorder()
		serve(rec, httptest.NewRequest("GET", "/", nil))

		body := decodeReport(t, rec)
		if body.ActiveSessions == nil || *body.ActiveSessions != 3 {
			t.Errorf("activeSessions = %v, want 3", body.ActiveSessions)
		}
	}
}

func TestReadyzAllChecksPass(t *testing.T) {
	h := New(Config{Checks: []Checker{
		{Name: "generation", Check: func(_ context.Context) error { return nil }},
		{Name: "connectivity", Check: func(_ context.Context) error { return nil }},
	}})

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := decodeReport(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["generation"] != "ok" {
		t.Errorf("generation check = %q, want %q", body.Checks["generation"], "ok")
	}
	if body.Checks["connectivity"] != "ok" {
		t.Errorf("connectivity check = %q, want %q", body.Checks["connectivity"], "ok")
	}
}

func TestReadyzCheckFails(t *testing.T) {
	h := New(Config{Checks: []Checker{
		{Name: "generation", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		{Name: "connectivity", Check: func(_ context.Context) error { return nil }},
	}})

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	body := decodeReport(t, rec)
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["generation"] != "fail: connection refused" {
		t.Errorf("generation check = %q, want %q", body.Checks["generation"], "fail: connection refused")
	}
	if body.Checks["connectivity"] != "ok" {
		t.Errorf("connectivity check = %q, want %q", body.Checks["connectivity"], "ok")
	}
}

func TestReadyzNoChecks(t *testing.T) {
	h := New(Config{})

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decodeReport(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyzAllChecksFail(t *testing.T) {
	h := New(Config{Checks: []Checker{
		{Name: "generation", Check: func(_ context.Context) error {
			return errors.New("timeout")
		}},
		{Name: "connectivity", Check: func(_ context.Context) error {
			return errors.New("monitor reports offline")
		}},
	}})

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	body := decodeReport(t, rec)
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["generation"] != "fail: timeout" {
		t.Errorf("generation check = %q", body.Checks["generation"])
	}
	if body.Checks["connectivity"] != "fail: monitor reports offline" {
		t.Errorf("connectivity check = %q", body.Checks["connectivity"])
	}
}

func TestRegisterRoutesWork(t *testing.T) {
	h := New(Config{Checks: []Checker{
		{Name: "test", Check: func(_ context.Context) error { return nil }},
	}})

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyzRespectsContextCancellation(t *testing.T) {
	h := New(Config{Checks: []Checker{
		{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
