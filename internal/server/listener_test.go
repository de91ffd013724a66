package server

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestHandleHealthzReportsModelLoaded(t *testing.T) {
	l := &Listener{}
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	l.handleHealthz(rec, req)

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
	if loaded, _ := body["model_loaded"].(bool); loaded {
		t.Fatalf("model_loaded = true with a nil engine, want false")
	}
}

func TestHandleMetricsReportsSnapshot(t *testing.T) {
	l := &Listener{}
	l.metrics.sessionStarted()
	l.metrics.frameEmitted()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	l.handleMetrics(rec, req)

	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ActiveSessions != 1 || snap.TotalFrames != 1 {
		t.Fatalf("snapshot = %+v, want ActiveSessions=1 TotalFrames=1", snap)
	}
}

func TestAdminMuxRoutesHealthzAndMetrics(t *testing.T) {
	l := &Listener{}
	router := l.AdminMux()

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}
