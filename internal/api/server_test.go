package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"quran-pages/internal/assets"
	"quran-pages/internal/audio"
	"quran-pages/internal/config"
	"quran-pages/internal/engine"
	"quran-pages/internal/network"
	"quran-pages/internal/security"
	"quran-pages/internal/storage"
)

type serverEnv struct {
	server *ControlServer
	engine *engine.Engine
	cfg    *config.ConfigManager
}

func newTestServer(t *testing.T) *serverEnv {
	t.Helper()
	dataDir := t.TempDir()

	store, err := storage.NewStorage(filepath.Join(dataDir, "db"))
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.NewConfigManager(store)
	checker := assets.NewChecker(slog.Default(), cfg, dataDir)
	gate := network.NewGate(slog.Default(), 0)
	eng := engine.NewEngine(slog.Default(), store, cfg, checker, gate, dataDir)
	updater := audio.NewUpdater(slog.Default(), store, cfg)
	audit := security.NewAuditLogger(slog.Default(), dataDir)
	t.Cleanup(audit.Close)

	return &serverEnv{
		server: NewControlServer(slog.Default(), eng, updater, cfg, audit),
		engine: eng,
		cfg:    cfg,
	}
}

func doLoopback(env *serverEnv, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)

	rec := doLoopback(env, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("Expected ok, got %q", resp["status"])
	}
}

func TestExternalAccessDenied(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "203.0.113.7:9999"
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for external source, got %d", rec.Code)
	}
}

func TestDownloadValidation(t *testing.T) {
	env := newTestServer(t)

	body, _ := json.Marshal(DownloadRequest{
		PageType: "nope",
		Width:    "1024",
		Kind:     storage.KindMissing,
		Pages:    []int{1},
	})
	rec := doLoopback(env, http.MethodPost, "/v1/download", body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected rejection for unknown page type, got %d", rec.Code)
	}
}

func TestBatchLifecycleOverAPI(t *testing.T) {
	env := newTestServer(t)

	rec := doLoopback(env, http.MethodGet, "/v1/batches", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = doLoopback(env, http.MethodGet, "/v1/batches/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for unknown batch, got %d", rec.Code)
	}
}

func TestAudioManifestNotCached(t *testing.T) {
	env := newTestServer(t)

	rec := doLoopback(env, http.MethodGet, "/v1/audio", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 when no manifest cached, got %d", rec.Code)
	}
}

func TestSetLimitsPersistsAndApplies(t *testing.T) {
	env := newTestServer(t)

	body, _ := json.Marshal(LimitsRequest{MaxConcurrent: 3, BandwidthLimit: 4096})
	rec := doLoopback(env, http.MethodPut, "/v1/settings/limits", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	if got := env.cfg.GetMaxConcurrent(); got != 3 {
		t.Errorf("Expected max_concurrent 3, got %d", got)
	}
	if got := env.cfg.GetBandwidthLimit(); got != 4096 {
		t.Errorf("Expected bandwidth_limit 4096, got %d", got)
	}

	// -1 removes the cap
	body, _ = json.Marshal(LimitsRequest{BandwidthLimit: -1})
	rec = doLoopback(env, http.MethodPut, "/v1/settings/limits", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := env.cfg.GetBandwidthLimit(); got != 0 {
		t.Errorf("Expected uncapped bandwidth, got %d", got)
	}
}

func TestDeleteBatchFromHistory(t *testing.T) {
	env := newTestServer(t)
	env.cfg.SetPageLimit(2)

	// Over the limit: recorded as bulk_required, never queued
	id, err := env.engine.EnqueueBatch("madani", "1024", storage.KindMissing, []int{1, 2, 3})
	if err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}

	rec := doLoopback(env, http.MethodDelete, "/v1/batches/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = doLoopback(env, http.MethodGet, "/v1/batches/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 after delete, got %d", rec.Code)
	}

	rec = doLoopback(env, http.MethodDelete, "/v1/batches/never-existed", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for unknown batch, got %d", rec.Code)
	}
}

func TestListBatchesFilteredByStatus(t *testing.T) {
	env := newTestServer(t)
	env.cfg.SetPageLimit(2)

	if _, err := env.engine.EnqueueBatch("madani", "1024", storage.KindMissing, []int{1, 2, 3}); err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}

	rec := doLoopback(env, http.MethodGet, "/v1/batches?status="+storage.StatusBulkRequired, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var batches []storage.DownloadBatch
	if err := json.Unmarshal(rec.Body.Bytes(), &batches); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("Expected one bulk_required batch, got %d", len(batches))
	}

	rec = doLoopback(env, http.MethodGet, "/v1/batches?status="+storage.StatusCompleted, nil)
	batches = nil
	json.Unmarshal(rec.Body.Bytes(), &batches)
	if len(batches) != 0 {
		t.Fatalf("Expected no completed batches, got %d", len(batches))
	}
}

func TestRecentAuditReturnsEntries(t *testing.T) {
	env := newTestServer(t)

	doLoopback(env, http.MethodGet, "/v1/health", nil)
	doLoopback(env, http.MethodGet, "/v1/health", nil)

	rec := doLoopback(env, http.MethodGet, "/v1/audit?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var entries []security.AccessLogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("Expected at least 2 audit entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" || e.Action == "" {
			t.Errorf("Audit entry missing fields: %+v", e)
		}
	}
}

func TestStatusReportsConfiguredPageType(t *testing.T) {
	env := newTestServer(t)

	rec := doLoopback(env, http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		PageType string `json:"page_type"`
		Queued   int    `json:"queued"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.PageType != "madani" {
		t.Fatalf("Expected default page type madani, got %q", resp.PageType)
	}
}
