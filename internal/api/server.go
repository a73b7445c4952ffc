package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"quran-pages/internal/audio"
	"quran-pages/internal/config"
	"quran-pages/internal/engine"
	"quran-pages/internal/quran"
	"quran-pages/internal/security"
	"quran-pages/internal/storage"
)

// ControlServer exposes a loopback-only HTTP interface for inspecting and
// driving the download engine. It never binds a public address.
type ControlServer struct {
	logger *slog.Logger
	engine *engine.Engine
	audio  *audio.Updater
	cfg    *config.ConfigManager
	audit  *security.AuditLogger
	router *chi.Mux
	srv    *http.Server
}

func NewControlServer(logger *slog.Logger, eng *engine.Engine, updater *audio.Updater, cfg *config.ConfigManager, audit *security.AuditLogger) *ControlServer {
	s := &ControlServer{
		logger: logger,
		engine: eng,
		audio:  updater,
		cfg:    cfg,
		audit:  audit,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *ControlServer) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityMiddleware)

	s.router.Get("/v1/health", s.handleHealth)
	s.router.Get("/v1/status", s.handleStatus)
	s.router.Get("/v1/batches", s.handleListBatches)
	s.router.Get("/v1/batches/{id}", s.handleGetBatch)
	s.router.Post("/v1/batches/{id}/cancel", s.handleCancelBatch)
	s.router.Delete("/v1/batches/{id}", s.handleDeleteBatch)
	s.router.Post("/v1/check", s.handleCheck)
	s.router.Post("/v1/download", s.handleDownload)
	s.router.Put("/v1/settings/limits", s.handleSetLimits)
	s.router.Get("/v1/audit", s.handleRecentAudit)
	s.router.Get("/v1/audio", s.handleGetAudio)
	s.router.Post("/v1/audio/refresh", s.handleAudioRefresh)
}

// Router exposes the route tree, mainly for tests
func (s *ControlServer) Router() http.Handler {
	return s.router
}

func (s *ControlServer) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	// Enforce loopback for the listener itself as an extra layer
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control server failed to bind %s: %w", addr, err)
	}

	s.srv = &http.Server{Handler: s.router}
	s.logger.Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Control server failed", "error", err)
		}
	}()
	return nil
}

func (s *ControlServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *ControlServer) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		userAgent := r.UserAgent()
		action := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		// net.SplitHostPort may return "::1" or "127.0.0.1"
		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			s.audit.Log(sourceIP, userAgent, action, 403, "External Access Denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		s.audit.Log(sourceIP, userAgent, action, 200, "Authorized")
		next.ServeHTTP(w, r)
	})
}

// Request/Response Models
type DownloadRequest struct {
	PageType string `json:"page_type"`
	Width    string `json:"width"`
	Kind     string `json:"kind"` // "missing" or "patch"
	Pages    []int  `json:"pages"`
}

type DownloadResponse struct {
	BatchID string `json:"batch_id"`
}

type CheckResponse struct {
	PageType      string   `json:"page_type"`
	HavePortrait  bool     `json:"have_portrait"`
	HaveLandscape bool     `json:"have_landscape"`
	PatchParam    string   `json:"patch_param"`
	FullyPresent  bool     `json:"fully_present"`
	Batches       []string `json:"batches"`
}

func (s *ControlServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.GetStats().GetAnalytics()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"page_type":      s.cfg.GetPageType(),
		"images_version": quran.ImagesVersion,
		"queued":         len(s.engine.GetQueued()),
		"analytics":      data,
		"audio_updated":  s.audio.LastRefreshed(),
	}
	if status, ok := s.engine.CachedStatus(); ok {
		resp["page_status"] = status
	}
	writeJSON(w, resp)
}

func (s *ControlServer) handleListBatches(w http.ResponseWriter, r *http.Request) {
	var (
		batches []storage.DownloadBatch
		err     error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		batches, err = s.engine.GetHistoryByStatus(status, limit)
	} else {
		batches, err = s.engine.GetHistory()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, batches)
}

func (s *ControlServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := s.engine.GetBatch(id)
	if err != nil {
		http.Error(w, "Batch not found", http.StatusNotFound)
		return
	}
	writeJSON(w, batch)
}

func (s *ControlServer) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.CancelBatch(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *ControlServer) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.GetBatch(id); err != nil {
		http.Error(w, "Batch not found", http.StatusNotFound)
		return
	}
	if err := s.engine.DeleteBatch(id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LimitsRequest adjusts runtime download limits; zero-valued fields are
// left unchanged
type LimitsRequest struct {
	MaxConcurrent  int `json:"max_concurrent"`
	BandwidthLimit int `json:"bandwidth_limit"` // bytes/sec, -1 removes the cap
}

func (s *ControlServer) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	var req LimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.MaxConcurrent != 0 {
		if err := s.cfg.SetMaxConcurrent(req.MaxConcurrent); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.engine.SetMaxConcurrent(req.MaxConcurrent)
	}
	if req.BandwidthLimit != 0 {
		limit := req.BandwidthLimit
		if limit < 0 {
			limit = 0
		}
		if err := s.cfg.SetBandwidthLimit(limit); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.engine.SetGlobalLimit(limit)
	}

	writeJSON(w, map[string]any{
		"max_concurrent":  s.cfg.GetMaxConcurrent(),
		"bandwidth_limit": s.cfg.GetBandwidthLimit(),
	})
}

func (s *ControlServer) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	writeJSON(w, s.audit.GetRecentLogs(limit))
}

func (s *ControlServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	status, ids, err := s.engine.CheckAndSync()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, CheckResponse{
		PageType:      status.PageType,
		HavePortrait:  status.HavePortrait,
		HaveLandscape: status.HaveLandscape,
		PatchParam:    status.PatchParam,
		FullyPresent:  status.FullyPresent(),
		Batches:       ids,
	})
}

func (s *ControlServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.audit.Log("127.0.0.1", r.UserAgent(), "POST /v1/download", 400, "Bad Request JSON")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.engine.EnqueueBatch(req.PageType, req.Width, req.Kind, req.Pages)
	if err != nil {
		s.audit.Log("127.0.0.1", r.UserAgent(), "POST /v1/download", 500, err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, DownloadResponse{BatchID: id})
}

func (s *ControlServer) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.audio.Cached()
	if err != nil {
		http.Error(w, "No audio manifest cached", http.StatusNotFound)
		return
	}
	writeJSON(w, manifest)
}

func (s *ControlServer) handleAudioRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	if err := s.audio.Refresh(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"refreshed_at": s.audio.LastRefreshed()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
