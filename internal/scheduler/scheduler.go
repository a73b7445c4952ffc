// Package scheduler runs the recurring background jobs: the weekly audio
// metadata refresh and the startup page-completeness check.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"quran-pages/internal/audio"
	"quran-pages/internal/config"
	"quran-pages/internal/engine"
	"quran-pages/internal/network"
)

// Weekly on Sunday at 03:00, when the connection is most likely idle
const audioRefreshSpec = "0 3 * * 0"

type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
	engine *engine.Engine
	audio  *audio.Updater
	gate   *network.Gate
	cfg    *config.ConfigManager

	audioEntry cron.EntryID
}

func New(logger *slog.Logger, eng *engine.Engine, updater *audio.Updater, gate *network.Gate, cfg *config.ConfigManager) *Scheduler {
	return &Scheduler{
		logger: logger,
		cron:   cron.New(),
		engine: eng,
		audio:  updater,
		gate:   gate,
		cfg:    cfg,
	}
}

// Start registers the recurring jobs and starts the cron loop
func (s *Scheduler) Start() error {
	entry, err := s.cron.AddFunc(audioRefreshSpec, s.refreshAudio)
	if err != nil {
		return err
	}
	s.audioEntry = entry

	s.cron.Start()
	s.logger.Info("Scheduler started", "audio_refresh", audioRefreshSpec)
	return nil
}

// Stop halts the cron loop
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Entries exposes the registered cron entries for inspection
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// RunStartupCheck performs the one-time page check on launch: verify the
// asset host is reachable, then diff and enqueue downloads for whatever
// is missing or needs a patch.
func (s *Scheduler) RunStartupCheck(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if !s.gate.Online(probeCtx, s.cfg.GetBaseURL()) {
		s.logger.Info("Startup page check skipped, asset host unreachable")
		return
	}

	status, ids, err := s.engine.CheckAndSync()
	if err != nil {
		s.logger.Error("Startup page check failed", "error", err)
		return
	}
	s.logger.Info("Startup page check done",
		"page_type", status.PageType,
		"fully_present", status.FullyPresent(),
		"patch", status.PatchParam,
		"batches", len(ids))
}

func (s *Scheduler) refreshAudio() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if !s.gate.Online(ctx, s.cfg.GetBaseURL()) {
		s.logger.Info("Audio refresh skipped, asset host unreachable")
		return
	}

	if err := s.audio.Refresh(ctx); err != nil {
		s.logger.Error("Audio refresh failed", "error", err)
	}
}
