// Package audio keeps the cached audio metadata manifest fresh.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"quran-pages/internal/config"
	"quran-pages/internal/quran"
	"quran-pages/internal/storage"
)

// Manifest is the audio metadata document published by the asset host
type Manifest struct {
	UpdatedAt string    `json:"updated_at"`
	Reciters  []Reciter `json:"reciters"`
}

// Reciter describes one recitation set
type Reciter struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Bitrate   int    `json:"bitrate"`
	Gapless   bool   `json:"gapless,omitempty"`
}

// Updater fetches the audio manifest and caches it in settings storage
type Updater struct {
	logger  *slog.Logger
	storage *storage.Storage
	cfg     *config.ConfigManager
	client  *http.Client
}

func NewUpdater(logger *slog.Logger, store *storage.Storage, cfg *config.ConfigManager) *Updater {
	return &Updater{
		logger:  logger,
		storage: store,
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Refresh downloads the manifest, validates it parses, and stores the
// raw document with a fetched-at timestamp
func (u *Updater) Refresh(ctx context.Context) error {
	url := quran.AudioManifestURL(u.cfg.GetBaseURL())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("audio manifest fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio manifest fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return fmt.Errorf("failed to read audio manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return fmt.Errorf("audio manifest is not valid JSON: %w", err)
	}

	if err := u.storage.SetString(config.KeyAudioManifest, string(body)); err != nil {
		return err
	}
	if err := u.storage.SetString(config.KeyAudioManifestAt, time.Now().Format(time.RFC3339)); err != nil {
		return err
	}

	u.logger.Info("Audio metadata refreshed", "reciters", len(manifest.Reciters))
	return nil
}

// Cached returns the stored manifest, when one has been fetched
func (u *Updater) Cached() (*Manifest, error) {
	raw, err := u.storage.GetString(config.KeyAudioManifest)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var manifest Manifest
	if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
		return nil, fmt.Errorf("stored audio manifest is corrupt: %w", err)
	}
	return &manifest, nil
}

// LastRefreshed returns when the manifest was last fetched, zero when never
func (u *Updater) LastRefreshed() time.Time {
	raw, err := u.storage.GetString(config.KeyAudioManifestAt)
	if err != nil || raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
