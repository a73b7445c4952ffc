package config

import (
	"testing"

	"quran-pages/internal/quran"
	"quran-pages/internal/storage"
)

func newTestConfig(t *testing.T) *ConfigManager {
	t.Helper()
	s, err := storage.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewConfigManager(s)
}

func TestPageTypeDefaults(t *testing.T) {
	cfg := newTestConfig(t)

	if got := cfg.GetPageType(); got != quran.DefaultPageType {
		t.Errorf("Expected default page type, got %s", got)
	}

	if err := cfg.SetPageType("naskh"); err != nil {
		t.Fatalf("SetPageType failed: %v", err)
	}
	if got := cfg.GetPageType(); got != "naskh" {
		t.Errorf("Expected naskh, got %s", got)
	}
}

func TestInvalidStoredPageTypeFallsBack(t *testing.T) {
	cfg := newTestConfig(t)

	cfg.storage.SetString(KeyPageType, "bogus")
	if got := cfg.GetPageType(); got != quran.DefaultPageType {
		t.Errorf("Bogus stored value should fall back to default, got %s", got)
	}
}

func TestWidthSettings(t *testing.T) {
	cfg := newTestConfig(t)

	if got := cfg.GetPortraitWidth(); got != "1024" {
		t.Errorf("Expected default 1024, got %s", got)
	}
	if got := cfg.GetLandscapeWidth(); got != "" {
		t.Errorf("Expected empty landscape width, got %s", got)
	}

	cfg.SetPortraitWidth("1260")
	cfg.SetLandscapeWidth("1920")

	if got := cfg.GetPortraitWidth(); got != "1260" {
		t.Errorf("Expected 1260, got %s", got)
	}
	if got := cfg.GetLandscapeWidth(); got != "1920" {
		t.Errorf("Expected 1920, got %s", got)
	}
}

func TestNumericSettings(t *testing.T) {
	cfg := newTestConfig(t)

	if got := cfg.GetPageLimit(); got != DefaultPageLimit {
		t.Errorf("Expected default page limit %d, got %d", DefaultPageLimit, got)
	}
	cfg.SetPageLimit(25)
	if got := cfg.GetPageLimit(); got != 25 {
		t.Errorf("Expected 25, got %d", got)
	}

	if got := cfg.GetMinSpeedMbps(); got != 0 {
		t.Errorf("Expected speed gate disabled by default, got %f", got)
	}
	cfg.SetMinSpeedMbps(2.5)
	if got := cfg.GetMinSpeedMbps(); got != 2.5 {
		t.Errorf("Expected 2.5, got %f", got)
	}
}

func TestBundledDatabaseFlag(t *testing.T) {
	cfg := newTestConfig(t)

	if cfg.GetBundledDatabase() {
		t.Error("Bundled database should default to false")
	}
	cfg.SetBundledDatabase(true)
	if !cfg.GetBundledDatabase() {
		t.Error("Expected bundled database flag to be set")
	}
}
