package assets

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quran-pages/internal/config"
	"quran-pages/internal/quran"
	"quran-pages/internal/storage"
)

func newTestChecker(t *testing.T) (*Checker, *config.ConfigManager, string) {
	t.Helper()
	dataDir := t.TempDir()
	s, err := storage.NewStorage(filepath.Join(dataDir, "db"))
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.NewConfigManager(s)
	return NewChecker(slog.Default(), cfg, dataDir), cfg, dataDir
}

// writePages creates page image files for [1, count] in a width dir
func writePages(t *testing.T, dir string, count int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for page := 1; page <= count; page++ {
		path := filepath.Join(dir, quran.PageFileName(page))
		if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
}

func TestCheckEmptyDataDir(t *testing.T) {
	checker, _, _ := newTestChecker(t)

	status := checker.CheckSync()
	if status.HavePortrait {
		t.Error("Empty data dir should report portrait incomplete")
	}
	if status.NeedsPatch() {
		t.Error("Nothing downloaded means nothing to patch")
	}
	if status.PortraitWidth != "1024" {
		t.Errorf("Expected preferred width 1024, got %s", status.PortraitWidth)
	}
}

func TestCheckCompleteSet(t *testing.T) {
	checker, cfg, dataDir := newTestChecker(t)

	total, _ := quran.PageCount(cfg.GetPageType())
	dir := quran.WidthDir(dataDir, cfg.GetPageType(), "1024")
	writePages(t, dir, total)
	quran.WriteVersionMarker(dir, quran.ImagesVersion)

	status := checker.CheckSync()
	if !status.HavePortrait {
		t.Error("Complete set should report portrait present")
	}
	if !status.FullyPresent() {
		t.Error("Expected fully present")
	}
	if status.NeedsPatch() {
		t.Errorf("Marked set should not need patch, got %q", status.PatchParam)
	}
}

func TestCheckDetectsMissingPages(t *testing.T) {
	checker, cfg, dataDir := newTestChecker(t)

	total, _ := quran.PageCount(cfg.GetPageType())
	dir := quran.WidthDir(dataDir, cfg.GetPageType(), "1024")
	writePages(t, dir, total)
	quran.WriteVersionMarker(dir, quran.ImagesVersion)

	// Knock out a few pages
	os.Remove(filepath.Join(dir, quran.PageFileName(3)))
	os.Remove(filepath.Join(dir, quran.PageFileName(100)))

	status := checker.CheckSync()
	if status.HavePortrait {
		t.Error("Missing pages should report incomplete")
	}

	missing := MissingPages(dir, total)
	if len(missing) != 2 || missing[0] != 3 || missing[1] != 100 {
		t.Errorf("Expected missing [3 100], got %v", missing)
	}
}

func TestCheckDetectsPatchNeeded(t *testing.T) {
	checker, cfg, dataDir := newTestChecker(t)

	total, _ := quran.PageCount(cfg.GetPageType())
	dir := quran.WidthDir(dataDir, cfg.GetPageType(), "1024")
	writePages(t, dir, total)
	// No version marker written: the set predates the current content version

	status := checker.CheckSync()
	if !status.HavePortrait {
		t.Error("Pages are all present")
	}
	if !status.NeedsPatch() {
		t.Error("Unmarked set should need a patch")
	}
	if status.PatchParam != "1024" {
		t.Errorf("Expected patch param 1024, got %q", status.PatchParam)
	}
}

func TestCheckLegacyWidthFallback(t *testing.T) {
	checker, cfg, dataDir := newTestChecker(t)
	cfg.SetPortraitWidth("1260")

	// Only a legacy 800 bucket exists on disk
	total, _ := quran.PageCount(cfg.GetPageType())
	dir := quran.WidthDir(dataDir, cfg.GetPageType(), "800")
	writePages(t, dir, total)
	quran.WriteVersionMarker(dir, quran.ImagesVersion)

	status := checker.CheckSync()
	if status.PortraitWidth != "800" {
		t.Errorf("Expected fallback to 800, got %s", status.PortraitWidth)
	}
	if !status.HavePortrait {
		t.Error("Legacy bucket is complete")
	}
}

func TestCheckLandscapeSharedWidth(t *testing.T) {
	checker, cfg, dataDir := newTestChecker(t)
	cfg.SetLandscapeWidth("1024") // same as portrait default

	total, _ := quran.PageCount(cfg.GetPageType())
	dir := quran.WidthDir(dataDir, cfg.GetPageType(), "1024")
	writePages(t, dir, total)
	quran.WriteVersionMarker(dir, quran.ImagesVersion)

	status := checker.CheckSync()
	if !status.HaveLandscape {
		t.Error("Shared width should mirror portrait result")
	}
	if !status.FullyPresent() {
		t.Error("Expected fully present")
	}
}

func TestCachedStatusInvalidation(t *testing.T) {
	checker, cfg, dataDir := newTestChecker(t)

	total, _ := quran.PageCount(cfg.GetPageType())
	dir := quran.WidthDir(dataDir, cfg.GetPageType(), "1024")
	writePages(t, dir, total)
	quran.WriteVersionMarker(dir, quran.ImagesVersion)

	checker.CheckSync()
	if _, ok := checker.Cached(); !ok {
		t.Fatal("Expected cached status after check")
	}

	// Page type change invalidates the cache
	cfg.SetPageType("naskh")
	if _, ok := checker.Cached(); ok {
		t.Error("Cache should not be trusted after page type change")
	}

	cfg.SetPageType(quran.DefaultPageType)
	if _, ok := checker.Cached(); !ok {
		t.Fatal("Cache valid again for original page type")
	}

	checker.Invalidate()
	if _, ok := checker.Cached(); ok {
		t.Error("Explicit invalidation should clear the cache")
	}
}

func TestCachedStatusNotTrustedWhilePatchPending(t *testing.T) {
	checker, cfg, dataDir := newTestChecker(t)

	total, _ := quran.PageCount(cfg.GetPageType())
	dir := quran.WidthDir(dataDir, cfg.GetPageType(), "1024")
	writePages(t, dir, total)
	// No marker: patch pending

	checker.CheckSync()
	if _, ok := checker.Cached(); ok {
		t.Error("Cache should not be trusted while a patch is pending")
	}
}

func TestCheckDeduplicatesInflight(t *testing.T) {
	checker, _, _ := newTestChecker(t)

	ctx := context.Background()
	ch1 := checker.Check(ctx)
	ch2 := checker.Check(ctx)

	select {
	case <-ch1:
	case <-time.After(5 * time.Second):
		t.Fatal("First check timed out")
	}
	select {
	case <-ch2:
	case <-time.After(5 * time.Second):
		t.Fatal("Shared check should deliver to all subscribers")
	}

	// Handle must be cleared: a new check starts fresh
	select {
	case <-checker.Check(ctx):
	case <-time.After(5 * time.Second):
		t.Fatal("Follow-up check timed out")
	}
}
