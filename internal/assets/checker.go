// Package assets checks whether the on-device page images are complete
// for the active page type and screen widths, and whether an already
// downloaded set needs a content-version patch.
package assets

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quran-pages/internal/config"
	"quran-pages/internal/quran"
)

// PageStatus captures the result of a completeness check
type PageStatus struct {
	PageType       string    `json:"page_type"`
	PortraitWidth  string    `json:"portrait_width"`
	LandscapeWidth string    `json:"landscape_width,omitempty"`
	HavePortrait   bool      `json:"have_portrait"`
	HaveLandscape  bool      `json:"have_landscape"`
	PatchParam     string    `json:"patch_param,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// NeedsPatch reports whether any width needs a content-version patch
func (s PageStatus) NeedsPatch() bool {
	return s.PatchParam != ""
}

// FullyPresent reports whether every required page image is on disk
func (s PageStatus) FullyPresent() bool {
	if !s.HavePortrait {
		return false
	}
	if s.LandscapeWidth != "" && s.LandscapeWidth != s.PortraitWidth {
		return s.HaveLandscape
	}
	return true
}

// Checker runs page-existence checks and caches the last result.
// A single in-flight check is shared between callers.
type Checker struct {
	logger  *slog.Logger
	cfg     *config.ConfigManager
	dataDir string

	mu       sync.Mutex
	cached   *PageStatus
	inflight []chan PageStatus // non-nil while a check is running
}

func NewChecker(logger *slog.Logger, cfg *config.ConfigManager, dataDir string) *Checker {
	return &Checker{
		logger:  logger,
		cfg:     cfg,
		dataDir: dataDir,
	}
}

// Cached returns the last status when it can still be trusted: the page
// type must match the current setting and no patch may be pending, since
// downloads can complete out-of-band between checks.
func (c *Checker) Cached() (PageStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil {
		return PageStatus{}, false
	}
	if c.cached.PageType != c.cfg.GetPageType() {
		return PageStatus{}, false
	}
	if c.cached.NeedsPatch() {
		return PageStatus{}, false
	}
	return *c.cached, true
}

// Invalidate drops the cached status. Called after downloads finish.
func (c *Checker) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}

// Check runs a completeness check on a background goroutine and delivers
// the result on the returned channel. Concurrent callers share one check;
// the in-flight handle is cleared on completion.
func (c *Checker) Check(ctx context.Context) <-chan PageStatus {
	ch := make(chan PageStatus, 1)

	c.mu.Lock()
	running := c.inflight != nil
	c.inflight = append(c.inflight, ch)
	c.mu.Unlock()

	if !running {
		go c.run(ctx)
	}
	return ch
}

// CheckSync runs a completeness check on the calling goroutine
func (c *Checker) CheckSync() PageStatus {
	status := c.compute()

	c.mu.Lock()
	c.cached = &status
	c.mu.Unlock()
	return status
}

func (c *Checker) run(ctx context.Context) {
	status := c.compute()

	c.mu.Lock()
	c.cached = &status
	subscribers := c.inflight
	c.inflight = nil
	c.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- status:
		case <-ctx.Done():
		}
	}
}

func (c *Checker) compute() PageStatus {
	pageType := c.cfg.GetPageType()
	portrait := c.cfg.GetPortraitWidth()
	landscape := c.cfg.GetLandscapeWidth()

	total, err := quran.PageCount(pageType)
	if err != nil {
		c.logger.Error("Unknown page type at check time", "page_type", pageType, "error", err)
		return PageStatus{PageType: pageType, CheckedAt: time.Now()}
	}

	status := PageStatus{
		PageType:  pageType,
		CheckedAt: time.Now(),
	}

	var patchWidths []string

	width, dir := c.ResolveWidth(pageType, portrait)
	status.PortraitWidth = width
	status.HavePortrait = len(MissingPages(dir, total)) == 0
	if NeedsContentPatch(dir) {
		patchWidths = append(patchWidths, width)
	}

	if landscape != "" {
		lw, ldir := c.ResolveWidth(pageType, landscape)
		status.LandscapeWidth = lw
		if lw == width {
			// Same bucket serves both orientations, check once
			status.HaveLandscape = status.HavePortrait
		} else {
			status.HaveLandscape = len(MissingPages(ldir, total)) == 0
			if NeedsContentPatch(ldir) {
				patchWidths = append(patchWidths, lw)
			}
		}
	}

	status.PatchParam = quran.BuildPatchParam(patchWidths)

	c.logger.Debug("Page check complete",
		"page_type", pageType,
		"portrait", status.PortraitWidth, "have_portrait", status.HavePortrait,
		"landscape", status.LandscapeWidth, "have_landscape", status.HaveLandscape,
		"patch", status.PatchParam)

	return status
}

// ResolveWidth picks the width bucket actually on disk: the preferred
// width when its directory exists, otherwise the first legacy fallback
// with content, otherwise the preferred width again (nothing downloaded).
func (c *Checker) ResolveWidth(pageType, preferred string) (string, string) {
	dir := quran.WidthDir(c.dataDir, pageType, preferred)
	if dirHasPages(dir) {
		return preferred, dir
	}

	for _, legacy := range quran.FallbackWidths(preferred) {
		legacyDir := quran.WidthDir(c.dataDir, pageType, legacy)
		if dirHasPages(legacyDir) {
			return legacy, legacyDir
		}
	}
	return preferred, dir
}

// MissingPages returns the page numbers whose image files are absent
// from the width directory. Pages are 1-based.
func MissingPages(dir string, total int) []int {
	var missing []int
	for page := 1; page <= total; page++ {
		if _, err := os.Stat(filepath.Join(dir, quran.PageFileName(page))); err != nil {
			missing = append(missing, page)
		}
	}
	return missing
}

// NeedsContentPatch reports whether a width directory holds page images
// but lacks the marker for the current content version
func NeedsContentPatch(dir string) bool {
	if !dirHasPages(dir) {
		return false
	}
	return !quran.HasVersionMarker(dir, quran.ImagesVersion)
}

func dirHasPages(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "page") {
			return true
		}
	}
	return false
}
