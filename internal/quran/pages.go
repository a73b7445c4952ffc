// Package quran describes the page-image sets: which script editions exist,
// how many pages each one has, and where a page image for a given screen
// width lives on disk and on the asset host.
package quran

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultBaseURL is the asset host serving page images and manifests
	DefaultBaseURL = "https://android.quran.com/data"

	// DefaultPageType is the edition shipped with the app
	DefaultPageType = "madani"

	// ImagesVersion is the current content version of the page-image sets.
	// A width directory without the matching marker file needs a patch.
	ImagesVersion = 6
)

// pageCounts maps a page type (script edition) to its total page count
var pageCounts = map[string]int{
	"madani": 604,
	"naskh":  564,
	"qaloon": 604,
	"warsh":  604,
}

// ValidWidths lists the supported width buckets, smallest first
var ValidWidths = []string{"320", "480", "800", "1024", "1260", "1920"}

// IsValidPageType reports whether the page type is a known edition
func IsValidPageType(pageType string) bool {
	_, ok := pageCounts[pageType]
	return ok
}

// PageTypes returns the known editions in sorted order
func PageTypes() []string {
	types := make([]string, 0, len(pageCounts))
	for t := range pageCounts {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// PageCount returns the total page count for a page type
func PageCount(pageType string) (int, error) {
	count, ok := pageCounts[pageType]
	if !ok {
		return 0, fmt.Errorf("unknown page type: %s", pageType)
	}
	return count, nil
}

// IsValidWidth reports whether the width names a supported bucket
func IsValidWidth(width string) bool {
	for _, w := range ValidWidths {
		if w == width {
			return true
		}
	}
	return false
}

// FallbackWidths returns the legacy widths to probe when the preferred
// width directory is absent: every smaller supported width, largest first.
// Devices upgraded from older releases may only carry a legacy bucket.
func FallbackWidths(width string) []string {
	target, err := strconv.Atoi(width)
	if err != nil {
		return nil
	}

	var fallbacks []string
	for i := len(ValidWidths) - 1; i >= 0; i-- {
		w, _ := strconv.Atoi(ValidWidths[i])
		if w < target {
			fallbacks = append(fallbacks, ValidWidths[i])
		}
	}
	return fallbacks
}

// PageFileName returns the file name for a page number, e.g. "page003.png"
func PageFileName(page int) string {
	return fmt.Sprintf("page%03d.png", page)
}

// WidthDirName returns the directory name for a width bucket
func WidthDirName(width string) string {
	return "width_" + width
}

// WidthDir returns the on-disk directory holding page images for a
// page type and width
func WidthDir(dataDir, pageType, width string) string {
	return filepath.Join(dataDir, pageType, WidthDirName(width))
}

// VersionMarkerName returns the marker file name for a content version
func VersionMarkerName(version int) string {
	return fmt.Sprintf(".v%d", version)
}

// HasVersionMarker reports whether the width directory carries the marker
// for the given content version
func HasVersionMarker(dir string, version int) bool {
	_, err := os.Stat(filepath.Join(dir, VersionMarkerName(version)))
	return err == nil
}

// WriteVersionMarker records the content version inside a width directory
func WriteVersionMarker(dir string, version int) error {
	return os.WriteFile(filepath.Join(dir, VersionMarkerName(version)), nil, 0644)
}

// PageURL returns the remote URL for a single page image
func PageURL(baseURL, pageType, width string, page int) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		strings.TrimRight(baseURL, "/"), pageType, WidthDirName(width), PageFileName(page))
}

// PatchManifestURL returns the URL of the patch manifest listing the pages
// changed by a content version bump
func PatchManifestURL(baseURL, pageType, width string, version int) string {
	return fmt.Sprintf("%s/patches/%s_%s_v%d.json",
		strings.TrimRight(baseURL, "/"), pageType, width, version)
}

// AudioManifestURL returns the URL of the audio metadata manifest
func AudioManifestURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/audio/manifest.json"
}

// BuildPatchParam joins the widths that need a content-version patch into
// a single parameter, e.g. "1024_1260". Empty when nothing needs patching.
func BuildPatchParam(widths []string) string {
	return strings.Join(widths, "_")
}
