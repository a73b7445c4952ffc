package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyBundledDatabase copies a bundled database asset into the data
// directory on first run. It is a no-op when the destination already
// exists and is non-empty, so downloads that completed out-of-band are
// never clobbered.
func CopyBundledDatabase(bundledPath, dataDir string) (string, error) {
	destPath := filepath.Join(dataDir, filepath.Base(bundledPath))

	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		return destPath, nil
	}

	src, err := os.Open(bundledPath)
	if err != nil {
		return "", fmt.Errorf("failed to open bundled database: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}

	// Write to a temp file first so a crash never leaves a half-copied db
	tmp, err := os.CreateTemp(dataDir, ".bundled-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to copy bundled database: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync bundled database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to move bundled database into place: %w", err)
	}

	return destPath, nil
}
