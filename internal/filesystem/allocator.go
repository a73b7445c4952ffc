// Package filesystem handles disk space checks and first-run asset setup.
package filesystem

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/disk"
)

// Allocator guards downloads against filling the disk
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// EnsureSpace verifies the volume holding dir has room for the estimated
// batch size. The directory is created if it does not exist yet so the
// usage query has something to stat.
func (a *Allocator) EnsureSpace(dir string, required int64) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	// Buffer of 100MB for system stability
	const buffer = 100 * 1024 * 1024

	if int64(usage.Free) < (required + buffer) {
		return fmt.Errorf("disk full: required %d bytes, available %d bytes", required, usage.Free)
	}

	return nil
}
