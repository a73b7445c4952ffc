// Package network provides bandwidth limiting and connectivity gating for
// page-image downloads.
package network

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// BandwidthManager handles global speed limiting with zero overhead when disabled
type BandwidthManager struct {
	globalLimiter *rate.Limiter
	limitEnabled  atomic.Bool
}

// NewBandwidthManager creates a new bandwidth manager with no limits
func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{
		globalLimiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// SetLimit updates the global speed limit in bytes per second
// 0 means unlimited
func (bm *BandwidthManager) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bm.limitEnabled.Store(false)
		bm.globalLimiter.SetLimit(rate.Inf)
	} else {
		bm.limitEnabled.Store(true)
		bm.globalLimiter.SetLimit(rate.Limit(bytesPerSec))
		bm.globalLimiter.SetBurst(bytesPerSec) // Allow 1s burst
	}
}

// Wait blocks until the requested bytes can be consumed
// Returns fast if limit is disabled
func (bm *BandwidthManager) Wait(ctx context.Context, bytes int) error {
	if !bm.limitEnabled.Load() {
		return nil
	}
	return bm.globalLimiter.WaitN(ctx, bytes)
}
