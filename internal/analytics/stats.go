// Package analytics tracks download volume and disk usage for the
// diagnostics surface.
package analytics

import (
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/disk"

	"quran-pages/internal/storage"
)

// DiskUsageInfo holds disk space information for the data directory
type DiskUsageInfo struct {
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// AnalyticsData aggregates lifetime totals and recent history
type AnalyticsData struct {
	TotalDownloaded int64            `json:"total_downloaded"`
	TotalPages      int64            `json:"total_pages"`
	DailyHistory    map[string]int64 `json:"daily_history"`
	DiskUsage       DiskUsageInfo    `json:"disk_usage"`
}

// StatsManager tracks download statistics backed by the daily_stats table
type StatsManager struct {
	storage      *storage.Storage
	dataDir      string
	currentSpeed int64 // Atomic, bytes/sec
}

func NewStatsManager(s *storage.Storage, dataDir string) *StatsManager {
	return &StatsManager{storage: s, dataDir: dataDir}
}

// UpdateDownloadSpeed updates the current global download speed (atomic)
func (sm *StatsManager) UpdateDownloadSpeed(bytesPerSec int64) {
	atomic.StoreInt64(&sm.currentSpeed, bytesPerSec)
}

// GetDownloadSpeed returns the current global download speed
func (sm *StatsManager) GetDownloadSpeed() int64 {
	return atomic.LoadInt64(&sm.currentSpeed)
}

// TrackPageCompleted records one finished page image
func (sm *StatsManager) TrackPageCompleted() {
	sm.storage.IncrementDailyPages()
}

// TrackDownloadBytes records downloaded volume
func (sm *StatsManager) TrackDownloadBytes(bytes int64) {
	if bytes > 0 {
		sm.storage.IncrementDailyBytes(bytes)
	}
}

// GetAnalytics returns lifetime totals, 30 days of history and disk usage
func (sm *StatsManager) GetAnalytics() (AnalyticsData, error) {
	data := AnalyticsData{
		DailyHistory: make(map[string]int64),
	}

	total, err := sm.storage.GetTotalLifetime()
	if err != nil {
		return data, err
	}
	data.TotalDownloaded = total

	pages, err := sm.storage.GetTotalPages()
	if err != nil {
		return data, err
	}
	data.TotalPages = pages

	history, err := sm.storage.GetDailyHistory(30)
	if err != nil {
		return data, err
	}
	for _, day := range history {
		data.DailyHistory[day.Date] = day.Bytes
	}

	if usage, err := disk.Usage(sm.dataDir); err == nil {
		const gb = 1024 * 1024 * 1024
		data.DiskUsage = DiskUsageInfo{
			UsedGB:  float64(usage.Used) / gb,
			FreeGB:  float64(usage.Free) / gb,
			TotalGB: float64(usage.Total) / gb,
			Percent: usage.UsedPercent,
		}
	}

	return data, nil
}
