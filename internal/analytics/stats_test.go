package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quran-pages/internal/storage"
)

func newTestStats(t *testing.T) *StatsManager {
	t.Helper()
	dataDir := t.TempDir()

	store, err := storage.NewStorage(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewStatsManager(store, dataDir)
}

func TestTrackAndAggregate(t *testing.T) {
	sm := newTestStats(t)

	sm.TrackDownloadBytes(1000)
	sm.TrackDownloadBytes(500)
	sm.TrackDownloadBytes(0) // no-op
	sm.TrackPageCompleted()
	sm.TrackPageCompleted()

	data, err := sm.GetAnalytics()
	require.NoError(t, err)

	require.Equal(t, int64(1500), data.TotalDownloaded)
	require.Equal(t, int64(2), data.TotalPages)

	today := time.Now().Format("2006-01-02")
	require.Equal(t, int64(1500), data.DailyHistory[today])
	require.Greater(t, data.DiskUsage.TotalGB, 0.0)
}

func TestDownloadSpeed(t *testing.T) {
	sm := newTestStats(t)

	require.Zero(t, sm.GetDownloadSpeed())
	sm.UpdateDownloadSpeed(2048)
	require.Equal(t, int64(2048), sm.GetDownloadSpeed())
}
