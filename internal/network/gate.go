package network

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// Gate decides whether background download work may run. It combines a
// cheap reachability probe against the asset host with an optional
// measured-speed floor backed by a real speed test.
type Gate struct {
	logger *slog.Logger
	client *http.Client

	// MinDownloadMbps is the measured floor for bulk work, 0 disables it
	MinDownloadMbps float64

	mu         sync.Mutex
	lastMbps   float64
	measuredAt time.Time
}

// speedTestTTL caches the last measurement; running a full speed test
// before every batch would cost more bandwidth than the pages themselves.
const speedTestTTL = time.Hour

func NewGate(logger *slog.Logger, minDownloadMbps float64) *Gate {
	return &Gate{
		logger:          logger,
		client:          &http.Client{Timeout: 10 * time.Second},
		MinDownloadMbps: minDownloadMbps,
	}
}

// Online reports whether the asset host is reachable. A single-byte range
// request keeps the probe cheap on metered connections.
func (g *Gate) Online(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("Connectivity probe failed", "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Allow reports whether the connection clears the measured-speed floor.
// With the floor disabled it always allows without measuring.
func (g *Gate) Allow(ctx context.Context) (bool, error) {
	if g.MinDownloadMbps <= 0 {
		return true, nil
	}

	mbps, err := g.measuredSpeed(ctx)
	if err != nil {
		return false, err
	}

	if mbps < g.MinDownloadMbps {
		g.logger.Info("Connection below speed floor, deferring downloads",
			"measured_mbps", mbps, "floor_mbps", g.MinDownloadMbps)
		return false, nil
	}
	return true, nil
}

func (g *Gate) measuredSpeed(ctx context.Context) (float64, error) {
	g.mu.Lock()
	if time.Since(g.measuredAt) < speedTestTTL && g.lastMbps > 0 {
		mbps := g.lastMbps
		g.mu.Unlock()
		return mbps, nil
	}
	g.mu.Unlock()

	serverList, err := speedtest.FetchServers()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch speed test servers: %w", err)
	}
	targets, err := serverList.FindServer([]int{})
	if err != nil || len(targets) == 0 {
		return 0, fmt.Errorf("no speed test servers available")
	}

	server := targets[0]
	if err := server.DownloadTestContext(ctx); err != nil {
		return 0, fmt.Errorf("speed measurement failed: %w", err)
	}
	mbps := float64(server.DLSpeed) / 1000 / 1000 * 8

	g.mu.Lock()
	g.lastMbps = mbps
	g.measuredAt = time.Now()
	g.mu.Unlock()

	g.logger.Info("Measured connection speed", "mbps", mbps, "server", server.Name)
	return mbps, nil
}
