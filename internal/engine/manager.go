package engine

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"quran-pages/internal/analytics"
	"quran-pages/internal/assets"
	"quran-pages/internal/config"
	"quran-pages/internal/filesystem"
	"quran-pages/internal/integrity"
	"quran-pages/internal/network"
	"quran-pages/internal/queue"
	"quran-pages/internal/storage"
)

const (
	// BufferSize for CopyBuffer-style page reads
	BufferSize = 32 * 1024

	// AvgPageBytes is the sizing estimate used for disk space checks.
	// Madani page images run 40-250KB depending on width.
	AvgPageBytes = 150 * 1024

	UserAgent = "QuranPages/1.0"
)

// Engine coordinates page-image download batches
type Engine struct {
	logger    *slog.Logger
	storage   *storage.Storage
	cfg       *config.ConfigManager
	checker   *assets.Checker
	dataDir   string
	queue     *queue.BatchQueue
	scheduler *queue.WidthScheduler

	activeBatches sync.Map // map[string]*activeBatchInfo
	bufferPool    *sync.Pool
	httpClient    *http.Client
	stats         *analytics.StatsManager
	bandwidth     *network.BandwidthManager
	gate          *network.Gate
	allocator     *filesystem.Allocator
	verifier      *integrity.FileVerifier

	// Concurrency control
	maxConcurrent  int
	runningBatches int
	workerMutex    sync.Mutex
}

// activeBatchInfo stores control structures for a running batch
type activeBatchInfo struct {
	Cancel context.CancelFunc
}

// NewEngine creates the download engine and starts its dispatch loop
func NewEngine(logger *slog.Logger, store *storage.Storage, cfg *config.ConfigManager, checker *assets.Checker, gate *network.Gate, dataDir string) *Engine {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   0, // Request contexts handle timeouts
	}

	q := queue.NewBatchQueue()
	s := queue.NewWidthScheduler(logger, q)

	bandwidth := network.NewBandwidthManager()
	bandwidth.SetLimit(cfg.GetBandwidthLimit())

	e := &Engine{
		logger:    logger,
		storage:   store,
		cfg:       cfg,
		checker:   checker,
		dataDir:   dataDir,
		queue:     q,
		scheduler: s,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, BufferSize)
				return &b
			},
		},
		httpClient:    client,
		stats:         analytics.NewStatsManager(store, dataDir),
		bandwidth:     bandwidth,
		gate:          gate,
		allocator:     filesystem.NewAllocator(),
		verifier:      integrity.NewFileVerifier(),
		maxConcurrent: cfg.GetMaxConcurrent(),
	}

	go e.queueWorker()
	return e
}

// Shutdown gracefully stops the engine
func (e *Engine) Shutdown() error {
	e.logger.Info("Engine shutting down...")

	e.activeBatches.Range(func(key, value interface{}) bool {
		if info, ok := value.(*activeBatchInfo); ok && info.Cancel != nil {
			info.Cancel()
		}
		return true
	})

	// Wait for workers to wind down (max 2 seconds)
	deadline := time.Now().Add(2 * time.Second)
	for {
		e.workerMutex.Lock()
		count := e.runningBatches
		e.workerMutex.Unlock()
		if count == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := e.storage.Checkpoint(); err != nil {
		e.logger.Error("Failed to checkpoint DB", "error", err)
		return err
	}
	e.logger.Info("Engine shutdown complete")
	return nil
}

// RecoverInterruptedBatches finds batches stuck in downloading or pending
// after a crash and re-queues them
func (e *Engine) RecoverInterruptedBatches() {
	batches, err := e.storage.GetActiveBatches()
	if err != nil {
		e.logger.Error("Failed to recover interrupted batches", "error", err)
		return
	}

	for _, batch := range batches {
		batch.Status = storage.StatusPending
		batch.QueueOrder = e.queue.GetNextOrder()
		if err := e.storage.SaveBatch(batch); err != nil {
			e.logger.Error("Failed to re-queue interrupted batch", "id", batch.ID, "error", err)
			continue
		}
		b := batch
		e.queue.Push(&b)
		e.logger.Info("Recovered interrupted batch", "id", batch.ID, "width", batch.Width)
	}
}

// GetStats returns the stats manager
func (e *Engine) GetStats() *analytics.StatsManager {
	return e.stats
}

// SetMaxConcurrent sets the maximum number of concurrent batches
func (e *Engine) SetMaxConcurrent(n int) {
	e.workerMutex.Lock()
	defer e.workerMutex.Unlock()

	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	e.maxConcurrent = n
	e.queue.Signal()
}

// SetGlobalLimit sets the global download speed limit
func (e *Engine) SetGlobalLimit(bytesPerSec int) {
	e.bandwidth.SetLimit(bytesPerSec)
}
