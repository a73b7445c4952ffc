package queue

import (
	"log/slog"
	"sync"

	"quran-pages/internal/storage"
)

// WidthScheduler dispatches batches from the queue while keeping page
// fetches sequential per width bucket: two batches writing into the same
// width directory never run at once.
type WidthScheduler struct {
	logger         *slog.Logger
	queue          *BatchQueue
	activePerWidth map[string]int // "pageType/width" -> running batches
	mu             sync.Mutex
}

func NewWidthScheduler(logger *slog.Logger, queue *BatchQueue) *WidthScheduler {
	return &WidthScheduler{
		logger:         logger,
		queue:          queue,
		activePerWidth: make(map[string]int),
	}
}

// OnBatchStarted is called by the engine when a batch starts downloading
func (s *WidthScheduler) OnBatchStarted(batch *storage.DownloadBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePerWidth[widthKey(batch)]++
}

// OnBatchCompleted is called by the engine when a batch stops or finishes
func (s *WidthScheduler) OnBatchCompleted(batch *storage.DownloadBatch) {
	s.mu.Lock()
	key := widthKey(batch)
	if s.activePerWidth[key] > 0 {
		s.activePerWidth[key]--
	}
	s.mu.Unlock()

	// A width slot opened, wake the dispatch loop
	s.queue.Broadcast()
}

// GetNextBatch returns the next eligible batch from the queue, honoring
// the global concurrency cap and per-width serialization
func (s *WidthScheduler) GetNextBatch(activeCount, maxConcurrent int) *storage.DownloadBatch {
	if activeCount >= maxConcurrent {
		return nil
	}

	for _, batch := range s.queue.GetAll() {
		s.mu.Lock()
		busy := s.activePerWidth[widthKey(batch)] > 0
		s.mu.Unlock()
		if busy {
			continue
		}

		if s.queue.Remove(batch.ID) {
			return batch
		}
	}
	return nil
}

func widthKey(batch *storage.DownloadBatch) string {
	return batch.PageType + "/" + batch.Width
}
