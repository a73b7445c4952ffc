package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quran-pages/internal/assets"
	"quran-pages/internal/quran"
	"quran-pages/internal/storage"
)

// CheckAndSync runs a completeness check and enqueues download batches
// for every width with missing pages or a pending patch. All pages
// present means nothing is enqueued.
func (e *Engine) CheckAndSync() (assets.PageStatus, []string, error) {
	status := e.checker.CheckSync()

	pageType := status.PageType
	total, err := quran.PageCount(pageType)
	if err != nil {
		return status, nil, err
	}

	// Distinct widths in play; portrait and landscape sharing a bucket
	// are handled once
	widths := []string{status.PortraitWidth}
	if status.LandscapeWidth != "" && status.LandscapeWidth != status.PortraitWidth {
		widths = append(widths, status.LandscapeWidth)
	}

	var ids []string
	for _, width := range widths {
		dir := quran.WidthDir(e.dataDir, pageType, width)

		if missing := assets.MissingPages(dir, total); len(missing) > 0 {
			id, err := e.EnqueueBatch(pageType, width, storage.KindMissing, missing)
			if err != nil {
				return status, ids, err
			}
			ids = append(ids, id)
		}

		if status.NeedsPatch() && assets.NeedsContentPatch(dir) {
			id, err := e.EnqueueBatch(pageType, width, storage.KindPatch, nil)
			if err != nil {
				return status, ids, err
			}
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		e.logger.Info("Page check: nothing to download", "page_type", pageType)
	}
	return status, ids, nil
}

// EnqueueBatch records a download batch and queues it for execution.
// Missing-page batches above the individual-page limit are recorded as
// bulk_required and never fetched page by page.
func (e *Engine) EnqueueBatch(pageType, width, kind string, pages []int) (string, error) {
	if !quran.IsValidPageType(pageType) {
		return "", fmt.Errorf("unknown page type: %s", pageType)
	}
	if !quran.IsValidWidth(width) {
		return "", fmt.Errorf("unknown width: %s", width)
	}

	pagesJSON := ""
	if len(pages) > 0 {
		data, err := json.Marshal(pages)
		if err != nil {
			return "", err
		}
		pagesJSON = string(data)
	}

	batch := storage.DownloadBatch{
		ID:        uuid.New().String(),
		PageType:  pageType,
		Width:     width,
		Kind:      kind,
		Status:    storage.StatusPending,
		PagesJSON: pagesJSON,
		Missing:   len(pages),
		CreatedAt: time.Now().Format(time.RFC3339),
	}

	// A missing batch filling gaps in a patch-pending set must leave the
	// patch state alone; only the patch batch may clear it.
	if kind == storage.KindMissing {
		dir := quran.WidthDir(e.dataDir, pageType, width)
		batch.PatchPending = assets.NeedsContentPatch(dir)
	}

	if kind == storage.KindMissing && len(pages) > e.cfg.GetPageLimit() {
		batch.Status = storage.StatusBulkRequired
		if err := e.storage.SaveBatch(batch); err != nil {
			return "", err
		}
		e.logger.Warn("Too many pages missing for per-page fetches",
			"id", batch.ID, "width", width, "missing", len(pages), "limit", e.cfg.GetPageLimit())
		return batch.ID, nil
	}

	batch.QueueOrder = e.queue.GetNextOrder()
	if err := e.storage.SaveBatch(batch); err != nil {
		return "", err
	}

	e.queue.Push(&batch)
	e.logger.Info("Batch queued", "id", batch.ID, "kind", kind, "width", width, "pages", len(pages))
	return batch.ID, nil
}

// CancelBatch cancels an active batch or removes a pending one
func (e *Engine) CancelBatch(id string) error {
	if val, ok := e.activeBatches.Load(id); ok {
		if info, ok := val.(*activeBatchInfo); ok && info.Cancel != nil {
			info.Cancel()
		}
		return nil
	}

	batch, err := e.storage.GetBatch(id)
	if err != nil {
		return fmt.Errorf("batch not found: %w", err)
	}
	if batch.Status == storage.StatusPending {
		e.queue.Remove(id)
		return e.storage.UpdateBatchStatus(id, storage.StatusCanceled)
	}
	return nil
}

// GetHistory returns all recorded batches
func (e *Engine) GetHistory() ([]storage.DownloadBatch, error) {
	return e.storage.GetAllBatches()
}

// GetHistoryByStatus returns recent batches in a given state
func (e *Engine) GetHistoryByStatus(status string, limit int) ([]storage.DownloadBatch, error) {
	return e.storage.GetBatchesByStatus(status, limit)
}

// DeleteBatch removes a finished batch from history. Running batches
// must be canceled first.
func (e *Engine) DeleteBatch(id string) error {
	if _, active := e.activeBatches.Load(id); active {
		return fmt.Errorf("batch %s is running, cancel it first", id)
	}
	e.queue.Remove(id)
	return e.storage.DeleteBatch(id)
}

// GetBatch returns a specific batch
func (e *Engine) GetBatch(id string) (storage.DownloadBatch, error) {
	return e.storage.GetBatch(id)
}

// CachedStatus returns the last completeness check result when it is
// still trustworthy
func (e *Engine) CachedStatus() (assets.PageStatus, bool) {
	return e.checker.Cached()
}

// GetQueued returns the batches waiting in the queue
func (e *Engine) GetQueued() []*storage.DownloadBatch {
	return e.queue.GetAll()
}

// decodePages parses the page list a batch covers
func decodePages(batch *storage.DownloadBatch) ([]int, error) {
	if batch.PagesJSON == "" {
		return nil, nil
	}
	var pages []int
	if err := json.Unmarshal([]byte(batch.PagesJSON), &pages); err != nil {
		return nil, fmt.Errorf("failed to parse batch pages: %w", err)
	}
	return pages, nil
}
