package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quran-pages/internal/assets"
	"quran-pages/internal/quran"
	"quran-pages/internal/storage"
)

// queueWorker is the background loop that dispatches batches from the queue
func (e *Engine) queueWorker() {
	for {
		e.workerMutex.Lock()
		active := e.runningBatches
		max := e.maxConcurrent
		e.workerMutex.Unlock()

		batch := e.scheduler.GetNextBatch(active, max)
		if batch == nil {
			e.queue.Wait()
			continue
		}

		e.workerMutex.Lock()
		e.runningBatches++
		e.workerMutex.Unlock()

		e.scheduler.OnBatchStarted(batch)

		go func(b *storage.DownloadBatch) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Worker panic recovered", "id", b.ID, "panic", r)
					e.failBatch(b, fmt.Sprintf("internal worker error: %v", r))
				}

				e.workerMutex.Lock()
				e.runningBatches--
				e.workerMutex.Unlock()

				e.scheduler.OnBatchCompleted(b)
			}()
			e.executeBatch(b)
		}(batch)
	}
}

// executeBatch downloads every page a batch covers, sequentially.
// Failures are counted per page and never abort the batch.
func (e *Engine) executeBatch(batch *storage.DownloadBatch) {
	e.logger.Info("Starting batch", "id", batch.ID, "kind", batch.Kind,
		"page_type", batch.PageType, "width", batch.Width)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.activeBatches.Store(batch.ID, &activeBatchInfo{Cancel: cancel})
	defer e.activeBatches.Delete(batch.ID)

	baseURL := e.cfg.GetBaseURL()

	// Network gates: reachability first, then the optional measured floor
	if !e.gate.Online(ctx, baseURL) {
		e.deferBatch(batch, "asset host unreachable")
		return
	}
	if allowed, err := e.gate.Allow(ctx); err != nil {
		e.logger.Warn("Speed measurement failed, proceeding without gate", "error", err)
	} else if !allowed {
		e.deferBatch(batch, "connection below speed floor")
		return
	}

	dir := quran.WidthDir(e.dataDir, batch.PageType, batch.Width)

	// Work out the page list and checksums
	pages, err := decodePages(batch)
	if err != nil {
		e.failBatch(batch, err.Error())
		return
	}
	checksums := make(map[int]string)

	if batch.Kind == storage.KindPatch {
		manifestURL := quran.PatchManifestURL(baseURL, batch.PageType, batch.Width, quran.ImagesVersion)
		manifest, err := e.fetchPatchManifest(ctx, manifestURL)
		if err != nil {
			e.failBatch(batch, fmt.Sprintf("patch manifest fetch failed: %v", err))
			return
		}
		pages = pages[:0]
		for _, p := range manifest.Pages {
			pages = append(pages, p.Page)
			checksums[p.Page] = p.SHA256
		}
		batch.Missing = len(pages)
	}

	if err := e.allocator.EnsureSpace(dir, int64(len(pages))*AvgPageBytes); err != nil {
		e.failBatch(batch, err.Error())
		return
	}

	batch.Status = storage.StatusDownloading
	e.storage.SaveBatch(*batch)

	var (
		succeeded   int
		failedPages []int
		downloaded  int64
		lastTick    = time.Now()
		tickBytes   int64
	)

	for i, page := range pages {
		if ctx.Err() != nil {
			batch.Status = storage.StatusCanceled
			batch.Failed = len(failedPages)
			batch.Downloaded = downloaded
			e.storage.SaveBatch(*batch)
			e.logger.Info("Batch canceled", "id", batch.ID, "done", succeeded, "of", len(pages))
			return
		}

		destPath := filepath.Join(dir, quran.PageFileName(page))
		pageURL := quran.PageURL(baseURL, batch.PageType, batch.Width, page)

		bytes, err := e.fetchPage(ctx, pageURL, destPath)
		if err == nil && batch.Kind == storage.KindPatch {
			if err = e.verifier.Verify(destPath, checksums[page]); err != nil {
				os.Remove(destPath)
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				continue // cancellation handled at the top of the loop
			}
			failedPages = append(failedPages, page)
			e.logger.Warn("Page download failed", "id", batch.ID, "page", page, "error", err)
			continue
		}

		succeeded++
		downloaded += bytes
		tickBytes += bytes
		e.stats.TrackPageCompleted()
		e.stats.TrackDownloadBytes(bytes)

		if now := time.Now(); now.Sub(lastTick) >= time.Second {
			e.stats.UpdateDownloadSpeed(int64(float64(tickBytes) / now.Sub(lastTick).Seconds()))
			lastTick = now
			tickBytes = 0
		}

		// Persist progress so a crash mid-batch is visible in history
		if (i+1)%25 == 0 {
			batch.Failed = len(failedPages)
			batch.Downloaded = downloaded
			e.storage.SaveBatch(*batch)
		}
	}

	batch.Failed = len(failedPages)
	batch.Downloaded = downloaded

	switch {
	case len(failedPages) == 0:
		batch.Status = storage.StatusCompleted
		e.finishWidth(batch, dir)
		e.logger.Info("Batch completed", "id", batch.ID, "pages", succeeded, "bytes", downloaded)
	case succeeded == 0:
		batch.Status = storage.StatusFailed
		e.logger.Error("Batch failed, no pages downloaded", "id", batch.ID, "failures", len(failedPages))
	default:
		batch.Status = storage.StatusPartial
		e.logger.Error("Batch finished with failures", "id", batch.ID,
			"succeeded", succeeded, "failures", len(failedPages))
	}
	e.storage.SaveBatch(*batch)

	// Downloads change what is on disk, so the cached status is stale
	e.checker.Invalidate()

	e.writeDiagnostics(batch, failedPages)
}

// finishWidth records the content version for a width whose set is now
// complete. Missing-page batches only mark when nothing is absent anymore
// and no patch was pending when they were queued: the marker is what
// signals a cleared patch, so only the patch batch may write it then.
func (e *Engine) finishWidth(batch *storage.DownloadBatch, dir string) {
	if batch.Kind == storage.KindMissing {
		if batch.PatchPending {
			return
		}
		total, err := quran.PageCount(batch.PageType)
		if err != nil {
			return
		}
		if missing := assets.MissingPages(dir, total); len(missing) > 0 {
			return
		}
	}
	if err := quran.WriteVersionMarker(dir, quran.ImagesVersion); err != nil {
		e.logger.Warn("Failed to write version marker", "dir", dir, "error", err)
	}
}

// failBatch marks a batch as failed
func (e *Engine) failBatch(batch *storage.DownloadBatch, reason string) {
	e.logger.Error("Batch failed", "id", batch.ID, "reason", reason)
	batch.Status = storage.StatusFailed
	e.storage.SaveBatch(*batch)
}

// deferBatch puts a gated batch back to pending and re-queues it after
// a cooldown, so offline periods delay work instead of losing it
func (e *Engine) deferBatch(batch *storage.DownloadBatch, reason string) {
	e.logger.Info("Batch deferred", "id", batch.ID, "reason", reason)
	batch.Status = storage.StatusPending
	e.storage.SaveBatch(*batch)

	time.AfterFunc(10*time.Minute, func() {
		batch.QueueOrder = e.queue.GetNextOrder()
		e.queue.Push(batch)
	})
}
