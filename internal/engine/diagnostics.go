package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"quran-pages/internal/storage"
)

// batchReport is the diagnostic record written after every batch
type batchReport struct {
	BatchID     string `json:"batch_id"`
	PageType    string `json:"page_type"`
	Width       string `json:"width"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Missing     int    `json:"missing"`
	Failed      int    `json:"failed"`
	FailedPages []int  `json:"failed_pages,omitempty"`
	Downloaded  int64  `json:"downloaded_bytes"`
	WrittenAt   string `json:"written_at"`
}

// writeDiagnostics records the batch outcome for support and debugging.
// Report generation failures are swallowed: a missing report must never
// fail an otherwise finished batch.
func (e *Engine) writeDiagnostics(batch *storage.DownloadBatch, failedPages []int) {
	report := batchReport{
		BatchID:     batch.ID,
		PageType:    batch.PageType,
		Width:       batch.Width,
		Kind:        batch.Kind,
		Status:      batch.Status,
		Missing:     batch.Missing,
		Failed:      batch.Failed,
		FailedPages: failedPages,
		Downloaded:  batch.Downloaded,
		WrittenAt:   time.Now().Format(time.RFC3339),
	}

	if err := e.writeReport(report); err != nil {
		e.logger.Error("Failed to generate diagnostic report", "id", batch.ID, "error", err)
	}
}

func (e *Engine) writeReport(report batchReport) error {
	reportDir := filepath.Join(e.dataDir, "logs", "batches")
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(reportDir, report.BatchID+".json")
	return os.WriteFile(path, data, 0644)
}
