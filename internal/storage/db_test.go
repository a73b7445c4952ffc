package storage

import (
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBatchRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	batch := DownloadBatch{
		ID:        "batch-1",
		PageType:  "madani",
		Width:     "1024",
		Kind:      KindMissing,
		Status:    StatusPending,
		Missing:   12,
		CreatedAt: time.Now().Format(time.RFC3339),
	}

	if err := s.SaveBatch(batch); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	got, err := s.GetBatch("batch-1")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got.Width != "1024" || got.Missing != 12 {
		t.Errorf("Unexpected batch: %+v", got)
	}

	if err := s.UpdateBatchStatus("batch-1", StatusCompleted); err != nil {
		t.Fatalf("UpdateBatchStatus failed: %v", err)
	}
	got, _ = s.GetBatch("batch-1")
	if got.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
}

func TestGetActiveBatches(t *testing.T) {
	s := newTestStorage(t)

	statuses := []string{StatusPending, StatusDownloading, StatusCompleted, StatusFailed}
	for i, status := range statuses {
		s.SaveBatch(DownloadBatch{
			ID:         string(rune('a' + i)),
			PageType:   "madani",
			Width:      "1024",
			Status:     status,
			QueueOrder: i,
			CreatedAt:  time.Now().Format(time.RFC3339),
		})
	}

	active, err := s.GetActiveBatches()
	if err != nil {
		t.Fatalf("GetActiveBatches failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active batches, got %d", len(active))
	}
}

func TestLatestBatchFor(t *testing.T) {
	s := newTestStorage(t)

	s.SaveBatch(DownloadBatch{ID: "old", PageType: "madani", Width: "1024", Status: StatusCompleted, CreatedAt: "2026-01-01T00:00:00Z"})
	s.SaveBatch(DownloadBatch{ID: "new", PageType: "madani", Width: "1024", Status: StatusPartial, CreatedAt: "2026-02-01T00:00:00Z"})

	got, err := s.LatestBatchFor("madani", "1024")
	if err != nil {
		t.Fatalf("LatestBatchFor failed: %v", err)
	}
	if got.ID != "new" {
		t.Errorf("Expected newest batch, got %s", got.ID)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	val, err := s.GetString("missing_key")
	if err != nil {
		t.Fatalf("GetString on missing key failed: %v", err)
	}
	if val != "" {
		t.Errorf("Expected empty value for missing key, got %q", val)
	}

	if err := s.SetString("page_type", "madani"); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if err := s.SetString("page_type", "naskh"); err != nil {
		t.Fatalf("SetString overwrite failed: %v", err)
	}

	val, _ = s.GetString("page_type")
	if val != "naskh" {
		t.Errorf("Expected naskh, got %q", val)
	}
}

func TestDailyStats(t *testing.T) {
	s := newTestStorage(t)

	s.IncrementDailyBytes(1000)
	s.IncrementDailyBytes(500)
	s.IncrementDailyPages()
	s.IncrementDailyPages()
	s.IncrementDailyPages()

	total, err := s.GetTotalLifetime()
	if err != nil {
		t.Fatalf("GetTotalLifetime failed: %v", err)
	}
	if total != 1500 {
		t.Errorf("Expected 1500 bytes, got %d", total)
	}

	pages, err := s.GetTotalPages()
	if err != nil {
		t.Fatalf("GetTotalPages failed: %v", err)
	}
	if pages != 3 {
		t.Errorf("Expected 3 pages, got %d", pages)
	}

	history, err := s.GetDailyHistory(7)
	if err != nil {
		t.Fatalf("GetDailyHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 day of history, got %d", len(history))
	}
}
