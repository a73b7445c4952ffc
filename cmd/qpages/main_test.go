package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"quran-pages/internal/storage"
)

func TestBundledDatabaseInstalledFromFlag(t *testing.T) {
	bundledDir := t.TempDir()
	bundledPath := filepath.Join(bundledDir, "pages.db")
	if err := os.WriteFile(bundledPath, []byte("bundled-db-bytes"), 0644); err != nil {
		t.Fatalf("Failed to write bundled asset: %v", err)
	}

	dataDir := t.TempDir()
	rt, err := newRuntime(runtimeOpts{
		dataDir:  dataDir,
		logLevel: "error",
		bundled:  bundledPath,
	})
	if err != nil {
		t.Fatalf("newRuntime failed: %v", err)
	}
	defer rt.close()

	// The flag alone marks the bundled variant and installs the asset
	if !rt.cfg.GetBundledDatabase() {
		t.Error("Bundled flag should mark the install as the bundled variant")
	}
	content, err := os.ReadFile(filepath.Join(dataDir, "pages.db"))
	if err != nil {
		t.Fatalf("Bundled database not installed: %v", err)
	}
	if string(content) != "bundled-db-bytes" {
		t.Errorf("Installed database content mismatch: %q", content)
	}
}

func TestBatchSummaryCountsPagesNotBytes(t *testing.T) {
	batch := storage.DownloadBatch{Missing: 3, Failed: 1, Downloaded: 460800}
	got := batchSummary(batch)
	want := "completed: 2 page(s), 460800 bytes"
	if got != want {
		t.Errorf("batchSummary = %q, want %q", got, want)
	}
}

func TestParsePages(t *testing.T) {
	tests := []struct {
		input   string
		want    []int
		wantErr bool
	}{
		{"1,5,10-12", []int{1, 5, 10, 11, 12}, false},
		{"7", []int{7}, false},
		{" 3 , 4 ", []int{3, 4}, false},
		{"", nil, true},
		{"5-3", nil, true},
		{"abc", nil, true},
	}

	for _, tt := range tests {
		got, err := parsePages(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parsePages(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePages(%q) failed: %v", tt.input, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parsePages(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
