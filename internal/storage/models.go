package storage

import (
	"gorm.io/gorm"
)

// Batch kinds
const (
	KindMissing = "missing" // fill in absent page images
	KindPatch   = "patch"   // content-version bump for an existing set
)

// Batch statuses
const (
	StatusPending      = "pending"
	StatusDownloading  = "downloading"
	StatusCompleted    = "completed"
	StatusPartial      = "partial" // finished with some page failures
	StatusFailed       = "failed"  // finished with zero successes
	StatusCanceled     = "canceled"
	StatusBulkRequired = "bulk_required" // too many pages missing for per-page fetches
)

// DownloadBatch represents one download run for a (page type, width) pair
type DownloadBatch struct {
	ID         string `gorm:"primaryKey" json:"id"`
	PageType   string `gorm:"index" json:"page_type"`
	Width      string `json:"width"`
	Kind       string `json:"kind"`
	Status     string `gorm:"index" json:"status"`
	QueueOrder int    `gorm:"default:0" json:"queue_order"`
	// PagesJSON holds the page numbers this batch covers, as a JSON array
	PagesJSON string `json:"-"`
	// PatchPending records that the width still needed a content-version
	// patch when the batch was queued. Only a patch batch clears that
	// state, so such a batch must never write the version marker.
	PatchPending bool           `gorm:"default:false" json:"patch_pending"`
	Missing      int            `json:"missing"`
	Failed       int            `json:"failed"`
	Downloaded   int64          `json:"downloaded_bytes"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for DownloadBatch
func (DownloadBatch) TableName() string {
	return "download_batches"
}

// DailyStat tracks daily download volume for diagnostics
type DailyStat struct {
	Date  string `gorm:"primaryKey"` // Format: "YYYY-MM-DD"
	Bytes int64  `gorm:"default:0"`
	Pages int64  `gorm:"default:0"`
}

// TableName specifies the table name for DailyStat
func (DailyStat) TableName() string {
	return "daily_stats"
}

// AppSetting stores key-value application settings
type AppSetting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// TableName specifies the table name for AppSetting
func (AppSetting) TableName() string {
	return "app_settings"
}
