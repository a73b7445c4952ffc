package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage handles all database operations using SQLite
type Storage struct {
	DB *gorm.DB
}

// NewStorage initializes the SQLite database inside the data directory
func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "qpages.db")

	// Pure Go SQLite, no CGO
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")

	err = db.AutoMigrate(
		&DownloadBatch{},
		&DailyStat{},
		&AppSetting{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{DB: db}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint forces a WAL checkpoint to ensure durability
func (s *Storage) Checkpoint() error {
	return s.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error
}

// ============= Batch Management =============

// SaveBatch creates or updates a download batch (upsert)
func (s *Storage) SaveBatch(batch DownloadBatch) error {
	batch.UpdatedAt = time.Now().Format(time.RFC3339)
	return s.DB.Save(&batch).Error
}

// GetBatch retrieves a specific batch by ID
func (s *Storage) GetBatch(id string) (DownloadBatch, error) {
	var batch DownloadBatch
	err := s.DB.First(&batch, "id = ?", id).Error
	return batch, err
}

// GetAllBatches returns all non-deleted batches, newest first
func (s *Storage) GetAllBatches() ([]DownloadBatch, error) {
	var batches []DownloadBatch
	err := s.DB.Order("created_at desc").Find(&batches).Error
	return batches, err
}

// GetBatchesByStatus returns batches filtered by status
func (s *Storage) GetBatchesByStatus(status string, limit int) ([]DownloadBatch, error) {
	var batches []DownloadBatch
	query := s.DB.Where("status = ?", status).Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&batches).Error
	return batches, err
}

// GetActiveBatches returns all downloading or pending batches
func (s *Storage) GetActiveBatches() ([]DownloadBatch, error) {
	var batches []DownloadBatch
	err := s.DB.Where("status IN ?", []string{StatusDownloading, StatusPending}).
		Order("queue_order asc, created_at asc").
		Find(&batches).Error
	return batches, err
}

// LatestBatchFor returns the most recent batch for a page type and width
func (s *Storage) LatestBatchFor(pageType, width string) (DownloadBatch, error) {
	var batch DownloadBatch
	err := s.DB.Where("page_type = ? AND width = ?", pageType, width).
		Order("created_at desc").First(&batch).Error
	return batch, err
}

// DeleteBatch soft-deletes a batch
func (s *Storage) DeleteBatch(id string) error {
	return s.DB.Delete(&DownloadBatch{}, "id = ?", id).Error
}

// UpdateBatchStatus updates just the status field
func (s *Storage) UpdateBatchStatus(id, status string) error {
	return s.DB.Model(&DownloadBatch{}).Where("id = ?", id).Update("status", status).Error
}

// ============= Statistics =============

// IncrementDailyBytes adds bytes to today's stats
func (s *Storage) IncrementDailyBytes(bytes int64) error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"bytes": gorm.Expr("bytes + ?", bytes),
		}),
	}).Create(&DailyStat{Date: today, Bytes: bytes}).Error
}

// IncrementDailyPages adds a completed page to today's stats
func (s *Storage) IncrementDailyPages() error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"pages": gorm.Expr("pages + 1"),
		}),
	}).Create(&DailyStat{Date: today, Pages: 1}).Error
}

// GetTotalLifetime returns total bytes downloaded all-time using SQL SUM
func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("IFNULL(SUM(bytes), 0)").Row().Scan(&total)
	return total, err
}

// GetTotalPages returns total pages downloaded all-time using SQL SUM
func (s *Storage) GetTotalPages() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("IFNULL(SUM(pages), 0)").Row().Scan(&total)
	return total, err
}

// GetDailyHistory returns the last N days of stats
func (s *Storage) GetDailyHistory(days int) ([]DailyStat, error) {
	var stats []DailyStat
	err := s.DB.Order("date desc").Limit(days).Find(&stats).Error
	return stats, err
}

// ============= App Settings =============

// GetString retrieves a string setting by key
func (s *Storage) GetString(key string) (string, error) {
	var setting AppSetting
	err := s.DB.First(&setting, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	return setting.Value, err
}

// SetString stores a string setting
func (s *Storage) SetString(key, value string) error {
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&AppSetting{Key: key, Value: value}).Error
}
