package config

import (
	"strconv"

	"quran-pages/internal/quran"
	"quran-pages/internal/storage"
)

// Keys for AppSettings in DB
const (
	KeyPageType        = "page_type"
	KeyPortraitWidth   = "portrait_width"
	KeyLandscapeWidth  = "landscape_width"
	KeyBaseURL         = "base_url"
	KeyPageLimit       = "page_limit"
	KeyMaxConcurrent   = "max_concurrent"
	KeyBandwidthLimit  = "bandwidth_limit"
	KeyMinSpeedMbps    = "min_speed_mbps"
	KeyBundledDatabase = "bundled_database"
	KeyAudioManifest   = "audio_manifest"
	KeyAudioManifestAt = "audio_manifest_at"
)

// Defaults
const (
	// DefaultPageLimit caps how many missing pages are fetched one by one.
	// Above this the set needs a full bulk download instead.
	DefaultPageLimit     = 50
	DefaultMaxConcurrent = 2
)

type ConfigManager struct {
	storage *storage.Storage
}

func NewConfigManager(s *storage.Storage) *ConfigManager {
	return &ConfigManager{storage: s}
}

// GetPageType returns the active script edition
func (c *ConfigManager) GetPageType() string {
	val, err := c.storage.GetString(KeyPageType)
	if err != nil || !quran.IsValidPageType(val) {
		return quran.DefaultPageType
	}
	return val
}

func (c *ConfigManager) SetPageType(pageType string) error {
	return c.storage.SetString(KeyPageType, pageType)
}

// GetPortraitWidth returns the active portrait width bucket
func (c *ConfigManager) GetPortraitWidth() string {
	val, err := c.storage.GetString(KeyPortraitWidth)
	if err != nil || !quran.IsValidWidth(val) {
		return "1024"
	}
	return val
}

func (c *ConfigManager) SetPortraitWidth(width string) error {
	return c.storage.SetString(KeyPortraitWidth, width)
}

// GetLandscapeWidth returns the landscape width bucket, or "" when the
// device uses the portrait set for both orientations
func (c *ConfigManager) GetLandscapeWidth() string {
	val, err := c.storage.GetString(KeyLandscapeWidth)
	if err != nil || (val != "" && !quran.IsValidWidth(val)) {
		return ""
	}
	return val
}

func (c *ConfigManager) SetLandscapeWidth(width string) error {
	return c.storage.SetString(KeyLandscapeWidth, width)
}

// GetBaseURL returns the asset host base URL
func (c *ConfigManager) GetBaseURL() string {
	val, err := c.storage.GetString(KeyBaseURL)
	if err != nil || val == "" {
		return quran.DefaultBaseURL
	}
	return val
}

func (c *ConfigManager) SetBaseURL(url string) error {
	return c.storage.SetString(KeyBaseURL, url)
}

// GetPageLimit returns the individual-page download limit
func (c *ConfigManager) GetPageLimit() int {
	return c.getInt(KeyPageLimit, DefaultPageLimit)
}

func (c *ConfigManager) SetPageLimit(limit int) error {
	return c.storage.SetString(KeyPageLimit, strconv.Itoa(limit))
}

// GetMaxConcurrent returns the batch concurrency limit
func (c *ConfigManager) GetMaxConcurrent() int {
	return c.getInt(KeyMaxConcurrent, DefaultMaxConcurrent)
}

func (c *ConfigManager) SetMaxConcurrent(max int) error {
	return c.storage.SetString(KeyMaxConcurrent, strconv.Itoa(max))
}

// GetBandwidthLimit returns the global speed limit in bytes/sec, 0 = unlimited
func (c *ConfigManager) GetBandwidthLimit() int {
	return c.getInt(KeyBandwidthLimit, 0)
}

func (c *ConfigManager) SetBandwidthLimit(bytesPerSec int) error {
	return c.storage.SetString(KeyBandwidthLimit, strconv.Itoa(bytesPerSec))
}

// GetMinSpeedMbps returns the measured-connection floor for bulk work,
// 0 disables the speed gate
func (c *ConfigManager) GetMinSpeedMbps() float64 {
	valStr, err := c.storage.GetString(KeyMinSpeedMbps)
	if err != nil || valStr == "" {
		return 0
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return 0
	}
	return val
}

func (c *ConfigManager) SetMinSpeedMbps(mbps float64) error {
	return c.storage.SetString(KeyMinSpeedMbps, strconv.FormatFloat(mbps, 'f', -1, 64))
}

// GetBundledDatabase reports whether this install variant ships a bundled
// database asset that must be copied into place on first run
func (c *ConfigManager) GetBundledDatabase() bool {
	val, err := c.storage.GetString(KeyBundledDatabase)
	if err != nil {
		return false
	}
	return val == "true"
}

func (c *ConfigManager) SetBundledDatabase(enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	return c.storage.SetString(KeyBundledDatabase, val)
}

func (c *ConfigManager) getInt(key string, def int) int {
	valStr, err := c.storage.GetString(key)
	if err != nil || valStr == "" {
		return def
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return def
	}
	return val
}
