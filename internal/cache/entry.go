package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// timeLayout is ISO-8601 in UTC with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// ImageMeta is the caller-supplied description of an asset payload.
type ImageMeta struct {
	Width  int
	Height int
	Format string
}

// CacheEntry is the metadata record for one cached asset.
type CacheEntry struct {
	ID           string
	OriginalPath string
	CachedPath   string
	Size         int64
	Width        int
	Height       int
	Format       string
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int

	// Mode is derived from ID and never persisted.
	Mode AddressingMode
}

// entryRecord is the on-disk shape of a CacheEntry. Field names are fixed.
type entryRecord struct {
	ID           string `json:"id"`
	OriginalPath string `json:"originalPath"`
	CachedPath   string `json:"cachedPath"`
	Size         int64  `json:"size"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Format       string `json:"format"`
	CreatedAt    string `json:"createdAt"`
	LastAccessed string `json:"lastAccessed"`
	AccessCount  int    `json:"accessCount"`
}

// MarshalJSON encodes the entry using the sidecar field names.
func (e CacheEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryRecord{
		ID:           e.ID,
		OriginalPath: e.OriginalPath,
		CachedPath:   e.CachedPath,
		Size:         e.Size,
		Width:        e.Width,
		Height:       e.Height,
		Format:       e.Format,
		CreatedAt:    formatTime(e.CreatedAt),
		LastAccessed: formatTime(e.LastAccessed),
		AccessCount:  e.AccessCount,
	})
}

// UnmarshalJSON decodes a sidecar record and derives the addressing mode.
func (e *CacheEntry) UnmarshalJSON(data []byte) error {
	var rec entryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	createdAt, err := parseTime(rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("invalid createdAt: %w", err)
	}
	lastAccessed, err := parseTime(rec.LastAccessed)
	if err != nil {
		return fmt.Errorf("invalid lastAccessed: %w", err)
	}

	*e = CacheEntry{
		ID:           rec.ID,
		OriginalPath: rec.OriginalPath,
		CachedPath:   rec.CachedPath,
		Size:         rec.Size,
		Width:        rec.Width,
		Height:       rec.Height,
		Format:       rec.Format,
		CreatedAt:    createdAt,
		LastAccessed: lastAccessed,
		AccessCount:  rec.AccessCount,
		Mode:         modeForID(rec.ID),
	}
	return nil
}

// fileName returns the on-disk name of the entry inside the cache directory.
func (e *CacheEntry) fileName() string {
	return filepath.Base(e.CachedPath)
}

// touch records one access.
func (e *CacheEntry) touch(now time.Time) {
	if now.Before(e.CreatedAt) {
		now = e.CreatedAt
	}
	e.LastAccessed = now
	e.AccessCount++
}

func (e *CacheEntry) clone() *CacheEntry {
	c := *e
	return &c
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Stats is an aggregate view of the cache.
type Stats struct {
	TotalFiles   int         `json:"totalFiles"`
	TotalSize    int64       `json:"totalSize"`
	MaxCacheSize int64       `json:"maxCacheSize"`
	MaxFiles     int         `json:"maxFiles"`
	Oldest       *CacheEntry `json:"oldest"`
	Newest       *CacheEntry `json:"newest"`
	MostAccessed *CacheEntry `json:"mostAccessed"`
}

// ClearResult reports the outcome of ClearAll.
type ClearResult struct {
	Removed int      `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
}
