package nodecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrIncomplete is returned when a cache was not produced by a finished
// population run. Such a cache must be rebuilt, never read.
var ErrIncomplete = errors.New("node cache incomplete")

// Metadata describes a cache file. It is stored next to the cache as
// <cache>.meta.json.
type Metadata struct {
	RecordWidth int       `json:"record_width"`
	Backend     string    `json:"backend"`
	Nodes       uint64    `json:"nodes"`
	MinID       int64     `json:"min_id"`
	MaxID       int64     `json:"max_id"`
	Source      string    `json:"source"`
	RunID       string    `json:"run_id,omitempty"`
	Complete    bool      `json:"complete"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MetadataPath returns the metadata path of the cache at cachePath.
func MetadataPath(cachePath string) string {
	return cachePath + ".meta.json"
}

// LoadMetadata reads the metadata of the cache at cachePath.
func LoadMetadata(cachePath string) (*Metadata, error) {
	data, err := os.ReadFile(MetadataPath(cachePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no metadata for %s", ErrIncomplete, cachePath)
		}
		return nil, fmt.Errorf("%w: read metadata: %v", ErrCacheIO, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parse metadata %s: %v", ErrIncomplete, MetadataPath(cachePath), err)
	}
	return &meta, nil
}

// SaveMetadata writes meta for the cache at cachePath.
func SaveMetadata(cachePath string, meta *Metadata) error {
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file then rename for atomicity
	path := MetadataPath(cachePath)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("%w: write metadata: %v", ErrCacheIO, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("%w: rename metadata: %v", ErrCacheIO, err)
	}
	return nil
}

// CheckComplete loads the metadata of cachePath and verifies that a
// population run finished with the given record width.
func CheckComplete(cachePath string, width int) (*Metadata, error) {
	meta, err := LoadMetadata(cachePath)
	if err != nil {
		return nil, err
	}
	if !meta.Complete {
		return nil, fmt.Errorf("%w: %s was not finished (run %s)", ErrIncomplete, cachePath, meta.RunID)
	}
	if meta.RecordWidth != width {
		return nil, fmt.Errorf("%w: %s has record width %d, want %d", ErrInvalidOption, cachePath, meta.RecordWidth, width)
	}
	return meta, nil
}
