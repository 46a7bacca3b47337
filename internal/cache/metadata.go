package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"
)

const (
	// MetadataFileName is the sidecar that mirrors the index.
	MetadataFileName = "cache-metadata.json"

	probePrefix = ".write-probe-"
	tmpSuffix   = ".tmp"
)

// requiredFields lists every sidecar field with its JSON kind.
var requiredFields = map[string]byte{
	"id":           '"',
	"originalPath": '"',
	"cachedPath":   '"',
	"size":         '0',
	"width":        '0',
	"height":       '0',
	"format":       '"',
	"createdAt":    '"',
	"lastAccessed": '"',
	"accessCount":  '0',
}

// metadataStore reads and writes the sidecar inside the cache directory.
// Structure: {cacheDir}/cache-metadata.json next to the cached files.
type metadataStore struct {
	fs     billy.Filesystem
	root   string
	logger *zap.Logger
}

func newMetadataStore(fs billy.Filesystem, logger *zap.Logger) *metadataStore {
	return &metadataStore{
		fs:     fs,
		root:   fs.Root(),
		logger: logger,
	}
}

// absPath maps a cache-relative filename to the absolute path reported to callers.
func (m *metadataStore) absPath(name string) string {
	return filepath.Join(m.root, name)
}

// load reads the sidecar. A missing sidecar yields an empty index and a
// malformed one triggers rebuild.
func (m *metadataStore) load() ([]*CacheEntry, error) {
	entries, err := m.read()
	if err == nil {
		return entries, nil
	}
	if platformerrors.GetCode(err) != codeMetadataCorrupt {
		return nil, err
	}

	m.logger.Warn("Metadata corrupt, rebuilding index from directory", zap.Error(err))
	return m.rebuild()
}

func (m *metadataStore) read() ([]*CacheEntry, error) {
	if _, err := m.fs.Stat(MetadataFileName); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := util.ReadFile(m.fs, MetadataFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, platformerrors.Wrap(err, codeMetadataCorrupt, "metadata is not a JSON array")
	}
	// a bare null decodes without error
	if raw == nil {
		return nil, platformerrors.New(codeMetadataCorrupt, "metadata is not a JSON array")
	}

	entries := make([]*CacheEntry, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, elem := range raw {
		entry, err := decodeEntry(elem)
		if err != nil {
			m.logger.Warn("Dropping invalid metadata entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		if seen[entry.ID] {
			m.logger.Warn("Dropping duplicate metadata entry", zap.String("id", entry.ID))
			continue
		}
		seen[entry.ID] = true
		entries = append(entries, entry)
	}

	return entries, nil
}

// decodeEntry validates the field set and JSON kinds before decoding.
func decodeEntry(elem json.RawMessage) (*CacheEntry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil {
		return nil, fmt.Errorf("entry is not an object: %w", err)
	}

	for name, kind := range requiredFields {
		value, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("missing field %q", name)
		}
		if !hasKind(value, kind) {
			return nil, fmt.Errorf("field %q has wrong type", name)
		}
	}

	var entry CacheEntry
	if err := json.Unmarshal(elem, &entry); err != nil {
		return nil, err
	}
	if entry.ID == "" || entry.CachedPath == "" {
		return nil, fmt.Errorf("entry has empty id or cachedPath")
	}
	if entry.AccessCount < 1 {
		entry.AccessCount = 1
	}
	if entry.LastAccessed.Before(entry.CreatedAt) {
		entry.LastAccessed = entry.CreatedAt
	}

	return &entry, nil
}

func hasKind(value json.RawMessage, kind byte) bool {
	if len(value) == 0 {
		return false
	}
	first := value[0]
	if kind == '"' {
		return first == '"'
	}
	return first == '-' || (first >= '0' && first <= '9')
}

// rebuild synthesizes an index from the files present in the cache directory
// and persists it.
func (m *metadataStore) rebuild() ([]*CacheEntry, error) {
	infos, err := m.fs.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	entries := make([]*CacheEntry, 0, len(infos))
	ids := make(map[string]bool, len(infos))
	for _, info := range infos {
		if !isCachedFile(info) {
			continue
		}

		name := info.Name()
		id := fileStem(name)
		if ids[id] {
			id = name
		}
		ids[id] = true

		abs := m.absPath(name)
		createdAt, lastAccessed := fileTimes(abs, info)
		if lastAccessed.Before(createdAt) {
			lastAccessed = createdAt
		}

		entries = append(entries, &CacheEntry{
			ID:           id,
			OriginalPath: "",
			CachedPath:   abs,
			Size:         info.Size(),
			Format:       normalizeFormat(filepath.Ext(name)),
			CreatedAt:    createdAt,
			LastAccessed: lastAccessed,
			AccessCount:  1,
			Mode:         modeForID(id),
		})
	}

	m.logger.Info("Rebuilt cache index from directory", zap.Int("entries", len(entries)))

	if err := m.save(entries); err != nil {
		m.logger.Warn("Failed to persist rebuilt index", zap.Error(err))
	}
	return entries, nil
}

// isCachedFile filters out the sidecar, its temp file, probes and directories.
func isCachedFile(info os.FileInfo) bool {
	if info.IsDir() {
		return false
	}
	return !isReservedName(info.Name())
}

// isReservedName reports whether name belongs to the engine rather than to a
// cached asset.
func isReservedName(name string) bool {
	switch {
	case name == MetadataFileName, name == MetadataFileName+tmpSuffix:
		return true
	case strings.HasPrefix(name, probePrefix):
		return true
	}
	return false
}

// save writes the full entry list atomically: temp file then rename.
func (m *metadataStore) save(entries []*CacheEntry) error {
	if entries == nil {
		entries = []*CacheEntry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tmpPath := MetadataFileName + tmpSuffix
	if err := util.WriteFile(m.fs, tmpPath, data, 0o644); err != nil {
		_ = m.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := m.fs.Rename(tmpPath, MetadataFileName); err != nil {
		_ = m.fs.Remove(tmpPath)
		return fmt.Errorf("failed to replace metadata: %w", err)
	}

	return nil
}

// listFiles returns the names of cached files present on disk.
func (m *metadataStore) listFiles() ([]string, error) {
	infos, err := m.fs.ReadDir(".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if isCachedFile(info) {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

// exists reports whether a cached file is present.
func (m *metadataStore) exists(name string) bool {
	_, err := m.fs.Stat(name)
	return err == nil
}

// removeFile deletes a cached file, ignoring not-found.
func (m *metadataStore) removeFile(name string) error {
	if err := m.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fallbackTimes(info os.FileInfo) (time.Time, time.Time) {
	return info.ModTime(), info.ModTime()
}
