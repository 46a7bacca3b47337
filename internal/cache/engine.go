package cache

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// CacheSubdir is the cache directory relative to the application data root.
	CacheSubdir = filepath.Join("cache", "background-images")
)

const (
	DefaultMaxCacheSize int64 = 100 * 1024 * 1024
	DefaultMaxFiles           = 100
	DefaultRetention          = 30 * 24 * time.Hour
)

// Engine is an on-disk asset cache rooted at <appDataRoot>/cache/background-images.
//
// Every mutating call holds the write lock for its whole read-modify-write
// sequence; Stats, List and FileNameExists share the read lock.
type Engine struct {
	appDataRoot string
	root        billy.Filesystem
	logger      *zap.Logger
	space       SpaceChecker
	blobs       BlobCache
	metrics     *Metrics
	readiness   func(ctx context.Context) error
	now         func() time.Time
	retention   time.Duration

	mu       sync.RWMutex
	fs       billy.Filesystem
	store    *metadataStore
	index    *cacheIndex
	maxBytes int64
	maxFiles int

	initGroup   singleflight.Group
	initialized atomic.Bool
	closed      atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithFilesystem sets the filesystem rooted at the application data root.
// Defaults to osfs.New(appDataRoot); tests typically pass memfs.New().
func WithFilesystem(fs billy.Filesystem) Option {
	return func(e *Engine) {
		e.root = fs
	}
}

// WithSpaceChecker replaces the free-space preflight.
func WithSpaceChecker(space SpaceChecker) Option {
	return func(e *Engine) {
		e.space = space
	}
}

// WithBlobCache sets the in-memory cache used by ReadImage.
func WithBlobCache(blobs BlobCache) Option {
	return func(e *Engine) {
		e.blobs = blobs
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithReadiness sets the host readiness hook awaited by Initialize.
func WithReadiness(ready func(ctx context.Context) error) Option {
	return func(e *Engine) {
		e.readiness = ready
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLimits sets the byte and file-count ceilings.
func WithLimits(maxBytes int64, maxFiles int) Option {
	return func(e *Engine) {
		e.maxBytes = maxBytes
		e.maxFiles = maxFiles
	}
}

// WithRetention sets how long an unaccessed entry survives across restarts.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		e.retention = d
	}
}

// New creates an engine. No filesystem access happens until Initialize.
func New(appDataRoot string, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(appDataRoot) == "" {
		return nil, invalidArgument("application data root must not be empty", appDataRoot)
	}

	e := &Engine{
		appDataRoot: appDataRoot,
		logger:      zap.NewNop(),
		index:       newCacheIndex(),
		now:         time.Now,
		retention:   DefaultRetention,
		maxBytes:    DefaultMaxCacheSize,
		maxFiles:    DefaultMaxFiles,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.maxBytes <= 0 || e.maxFiles <= 0 {
		return nil, invalidArgument("cache limits must be positive", appDataRoot)
	}
	if e.root == nil {
		abs, err := filepath.Abs(appDataRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve application data root: %w", err)
		}
		e.root = osfs.New(abs)
	}
	if e.space == nil {
		e.space = NewSpaceChecker()
	}
	if e.blobs == nil {
		e.blobs = NewNoopBlobCache()
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	e.logger = e.logger.With(zap.String("component", "asset_cache"))

	return e, nil
}

// Dir returns the absolute cache directory.
func (e *Engine) Dir() string {
	return filepath.Join(e.root.Root(), CacheSubdir)
}

// Initialize prepares the cache directory and loads the index. It is safe to
// call repeatedly and concurrently; concurrent callers share one attempt, and a
// failed attempt leaves the engine uninitialized so a later call can retry.
// A caller whose ctx ends stops waiting, but the shared attempt keeps running
// for the others.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.closed.Load() {
		return errNotInitialized()
	}
	if e.initialized.Load() {
		return nil
	}

	// the shared attempt must outlive any single caller's cancellation
	attempt := e.initGroup.DoChan("initialize", func() (interface{}, error) {
		if e.initialized.Load() {
			return nil, nil
		}
		return nil, e.initialize(context.WithoutCancel(ctx))
	})

	select {
	case res := <-attempt:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) initialize(ctx context.Context) error {
	if e.readiness != nil {
		if err := e.readiness(ctx); err != nil {
			return fmt.Errorf("host not ready: %w", err)
		}
	}

	start := time.Now()
	dir := e.Dir()

	fs, err := e.openDirectory(dir)
	if err != nil {
		return err
	}

	store := newMetadataStore(fs, e.logger)
	entries, err := store.load()
	if err != nil {
		return directoryAccess(err, dir)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return errNotInitialized()
	}

	e.fs = fs
	e.store = store
	e.index.load(entries)

	if pruned := e.pruneExpired(e.now()); pruned > 0 {
		e.persist()
	}
	e.metrics.observe(e.index)
	e.initialized.Store(true)

	e.logger.Info("Cache initialized",
		zap.String("dir", dir),
		zap.Int("entries", e.index.len()),
		zap.Int64("bytes", e.index.size()),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// openDirectory creates the cache directory and proves it is writable.
func (e *Engine) openDirectory(dir string) (billy.Filesystem, error) {
	if err := e.root.MkdirAll(CacheSubdir, 0o755); err != nil {
		return nil, directoryAccess(err, dir)
	}

	info, err := e.root.Stat(CacheSubdir)
	if err != nil {
		return nil, directoryAccess(err, dir)
	}
	if !info.IsDir() {
		return nil, directoryAccess(fmt.Errorf("%s is not a directory", dir), dir)
	}

	fs, err := e.root.Chroot(CacheSubdir)
	if err != nil {
		return nil, directoryAccess(err, dir)
	}

	probe := probePrefix + uuid.New().String()
	if err := util.WriteFile(fs, probe, []byte("probe"), 0o644); err != nil {
		return nil, directoryAccess(err, dir)
	}
	if err := fs.Remove(probe); err != nil {
		return nil, directoryAccess(err, dir)
	}

	return fs, nil
}

// Shutdown flushes the index. The engine rejects all calls afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.store != nil {
		if saveErr := e.store.save(e.index.entries()); saveErr != nil {
			err = fmt.Errorf("failed to flush metadata: %w", saveErr)
		}
	}

	e.blobs.Clear()
	e.store = nil
	e.fs = nil
	e.index.reset()
	e.initialized.Store(false)

	e.logger.Info("Cache shut down")
	return err
}

// ready lazily initializes the engine.
func (e *Engine) ready(ctx context.Context) error {
	if e.closed.Load() {
		return errNotInitialized()
	}
	return e.Initialize(ctx)
}

// CacheImage stores data under a content-keyed id derived from key and returns
// the absolute path of the cached file. Re-caching an existing key is a hit:
// the bytes are not rewritten.
func (e *Engine) CacheImage(ctx context.Context, key string, data []byte, meta ImageMeta) (string, error) {
	return e.write(ctx, ContentKey(key), data, meta)
}

// CacheImageWithOriginalName stores data under a filename derived from name.
// Writing the same name twice overwrites the same file.
func (e *Engine) CacheImageWithOriginalName(ctx context.Context, name string, data []byte, meta ImageMeta) (string, error) {
	return e.write(ctx, NameKey(name), data, meta)
}

func validateWrite(key Key, data []byte, meta ImageMeta) (string, error) {
	if strings.TrimSpace(key.Value) == "" {
		return "", invalidArgument("key must not be empty", key.Value)
	}
	if len(data) == 0 {
		return "", invalidArgument("payload must not be empty", key.Value)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return "", invalidArgument("width and height must be positive", key.Value)
	}
	format := normalizeFormat(meta.Format)
	if format == "" || strings.ContainsAny(format, `/\.`) {
		return "", invalidArgument("format must be a non-empty file extension", key.Value)
	}
	return format, nil
}

func (e *Engine) write(ctx context.Context, key Key, data []byte, meta ImageMeta) (string, error) {
	format, err := validateWrite(key, data, meta)
	if err != nil {
		return "", err
	}
	if err := e.ready(ctx); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return "", errNotInitialized()
	}

	size := int64(len(data))
	now := e.now()
	var id string
	if key.Mode == ContentKeyed {
		id = contentID(key.Value)
		if existing := e.index.get(id); existing != nil && e.store.exists(existing.fileName()) {
			existing.touch(now)
			e.metrics.Hits.Inc()
			e.persist()
			return existing.CachedPath, nil
		}
	} else {
		id = nameID(key.Value, now)
	}

	if size > e.maxBytes {
		return "", platformerrors.WithContext(
			invalidArgument("asset is larger than the cache size ceiling", key.Value), "size", size)
	}

	name := resolveFileName(key, id, format)
	if isReservedName(name) {
		return "", platformerrors.WithContext(
			invalidArgument("name collides with a reserved cache file", key.Value), "file", name)
	}
	path := e.store.absPath(name)

	if err := e.preflight(size, key, path); err != nil {
		return "", err
	}

	if err := util.WriteFile(e.fs, name, data, 0o644); err != nil {
		e.discard(name)
		return "", ioFailure(err, "failed to write cached file", key.Value, path)
	}

	info, err := e.fs.Stat(name)
	if err != nil {
		e.discard(name)
		return "", ioFailure(err, "failed to verify cached file", key.Value, path)
	}
	if info.Size() != size {
		e.discard(name)
		return "", platformerrors.WithContextMap(
			platformerrors.New(CodeIntegrity, "cached file size does not match payload"),
			map[string]interface{}{"key": key.Value, "path": path, "expected": size, "actual": info.Size()})
	}

	// the file may already back an older entry (name-keyed overwrite or a stale hit)
	for _, old := range e.index.findByFile(name) {
		e.index.remove(old.ID)
		e.blobs.Delete(old.ID)
	}

	entry := &CacheEntry{
		ID:           id,
		OriginalPath: key.Value,
		CachedPath:   path,
		Size:         size,
		Width:        meta.Width,
		Height:       meta.Height,
		Format:       format,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
		Mode:         key.Mode,
	}
	e.index.put(entry)
	e.blobs.Delete(id)
	e.metrics.Writes.WithLabelValues(key.Mode.String()).Inc()
	e.persist()

	e.logger.Debug("Cached asset",
		zap.String("id", id),
		zap.String("mode", key.Mode.String()),
		zap.String("path", path),
		zap.Int64("size", size),
	)

	e.enforceLimits(entry.ID)
	return path, nil
}

// preflight fails fast when the volume cannot hold the payload. A failed
// free-space query is not fatal.
func (e *Engine) preflight(size int64, key Key, path string) error {
	available, err := e.space.Available(e.store.root)
	if err != nil {
		e.logger.Debug("Free space query failed, skipping preflight", zap.Error(err))
		return nil
	}
	if available < uint64(size) {
		return platformerrors.WithContextMap(
			platformerrors.New(CodeInsufficientSpace, "not enough free space for cached file"),
			map[string]interface{}{"key": key.Value, "path": path, "required": size, "available": available})
	}
	return nil
}

// discard removes a partially written file.
func (e *Engine) discard(name string) {
	if err := e.store.removeFile(name); err != nil {
		e.logger.Warn("Failed to remove partial file", zap.String("file", name), zap.Error(err))
	}
}

// persist rewrites the sidecar. Failures are logged; the next mutation retries.
func (e *Engine) persist() {
	if err := e.store.save(e.index.entries()); err != nil {
		e.logger.Error("Failed to persist cache metadata", zap.Error(err))
	}
	e.metrics.observe(e.index)
}

// live returns the entry for key when its file is still present.
func (e *Engine) live(key Key) *CacheEntry {
	entry := e.index.find(key)
	if entry == nil || !e.store.exists(entry.fileName()) {
		return nil
	}
	return entry
}

// Get returns a copy of the entry for key, or nil when there is no entry or
// its file is gone. A hit records an access.
func (e *Engine) Get(ctx context.Context, key Key) (*CacheEntry, error) {
	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return nil, errNotInitialized()
	}

	entry := e.live(key)
	if entry == nil {
		e.metrics.Misses.Inc()
		return nil, nil
	}

	entry.touch(e.now())
	e.metrics.Hits.Inc()
	e.persist()
	return entry.clone(), nil
}

// ReadImage returns a copy of the cached bytes for key, recording an access.
// It returns CodeNotFound when there is no live entry.
func (e *Engine) ReadImage(ctx context.Context, key Key) ([]byte, *CacheEntry, error) {
	if err := e.ready(ctx); err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return nil, nil, errNotInitialized()
	}

	entry := e.live(key)
	if entry == nil {
		e.metrics.Misses.Inc()
		return nil, nil, platformerrors.WithContext(
			platformerrors.New(CodeNotFound, "no cached image for key"), "key", key.Value)
	}

	data, ok := e.blobs.Get(entry.ID)
	if !ok {
		var err error
		data, err = util.ReadFile(e.fs, entry.fileName())
		if err != nil {
			return nil, nil, ioFailure(err, "failed to read cached file", key.Value, entry.CachedPath)
		}
		e.blobs.Set(entry.ID, data)
	}

	entry.touch(e.now())
	e.metrics.Hits.Inc()
	e.persist()
	return bytes.Clone(data), entry.clone(), nil
}

// Remove deletes the entry for key and its file. It reports whether an entry
// was found.
func (e *Engine) Remove(ctx context.Context, key Key) (bool, error) {
	if err := e.ready(ctx); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return false, errNotInitialized()
	}

	entry := e.index.find(key)
	if entry == nil {
		return false, nil
	}

	if err := e.store.removeFile(entry.fileName()); err != nil {
		return false, ioFailure(err, "failed to remove cached file", key.Value, entry.CachedPath)
	}

	e.index.remove(entry.ID)
	e.blobs.Delete(entry.ID)
	e.persist()
	return true, nil
}

// ClearAll deletes every cached file and empties the index. Files that could
// not be deleted are reported in the result and keep their entries; the
// returned error combines the individual failures.
func (e *Engine) ClearAll(ctx context.Context) (ClearResult, error) {
	if err := e.ready(ctx); err != nil {
		return ClearResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return ClearResult{}, errNotInitialized()
	}

	names, err := e.store.listFiles()
	if err != nil {
		return ClearResult{}, ioFailure(err, "failed to list cache directory", "", e.store.root)
	}

	var result ClearResult
	var errs error
	failed := make(map[string]bool)
	for _, name := range names {
		if err := e.store.removeFile(name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", name, err))
			failed[name] = true
			result.Failed = append(result.Failed, e.store.absPath(name))
			continue
		}
		result.Removed++
	}

	for _, entry := range e.index.entries() {
		if !failed[entry.fileName()] {
			e.index.remove(entry.ID)
		}
	}
	e.blobs.Clear()
	e.persist()

	e.logger.Info("Cache cleared", zap.Int("removed", result.Removed), zap.Int("failed", len(result.Failed)))

	if errs != nil {
		return result, platformerrors.Wrap(errs, CodeIO, "failed to remove some cached files")
	}
	return result, nil
}

// List returns copies of all entries, most recently accessed first.
func (e *Engine) List(ctx context.Context) ([]*CacheEntry, error) {
	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.store == nil {
		return nil, errNotInitialized()
	}

	entries := e.index.snapshot()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastAccessed.After(entries[j].LastAccessed)
	})
	return entries, nil
}

// SetLimits replaces both ceilings. They are enforced by the next write.
func (e *Engine) SetLimits(ctx context.Context, maxBytes int64, maxFiles int) error {
	if maxBytes <= 0 || maxFiles <= 0 {
		return invalidArgument("cache limits must be positive", "")
	}
	if e.closed.Load() {
		return errNotInitialized()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.maxBytes = maxBytes
	e.maxFiles = maxFiles

	e.logger.Info("Cache limits updated", zap.Int64("max_bytes", maxBytes), zap.Int("max_files", maxFiles))
	return nil
}

// FileNameExists reports whether name is already used by a name-keyed entry
// or by any file in the cache directory.
func (e *Engine) FileNameExists(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, invalidArgument("name must not be empty", name)
	}
	if err := e.ready(ctx); err != nil {
		return false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.store == nil {
		return false, errNotInitialized()
	}

	taken, err := e.nameInUse(name, nil)
	if err != nil {
		return false, ioFailure(err, "failed to list cache directory", name, e.store.root)
	}
	return taken, nil
}

// nameInUse checks the index and a directory scan, ignoring except's file.
func (e *Engine) nameInUse(name string, except *CacheEntry) (bool, error) {
	stem := baseName(name)
	key := NameKey(name)
	exceptFile := ""
	if except != nil {
		exceptFile = except.fileName()
	}

	for _, entry := range e.index.entries() {
		if entry == except || entry.fileName() == exceptFile {
			continue
		}
		if key.matches(entry) || (entry.Mode == NameKeyed && fileStem(entry.CachedPath) == stem) {
			return true, nil
		}
	}

	names, err := e.store.listFiles()
	if err != nil {
		return false, err
	}
	for _, file := range names {
		if file != exceptFile && fileStem(file) == stem {
			return true, nil
		}
	}
	return false, nil
}

// Stats returns aggregate figures. It has no side effects.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if err := e.ready(ctx); err != nil {
		return Stats{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.store == nil {
		return Stats{}, errNotInitialized()
	}

	stats := Stats{
		TotalFiles:   e.index.len(),
		TotalSize:    e.index.size(),
		MaxCacheSize: e.maxBytes,
		MaxFiles:     e.maxFiles,
	}
	if oldest := e.index.oldest(); oldest != nil {
		stats.Oldest = oldest.clone()
	}
	if newest := e.index.newest(); newest != nil {
		stats.Newest = newest.clone()
	}

	var most *CacheEntry
	for _, entry := range e.index.entries() {
		if most == nil || entry.AccessCount > most.AccessCount {
			most = entry
		}
	}
	if most != nil {
		stats.MostAccessed = most.clone()
	}

	return stats, nil
}
