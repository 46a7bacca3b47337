package cache

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
)

var testMeta = ImageMeta{Width: 1920, Height: 1080, Format: "png"}

// testClock advances one second on every read so entries get distinct timestamps.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func plentyOfSpace(string) (uint64, error) {
	return 1 << 40, nil
}

// newTestEngine returns an initialized engine backed by an in-memory filesystem.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, billy.Filesystem, *testClock) {
	t.Helper()

	fs := memfs.New()
	clock := newTestClock()
	e := newEngineOn(t, fs, clock, opts...)
	require.NoError(t, e.Initialize(t.Context()))
	return e, fs, clock
}

func newEngineOn(t *testing.T, fs billy.Filesystem, clock *testClock, opts ...Option) *Engine {
	t.Helper()

	base := []Option{
		WithFilesystem(fs),
		WithClock(clock.Now),
		WithSpaceChecker(SpaceCheckerFunc(plentyOfSpace)),
	}
	e, err := New("/appdata", append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func payload(size int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

func cachePath(name string) string {
	return filepath.Join(CacheSubdir, name)
}

func readCached(t *testing.T, fs billy.Filesystem, name string) []byte {
	t.Helper()
	data, err := util.ReadFile(fs, cachePath(name))
	require.NoError(t, err)
	return data
}

func cachedFiles(t *testing.T, fs billy.Filesystem) []string {
	t.Helper()
	infos, err := fs.ReadDir(CacheSubdir)
	require.NoError(t, err)

	var names []string
	for _, info := range infos {
		if isCachedFile(info) {
			names = append(names, info.Name())
		}
	}
	return names
}

func readSidecar(t *testing.T, fs billy.Filesystem) []*CacheEntry {
	t.Helper()
	data, err := util.ReadFile(fs, cachePath(MetadataFileName))
	require.NoError(t, err)

	var entries []*CacheEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func writeSidecar(t *testing.T, fs billy.Filesystem, entries []*CacheEntry) {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll(CacheSubdir, 0o755))
	require.NoError(t, util.WriteFile(fs, cachePath(MetadataFileName), data, 0o644))
}

// faultFS injects failures into Stat and Rename. Chroot keeps the wrapper.
type faultFS struct {
	billy.Filesystem
	statSize func(name string, size int64) int64
	rename   func(fs billy.Filesystem, from, to string) error
}

func (f *faultFS) Chroot(path string) (billy.Filesystem, error) {
	inner, err := f.Filesystem.Chroot(path)
	if err != nil {
		return nil, err
	}
	return &faultFS{Filesystem: inner, statSize: f.statSize, rename: f.rename}, nil
}

func (f *faultFS) Stat(name string) (os.FileInfo, error) {
	info, err := f.Filesystem.Stat(name)
	if err != nil || info.IsDir() || f.statSize == nil {
		return info, err
	}
	return sizedInfo{FileInfo: info, size: f.statSize(name, info.Size())}, nil
}

func (f *faultFS) Rename(from, to string) error {
	if f.rename == nil || strings.HasSuffix(from, tmpSuffix) {
		return f.Filesystem.Rename(from, to)
	}
	return f.rename(f.Filesystem, from, to)
}

type sizedInfo struct {
	os.FileInfo
	size int64
}

func (s sizedInfo) Size() int64 {
	return s.size
}
