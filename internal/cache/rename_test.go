package cache

import (
	"errors"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRename(t *testing.T) {
	e, fs, _ := newTestEngine(t)
	ctx := t.Context()

	_, err := e.CacheImageWithOriginalName(ctx, "sunset.png", payload(32, 9), testMeta)
	require.NoError(t, err)
	_, err = e.Get(ctx, NameKey("sunset.png"))
	require.NoError(t, err)

	path, err := e.Rename(ctx, "sunset.png", "dawn.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/"+cachePath("dawn.png"), path, "extension follows the stored format")

	assert.Equal(t, []string{"dawn.png"}, cachedFiles(t, fs))
	assert.Equal(t, payload(32, 9), readCached(t, fs, "dawn.png"))

	entry, err := e.Get(ctx, NameKey("dawn.jpg"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, path, entry.CachedPath)
	assert.Equal(t, "dawn.jpg", entry.OriginalPath)
	assert.Equal(t, NameKeyed, entry.Mode)
	assert.Equal(t, 3, entry.AccessCount, "access history survives a rename")

	old, err := e.Get(ctx, NameKey("sunset.png"))
	require.NoError(t, err)
	assert.Nil(t, old)

	sidecar := readSidecar(t, fs)
	require.Len(t, sidecar, 1)
	assert.Equal(t, path, sidecar[0].CachedPath)
}

func TestRename_OntoItself(t *testing.T) {
	e, fs, _ := newTestEngine(t)
	ctx := t.Context()

	path, err := e.CacheImageWithOriginalName(ctx, "a.png", payload(8, 1), testMeta)
	require.NoError(t, err)

	renamed, err := e.Rename(ctx, "a.png", "a.png")
	require.NoError(t, err)
	assert.Equal(t, path, renamed)
	assert.Equal(t, []string{"a.png"}, cachedFiles(t, fs))
}

func TestRename_DuplicateName(t *testing.T) {
	e, fs, _ := newTestEngine(t)
	ctx := t.Context()

	_, err := e.CacheImageWithOriginalName(ctx, "a.png", payload(8, 1), testMeta)
	require.NoError(t, err)
	_, err = e.CacheImageWithOriginalName(ctx, "b.png", payload(8, 2), testMeta)
	require.NoError(t, err)

	_, err = e.Rename(ctx, "a.png", "b.webp")
	require.Error(t, err)
	assert.Equal(t, CodeDuplicateName, CodeOf(err))

	assert.Equal(t, []string{"a.png", "b.png"}, cachedFiles(t, fs))
	assert.Equal(t, payload(8, 2), readCached(t, fs, "b.png"))
}

func TestRename_NotFound(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := t.Context()

	_, err := e.Rename(ctx, "missing.png", "other.png")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	// content-keyed entries are not reachable by name
	_, err = e.CacheImage(ctx, "/photos/c.png", payload(8, 1), testMeta)
	require.NoError(t, err)
	_, err = e.Rename(ctx, "c.png", "d.png")
	assert.Equal(t, CodeNotFound, CodeOf(err))

	_, err = e.Rename(ctx, "", "d.png")
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestRename_RollsBackFailedMove(t *testing.T) {
	var calls atomic.Int32
	fs := &faultFS{
		Filesystem: memfs.New(),
		rename: func(inner billy.Filesystem, from, to string) error {
			if calls.Add(1) == 1 {
				// the move lands but the call still reports failure
				if err := inner.Rename(from, to); err != nil {
					return err
				}
				return errors.New("device detached")
			}
			return inner.Rename(from, to)
		},
	}
	e := newEngineOn(t, fs, newTestClock())
	ctx := t.Context()

	path, err := e.CacheImageWithOriginalName(ctx, "a.png", payload(8, 3), testMeta)
	require.NoError(t, err)

	_, err = e.Rename(ctx, "a.png", "b.png")
	require.Error(t, err)
	assert.Equal(t, CodeIO, CodeOf(err))

	assert.Equal(t, []string{"a.png"}, cachedFiles(t, fs))
	assert.Equal(t, payload(8, 3), readCached(t, fs, "a.png"))

	entry, err := e.Get(ctx, NameKey("a.png"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, path, entry.CachedPath)
}

func TestRename_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	fs := &faultFS{
		Filesystem: memfs.New(),
		rename: func(inner billy.Filesystem, from, to string) error {
			if calls.Add(1) == 1 {
				return syscall.EBUSY
			}
			return inner.Rename(from, to)
		},
	}
	e := newEngineOn(t, fs, newTestClock())
	ctx := t.Context()

	_, err := e.CacheImageWithOriginalName(ctx, "a.png", payload(8, 3), testMeta)
	require.NoError(t, err)

	path, err := e.Rename(ctx, "a.png", "b.png")
	require.NoError(t, err)
	assert.Equal(t, "/"+cachePath("b.png"), path)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"b.png"}, cachedFiles(t, fs))
}

func TestRename_RejectsReservedFileNames(t *testing.T) {
	e, fs, _ := newTestEngine(t)
	ctx := t.Context()

	_, err := e.CacheImageWithOriginalName(ctx, "a.json", payload(8, 1), ImageMeta{Width: 1, Height: 1, Format: "json"})
	require.NoError(t, err)

	_, err = e.Rename(ctx, "a.json", "cache-metadata.json")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))

	assert.Equal(t, []string{"a.json"}, cachedFiles(t, fs))
	require.Len(t, readSidecar(t, fs), 1)
}
