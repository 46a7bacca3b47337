package cache

import (
	"fmt"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysOf(t *testing.T, e *Engine) []string {
	t.Helper()
	entries, err := e.List(t.Context())
	require.NoError(t, err)

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.OriginalPath)
	}
	sort.Strings(keys)
	return keys
}

func TestEviction_FileCountDropsOldestCreated(t *testing.T) {
	e, fs, _ := newTestEngine(t, WithLimits(1<<20, 2))
	ctx := t.Context()

	for _, key := range []string{"/a.png", "/b.png", "/c.png"} {
		_, err := e.CacheImage(ctx, key, payload(10, 1), testMeta)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"/b.png", "/c.png"}, keysOf(t, e))
	assert.NotContains(t, cachedFiles(t, fs), contentID("/a.png")+".png")
	assert.Len(t, cachedFiles(t, fs), 2)

	entry, err := e.Get(ctx, ContentKey("/a.png"))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestEviction_FileCountIgnoresAccessFrequency(t *testing.T) {
	e, _, _ := newTestEngine(t, WithLimits(1<<20, 2))
	ctx := t.Context()

	_, err := e.CacheImage(ctx, "/a.png", payload(10, 1), testMeta)
	require.NoError(t, err)
	_, err = e.CacheImage(ctx, "/b.png", payload(10, 1), testMeta)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = e.Get(ctx, ContentKey("/a.png"))
		require.NoError(t, err)
	}

	_, err = e.CacheImage(ctx, "/c.png", payload(10, 1), testMeta)
	require.NoError(t, err)
	assert.Equal(t, []string{"/b.png", "/c.png"}, keysOf(t, e))
}

func TestEviction_SizeDropsLeastFrequentlyUsed(t *testing.T) {
	const kb = 1024
	e, fs, _ := newTestEngine(t, WithLimits(1<<20, 100))
	ctx := t.Context()

	for _, key := range []string{"/a.png", "/b.png", "/c.png", "/d.png"} {
		_, err := e.CacheImage(ctx, key, payload(3*kb, 1), testMeta)
		require.NoError(t, err)
	}

	hits := map[string]int{"/a.png": 4, "/c.png": 2, "/d.png": 1}
	for key, n := range hits {
		for i := 0; i < n; i++ {
			_, err := e.Get(ctx, ContentKey(key))
			require.NoError(t, err)
		}
	}

	require.NoError(t, e.SetLimits(ctx, 10*kb, 100))
	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalFiles, "new limits apply on the next write")

	_, err = e.CacheImage(ctx, "/e.png", payload(3*kb, 1), testMeta)
	require.NoError(t, err)

	// B (1 access) then D (2 accesses) go; the new entry is never a victim
	assert.Equal(t, []string{"/a.png", "/c.png", "/e.png"}, keysOf(t, e))
	assert.Len(t, cachedFiles(t, fs), 3)

	stats, err = e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9*kb), stats.TotalSize)
}

func TestEviction_SizeDropsLeastFrequentlyUsedAsWritesArrive(t *testing.T) {
	const kb = 1024
	m := NewMetrics(prometheus.NewRegistry())
	e, fs, _ := newTestEngine(t, WithMetrics(m), WithLimits(10*kb, 100))
	ctx := t.Context()

	cacheAndHit := func(key string, hits int) {
		t.Helper()
		_, err := e.CacheImage(ctx, key, payload(3*kb, 1), testMeta)
		require.NoError(t, err)
		for i := 0; i < hits; i++ {
			entry, err := e.Get(ctx, ContentKey(key))
			require.NoError(t, err)
			require.NotNil(t, entry)
		}
	}

	// access counts end at A=5 B=1 C=3 D=2 E=4
	cacheAndHit("/a.png", 4)
	cacheAndHit("/b.png", 0)
	cacheAndHit("/c.png", 2)

	// the fourth write overflows 10KB and B is the least used
	cacheAndHit("/d.png", 1)
	assert.Equal(t, []string{"/a.png", "/c.png", "/d.png"}, keysOf(t, e))

	// the fifth write overflows again and D is now the least used
	cacheAndHit("/e.png", 3)
	assert.Equal(t, []string{"/a.png", "/c.png", "/e.png"}, keysOf(t, e))
	assert.Len(t, cachedFiles(t, fs), 3)

	counts := map[string]int{}
	entries, err := e.List(ctx)
	require.NoError(t, err)
	for _, entry := range entries {
		counts[entry.OriginalPath] = entry.AccessCount
	}
	assert.Equal(t, map[string]int{"/a.png": 5, "/c.png": 3, "/e.png": 4}, counts)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9*kb), stats.TotalSize)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Evictions.WithLabelValues(ReasonSize)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Evictions.WithLabelValues(ReasonCount)))
}

func TestEviction_SizeTiesDropOlderFirst(t *testing.T) {
	e, _, _ := newTestEngine(t, WithLimits(25, 100))
	ctx := t.Context()

	for _, key := range []string{"/a.png", "/b.png"} {
		_, err := e.CacheImage(ctx, key, payload(10, 1), testMeta)
		require.NoError(t, err)
	}
	_, err := e.CacheImage(ctx, "/c.png", payload(10, 1), testMeta)
	require.NoError(t, err)

	assert.Equal(t, []string{"/b.png", "/c.png"}, keysOf(t, e))
}

func TestEviction_NeverEvictsTheEntryJustWritten(t *testing.T) {
	e, _, _ := newTestEngine(t, WithLimits(100, 1))
	ctx := t.Context()

	_, err := e.CacheImage(ctx, "/a.png", payload(60, 1), testMeta)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = e.Get(ctx, ContentKey("/a.png"))
		require.NoError(t, err)
	}

	path, err := e.CacheImage(ctx, "/b.png", payload(90, 1), testMeta)
	require.NoError(t, err)

	entry, err := e.Get(ctx, ContentKey("/b.png"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, path, entry.CachedPath)
	assert.Equal(t, []string{"/b.png"}, keysOf(t, e))
}

func TestEviction_LimitsHoldAfterEveryWrite(t *testing.T) {
	const maxBytes, maxFiles = 500, 4
	e, fs, _ := newTestEngine(t, WithLimits(maxBytes, maxFiles))
	ctx := t.Context()

	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("/photos/%d.png", i)
		_, err := e.CacheImage(ctx, key, payload(40+(i*37)%120, byte(i)), testMeta)
		require.NoError(t, err)
		if i%3 == 0 {
			_, err = e.Get(ctx, ContentKey(key))
			require.NoError(t, err)
		}

		stats, err := e.Stats(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, stats.TotalFiles, maxFiles)
		assert.LessOrEqual(t, stats.TotalSize, int64(maxBytes))
		assert.Len(t, cachedFiles(t, fs), stats.TotalFiles)
	}

	sidecar := readSidecar(t, fs)
	var total int64
	for _, entry := range sidecar {
		total += entry.Size
	}
	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.TotalSize, total)
}
