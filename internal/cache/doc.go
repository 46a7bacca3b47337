// Package cache implements the on-disk background image cache.
//
// Cached files live in <appDataRoot>/cache/background-images next to a
// cache-metadata.json sidecar that mirrors the in-memory index. Entries are
// addressed either by content (a hash of the caller's source path) or by name
// (a readable filename derived from the caller's original filename); a Key
// carries the mode so lookups never match entries of the other scheme.
//
// After every successful write two eviction passes run: a file-count ceiling
// that drops the oldest-created entries, then a byte ceiling that drops the
// least-frequently-used entries.
//
// Typical lifecycle:
//
//	engine, err := cache.New(appDataRoot, cache.WithLogger(log))
//	if err := engine.Initialize(ctx); err != nil { ... }
//	path, err := engine.CacheImage(ctx, "/photos/a.png", data, cache.ImageMeta{Width: 800, Height: 600, Format: "png"})
//	defer engine.Shutdown(ctx)
package cache
