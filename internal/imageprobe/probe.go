// Package imageprobe extracts the dimensions and format the cache needs from
// an image file. The cache itself treats payloads as opaque bytes.
package imageprobe

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"assetcache/internal/cache"
)

// formatByContentType maps sniffed MIME types to cache format tokens.
var formatByContentType = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
}

// Startup initializes libvips for probing. Call Shutdown when done.
func Startup(concurrency, maxCacheMB int, log *zap.Logger) {
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      maxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", maxCacheMB),
		zap.Int("concurrency", concurrency),
	)
}

// Shutdown releases libvips.
func Shutdown() {
	vips.Shutdown()
}

// DetectFormat returns the format token for a file, preferring its extension
// and falling back to content sniffing.
func DetectFormat(path string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "tif", "tiff", "jpg", "jpeg", "png", "webp":
		return ext, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil {
		return "", fmt.Errorf("failed to read image header: %w", err)
	}

	contentType := http.DetectContentType(head[:n])
	if format, ok := formatByContentType[contentType]; ok {
		return format, nil
	}
	if contentType == "image/tiff" {
		return "tiff", nil
	}
	return "", fmt.Errorf("unsupported image content type: %s", contentType)
}

// Probe reads width, height and format from an image file.
func Probe(path string) (cache.ImageMeta, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return cache.ImageMeta{}, err
	}

	image, err := loadImage(path, format)
	if err != nil {
		return cache.ImageMeta{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer image.Close()

	return cache.ImageMeta{
		Width:  image.Width(),
		Height: image.Height(),
		Format: format,
	}, nil
}

// loadImage loads an image with the loader for its format
func loadImage(path, format string) (*vips.Image, error) {
	// Use AccessSequential for probing (just need dimensions)
	access := vips.AccessSequential

	switch format {
	case "tif", "tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case "jpg", "jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case "png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case "webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", format)
	}
}
