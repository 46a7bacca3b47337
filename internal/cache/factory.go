package cache

import (
	"fmt"

	"go.uber.org/zap"
)

// NewBlobCache creates a hot-bytes cache based on the cache type
func NewBlobCache(cacheType string, maxItems int, log *zap.Logger) (BlobCache, error) {
	switch cacheType {
	case "memory":
		log.Info("Using memory blob cache", zap.Int("max_items", maxItems))
		return NewMemoryBlobCache(maxItems), nil
	case "disabled", "":
		log.Info("Blob cache disabled")
		return NewNoopBlobCache(), nil
	default:
		return nil, fmt.Errorf("unknown blob cache type: %s (supported: memory, disabled)", cacheType)
	}
}
