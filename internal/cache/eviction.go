package cache

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// enforceLimits runs the count pass then the size pass. protect names the
// entry whose write triggered the run; it is never a victim.
//
// The passes order victims differently on purpose: the count ceiling drops the
// oldest-created entries, the size ceiling drops the least-frequently-used.
func (e *Engine) enforceLimits(protect string) {
	evicted := 0

	for e.index.len() > e.maxFiles {
		victim := e.oldestExcept(protect)
		if victim == nil {
			break
		}
		e.evict(victim, ReasonCount)
		evicted++
	}

	if e.index.size() > e.maxBytes {
		for _, victim := range leastUsedFirst(e.index.entries(), protect) {
			if e.index.size() <= e.maxBytes {
				break
			}
			e.evict(victim, ReasonSize)
			evicted++
		}
	}

	if evicted > 0 {
		e.persist()
		e.logger.Info("Evicted cache entries",
			zap.Int("evicted", evicted),
			zap.Int("entries", e.index.len()),
			zap.Int64("bytes", e.index.size()),
		)
	}
}

func (e *Engine) oldestExcept(protect string) *CacheEntry {
	for _, entry := range e.index.entries() {
		if entry.ID != protect {
			return entry
		}
	}
	return nil
}

// leastUsedFirst orders candidates by ascending AccessCount, older first on ties.
func leastUsedFirst(entries []*CacheEntry, protect string) []*CacheEntry {
	candidates := make([]*CacheEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.ID != protect {
			candidates = append(candidates, entry)
		}
	}
	// entries arrive in creation order, so a stable sort keeps older first on ties
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].AccessCount < candidates[j].AccessCount
	})
	return candidates
}

// evict deletes the entry's file and drops it from the index. A file that
// cannot be deleted is logged and left for the next rebuild.
func (e *Engine) evict(entry *CacheEntry, reason string) {
	if err := e.store.removeFile(entry.fileName()); err != nil {
		e.logger.Warn("Failed to delete evicted file",
			zap.String("id", entry.ID),
			zap.String("path", entry.CachedPath),
			zap.Error(err),
		)
	}
	e.index.remove(entry.ID)
	e.blobs.Delete(entry.ID)
	e.metrics.Evictions.WithLabelValues(reason).Inc()

	e.logger.Debug("Evicted entry",
		zap.String("id", entry.ID),
		zap.String("reason", reason),
		zap.Int64("size", entry.Size),
	)
}

// pruneExpired evicts entries not accessed within the retention window.
func (e *Engine) pruneExpired(now time.Time) int {
	if e.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-e.retention)

	pruned := 0
	for _, entry := range e.index.entries() {
		if entry.LastAccessed.Before(cutoff) {
			e.evict(entry, ReasonRetention)
			pruned++
		}
	}
	if pruned > 0 {
		e.logger.Info("Pruned expired cache entries", zap.Int("pruned", pruned), zap.Duration("retention", e.retention))
	}
	return pruned
}
