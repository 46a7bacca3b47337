package cache

import (
	"context"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"assetcache/internal/util"
)

// Rename gives the name-keyed entry for oldName a new name and file, and
// returns the new absolute path. The file is renamed first; the index is only
// updated once the file is in place.
func (e *Engine) Rename(ctx context.Context, oldName, newName string) (string, error) {
	if strings.TrimSpace(oldName) == "" || strings.TrimSpace(newName) == "" {
		return "", invalidArgument("old and new names must not be empty", oldName)
	}
	if err := e.ready(ctx); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return "", errNotInitialized()
	}

	entry := e.live(NameKey(oldName))
	if entry == nil {
		return "", platformerrors.WithContext(
			platformerrors.New(CodeNotFound, "no cached image with that name"), "key", oldName)
	}

	taken, err := e.nameInUse(newName, entry)
	if err != nil {
		return "", ioFailure(err, "failed to list cache directory", newName, e.store.root)
	}
	if taken {
		return "", platformerrors.WithContextMap(
			platformerrors.New(CodeDuplicateName, "a cached image with that name already exists"),
			map[string]interface{}{"key": newName, "from": oldName})
	}

	oldFile := entry.fileName()
	newFile := baseName(newName)
	if entry.Format != "" {
		newFile += "." + entry.Format
	}
	if isReservedName(newFile) {
		return "", platformerrors.WithContext(
			invalidArgument("name collides with a reserved cache file", newName), "file", newFile)
	}

	if newFile != oldFile {
		if err := e.renameFile(ctx, oldFile, newFile); err != nil {
			return "", err
		}
	}

	renamed := entry.clone()
	renamed.ID = nameID(newName, e.now())
	renamed.OriginalPath = newName
	renamed.CachedPath = e.store.absPath(newFile)
	renamed.Mode = NameKeyed

	e.index.remove(entry.ID)
	e.index.put(renamed)
	e.blobs.Delete(entry.ID)
	e.persist()

	e.logger.Info("Renamed cached image",
		zap.String("from", entry.CachedPath),
		zap.String("to", renamed.CachedPath),
	)
	return renamed.CachedPath, nil
}

// renameFile moves from to to, retrying transient failures. On failure it
// undoes whatever part of the move was applied before returning the error.
func (e *Engine) renameFile(ctx context.Context, from, to string) error {
	err := util.Retry(ctx, func() error {
		return e.fs.Rename(from, to)
	})
	if err == nil {
		return nil
	}

	e.rollbackRename(from, to)
	return ioFailure(err, "failed to rename cached file", from, e.store.absPath(from))
}

// rollbackRename restores the source file. Anything at to was created by the
// failed attempt, because the destination was checked to be free beforehand.
func (e *Engine) rollbackRename(from, to string) {
	fromExists := e.store.exists(from)
	toExists := e.store.exists(to)

	switch {
	case !fromExists && toExists:
		if err := e.fs.Rename(to, from); err != nil {
			e.logger.Error("Failed to roll back rename", zap.String("from", to), zap.String("to", from), zap.Error(err))
		}
	case fromExists && toExists:
		if err := e.store.removeFile(to); err != nil {
			e.logger.Error("Failed to remove partial rename target", zap.String("path", to), zap.Error(err))
		}
	}
}
