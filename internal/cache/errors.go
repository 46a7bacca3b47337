package cache

import (
	platformerrors "github.com/jmgilman/go/errors"
)

// Error codes returned by the engine. Use platformerrors.GetCode to inspect them.
const (
	CodeInvalidArgument   platformerrors.ErrorCode = "INVALID_ARGUMENT"
	CodeNotInitialized    platformerrors.ErrorCode = "NOT_INITIALIZED"
	CodeDirectoryAccess   platformerrors.ErrorCode = "DIRECTORY_ACCESS"
	CodeInsufficientSpace platformerrors.ErrorCode = "INSUFFICIENT_SPACE"
	CodeIntegrity         platformerrors.ErrorCode = "INTEGRITY"
	CodeDuplicateName     platformerrors.ErrorCode = "DUPLICATE_NAME"
	CodeNotFound          platformerrors.ErrorCode = "NOT_FOUND"
	CodeIO                platformerrors.ErrorCode = "IO_ERROR"

	// codeMetadataCorrupt never leaves the package; load() recovers via rebuild.
	codeMetadataCorrupt platformerrors.ErrorCode = "METADATA_CORRUPT"
)

// CodeOf returns the error code carried by err, or CodeUnknown.
func CodeOf(err error) platformerrors.ErrorCode {
	return platformerrors.GetCode(err)
}

func invalidArgument(msg string, key string) error {
	return platformerrors.WithContext(platformerrors.New(CodeInvalidArgument, msg), "key", key)
}

func errNotInitialized() error {
	return platformerrors.New(CodeNotInitialized, "cache engine is shut down")
}

func directoryAccess(err error, dir string) error {
	return platformerrors.WrapWithContext(err, CodeDirectoryAccess, "cache directory is not accessible",
		map[string]interface{}{"path": dir})
}

func ioFailure(err error, msg, key, path string) error {
	return platformerrors.WrapWithContext(err, CodeIO, msg,
		map[string]interface{}{"key": key, "path": path})
}
