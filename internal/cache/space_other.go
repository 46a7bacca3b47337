//go:build !linux && !darwin

package cache

import "errors"

// availableBytes is unsupported here; callers skip the preflight on error.
func availableBytes(string) (uint64, error) {
	return 0, errors.New("free space query not supported on this platform")
}
