package cache

// SpaceChecker reports free bytes on the volume holding a directory.
type SpaceChecker interface {
	Available(dir string) (uint64, error)
}

// SpaceCheckerFunc adapts a function to SpaceChecker.
type SpaceCheckerFunc func(dir string) (uint64, error)

func (f SpaceCheckerFunc) Available(dir string) (uint64, error) {
	return f(dir)
}

// NewSpaceChecker returns the platform free-space checker.
func NewSpaceChecker() SpaceChecker {
	return SpaceCheckerFunc(availableBytes)
}
