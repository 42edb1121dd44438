package launcher

import "errors"

// Launch errors
var (
	ErrSpawnFailed = errors.New("failed to spawn service process")
	ErrNotReady    = errors.New("node did not become ready")
)
