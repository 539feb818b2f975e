package registry

import "errors"

// Errors returned by the registry package.
var (
	// ErrNotReady is returned when no engine is registered under the
	// requested name. Callers racing engine bring-up may retry.
	ErrNotReady = errors.New("registry: engine not registered")

	// ErrDuplicate is returned when registering a name that is taken.
	ErrDuplicate = errors.New("registry: name already registered")

	// ErrBusy is returned when removing an engine with outstanding
	// handles.
	ErrBusy = errors.New("registry: engine has active users")

	// ErrReleased is returned when releasing a handle twice.
	ErrReleased = errors.New("registry: handle already released")

	// ErrNilEngine is returned when registering a nil engine.
	ErrNilEngine = errors.New("registry: nil engine")
)
