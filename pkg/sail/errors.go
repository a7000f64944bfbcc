package sail

import "errors"

// Sentinel errors for the branch/dataset/sink layer. Callers dispatch on
// kind via errors.Is, never on message text.
var (
	// ErrConflict is raised by Prepare() when a SERIALIZABLE branch's
	// observations match a sibling change-set committed since it forked.
	ErrConflict = errors.New("sail: observed state has changed")

	// ErrBranchReleased is returned by any operation on a branch after
	// Release() has been called.
	ErrBranchReleased = errors.New("sail: branch released")

	// ErrDatasetClosed is returned by Dataset methods after Close().
	ErrDatasetClosed = errors.New("sail: dataset closed")

	// ErrSinkClosed is returned by Sink methods after Close().
	ErrSinkClosed = errors.New("sail: sink closed")

	// ErrIsolationNotSupported is returned when no store-supported level
	// is compatible with a requested level.
	ErrIsolationNotSupported = errors.New("sail: isolation level not supported")
)
