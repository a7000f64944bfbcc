package connection

import "errors"

// Sentinel errors for the connection façade. Usage errors (no active
// transaction, transaction already active, connection closed) are
// returned immediately without mutating any state, per the error handling
// design's "usage errors" kind.
var (
	ErrNoActiveTransaction      = errors.New("connection: no active transaction")
	ErrTransactionAlreadyActive = errors.New("connection: transaction already active")
	ErrClosed                   = errors.New("connection: closed")

	// ErrMalformedQuery, ErrUnsupportedQueryLanguage, and ErrEvaluation are
	// pass-through sentinels: the core never raises them itself, but
	// callers wrapping an external query evaluator's errors can still
	// errors.Is against a value this package exports, keeping one error
	// taxonomy across the whole stack.
	ErrMalformedQuery           = errors.New("connection: malformed query")
	ErrUnsupportedQueryLanguage = errors.New("connection: unsupported query language")
	ErrEvaluation               = errors.New("connection: evaluation error")

	ErrCancelled = errors.New("connection: operation cancelled")
	ErrTimeout   = errors.New("connection: operation timed out")
	ErrStoreIO   = errors.New("connection: backing store I/O error")
)
