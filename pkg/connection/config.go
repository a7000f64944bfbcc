package connection

import "github.com/rickmoynihan/quadsail/pkg/sail"

// Config configures one Connection's isolation negotiation, write
// buffering, and resource-leak tracking.
type Config struct {
	DefaultIsolationLevel    sail.IsolationLevel
	SupportedIsolationLevels []sail.IsolationLevel

	// AutoFlushBlockSize is the number of buffered statement writes after
	// which the connection checkpoints both branches (flushing the buffered
	// writes into their parents) and restarts their sinks, without ending
	// the transaction. Default 1000.
	AutoFlushBlockSize int

	// TrackResourceSites enables the leak tracker for iterators, sinks and
	// datasets opened by this connection.
	TrackResourceSites bool

	// LeakCollectionIntervalMS is the starting interval, in milliseconds,
	// between leak-sweep summaries; it doubles after each sweep. Open sets
	// no ceiling, so the doubling is unbounded.
	LeakCollectionIntervalMS int64
}

// DefaultConfig returns the configuration a Connection uses when none is
// supplied: the full isolation ladder supported, READ_COMMITTED as the
// default level, 1000-statement batch checkpoints, and leak tracking off.
func DefaultConfig() Config {
	return Config{
		DefaultIsolationLevel:    sail.ReadCommitted,
		SupportedIsolationLevels: sail.DefaultSupportedLevels(),
		AutoFlushBlockSize:       1000,
		TrackResourceSites:       false,
		LeakCollectionIntervalMS: 1000,
	}
}
