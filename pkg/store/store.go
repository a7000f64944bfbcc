// Package store implements the StatementStore layer: the ultimate,
// durable-or-in-memory source of truth behind the explicit and inferred
// statement sets, plus the namespace table.
package store

import (
	"context"

	"github.com/rickmoynihan/quadsail/pkg/changeset"
	"github.com/rickmoynihan/quadsail/pkg/quadstats"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

// Backing is the narrow contract a StatementStore's explicit/inferred
// sources present upward to pkg/sail. A root sail.Source wraps exactly one
// Backing. It is intentionally smaller than sail.Source: it has no concept
// of forking, isolation levels, or prepend lists — those belong to the
// branch layer built on top of it.
type Backing interface {
	// Statements returns statements matching pattern, reflecting the last
	// committed changeset.
	Statements(ctx context.Context, pattern rdf.Pattern) (rdf.StatementIterator, error)

	// Namespaces enumerates the namespace table.
	Namespaces(ctx context.Context) (rdf.NamespaceIterator, error)

	// Namespace looks up a single prefix.
	Namespace(ctx context.Context, prefix string) (string, bool, error)

	// CommitChangeset atomically applies cs to the backing state. It is
	// called from a root source's own Flush, and also from a direct
	// child branch's Flush (the common transaction-commit path), and
	// must be durable on return, per the core's persistence contract.
	CommitChangeset(ctx context.Context, cs *changeset.Changeset) error
}

// StatementStore is the ultimate source of truth: it produces two
// independently versioned Backings, one for explicit (asserted) statements
// and one for inferred statements, plus cardinality statistics for the
// query optimizer.
type StatementStore interface {
	ExplicitBacking() Backing
	InferredBacking() Backing
	EvaluationStatistics() quadstats.Statistics
	Close() error
}
