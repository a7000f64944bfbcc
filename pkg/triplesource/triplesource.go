// Package triplesource defines the narrow read-only capability handed to an
// external query evaluator: enough to stream matching statements and mint
// values, nothing about transactions, isolation, or writes.
package triplesource

import "github.com/rickmoynihan/quadsail/pkg/rdf"

// TripleSource is the capability view an external query evaluator receives.
// GetStatements follows the same wildcard/contexts semantics as
// Dataset.Statements: a nil subject/predicate/object is unbound; no
// contexts means every graph; an explicit nil entry in contexts matches the
// default graph.
type TripleSource interface {
	GetStatements(subject, predicate, object *rdf.Value, contexts ...*rdf.Value) (rdf.StatementIterator, error)
	ValueFactory() rdf.ValueFactory
}

// patternFrom builds an rdf.Pattern from a TripleSource-style wildcard
// triple plus variadic contexts, the adaptation every concrete TripleSource
// needs between its own call shape and the Dataset/Pattern API underneath.
func patternFrom(subject, predicate, object *rdf.Value, contexts []*rdf.Value) rdf.Pattern {
	return rdf.Pattern{Subject: subject, Predicate: predicate, Object: object, Contexts: contexts}
}

// PatternFrom is exported so concrete TripleSource implementations outside
// this package (pkg/connection's) can reuse the same wildcard-to-pattern
// adaptation instead of re-deriving it.
func PatternFrom(subject, predicate, object *rdf.Value, contexts ...*rdf.Value) rdf.Pattern {
	return patternFrom(subject, predicate, object, contexts)
}
