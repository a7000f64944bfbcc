package store

import (
	"context"
	"sync"

	"github.com/rickmoynihan/quadsail/pkg/changeset"
	"github.com/rickmoynihan/quadsail/pkg/quadstats"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

// MemStore is an in-process StatementStore backed by plain Go maps under a
// RWMutex. It is the default store used by tests and by cmd/quadsail when
// no on-disk path is given.
type MemStore struct {
	explicit *memBacking
	inferred *memBacking
	stats    quadstats.Statistics
}

// NewMemStore returns an empty in-memory StatementStore.
func NewMemStore() *MemStore {
	stats := quadstats.New()
	return &MemStore{
		explicit: newMemBacking(stats),
		inferred: newMemBacking(stats),
		stats:    stats,
	}
}

func (m *MemStore) ExplicitBacking() Backing                   { return m.explicit }
func (m *MemStore) InferredBacking() Backing                   { return m.inferred }
func (m *MemStore) EvaluationStatistics() quadstats.Statistics { return m.stats }
func (m *MemStore) Close() error                               { return nil }

type memBacking struct {
	mu         sync.RWMutex
	statements map[rdf.Key]rdf.Statement
	namespaces map[string]string
	stats      quadstats.Statistics
}

func newMemBacking(stats quadstats.Statistics) *memBacking {
	return &memBacking{
		statements: make(map[rdf.Key]rdf.Statement),
		namespaces: make(map[string]string),
		stats:      stats,
	}
}

func (b *memBacking) Statements(_ context.Context, pattern rdf.Pattern) (rdf.StatementIterator, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []rdf.Statement
	for _, st := range b.statements {
		if pattern.Matches(st) {
			out = append(out, st)
		}
	}
	return rdf.NewSliceStatementIterator(out), nil
}

func (b *memBacking) Namespaces(_ context.Context) (rdf.NamespaceIterator, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]rdf.Namespace, 0, len(b.namespaces))
	for prefix, name := range b.namespaces {
		out = append(out, rdf.Namespace{Prefix: prefix, Name: name})
	}
	return rdf.NewSliceNamespaceIterator(out), nil
}

func (b *memBacking) Namespace(_ context.Context, prefix string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	name, ok := b.namespaces[prefix]
	return name, ok, nil
}

func (b *memBacking) CommitChangeset(_ context.Context, cs *changeset.Changeset) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cs.IsStatementCleared() {
		for k, st := range b.statements {
			b.stats.Observe(st, false)
			delete(b.statements, k)
		}
	} else {
		deprecatedContexts := cs.DeprecatedContexts()
		if len(deprecatedContexts) > 0 {
			for k, st := range b.statements {
				for _, ctx := range deprecatedContexts {
					if contextEqual(st.Context, ctx) {
						b.stats.Observe(st, false)
						delete(b.statements, k)
						break
					}
				}
			}
		}
	}

	for k, st := range cs.Deprecated() {
		if _, ok := b.statements[k]; ok {
			b.stats.Observe(st, false)
			delete(b.statements, k)
		}
	}

	for k, st := range cs.Approved() {
		if _, ok := b.statements[k]; !ok {
			b.stats.Observe(st, true)
		}
		b.statements[k] = st
	}

	if cs.IsNamespaceCleared() {
		added := cs.AddedNamespaces()
		for prefix := range b.namespaces {
			if _, keep := added[prefix]; !keep {
				delete(b.namespaces, prefix)
			}
		}
	}
	for prefix := range cs.RemovedPrefixes() {
		delete(b.namespaces, prefix)
	}
	for prefix, name := range cs.AddedNamespaces() {
		b.namespaces[prefix] = name
	}
	return nil
}

func contextEqual(a, b *rdf.Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
