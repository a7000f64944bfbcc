package sail

import (
	"context"
	"sync"

	"github.com/rickmoynihan/quadsail/pkg/changeset"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
	"github.com/rickmoynihan/quadsail/pkg/store"
)

// Dataset is a read-only snapshot produced by a Source at a given
// isolation level, merging pending change-sets with the underlying
// backing state.
type Dataset struct {
	mu      sync.Mutex
	closed  bool
	backing store.Backing
	overlay *changeset.Changeset

	// frozenBase, when non-nil, is a snapshot of every backing statement
	// taken at Snapshot()-creation time: it is how SNAPSHOT_READ and
	// stronger levels get a repeatable read of the backing store itself,
	// not just of the overlay. Below SNAPSHOT_READ this stays nil and
	// Statements queries backing live on every call, which is what lets
	// READ_COMMITTED observe a sibling's commit as soon as it lands.
	frozenBase []rdf.Statement
}

// Close releases the dataset. Idempotent.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Dataset) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Statements implements the dataset view's merge algorithm: suppress
// backing matches per statement_cleared/deprecated/deprecated-contexts,
// then append approved matches, then de-duplicate by full 4-tuple
// identity.
func (d *Dataset) Statements(ctx context.Context, pattern rdf.Pattern) (rdf.StatementIterator, error) {
	if d.isClosed() {
		return nil, ErrDatasetClosed
	}

	var base []rdf.Statement
	if !d.overlay.IsStatementCleared() {
		if d.frozenBase != nil {
			for _, st := range d.frozenBase {
				if pattern.Matches(st) {
					base = append(base, st)
				}
			}
		} else {
			it, err := d.backing.Statements(ctx, pattern)
			if err != nil {
				return nil, err
			}
			base, err = rdf.Drain(it)
			if err != nil {
				return nil, err
			}
		}
	}

	seen := make(map[rdf.Key]struct{})
	var out []rdf.Statement

	deprecated := d.overlay.Deprecated()
	deprecatedContexts := d.overlay.DeprecatedContexts()
	for _, st := range base {
		if _, removed := deprecated[rdf.KeyOf(st)]; removed {
			continue
		}
		if contextMatchesAny(st.Context, deprecatedContexts) {
			continue
		}
		k := rdf.KeyOf(st)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, st)
	}

	for _, st := range d.overlay.Approved() {
		if !pattern.Matches(st) {
			continue
		}
		k := rdf.KeyOf(st)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, st)
	}

	return rdf.NewSliceStatementIterator(out), nil
}

func contextMatchesAny(ctx *rdf.Value, contexts []*rdf.Value) bool {
	for _, c := range contexts {
		if contextEqualValues(ctx, c) {
			return true
		}
	}
	return false
}

func contextEqualValues(a, b *rdf.Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Contexts returns the distinct context IRIs visible in this dataset, with
// no order guarantee.
func (d *Dataset) Contexts(ctx context.Context) (rdf.ValueIterator, error) {
	it, err := d.Statements(ctx, rdf.Pattern{})
	if err != nil {
		return nil, err
	}
	all, err := rdf.Drain(it)
	if err != nil {
		return nil, err
	}
	seen := make(map[rdf.Key]struct{})
	var out []rdf.Value
	for _, st := range all {
		if st.Context == nil {
			continue
		}
		k := rdf.KeyOf(rdf.Statement{Context: st.Context})
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, *st.Context)
	}
	return rdf.NewSliceValueIterator(out), nil
}

// Namespaces enumerates the merged namespace table, applying the same
// cleared/removed/added algorithm as Statements but over namespace
// entries.
func (d *Dataset) Namespaces(ctx context.Context) (rdf.NamespaceIterator, error) {
	if d.isClosed() {
		return nil, ErrDatasetClosed
	}
	var base []rdf.Namespace
	if !d.overlay.IsNamespaceCleared() {
		it, err := d.backing.Namespaces(ctx)
		if err != nil {
			return nil, err
		}
		for {
			ns, ok, err := it.Next()
			if err != nil {
				it.Close()
				return nil, err
			}
			if !ok {
				break
			}
			base = append(base, ns)
		}
		it.Close()
	}

	removed := d.overlay.RemovedPrefixes()
	merged := make(map[string]string)
	for _, ns := range base {
		if _, gone := removed[ns.Prefix]; gone {
			continue
		}
		merged[ns.Prefix] = ns.Name
	}
	for prefix, name := range d.overlay.AddedNamespaces() {
		merged[prefix] = name
	}
	out := make([]rdf.Namespace, 0, len(merged))
	for prefix, name := range merged {
		out = append(out, rdf.Namespace{Prefix: prefix, Name: name})
	}
	return rdf.NewSliceNamespaceIterator(out), nil
}

// Namespace looks up a single prefix in the merged namespace table.
func (d *Dataset) Namespace(ctx context.Context, prefix string) (string, bool, error) {
	if d.isClosed() {
		return "", false, ErrDatasetClosed
	}
	if _, removed := d.overlay.RemovedPrefixes()[prefix]; removed {
		if name, ok := d.overlay.AddedNamespaces()[prefix]; ok {
			return name, true, nil
		}
		return "", false, nil
	}
	if name, ok := d.overlay.AddedNamespaces()[prefix]; ok {
		return name, true, nil
	}
	if d.overlay.IsNamespaceCleared() {
		return "", false, nil
	}
	return d.backing.Namespace(ctx, prefix)
}
