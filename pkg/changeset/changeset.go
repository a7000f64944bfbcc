// Package changeset implements the in-memory record of one transaction's
// staged writes, observations and namespace edits, and the observation-based
// conflict check run at prepare() under SERIALIZABLE isolation.
package changeset

import (
	"sync"

	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

// Changeset is the mutable record of one in-flight transaction's writes,
// observations, and namespace edits. All mutators are safe for concurrent
// use by a single owning sink; it is not intended to be shared across
// transactions while being mutated.
type Changeset struct {
	mu sync.Mutex

	approved   map[rdf.Key]rdf.Statement
	deprecated map[rdf.Key]rdf.Statement

	approvedContexts   map[rdf.Key]struct{}
	deprecatedContexts []*rdf.Value

	statementCleared bool

	addedNamespaces  map[string]string
	removedPrefixes  map[string]struct{}
	namespaceCleared bool

	observations map[rdf.PatternKey]rdf.Pattern
}

// New returns an empty Changeset.
func New() *Changeset {
	return &Changeset{}
}

func contextKey(ctx *rdf.Value) rdf.Key {
	if ctx == nil {
		return rdf.Key{}
	}
	return rdf.KeyOf(rdf.Statement{Context: ctx})
}

// Approve stages an addition: removes the statement from Deprecated if
// present, adds it to Approved, and records its context in ApprovedContexts
// (invariants 1 and 2 in the data model).
func (c *Changeset) Approve(st rdf.Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := rdf.KeyOf(st)
	if c.deprecated != nil {
		delete(c.deprecated, k)
	}
	if c.approved == nil {
		c.approved = make(map[rdf.Key]rdf.Statement)
	}
	c.approved[k] = st
	if st.Context != nil {
		if c.approvedContexts == nil {
			c.approvedContexts = make(map[rdf.Key]struct{})
		}
		c.approvedContexts[contextKey(st.Context)] = struct{}{}
	}
}

// Deprecate stages a removal: removes the statement from Approved if
// present, adds it to Deprecated, and drops its context from
// ApprovedContexts if no remaining approval targets that context.
func (c *Changeset) Deprecate(st rdf.Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := rdf.KeyOf(st)
	if c.approved != nil {
		delete(c.approved, k)
	}
	if c.deprecated == nil {
		c.deprecated = make(map[rdf.Key]rdf.Statement)
	}
	c.deprecated[k] = st
	if st.Context != nil && c.approvedContexts != nil {
		ck := contextKey(st.Context)
		if _, ok := c.approvedContexts[ck]; ok && !c.approvedHasContext(st.Context) {
			delete(c.approvedContexts, ck)
		}
	}
}

func (c *Changeset) approvedHasContext(ctx *rdf.Value) bool {
	for _, st := range c.approved {
		if contextEqual(st.Context, ctx) {
			return true
		}
	}
	return false
}

func contextEqual(a, b *rdf.Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Observe records a read pattern for later conflict detection. Callers at
// isolation below SERIALIZABLE should not call this — the connection layer
// enforces that.
func (c *Changeset) Observe(p rdf.Pattern) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.observations == nil {
		c.observations = make(map[rdf.PatternKey]rdf.Pattern)
	}
	for _, k := range p.ObservationKeys() {
		c.observations[k] = p
	}
}

// Clear stages a graph clear. With no contexts it sets StatementCleared and
// drops all pending approvals; with explicit contexts it removes matching
// approvals and records the contexts as deprecated (wholesale removal of
// whatever the parent holds for them).
func (c *Changeset) Clear(contexts ...*rdf.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(contexts) == 0 {
		c.approved = nil
		c.approvedContexts = nil
		c.statementCleared = true
		return
	}
	for k, st := range c.approved {
		for _, ctx := range contexts {
			if contextEqual(st.Context, ctx) {
				delete(c.approved, k)
				break
			}
		}
	}
	for _, ctx := range contexts {
		if c.approvedContexts != nil {
			delete(c.approvedContexts, contextKey(ctx))
		}
	}
	c.deprecatedContexts = append(c.deprecatedContexts, contexts...)
}

// SetNamespace stages a namespace add. The prefix is also recorded in
// RemovedPrefixes, so whatever name the parent holds for it is replaced by
// the added one.
func (c *Changeset) SetNamespace(prefix, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removedPrefixes == nil {
		c.removedPrefixes = make(map[string]struct{})
	}
	c.removedPrefixes[prefix] = struct{}{}
	if c.addedNamespaces == nil {
		c.addedNamespaces = make(map[string]string)
	}
	c.addedNamespaces[prefix] = name
}

// RemoveNamespace stages a namespace removal.
func (c *Changeset) RemoveNamespace(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addedNamespaces != nil {
		delete(c.addedNamespaces, prefix)
	}
	if c.removedPrefixes == nil {
		c.removedPrefixes = make(map[string]struct{})
	}
	c.removedPrefixes[prefix] = struct{}{}
}

// ClearNamespaces stages removal of every namespace other than those added
// in this same changeset.
func (c *Changeset) ClearNamespaces() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removedPrefixes = nil
	c.addedNamespaces = nil
	c.namespaceCleared = true
}

// Snapshot accessors below are synchronized reads used by the dataset merge
// algorithm and the conflict check; callers must not mutate the returned
// maps/slices.

func (c *Changeset) Approved() map[rdf.Key]rdf.Statement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approved
}

func (c *Changeset) Deprecated() map[rdf.Key]rdf.Statement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deprecated
}

func (c *Changeset) ApprovedContexts() map[rdf.Key]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approvedContexts
}

func (c *Changeset) DeprecatedContexts() []*rdf.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deprecatedContexts
}

func (c *Changeset) IsStatementCleared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statementCleared
}

func (c *Changeset) AddedNamespaces() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addedNamespaces
}

func (c *Changeset) RemovedPrefixes() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removedPrefixes
}

func (c *Changeset) IsNamespaceCleared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.namespaceCleared
}

func (c *Changeset) Observations() map[rdf.PatternKey]rdf.Pattern {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observations
}

// IsEmpty reports whether the changeset has no staged effect at all,
// used by Sink.Flush to make a double flush of an untouched changeset a
// true no-op.
func (c *Changeset) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.approved) == 0 && len(c.deprecated) == 0 && !c.statementCleared &&
		len(c.deprecatedContexts) == 0 && len(c.addedNamespaces) == 0 &&
		len(c.removedPrefixes) == 0 && !c.namespaceCleared && len(c.observations) == 0
}

// Clone performs a deep copy of this changeset's contents, per the Open
// Question decision recorded in DESIGN.md: copy-by-value, not
// reference-sharing, so that mutating the source after cloning never
// affects the destination.
func (c *Changeset) Clone() *Changeset {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := &Changeset{
		statementCleared: c.statementCleared,
		namespaceCleared: c.namespaceCleared,
	}
	if c.approved != nil {
		clone.approved = make(map[rdf.Key]rdf.Statement, len(c.approved))
		for k, v := range c.approved {
			clone.approved[k] = v
		}
	}
	if c.deprecated != nil {
		clone.deprecated = make(map[rdf.Key]rdf.Statement, len(c.deprecated))
		for k, v := range c.deprecated {
			clone.deprecated[k] = v
		}
	}
	if c.approvedContexts != nil {
		clone.approvedContexts = make(map[rdf.Key]struct{}, len(c.approvedContexts))
		for k, v := range c.approvedContexts {
			clone.approvedContexts[k] = v
		}
	}
	clone.deprecatedContexts = append(clone.deprecatedContexts, c.deprecatedContexts...)
	if c.addedNamespaces != nil {
		clone.addedNamespaces = make(map[string]string, len(c.addedNamespaces))
		for k, v := range c.addedNamespaces {
			clone.addedNamespaces[k] = v
		}
	}
	if c.removedPrefixes != nil {
		clone.removedPrefixes = make(map[string]struct{}, len(c.removedPrefixes))
		for k, v := range c.removedPrefixes {
			clone.removedPrefixes[k] = v
		}
	}
	if c.observations != nil {
		clone.observations = make(map[rdf.PatternKey]rdf.Pattern, len(c.observations))
		for k, v := range c.observations {
			clone.observations[k] = v
		}
	}
	return clone
}

// Combine folds an ordered sequence of changeset layers down into a single
// equivalent changeset, applying each layer's clear/deprecate/approve
// effects on top of the previous in order. This is what a branch's flush()
// does conceptually (absorbing its own pending writes and any children it
// already folded in) before appending the result to its parent's history,
// and it is also how a Dataset computes the one effective overlay it needs
// to apply to the backing store's base iteration.
func Combine(layers ...*Changeset) *Changeset {
	merged := New()
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if layer.IsStatementCleared() {
			merged.Clear()
		} else if dctx := layer.DeprecatedContexts(); len(dctx) > 0 {
			merged.Clear(dctx...)
		}
		for _, st := range layer.Deprecated() {
			merged.Deprecate(st)
		}
		for _, st := range layer.Approved() {
			merged.Approve(st)
		}
		if layer.IsNamespaceCleared() {
			merged.ClearNamespaces()
		}
		for prefix := range layer.RemovedPrefixes() {
			merged.RemoveNamespace(prefix)
		}
		for prefix, name := range layer.AddedNamespaces() {
			merged.SetNamespace(prefix, name)
		}
	}
	return merged
}

// Matches reports whether this changeset's approved or deprecated sets
// contain any statement matching the given pattern — the core predicate of
// the SERIALIZABLE conflict check.
func (c *Changeset) Matches(p rdf.Pattern) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.approved {
		if p.Matches(st) {
			return true
		}
	}
	for _, st := range c.deprecated {
		if p.Matches(st) {
			return true
		}
	}
	return false
}
