// Package sail implements the Source Branch / Dataset View / Sink layer:
// a forkable overlay of pending change-sets over a backing statement store,
// giving every transaction a consistent point-in-time view and a
// conflict-checked commit path.
package sail

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rickmoynihan/quadsail/pkg/changeset"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
	"github.com/rickmoynihan/quadsail/pkg/store"
)

// branchState is the mutable state behind one Source handle. A root
// branchState wraps a store.Backing directly; a forked branchState wraps a
// parent handle instead.
type branchState struct {
	self handle

	arena  *arena
	parent handle // 0 means "no parent" (this is a root)

	backing store.Backing // non-nil only for roots

	// historyMu guards history and serializes Flush against Snapshot's
	// boundary capture — the "implicit read lock" the dataset lifecycle
	// names, realized here as a short-held lock rather than one held for
	// the dataset's full lifetime, since snapshot isolation is otherwise
	// provided by boundary-freezing (see forkIndex).
	historyMu sync.RWMutex
	history   []*changeset.Changeset // changesets children have flushed into this branch

	// forkIndex is len(parent.history) at the moment this branch was
	// created; SNAPSHOT_READ and stronger freeze visibility of the
	// parent's history at this boundary until Checkpoint moves it forward,
	// giving repeatable reads without holding any lock open.
	forkIndex int

	mu         sync.Mutex
	own        *changeset.Changeset // this branch's own accumulating writes
	active     bool
	released   bool
}

// Source is a forkable overlay source: one layer of change over a parent
// source (or, at the root, over a backing statement store).
type Source struct {
	arena *arena
	h     handle
}

// NewRootSource wraps a backing statement store as a root Source. Its
// Fork()ed children are forkable branches per the branch lifecycle.
func NewRootSource(backing store.Backing) Source {
	a := newArena()
	root := &branchState{arena: a, backing: backing, active: true}
	h := a.alloc(root)
	return Source{arena: a, h: h}
}

func (s Source) state() (*branchState, error) {
	b := s.arena.get(s.h)
	if b == nil || b.released {
		return nil, ErrBranchReleased
	}
	return b, nil
}

// Fork creates a child branch with an empty change-set observing this
// source's state plus nothing else, in O(1).
func (s Source) Fork() (Source, error) {
	b, err := s.state()
	if err != nil {
		return Source{}, err
	}
	b.historyMu.RLock()
	forkIndex := len(b.history)
	b.historyMu.RUnlock()

	child := &branchState{
		arena:     s.arena,
		parent:    s.h,
		forkIndex: forkIndex,
		active:    true,
	}
	h := s.arena.alloc(child)
	return Source{arena: s.arena, h: h}, nil
}

// IsActive reports whether the branch is still usable (not released).
func (s Source) IsActive() bool {
	b, err := s.state()
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Release discards the branch. Any unflushed own change-set is lost.
// Releasing an already-released branch is a no-op.
func (s Source) Release() error {
	b := s.arena.get(s.h)
	if b == nil || b.released {
		return nil
	}
	b.mu.Lock()
	b.released = true
	b.active = false
	b.own = nil
	b.mu.Unlock()
	return nil
}

func (b *branchState) ownChangeset() *changeset.Changeset {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.own == nil {
		b.own = changeset.New()
	}
	return b.own
}

// ancestorLayers walks from the root down to (not including) b, returning
// the ordered list of changesets that lie strictly between the backing
// store and b. Each ancestor contributes whatever of its history has been
// folded in up to the child's frozen forkIndex boundary, followed by its own
// ownChangeset (so writes made directly on an intermediate branch are
// visible to its descendants).
func ancestorLayers(a *arena, h handle) []*changeset.Changeset {
	b := a.get(h)
	if b == nil || b.parent == 0 {
		return nil
	}
	parent := a.get(b.parent)
	if parent == nil {
		return nil
	}
	layers := ancestorLayers(a, b.parent)
	b.mu.Lock()
	bound := b.forkIndex
	b.mu.Unlock()
	parent.historyMu.RLock()
	if bound > len(parent.history) {
		bound = len(parent.history)
	}
	layers = append(append([]*changeset.Changeset{}, layers...), parent.history[:bound]...)
	parent.historyMu.RUnlock()
	parent.mu.Lock()
	if parent.own != nil {
		layers = append(layers, parent.own)
	}
	parent.mu.Unlock()
	return layers
}

// directParentLayers returns the layers contributed by b's direct parent
// at snapshot time: the parent's history up to a level-appropriate
// boundary, plus (only at READ_UNCOMMITTED and below) the parent's own
// currently-accumulating change-set.
func directParentLayers(a *arena, b *branchState, level IsolationLevel) []*changeset.Changeset {
	if b.parent == 0 {
		return nil
	}
	parent := a.get(b.parent)
	if parent == nil {
		return nil
	}
	var bound int
	if level <= ReadCommitted {
		parent.historyMu.RLock()
		bound = len(parent.history)
		parent.historyMu.RUnlock()
	} else {
		b.mu.Lock()
		bound = b.forkIndex
		b.mu.Unlock()
	}
	parent.historyMu.RLock()
	if bound > len(parent.history) {
		bound = len(parent.history)
	}
	layers := append([]*changeset.Changeset{}, parent.history[:bound]...)
	parent.historyMu.RUnlock()

	if level <= ReadUncommitted {
		parent.mu.Lock()
		if parent.own != nil {
			layers = append(layers, parent.own)
		}
		parent.mu.Unlock()
	}
	return layers
}

// effectiveChangeset computes the single combined changeset this branch's
// Dataset should overlay on top of the root backing store, per the merge
// algorithm in the dataset view's specification.
func (b *branchState) effectiveChangeset(level IsolationLevel) *changeset.Changeset {
	var layers []*changeset.Changeset
	if b.parent != 0 {
		parent := b.arena.get(b.parent)
		if parent != nil {
			layers = append(layers, ancestorLayers(b.arena, b.parent)...)
			layers = append(layers, directParentLayers(b.arena, b, level)...)
		}
	}
	b.mu.Lock()
	if b.own != nil {
		layers = append(layers, b.own)
	}
	b.mu.Unlock()
	return changeset.Combine(layers...)
}

func (b *branchState) rootBacking() store.Backing {
	if b.parent == 0 {
		return b.backing
	}
	parent := b.arena.get(b.parent)
	if parent == nil {
		return nil
	}
	return parent.rootBacking()
}

// Snapshot returns a read view merging the backing store with every
// pending change in this branch's ancestor chain and its own accumulated
// writes, following the isolation rules in the dataset view contract. At
// SNAPSHOT_READ and stronger, the backing store's own content is frozen at
// call time so that a later sibling commit landing directly in the backing
// store cannot leak into this dataset's reads, matching the repeatable-read
// guarantee those levels promise alongside the overlay boundary-freezing
// already applied to the branch's ancestor history.
func (s Source) Snapshot(ctx context.Context, level IsolationLevel) (*Dataset, error) {
	b, err := s.state()
	if err != nil {
		return nil, err
	}
	backing := b.rootBacking()
	if backing == nil {
		return nil, errors.New("sail: branch has no backing root")
	}
	effective := b.effectiveChangeset(level)
	ds := &Dataset{backing: backing, overlay: effective}
	if level >= SnapshotRead {
		it, err := backing.Statements(ctx, rdf.Pattern{})
		if err != nil {
			return nil, err
		}
		frozen, err := rdf.Drain(it)
		if err != nil {
			return nil, err
		}
		ds.frozenBase = frozen
		if ds.frozenBase == nil {
			ds.frozenBase = []rdf.Statement{}
		}
	}
	return ds, nil
}

// Sink returns a writer accumulating into this branch's own change-set.
func (s Source) Sink(level IsolationLevel) (*Sink, error) {
	b, err := s.state()
	if err != nil {
		return nil, err
	}
	return &Sink{source: s, branch: b, level: level, cs: b.ownChangeset()}, nil
}

// Prepare recursively prepares the parent branch, then runs the
// SERIALIZABLE conflict check: for every observation pattern this branch
// recorded, if any change-set flushed by a sibling into the parent since
// this branch forked matches that pattern, ErrConflict is returned and the
// branch must be rolled back by its owner.
func (s Source) Prepare(_ context.Context) error {
	b, err := s.state()
	if err != nil {
		return err
	}
	if b.parent != 0 {
		parentSrc := Source{arena: s.arena, h: b.parent}
		if err := parentSrc.Prepare(context.Background()); err != nil {
			return err
		}
	}

	b.mu.Lock()
	own := b.own
	b.mu.Unlock()
	if own == nil {
		return nil
	}
	observations := own.Observations()
	if len(observations) == 0 || b.parent == 0 {
		return nil
	}

	parent := b.arena.get(b.parent)
	if parent == nil {
		return nil
	}
	parent.historyMu.RLock()
	siblings := append([]*changeset.Changeset{}, parent.history[b.forkIndex:]...)
	parent.historyMu.RUnlock()

	for _, pattern := range observations {
		for _, sibling := range siblings {
			if sibling.Matches(pattern) {
				return ErrConflict
			}
		}
	}
	return nil
}

// Flush transfers this branch's accumulated change-set into its parent
// atomically: for a forked branch that means appending to the parent's
// history (the "prepend list" sibling branches will conflict-check
// against); for a root branch that means committing into the backing
// store, which is where durability is actually established.
func (s Source) Flush(ctx context.Context) error {
	b, err := s.state()
	if err != nil {
		return err
	}

	b.mu.Lock()
	own := b.own
	b.own = nil
	b.mu.Unlock()

	if own == nil || own.IsEmpty() {
		return nil
	}

	if b.parent == 0 {
		b.historyMu.Lock()
		defer b.historyMu.Unlock()
		if err := b.backing.CommitChangeset(ctx, own); err != nil {
			b.mu.Lock()
			b.own = own
			b.mu.Unlock()
			return errors.Wrap(err, "sail: flush to backing store")
		}
		return nil
	}

	parent := b.arena.get(b.parent)
	if parent == nil {
		return ErrBranchReleased
	}
	// The write side of parent.historyMu is the parent's commit mutex: it
	// is held across both the history append and the backing-store write
	// below, so flushes into one source are totally ordered.
	parent.historyMu.Lock()
	defer parent.historyMu.Unlock()
	parent.history = append(parent.history, own)

	// A direct child of the root is the common case (every
	// pkg/connection transaction forks exactly one level from the
	// store's root Source), and nothing ever flushes the root's own
	// change-set on its behalf. Without this, committed transactions
	// would only ever become visible through parent.history and would
	// never reach the backing store, so durability would depend on the
	// root branch happening to flush itself, which it never does.
	// Writing through here is safe for repeatable reads: SNAPSHOT_READ
	// and stronger already took a frozenBase copy of backing at
	// Snapshot() time, before this flush could have happened, and
	// weaker levels are defined to observe commits as they land.
	if parent.parent == 0 && parent.backing != nil {
		if err := parent.backing.CommitChangeset(ctx, own); err != nil {
			return errors.Wrap(err, "sail: flush to backing store")
		}
	}
	return nil
}

// Checkpoint prepares and flushes this branch's accumulated writes the same
// way Flush does, then rebases its fork boundary forward to the parent's
// current history length so the branch's own just-flushed writes stay
// visible to its own later reads even at SNAPSHOT_READ and stronger,
// instead of looking like a sibling's commit that boundary-freezing should
// hide. Used to bound memory on a long-lived branch (many buffered writes
// before a single Commit) without ending the transaction.
func (s Source) Checkpoint(ctx context.Context) error {
	if err := s.Prepare(ctx); err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	b, err := s.state()
	if err != nil {
		return err
	}
	if b.parent == 0 {
		return nil
	}
	parent := b.arena.get(b.parent)
	if parent == nil {
		return nil
	}
	parent.historyMu.RLock()
	newForkIndex := len(parent.history)
	parent.historyMu.RUnlock()
	b.mu.Lock()
	b.forkIndex = newForkIndex
	b.mu.Unlock()
	return nil
}

// Dataset returns a default READ_COMMITTED snapshot, a convenience used by
// call sites (like namespace lookups) that don't care about isolation.
func (s Source) Dataset(ctx context.Context) (*Dataset, error) {
	return s.Snapshot(ctx, ReadCommitted)
}

// ForkedFrom reports whether this source was created by Fork() (has a
// parent) rather than being a store root.
func (s Source) ForkedFrom() bool {
	b, err := s.state()
	if err != nil {
		return false
	}
	return b.parent != 0
}
