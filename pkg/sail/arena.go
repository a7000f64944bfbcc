package sail

import "sync"

// handle is a branch's address in its store's arena: an opaque integer, not
// a pointer. This is the concrete realization of the "arena-allocated
// branches indexed by handle" design note — it lets a Dataset hold a
// strong handle to the branch it was taken from while the branch itself
// holds only a handle (not a pointer) back to its parent, so a
// branch/dataset cycle is never expressed as a live pointer graph that a
// garbage collector would need to break.
type handle int

// arena owns every branchState allocated for one StatementStore. Handles
// are never reused within the arena's lifetime, so a stale handle always
// resolves to nil rather than to a different, unrelated branch.
type arena struct {
	mu     sync.Mutex
	next   handle
	states map[handle]*branchState
}

func newArena() *arena {
	return &arena{states: make(map[handle]*branchState)}
}

func (a *arena) alloc(s *branchState) handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	h := a.next
	s.self = h
	a.states[h] = s
	return h
}

func (a *arena) get(h handle) *branchState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[h]
}
