package sail

import (
	"context"
	"sync"

	"github.com/rickmoynihan/quadsail/pkg/changeset"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

// Sink is the write handle bound to one branch at one isolation level. All
// mutations stage into the branch's change-set; Flush prepares (runs the
// conflict check) and then propagates into the parent; Close releases
// buffers. Calling Flush twice on an untouched change-set is a no-op.
type Sink struct {
	mu     sync.Mutex
	source Source
	branch *branchState
	level  IsolationLevel
	cs     *changeset.Changeset
	closed bool
}

func (s *Sink) verifyOpen() error {
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// Approve stages an addition.
func (s *Sink) Approve(st rdf.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyOpen(); err != nil {
		return err
	}
	s.cs.Approve(st)
	return nil
}

// Deprecate stages a removal.
func (s *Sink) Deprecate(st rdf.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyOpen(); err != nil {
		return err
	}
	s.cs.Deprecate(st)
	return nil
}

// Observe records a read pattern for SERIALIZABLE conflict detection. It is
// only meaningful — and should only be called by the connection layer —
// when the sink's isolation level is Serializable.
func (s *Sink) Observe(p rdf.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyOpen(); err != nil {
		return err
	}
	if s.level < Serializable {
		return nil
	}
	s.cs.Observe(p)
	return nil
}

// Clear stages a graph clear, following the same semantics as
// Changeset.Clear.
func (s *Sink) Clear(contexts ...*rdf.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyOpen(); err != nil {
		return err
	}
	s.cs.Clear(contexts...)
	return nil
}

func (s *Sink) SetNamespace(prefix, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyOpen(); err != nil {
		return err
	}
	s.cs.SetNamespace(prefix, name)
	return nil
}

func (s *Sink) RemoveNamespace(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyOpen(); err != nil {
		return err
	}
	s.cs.RemoveNamespace(prefix)
	return nil
}

func (s *Sink) ClearNamespaces() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyOpen(); err != nil {
		return err
	}
	s.cs.ClearNamespaces()
	return nil
}

// Flush prepares (conflict-checks) and then propagates this sink's branch
// change-set to the parent source.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyOpen(); err != nil {
		return err
	}
	if err := s.source.Prepare(ctx); err != nil {
		return err
	}
	return s.source.Flush(ctx)
}

// Close releases the sink's buffers. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
