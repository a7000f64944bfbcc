package connection

import (
	"context"

	"github.com/google/uuid"

	"github.com/rickmoynihan/quadsail/pkg/rdf"
	"github.com/rickmoynihan/quadsail/pkg/sail"
)

// UpdateContext binds a dataset+sink pair to an opaque handle so one
// SPARQL UPDATE clause's reads and writes stay consistent with each other
// even as other clauses in the same transaction keep mutating the branch.
type UpdateContext struct {
	id      string
	dataset *sail.Dataset
	sink    *sail.Sink
}

// StartUpdate opens a new UpdateContext bound to the explicit branch's
// current snapshot and a fresh sink over that same branch. Requires an
// active transaction.
func (c *Connection) StartUpdate(ctx context.Context) (*UpdateContext, error) {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return nil, err
	}

	ds, err := c.explicitBranch.Snapshot(ctx, c.level)
	if err != nil {
		return nil, err
	}
	sink, err := c.explicitBranch.Sink(c.level)
	if err != nil {
		ds.Close()
		return nil, err
	}
	uc := &UpdateContext{id: uuid.NewString(), dataset: ds, sink: sink}
	c.updateContexts[uc.id] = uc
	return uc, nil
}

// EndUpdate closes the UpdateContext's dataset and flushes its sink's
// staged writes into the branch.
func (c *Connection) EndUpdate(ctx context.Context, uc *UpdateContext) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	delete(c.updateContexts, uc.id)

	if err := uc.dataset.Close(); err != nil {
		return err
	}
	if err := uc.sink.Flush(ctx); err != nil {
		return err
	}
	return uc.sink.Close()
}

// Statements reads through the snapshot taken when this UpdateContext was
// started, so the UPDATE clause reads one consistent state while it writes;
// writes staged through this UpdateContext afterwards are not visible here.
func (uc *UpdateContext) Statements(ctx context.Context, pattern rdf.Pattern) (rdf.StatementIterator, error) {
	return uc.dataset.Statements(ctx, pattern)
}

// Approve stages an addition through this UpdateContext's sink.
func (uc *UpdateContext) Approve(st rdf.Statement) error {
	return uc.sink.Approve(st)
}

// Deprecate stages a removal through this UpdateContext's sink.
func (uc *UpdateContext) Deprecate(st rdf.Statement) error {
	return uc.sink.Deprecate(st)
}
