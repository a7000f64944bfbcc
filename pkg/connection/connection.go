// Package connection implements the client-facing façade over a
// pkg/sail.Source pair (explicit and inferred): transaction lifecycle,
// isolation negotiation, buffered writes, inferred-statement idempotence,
// notification listeners, and a leak-tracked iterator registry.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/rickmoynihan/quadsail/internal/leaktrack"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
	"github.com/rickmoynihan/quadsail/pkg/sail"
	"github.com/rickmoynihan/quadsail/pkg/store"
	"github.com/rickmoynihan/quadsail/pkg/triplesource"
)

// State is the connection lifecycle state: Closed -> Open -> Active ->
// Prepared -> {Committed|RolledBack} -> Open, exactly as named in the data
// model.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateActive
	StatePrepared
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateActive:
		return "ACTIVE"
	case StatePrepared:
		return "PREPARED"
	default:
		return "UNKNOWN"
	}
}

// Connection is the client-facing transactional handle over a
// store.StatementStore. A single Connection is not safe for concurrent use
// by multiple goroutines issuing overlapping transactions, though its
// locks do make Close() safe to call concurrently with an in-flight
// operation.
type Connection struct {
	store  store.StatementStore
	config Config

	explicitRoot sail.Source
	inferredRoot sail.Source

	// connLock is the connection's reader/writer lock: ordinary operations
	// take RLock, Close takes Lock.
	connLock sync.RWMutex
	// updateLock serializes begin/commit/rollback and every write against
	// each other within one transaction.
	updateLock sync.Mutex

	state State
	level sail.IsolationLevel

	explicitBranch sail.Source
	inferredBranch sail.Source
	explicitSink   *sail.Sink
	inferredSink   *sail.Sink

	writeCount int

	listeners []NotificationListener

	tracker *leaktrack.Tracker

	updateContexts map[string]*UpdateContext

	// doomed, once set, is returned by every subsequent operation until
	// the transaction is rolled back: a store I/O error marks the
	// transaction doomed rather than leaving it half-committed.
	doomed error
}

// Open creates a Connection over the given store using cfg.
func Open(st store.StatementStore, cfg Config) *Connection {
	tracker := leaktrack.New(cfg.TrackResourceSites,
		time.Duration(cfg.LeakCollectionIntervalMS)*time.Millisecond, 0)
	tracker.StartSweep()
	return &Connection{
		store:          st,
		config:         cfg,
		explicitRoot:   sail.NewRootSource(st.ExplicitBacking()),
		inferredRoot:   sail.NewRootSource(st.InferredBacking()),
		state:          StateOpen,
		level:          cfg.DefaultIsolationLevel,
		tracker:        tracker,
		updateContexts: make(map[string]*UpdateContext),
	}
}

func (c *Connection) verifyNotClosed() error {
	if c.state == StateClosed {
		return ErrClosed
	}
	if c.doomed != nil {
		return c.doomed
	}
	return nil
}

// Begin starts a transaction at the weakest supported level compatible
// with (at least as strong as) requested.
func (c *Connection) Begin(requested sail.IsolationLevel) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()

	if err := c.verifyNotClosed(); err != nil {
		return err
	}
	if c.state == StateActive || c.state == StatePrepared {
		return ErrTransactionAlreadyActive
	}

	level, ok := sail.CompatibleLevel(requested, c.config.SupportedIsolationLevels)
	if !ok {
		return sail.ErrIsolationNotSupported
	}

	explicitBranch, err := c.explicitRoot.Fork()
	if err != nil {
		return errors.Wrap(err, "connection: fork explicit branch")
	}
	inferredBranch, err := c.inferredRoot.Fork()
	if err != nil {
		explicitBranch.Release()
		return errors.Wrap(err, "connection: fork inferred branch")
	}

	explicitSink, err := explicitBranch.Sink(level)
	if err != nil {
		explicitBranch.Release()
		inferredBranch.Release()
		return err
	}
	inferredSink, err := inferredBranch.Sink(level)
	if err != nil {
		explicitBranch.Release()
		inferredBranch.Release()
		return err
	}

	c.level = level
	c.explicitBranch = explicitBranch
	c.inferredBranch = inferredBranch
	c.explicitSink = explicitSink
	c.inferredSink = inferredSink
	c.writeCount = 0
	c.doomed = nil
	c.state = StateActive
	return nil
}

func (c *Connection) requireActive() error {
	if err := c.verifyNotClosed(); err != nil {
		return err
	}
	if c.state != StateActive {
		return ErrNoActiveTransaction
	}
	return nil
}

// Prepare runs the conflict check on both branches without releasing them,
// transitioning Active -> Prepared. A failed Prepare leaves the
// transaction doomed; the caller must Rollback.
func (c *Connection) Prepare(ctx context.Context) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	if err := c.explicitBranch.Prepare(ctx); err != nil {
		c.doomed = err
		return err
	}
	if err := c.inferredBranch.Prepare(ctx); err != nil {
		c.doomed = err
		return err
	}
	c.state = StatePrepared
	return nil
}

// Commit prepares (if not already prepared) and flushes both branches into
// their parents, then returns the connection to Open. If preparing or
// flushing fails, the transaction is rolled back and the connection is
// likewise returned to Open with its buffers cleared.
func (c *Connection) Commit(ctx context.Context) (err error) {
	c.updateLock.Lock()
	defer c.updateLock.Unlock()

	if c.state != StateActive && c.state != StatePrepared {
		return ErrNoActiveTransaction
	}
	defer func() {
		if err != nil {
			c.releaseTransactionState()
			c.doomed = nil
			c.state = StateOpen
		}
	}()
	if c.state == StateActive {
		if err := c.explicitBranch.Prepare(ctx); err != nil {
			return err
		}
		if err := c.inferredBranch.Prepare(ctx); err != nil {
			return err
		}
		c.state = StatePrepared
	}

	if err := c.explicitSink.Flush(ctx); err != nil {
		return errors.Wrap(err, "connection: flush explicit")
	}
	if err := c.inferredSink.Flush(ctx); err != nil {
		return errors.Wrap(err, "connection: flush inferred")
	}

	c.releaseTransactionState()
	c.state = StateOpen
	return nil
}

// Rollback discards both branches' pending writes and returns the
// connection to Open.
func (c *Connection) Rollback(_ context.Context) error {
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if c.state != StateActive && c.state != StatePrepared {
		return ErrNoActiveTransaction
	}
	c.releaseTransactionState()
	c.doomed = nil
	c.state = StateOpen
	return nil
}

func (c *Connection) releaseTransactionState() {
	if c.explicitSink != nil {
		c.explicitSink.Close()
	}
	if c.inferredSink != nil {
		c.inferredSink.Close()
	}
	if c.explicitBranch.IsActive() {
		c.explicitBranch.Release()
	}
	if c.inferredBranch.IsActive() {
		c.inferredBranch.Release()
	}
	c.explicitSink = nil
	c.inferredSink = nil
}

// checkAutoFlushBoundary counts this write against the batch boundary and,
// once AutoFlushBlockSize writes have accumulated, ends and restarts both
// branches' current buffered update: it checkpoints each branch (conflict
// check + flush into its parent, or the backing store) and replaces the
// sink with a fresh one bound to the same branch and level, so a long bulk
// load never grows one unbounded in-memory change-set.
func (c *Connection) checkAutoFlushBoundary() error {
	c.writeCount++
	if c.config.AutoFlushBlockSize <= 0 || c.writeCount%c.config.AutoFlushBlockSize != 0 {
		return nil
	}
	log.Debug().Int("count", c.writeCount).Msg("connection: batch boundary reached, auto-flushing buffered writes")

	ctx := context.Background()
	if err := c.explicitBranch.Checkpoint(ctx); err != nil {
		c.doomed = errors.Wrap(err, "connection: auto-flush explicit")
		return c.doomed
	}
	if err := c.inferredBranch.Checkpoint(ctx); err != nil {
		c.doomed = errors.Wrap(err, "connection: auto-flush inferred")
		return c.doomed
	}

	explicitSink, err := c.explicitBranch.Sink(c.level)
	if err != nil {
		c.doomed = errors.Wrap(err, "connection: restart explicit sink")
		return c.doomed
	}
	inferredSink, err := c.inferredBranch.Sink(c.level)
	if err != nil {
		c.doomed = errors.Wrap(err, "connection: restart inferred sink")
		return c.doomed
	}
	c.explicitSink.Close()
	c.inferredSink.Close()
	c.explicitSink = explicitSink
	c.inferredSink = inferredSink
	return nil
}

// AddStatement stages an addition against the explicit branch. Unlike
// AddInferredStatement it performs no existence check: asserting the same
// explicit statement twice is simply idempotent at the changeset/dataset
// layer, not specially detected here.
func (c *Connection) AddStatement(st rdf.Statement) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	if err := c.explicitSink.Approve(st); err != nil {
		return err
	}
	if err := c.checkAutoFlushBoundary(); err != nil {
		return err
	}
	c.notifyAdded(st)
	return nil
}

// RemoveStatement stages a removal against the explicit branch.
func (c *Connection) RemoveStatement(st rdf.Statement) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	if err := c.explicitSink.Deprecate(st); err != nil {
		return err
	}
	if err := c.checkAutoFlushBoundary(); err != nil {
		return err
	}
	c.notifyRemoved(st)
	return nil
}

// AddInferredStatement stages an addition against the inferred branch, but
// only if the statement is not already explicit or already inferred —
// checking the explicit branch first, since a fact already asserted
// explicitly must never also be staged as a duplicate inferred fact. It
// reports whether the statement was newly added and notifies listeners
// exactly once.
func (c *Connection) AddInferredStatement(ctx context.Context, st rdf.Statement) (bool, error) {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return false, err
	}

	alreadyExplicit, err := c.hasStatementLocked(ctx, c.explicitBranch, st)
	if err != nil {
		return false, err
	}
	if alreadyExplicit {
		return false, nil
	}
	alreadyInferred, err := c.hasStatementLocked(ctx, c.inferredBranch, st)
	if err != nil {
		return false, err
	}
	if alreadyInferred {
		return false, nil
	}
	if err := c.inferredSink.Approve(st); err != nil {
		return false, err
	}
	if err := c.checkAutoFlushBoundary(); err != nil {
		return true, err
	}
	c.notifyAdded(st)
	return true, nil
}

// RemoveInferredStatement stages a removal against the inferred branch only
// if the statement currently exists there, notifying listeners exactly
// once on an actual removal.
func (c *Connection) RemoveInferredStatement(ctx context.Context, st rdf.Statement) (bool, error) {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return false, err
	}

	exists, err := c.hasStatementLocked(ctx, c.inferredBranch, st)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := c.inferredSink.Deprecate(st); err != nil {
		return false, err
	}
	if err := c.checkAutoFlushBoundary(); err != nil {
		return true, err
	}
	c.notifyRemoved(st)
	return true, nil
}

func (c *Connection) hasStatementLocked(ctx context.Context, branch sail.Source, st rdf.Statement) (bool, error) {
	ds, err := branch.Snapshot(ctx, c.level)
	if err != nil {
		return false, err
	}
	defer ds.Close()
	pattern := rdf.Pattern{
		Subject:   &st.Subject,
		Predicate: &st.Predicate,
		Object:    &st.Object,
		Contexts:  []*rdf.Value{st.Context},
	}
	it, err := ds.Statements(ctx, pattern)
	if err != nil {
		return false, err
	}
	defer it.Close()
	_, ok, err := it.Next()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Clear stages a graph clear on the explicit branch, following
// Changeset.Clear's no-contexts/explicit-contexts split.
func (c *Connection) Clear(contexts ...*rdf.Value) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	return c.explicitSink.Clear(contexts...)
}

// ClearInferred is Clear's inferred-branch counterpart.
func (c *Connection) ClearInferred(contexts ...*rdf.Value) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	return c.inferredSink.Clear(contexts...)
}

func (c *Connection) SetNamespace(prefix, name string) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	return c.explicitSink.SetNamespace(prefix, name)
}

func (c *Connection) RemoveNamespace(prefix string) error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	return c.explicitSink.RemoveNamespace(prefix)
}

func (c *Connection) ClearNamespaces() error {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	c.updateLock.Lock()
	defer c.updateLock.Unlock()
	if err := c.requireActive(); err != nil {
		return err
	}
	return c.explicitSink.ClearNamespaces()
}

// currentExplicitSource returns the branch backing reads when a
// transaction is active, or the store's root explicit source in
// autocommit mode.
func (c *Connection) currentExplicitSource() sail.Source {
	if c.state == StateActive || c.state == StatePrepared {
		return c.explicitBranch
	}
	return c.explicitRoot
}

func (c *Connection) currentInferredSource() sail.Source {
	if c.state == StateActive || c.state == StatePrepared {
		return c.inferredBranch
	}
	return c.inferredRoot
}

// GetStatements implements the TripleSource read surface: wildcard
// subject/predicate/object (nil = unbound), includeInferred selecting
// whether the union of explicit and inferred statements is returned, and
// the same contexts convention as Dataset.Statements. Under SERIALIZABLE
// the pattern is recorded as an observation for the conflict check at
// Prepare/Commit time.
func (c *Connection) GetStatements(ctx context.Context, subject, predicate, object *rdf.Value, includeInferred bool, contexts ...*rdf.Value) (rdf.StatementIterator, error) {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	if err := c.verifyNotClosed(); err != nil {
		return nil, err
	}

	pattern := triplesource.PatternFrom(subject, predicate, object, contexts...)

	if (c.state == StateActive || c.state == StatePrepared) && c.level >= sail.Serializable {
		c.updateLock.Lock()
		c.explicitSink.Observe(pattern)
		if includeInferred {
			c.inferredSink.Observe(pattern)
		}
		c.updateLock.Unlock()
	}

	explicitDS, err := c.currentExplicitSource().Snapshot(ctx, c.level)
	if err != nil {
		return nil, err
	}
	explicitStmts, err := explicitDS.Statements(ctx, pattern)
	if err != nil {
		explicitDS.Close()
		return nil, err
	}
	merged, err := rdf.Drain(explicitStmts)
	if err != nil {
		explicitDS.Close()
		return nil, err
	}

	if includeInferred {
		inferredDS, err := c.currentInferredSource().Snapshot(ctx, c.level)
		if err != nil {
			explicitDS.Close()
			return nil, err
		}
		inferredStmts, err := inferredDS.Statements(ctx, pattern)
		if err != nil {
			explicitDS.Close()
			inferredDS.Close()
			return nil, err
		}
		extra, err := rdf.Drain(inferredStmts)
		inferredDS.Close()
		if err != nil {
			explicitDS.Close()
			return nil, err
		}
		seen := make(map[rdf.Key]struct{}, len(merged))
		for _, st := range merged {
			seen[rdf.KeyOf(st)] = struct{}{}
		}
		for _, st := range extra {
			k := rdf.KeyOf(st)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, st)
		}
	}

	it := rdf.NewSliceStatementIterator(merged)
	cancelable := &ctxIterator{ctx: ctx, inner: it}
	result := sail.Interlock(cancelable, explicitDS, c.currentExplicitSource(), false)
	handle := c.tracker.Track("iterator", func() { result.Close() })
	if handle != nil {
		return &trackedIterator{inner: result, handle: handle}, nil
	}
	return result, nil
}

// ctxIterator fails Next with ErrCancelled/ErrTimeout once ctx is done: a
// cancelled context fails the next blocking call; a context that expired
// via a deadline (context.WithTimeout) fails it with ErrTimeout instead.
type ctxIterator struct {
	ctx   context.Context
	inner rdf.StatementIterator
}

func (c *ctxIterator) Next() (rdf.Statement, bool, error) {
	if err := c.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return rdf.Statement{}, false, ErrTimeout
		}
		return rdf.Statement{}, false, ErrCancelled
	}
	return c.inner.Next()
}

func (c *ctxIterator) Close() error {
	return c.inner.Close()
}

type trackedIterator struct {
	inner  rdf.StatementIterator
	handle *leaktrack.Handle
}

func (t *trackedIterator) Next() (rdf.Statement, bool, error) { return t.inner.Next() }

func (t *trackedIterator) Close() error {
	t.handle.Release()
	return t.inner.Close()
}

// Namespaces enumerates the merged namespace table visible to the current
// transaction (or the committed state, in autocommit mode).
func (c *Connection) Namespaces(ctx context.Context) (rdf.NamespaceIterator, error) {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	if err := c.verifyNotClosed(); err != nil {
		return nil, err
	}
	ds, err := c.currentExplicitSource().Snapshot(ctx, c.level)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	return ds.Namespaces(ctx)
}

// Close releases the connection. Any in-flight transaction is rolled back
// with a warning rather than left dangling.
func (c *Connection) Close() error {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.state == StateClosed {
		return nil
	}
	if c.state == StateActive || c.state == StatePrepared {
		log.Warn().Msg("connection: rolling back transaction due to connection close")
		c.releaseTransactionState()
	}
	c.tracker.ForceCloseAll()
	c.tracker.StopSweep()
	c.state = StateClosed
	return c.store.Close()
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() State {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	return c.state
}
