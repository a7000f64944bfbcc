package connection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickmoynihan/quadsail/pkg/rdf"
	"github.com/rickmoynihan/quadsail/pkg/sail"
	"github.com/rickmoynihan/quadsail/pkg/store"
)

func stmt(s, p, o string) rdf.Statement {
	return rdf.NewStatement(rdf.NewIRI(s), rdf.NewIRI(p), rdf.NewIRI(o))
}

func drainConn(t *testing.T, it rdf.StatementIterator) []rdf.Statement {
	t.Helper()
	out, err := rdf.Drain(it)
	require.NoError(t, err)
	return out
}

func TestTwoTransactionsBothCommitIndependently(t *testing.T) {
	st := store.NewMemStore()
	connA := Open(st, DefaultConfig())
	defer connA.Close()
	connB := Open(st, DefaultConfig())
	defer connB.Close()

	require.NoError(t, connA.Begin(sail.ReadCommitted))
	require.NoError(t, connA.AddStatement(stmt("a", "p", "o")))
	require.NoError(t, connA.Commit(context.Background()))

	require.NoError(t, connB.Begin(sail.ReadCommitted))
	require.NoError(t, connB.AddStatement(stmt("b", "p", "o")))
	require.NoError(t, connB.Commit(context.Background()))

	it, err := connA.GetStatements(context.Background(), nil, nil, nil, false)
	require.NoError(t, err)
	got := drainConn(t, it)
	it.Close()
	assert.Len(t, got, 2, "both independently committed transactions must be visible")
}

func TestAddInferredStatementIsIdempotentAndNotifiesOnce(t *testing.T) {
	st := store.NewMemStore()
	conn := Open(st, DefaultConfig())
	defer conn.Close()

	var added []rdf.Statement
	conn.AddListener(listenerFunc{
		add: func(s rdf.Statement) { added = append(added, s) },
	})

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	ctx := context.Background()
	s := stmt("s", "p", "o")

	ok1, err := conn.AddInferredStatement(ctx, s)
	require.NoError(t, err)
	assert.True(t, ok1, "first assertion of a new inferred fact must report added=true")

	ok2, err := conn.AddInferredStatement(ctx, s)
	require.NoError(t, err)
	assert.False(t, ok2, "re-asserting an already-visible inferred fact must report added=false")

	require.NoError(t, conn.Commit(ctx))
	assert.Len(t, added, 1, "listener must receive exactly one add event")
}

func TestAddInferredStatementFailsWhenAlreadyExplicit(t *testing.T) {
	st := store.NewMemStore()
	conn := Open(st, DefaultConfig())
	defer conn.Close()
	ctx := context.Background()
	s := stmt("s", "p", "o")

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	require.NoError(t, conn.AddStatement(s))
	require.NoError(t, conn.Commit(ctx))

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	ok, err := conn.AddInferredStatement(ctx, s)
	require.NoError(t, err)
	assert.False(t, ok, "a fact already asserted explicitly must never also be staged as inferred")
	require.NoError(t, conn.Commit(ctx))

	it, err := conn.GetStatements(ctx, nil, nil, nil, true)
	require.NoError(t, err)
	got := drainConn(t, it)
	it.Close()
	assert.Len(t, got, 1, "no duplicate inferred copy of the already-explicit fact must exist")
}

func TestRemoveInferredStatementOnlyFiresWhenPresent(t *testing.T) {
	st := store.NewMemStore()
	conn := Open(st, DefaultConfig())
	defer conn.Close()
	ctx := context.Background()
	s := stmt("s", "p", "o")

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	ok, err := conn.RemoveInferredStatement(ctx, s)
	require.NoError(t, err)
	assert.False(t, ok, "removing a fact that was never asserted must report removed=false")

	_, err = conn.AddInferredStatement(ctx, s)
	require.NoError(t, err)

	ok, err = conn.RemoveInferredStatement(ctx, s)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, conn.Commit(ctx))
}

func TestClearWithContextsOnlyRemovesThatGraph(t *testing.T) {
	st := store.NewMemStore()
	conn := Open(st, DefaultConfig())
	defer conn.Close()
	ctx := context.Background()

	g1 := rdf.NewIRI("g1")
	g2 := rdf.NewIRI("g2")

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	require.NoError(t, conn.AddStatement(rdf.NewStatementInContext(rdf.NewIRI("s1"), rdf.NewIRI("p"), rdf.NewIRI("o"), g1)))
	require.NoError(t, conn.AddStatement(rdf.NewStatementInContext(rdf.NewIRI("s2"), rdf.NewIRI("p"), rdf.NewIRI("o"), g2)))
	require.NoError(t, conn.Commit(ctx))

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	require.NoError(t, conn.Clear(&g1))
	require.NoError(t, conn.Commit(ctx))

	it, err := conn.GetStatements(ctx, nil, nil, nil, false)
	require.NoError(t, err)
	got := drainConn(t, it)
	it.Close()
	require.Len(t, got, 1)
	assert.True(t, got[0].Context.Equal(g2), "Clear(g1) must leave g2's statement untouched")
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	st := store.NewMemStore()
	conn := Open(st, DefaultConfig())
	defer conn.Close()
	ctx := context.Background()

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	require.NoError(t, conn.AddStatement(stmt("s", "p", "o")))
	require.NoError(t, conn.Rollback(ctx))

	it, err := conn.GetStatements(ctx, nil, nil, nil, false)
	require.NoError(t, err)
	got := drainConn(t, it)
	it.Close()
	assert.Len(t, got, 0, "a rolled-back transaction's writes must never become visible")
}

func TestBeginWhileActiveFails(t *testing.T) {
	st := store.NewMemStore()
	conn := Open(st, DefaultConfig())
	defer conn.Close()

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	err := conn.Begin(sail.ReadCommitted)
	assert.ErrorIs(t, err, ErrTransactionAlreadyActive)
}

func TestCommitWithoutActiveTransactionFails(t *testing.T) {
	st := store.NewMemStore()
	conn := Open(st, DefaultConfig())
	defer conn.Close()

	err := conn.Commit(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveTransaction)
}

func TestAbandonedIteratorIsForceClosedOnConnectionClose(t *testing.T) {
	st := store.NewMemStore()
	cfg := DefaultConfig()
	cfg.TrackResourceSites = true
	conn := Open(st, cfg)
	ctx := context.Background()

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	require.NoError(t, conn.AddStatement(stmt("s", "p", "o")))
	require.NoError(t, conn.Commit(ctx))

	it, err := conn.GetStatements(ctx, nil, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, conn.tracker.LiveCount(), "the open iterator must be registered with the leak tracker")

	require.NoError(t, conn.Close())
	assert.Equal(t, 0, conn.tracker.LiveCount(), "Close must force-close every still-open tracked resource")
	_ = it
}

func TestGetStatementsFailsWithCancelledContext(t *testing.T) {
	st := store.NewMemStore()
	conn := Open(st, DefaultConfig())
	defer conn.Close()

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	require.NoError(t, conn.AddStatement(stmt("s", "p", "o")))
	require.NoError(t, conn.Commit(context.Background()))

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	it, err := conn.GetStatements(cctx, nil, nil, nil, false)
	require.NoError(t, err)
	defer it.Close()
	_, _, err = it.Next()
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestAutoFlushBoundaryCheckpointsWithoutEndingTheTransaction(t *testing.T) {
	st := store.NewMemStore()
	cfg := DefaultConfig()
	cfg.AutoFlushBlockSize = 3
	conn := Open(st, cfg)
	defer conn.Close()
	ctx := context.Background()

	require.NoError(t, conn.Begin(sail.ReadCommitted))
	require.NoError(t, conn.AddStatement(stmt("a", "p", "o")))
	require.NoError(t, conn.AddStatement(stmt("b", "p", "o")))
	require.NoError(t, conn.AddStatement(stmt("c", "p", "o")))
	assert.Equal(t, StateActive, conn.state, "crossing the auto-flush boundary must not end the transaction")

	it, err := conn.GetStatements(ctx, nil, nil, nil, false)
	require.NoError(t, err)
	got := drainConn(t, it)
	it.Close()
	assert.Len(t, got, 3, "writes checkpointed at the boundary must stay visible to the same transaction")

	require.NoError(t, conn.AddStatement(stmt("d", "p", "o")))
	require.NoError(t, conn.Commit(ctx))

	it, err = conn.GetStatements(ctx, nil, nil, nil, false)
	require.NoError(t, err)
	got = drainConn(t, it)
	it.Close()
	assert.Len(t, got, 4, "both the checkpointed and the post-checkpoint writes must be durable after commit")
}

func TestAutoFlushBoundaryStaysVisibleUnderSnapshotRead(t *testing.T) {
	st := store.NewMemStore()
	cfg := DefaultConfig()
	cfg.AutoFlushBlockSize = 2
	conn := Open(st, cfg)
	defer conn.Close()
	ctx := context.Background()

	require.NoError(t, conn.Begin(sail.SnapshotRead))
	require.NoError(t, conn.AddStatement(stmt("a", "p", "o")))
	require.NoError(t, conn.AddStatement(stmt("b", "p", "o")))

	it, err := conn.GetStatements(ctx, nil, nil, nil, false)
	require.NoError(t, err)
	got := drainConn(t, it)
	it.Close()
	assert.Len(t, got, 2, "a SNAPSHOT_READ transaction must still see its own writes after an auto-flush checkpoint, not just a sibling's pre-fork state")

	require.NoError(t, conn.Commit(ctx))
}

type listenerFunc struct {
	add    func(rdf.Statement)
	remove func(rdf.Statement)
}

func (l listenerFunc) StatementAdded(st rdf.Statement) {
	if l.add != nil {
		l.add(st)
	}
}

func (l listenerFunc) StatementRemoved(st rdf.Statement) {
	if l.remove != nil {
		l.remove(st)
	}
}
