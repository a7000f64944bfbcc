package sail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickmoynihan/quadsail/pkg/rdf"
	"github.com/rickmoynihan/quadsail/pkg/store"
)

func stmt(s, p, o string) rdf.Statement {
	return rdf.NewStatement(rdf.NewIRI(s), rdf.NewIRI(p), rdf.NewIRI(o))
}

func drain(t *testing.T, it rdf.StatementIterator) []rdf.Statement {
	t.Helper()
	out, err := rdf.Drain(it)
	require.NoError(t, err)
	return out
}

func TestForkThenSnapshotSeesParentCommittedData(t *testing.T) {
	backing := store.NewMemStore().ExplicitBacking()
	root := NewRootSource(backing)

	sink, err := root.Sink(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, sink.Approve(stmt("s1", "p", "o1")))
	require.NoError(t, sink.Flush(context.Background()))

	branch, err := root.Fork()
	require.NoError(t, err)
	ds, err := branch.Snapshot(context.Background(), ReadCommitted)
	require.NoError(t, err)
	defer ds.Close()

	it, err := ds.Statements(context.Background(), rdf.Pattern{})
	require.NoError(t, err)
	defer it.Close()
	got := drain(t, it)
	assert.Len(t, got, 1)
}

func TestBranchWritesAreInvisibleToSiblingUntilFlushed(t *testing.T) {
	backing := store.NewMemStore().ExplicitBacking()
	root := NewRootSource(backing)

	branchA, err := root.Fork()
	require.NoError(t, err)
	branchB, err := root.Fork()
	require.NoError(t, err)

	sinkA, err := branchA.Sink(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, sinkA.Approve(stmt("s", "p", "o")))

	dsB, err := branchB.Snapshot(context.Background(), ReadCommitted)
	require.NoError(t, err)
	itB, err := dsB.Statements(context.Background(), rdf.Pattern{})
	require.NoError(t, err)
	gotBefore := drain(t, itB)
	dsB.Close()
	assert.Len(t, gotBefore, 0, "sibling branch must not see unflushed writes")

	require.NoError(t, sinkA.Flush(context.Background()))

	dsRoot, err := root.Snapshot(context.Background(), ReadCommitted)
	require.NoError(t, err)
	itRoot, err := dsRoot.Statements(context.Background(), rdf.Pattern{})
	require.NoError(t, err)
	gotAfter := drain(t, itRoot)
	dsRoot.Close()
	assert.Len(t, gotAfter, 1, "a direct child of the root commits through to the backing store on flush")
}

func TestSnapshotReadFreezesBoundaryAgainstLaterSiblingFlush(t *testing.T) {
	backing := store.NewMemStore().ExplicitBacking()
	root := NewRootSource(backing)

	reader, err := root.Fork()
	require.NoError(t, err)
	ds, err := reader.Snapshot(context.Background(), SnapshotRead)
	require.NoError(t, err)
	defer ds.Close()

	writer, err := root.Fork()
	require.NoError(t, err)
	sink, err := writer.Sink(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, sink.Approve(stmt("s", "p", "o")))
	require.NoError(t, sink.Flush(context.Background()))

	it, err := ds.Statements(context.Background(), rdf.Pattern{})
	require.NoError(t, err)
	got := drain(t, it)
	assert.Len(t, got, 0, "SNAPSHOT_READ must not see a sibling's commit that happened after the snapshot was taken")
}

func TestSerializableConflictOnOverlappingObservation(t *testing.T) {
	backing := store.NewMemStore().ExplicitBacking()
	root := NewRootSource(backing)

	txA, err := root.Fork()
	require.NoError(t, err)
	sinkA, err := txA.Sink(Serializable)
	require.NoError(t, err)
	dsA, err := txA.Snapshot(context.Background(), Serializable)
	require.NoError(t, err)
	s := rdf.NewIRI("contested")
	itA, err := dsA.Statements(context.Background(), rdf.Pattern{Subject: &s})
	require.NoError(t, err)
	_, _ = drain(t, itA), dsA.Close()
	sinkA.Observe(rdf.Pattern{Subject: &s})

	txB, err := root.Fork()
	require.NoError(t, err)
	sinkB, err := txB.Sink(Serializable)
	require.NoError(t, err)
	require.NoError(t, sinkB.Approve(rdf.NewStatement(s, rdf.NewIRI("p"), rdf.NewIRI("o"))))
	require.NoError(t, sinkB.Flush(context.Background()))

	err = txA.Prepare(context.Background())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSerializableNoConflictOnDisjointObservation(t *testing.T) {
	backing := store.NewMemStore().ExplicitBacking()
	root := NewRootSource(backing)

	txA, err := root.Fork()
	require.NoError(t, err)
	sinkA, err := txA.Sink(Serializable)
	require.NoError(t, err)
	watched := rdf.NewIRI("watched")
	sinkA.Observe(rdf.Pattern{Subject: &watched})

	txB, err := root.Fork()
	require.NoError(t, err)
	sinkB, err := txB.Sink(Serializable)
	require.NoError(t, err)
	require.NoError(t, sinkB.Approve(stmt("unrelated", "p", "o")))
	require.NoError(t, sinkB.Flush(context.Background()))

	assert.NoError(t, txA.Prepare(context.Background()))
}

func TestReleaseMakesBranchInactive(t *testing.T) {
	backing := store.NewMemStore().ExplicitBacking()
	root := NewRootSource(backing)
	branch, err := root.Fork()
	require.NoError(t, err)
	assert.True(t, branch.IsActive())
	require.NoError(t, branch.Release())
	assert.False(t, branch.IsActive())

	_, err = branch.Snapshot(context.Background(), ReadCommitted)
	assert.ErrorIs(t, err, ErrBranchReleased)
}

func TestIsolationCompatibleLevel(t *testing.T) {
	level, ok := CompatibleLevel(ReadCommitted, []IsolationLevel{NONE, Snapshot, Serializable})
	require.True(t, ok)
	assert.Equal(t, Snapshot, level)

	_, ok = CompatibleLevel(Serializable, []IsolationLevel{NONE, ReadCommitted})
	assert.False(t, ok)
}
