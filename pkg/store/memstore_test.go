package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickmoynihan/quadsail/pkg/changeset"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

func stmt(s, p, o string) rdf.Statement {
	return rdf.NewStatement(rdf.NewIRI(s), rdf.NewIRI(p), rdf.NewIRI(o))
}

func TestMemStoreExplicitAndInferredAreIndependentlyVersioned(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	explicitCS := changeset.New()
	explicitCS.Approve(stmt("s", "p", "explicit"))
	require.NoError(t, st.ExplicitBacking().CommitChangeset(ctx, explicitCS))

	inferredCS := changeset.New()
	inferredCS.Approve(stmt("s", "p", "inferred"))
	require.NoError(t, st.InferredBacking().CommitChangeset(ctx, inferredCS))

	it, err := st.ExplicitBacking().Statements(ctx, rdf.Pattern{})
	require.NoError(t, err)
	got, err := rdf.Drain(it)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "explicit", got[0].Object.IRIValue())
}

func TestMemStoreCommitChangesetAppliesClearBeforeApprovals(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()
	backing := st.ExplicitBacking()

	seed := changeset.New()
	seed.Approve(stmt("s1", "p", "o1"))
	require.NoError(t, backing.CommitChangeset(ctx, seed))

	cs := changeset.New()
	cs.Clear()
	cs.Approve(stmt("s2", "p", "o2"))
	require.NoError(t, backing.CommitChangeset(ctx, cs))

	it, err := backing.Statements(ctx, rdf.Pattern{})
	require.NoError(t, err)
	got, err := rdf.Drain(it)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o2", got[0].Object.IRIValue())
}

func TestMemStoreNamespaceRoundTrip(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()
	backing := st.ExplicitBacking()

	cs := changeset.New()
	cs.SetNamespace("ex", "http://example.org/")
	require.NoError(t, backing.CommitChangeset(ctx, cs))

	name, ok, err := backing.Namespace(ctx, "ex")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "http://example.org/", name)

	remove := changeset.New()
	remove.RemoveNamespace("ex")
	require.NoError(t, backing.CommitChangeset(ctx, remove))

	_, ok, err = backing.Namespace(ctx, "ex")
	require.NoError(t, err)
	assert.False(t, ok)
}
