package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

func stmt(s, p, o string) rdf.Statement {
	return rdf.NewStatement(rdf.NewIRI(s), rdf.NewIRI(p), rdf.NewIRI(o))
}

func TestApproveThenDeprecateRemovesFromApproved(t *testing.T) {
	cs := New()
	st := stmt("s", "p", "o")
	cs.Approve(st)
	require.Len(t, cs.Approved(), 1)

	cs.Deprecate(st)
	assert.Len(t, cs.Approved(), 0)
	assert.Len(t, cs.Deprecated(), 1)
}

func TestDeprecateThenApproveRemovesFromDeprecated(t *testing.T) {
	cs := New()
	st := stmt("s", "p", "o")
	cs.Deprecate(st)
	require.Len(t, cs.Deprecated(), 1)

	cs.Approve(st)
	assert.Len(t, cs.Deprecated(), 0)
	assert.Len(t, cs.Approved(), 1)
}

func TestApprovedAndDeprecatedAreDisjoint(t *testing.T) {
	cs := New()
	a := stmt("a", "p", "o")
	b := stmt("b", "p", "o")
	cs.Approve(a)
	cs.Deprecate(b)

	for k := range cs.Approved() {
		_, dup := cs.Deprecated()[k]
		assert.False(t, dup, "key present in both approved and deprecated")
	}
}

func TestClearWithNoContextsSetsStatementClearedAndDropsApprovals(t *testing.T) {
	cs := New()
	cs.Approve(stmt("s", "p", "o"))
	cs.Clear()
	assert.True(t, cs.IsStatementCleared())
	assert.Len(t, cs.Approved(), 0)
}

func TestClearWithContextsRecordsDeprecatedContexts(t *testing.T) {
	g := rdf.NewIRI("g1")
	cs := New()
	cs.Clear(&g)
	assert.False(t, cs.IsStatementCleared())
	require.Len(t, cs.DeprecatedContexts(), 1)
	assert.True(t, cs.DeprecatedContexts()[0].Equal(g))
}

func TestSetNamespaceThenRemoveNamespace(t *testing.T) {
	cs := New()
	cs.SetNamespace("ex", "http://example.org/")
	assert.Equal(t, "http://example.org/", cs.AddedNamespaces()["ex"])

	cs.RemoveNamespace("ex")
	_, stillAdded := cs.AddedNamespaces()["ex"]
	assert.False(t, stillAdded)
	_, removed := cs.RemovedPrefixes()["ex"]
	assert.True(t, removed)
}

func TestObserveCollapsesNilAndEmptyContextsToSameKey(t *testing.T) {
	cs := New()
	s := rdf.NewIRI("s")
	cs.Observe(rdf.Pattern{Subject: &s})
	cs.Observe(rdf.Pattern{Subject: &s, Contexts: []*rdf.Value{}})
	assert.Len(t, cs.Observations(), 1)
}

func TestMatchesFindsApprovedStatement(t *testing.T) {
	cs := New()
	st := stmt("s", "p", "o")
	cs.Approve(st)
	s := rdf.NewIRI("s")
	assert.True(t, cs.Matches(rdf.Pattern{Subject: &s}))

	other := rdf.NewIRI("other")
	assert.False(t, cs.Matches(rdf.Pattern{Subject: &other}))
}

func TestCloneIsDeepCopy(t *testing.T) {
	cs := New()
	cs.Approve(stmt("s", "p", "o"))
	clone := cs.Clone()

	cs.Approve(stmt("s2", "p2", "o2"))
	assert.Len(t, cs.Approved(), 2)
	assert.Len(t, clone.Approved(), 1, "mutating the source after Clone must not affect the clone")
}

func TestIsEmpty(t *testing.T) {
	cs := New()
	assert.True(t, cs.IsEmpty())
	cs.Approve(stmt("s", "p", "o"))
	assert.False(t, cs.IsEmpty())
}

func TestCombineFoldsLayersInOrder(t *testing.T) {
	layer1 := New()
	layer1.Approve(stmt("s1", "p", "o"))

	layer2 := New()
	layer2.Deprecate(stmt("s1", "p", "o"))
	layer2.Approve(stmt("s2", "p", "o"))

	merged := Combine(layer1, layer2)
	assert.Len(t, merged.Approved(), 1)
	assert.Len(t, merged.Deprecated(), 1)
	_, hasS2 := merged.Approved()[rdf.KeyOf(stmt("s2", "p", "o"))]
	assert.True(t, hasS2)
}

func TestCombineClearThenApprovePropagatesStatementCleared(t *testing.T) {
	layer1 := New()
	layer1.Clear()
	layer2 := New()
	layer2.Approve(stmt("s", "p", "o"))

	merged := Combine(layer1, layer2)
	assert.True(t, merged.IsStatementCleared())
	assert.Len(t, merged.Approved(), 1)
}
