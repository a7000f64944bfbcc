package rdf

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPatternMatchesWildcardPositions(t *testing.T) {
	st := NewStatement(NewIRI("s"), NewIRI("p"), NewIRI("o"))
	assert.True(t, Pattern{}.Matches(st))

	s := NewIRI("s")
	assert.True(t, Pattern{Subject: &s}.Matches(st))

	other := NewIRI("other")
	assert.False(t, Pattern{Subject: &other}.Matches(st))
}

func TestPatternContextsNilMeansAllGraphs(t *testing.T) {
	g := NewIRI("g")
	st := NewStatementInContext(NewIRI("s"), NewIRI("p"), NewIRI("o"), g)
	assert.True(t, Pattern{}.Matches(st), "nil Contexts must match every graph")
}

func TestPatternExplicitNilContextMatchesDefaultGraphOnly(t *testing.T) {
	defaultGraph := NewStatement(NewIRI("s"), NewIRI("p"), NewIRI("o"))
	named := NewStatementInContext(NewIRI("s"), NewIRI("p"), NewIRI("o"), NewIRI("g"))

	pattern := Pattern{Contexts: []*Value{nil}}
	assert.True(t, pattern.Matches(defaultGraph))
	assert.False(t, pattern.Matches(named))
}

func TestObservationKeysCollapseNilAndEmptyContexts(t *testing.T) {
	s := NewIRI("s")
	withNil := Pattern{Subject: &s, Contexts: nil}
	withEmpty := Pattern{Subject: &s, Contexts: []*Value{}}
	assert.Equal(t, withNil.ObservationKeys(), withEmpty.ObservationKeys())
}

func TestKeyOfDistinguishesBlankNodeScope(t *testing.T) {
	a := NewBlankNode("x", uuid.New())
	b := NewBlankNode("x", uuid.New())
	st1 := NewStatement(a, NewIRI("p"), NewIRI("o"))
	st2 := NewStatement(b, NewIRI("p"), NewIRI("o"))
	assert.NotEqual(t, KeyOf(st1), KeyOf(st2), "same blank-node id in different scopes must not collide")
}
