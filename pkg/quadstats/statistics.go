// Package quadstats exposes per-pattern cardinality estimation consumed by
// an external query optimizer for join ordering. This is the
// evaluation_statistics() capability named in the statement store's
// contract; the core only needs to produce honest estimates, never exact
// counts.
package quadstats

import (
	"sync"
	"sync/atomic"

	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

// Statistics answers cardinality questions about the statements currently
// held by a store, feeding a query planner's join-order choices without
// it having to scan the store itself.
type Statistics interface {
	// Cardinality estimates the number of statements matching pattern.
	// It is intentionally approximate: optimizers only need relative
	// ordering between patterns, not exact counts.
	Cardinality(pattern rdf.Pattern) int64

	// Observe records that a statement was added or removed, letting the
	// running estimates track the live store without a full rescan.
	Observe(st rdf.Statement, added bool)
}

// liveStatistics maintains simple per-predicate and per-context counters,
// which is enough to give a join optimizer a useful ordering signal (bound
// predicate/context patterns are typically far more selective than a fully
// unbound scan) without the cost of exact multi-dimensional indexing.
type liveStatistics struct {
	mu          sync.RWMutex
	total       int64
	byPredicate map[string]int64
	byContext   map[string]int64
}

// New returns a Statistics tracker seeded at zero; callers that wrap an
// existing store should call Observe for every statement already present,
// or accept the cold-start approximation until enough writes land.
func New() Statistics {
	return &liveStatistics{
		byPredicate: make(map[string]int64),
		byContext:   make(map[string]int64),
	}
}

func (s *liveStatistics) Observe(st rdf.Statement, added bool) {
	delta := int64(1)
	if !added {
		delta = -1
	}
	atomic.AddInt64(&s.total, delta)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPredicate[st.Predicate.IRIValue()] += delta
	if st.Context != nil {
		ck := st.Context.IRIValue()
		if st.Context.IsBlankNode() {
			ck = "_:" + st.Context.BlankNodeID()
		}
		s.byContext[ck] += delta
	}
}

func (s *liveStatistics) Cardinality(pattern rdf.Pattern) int64 {
	total := atomic.LoadInt64(&s.total)
	if total <= 0 {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	estimate := total
	if pattern.Predicate != nil {
		if c, ok := s.byPredicate[pattern.Predicate.IRIValue()]; ok {
			estimate = c
		} else {
			return 0
		}
	}
	if len(pattern.Contexts) == 1 && pattern.Contexts[0] != nil {
		ck := pattern.Contexts[0].IRIValue()
		if c, ok := s.byContext[ck]; ok && c < estimate {
			estimate = c
		} else if !ok {
			return 0
		}
	}
	// A bound subject or object narrows further; without a dedicated
	// index we apply a conservative selectivity factor rather than
	// claiming false precision.
	if pattern.Subject != nil {
		estimate = estimate/4 + 1
	}
	if pattern.Object != nil {
		estimate = estimate/4 + 1
	}
	if estimate < 0 {
		return 0
	}
	return estimate
}
