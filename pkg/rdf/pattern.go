package rdf

// Pattern is a statement pattern with wildcard positions: a nil field
// matches any value in that position. Context follows the variadic
// convention described in the TripleSource surface: Contexts == nil means
// "unconstrained" (all graphs); a zero-length non-nil slice also means "all
// graphs" at the Pattern level — callers that want "default graph only"
// put an explicit nil Value in Contexts.
type Pattern struct {
	Subject   *Value
	Predicate *Value
	Object    *Value
	Contexts  []*Value
}

// Matches reports whether a Statement satisfies the pattern.
func (p Pattern) Matches(st Statement) bool {
	if p.Subject != nil && !p.Subject.Equal(st.Subject) {
		return false
	}
	if p.Predicate != nil && !p.Predicate.Equal(st.Predicate) {
		return false
	}
	if p.Object != nil && !p.Object.Equal(st.Object) {
		return false
	}
	if len(p.Contexts) == 0 {
		return true
	}
	for _, c := range p.Contexts {
		if contextEqual(c, st.Context) {
			return true
		}
	}
	return false
}

// PatternKey makes a Pattern comparable so it can live in a Go map/set, as
// required for recording SERIALIZABLE observations.
type PatternKey struct {
	S, P, O    string
	HasS, HasP, HasO bool
	Ctx        string
	HasCtx     bool
	CtxIsNil   bool
}

// singleContextKey computes a comparable key for one (subject, predicate, object,
// single-context) observation, mirroring how Changeset.observe() in the
// original fans a multi-context call out into one StatementPattern per
// context.
func (p Pattern) singleContextKey(ctx *Value) PatternKey {
	k := PatternKey{HasS: p.Subject != nil, HasP: p.Predicate != nil, HasO: p.Object != nil}
	if p.Subject != nil {
		k.S, _, _ = valueKeyPart(*p.Subject)
	}
	if p.Predicate != nil {
		k.P = p.Predicate.iri
	}
	if p.Object != nil {
		k.O, _, _ = valueKeyPart(*p.Object)
	}
	if ctx != nil {
		k.HasCtx = true
		k.Ctx, _, _ = valueKeyPart(*ctx)
	} else {
		k.CtxIsNil = true
	}
	return k
}

// ObservationKeys expands a pattern into the set of per-context keys the
// changeset records, following Changeset.observe()'s three cases: nil
// contexts (unbound graph var) and empty contexts (no graph component at
// all) both mean "no context restriction" and collapse to one key; an
// explicit list of contexts yields one key per context.
func (p Pattern) ObservationKeys() []PatternKey {
	if len(p.Contexts) == 0 {
		k := p.singleContextKey(nil)
		k.HasCtx = false
		k.CtxIsNil = false
		return []PatternKey{k}
	}
	keys := make([]PatternKey, 0, len(p.Contexts))
	for _, c := range p.Contexts {
		keys = append(keys, p.singleContextKey(c))
	}
	return keys
}
