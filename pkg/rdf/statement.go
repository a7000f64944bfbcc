package rdf

// Statement is a 4-tuple (subject, predicate, object, context). Context is
// nil for the unnamed default graph. Statements are value objects: equal
// iff all four fields are equal.
type Statement struct {
	Subject   Value
	Predicate Value
	Object    Value
	Context   *Value // nil => unnamed default graph
}

// NewStatement constructs a Statement in the default graph.
func NewStatement(s, p, o Value) Statement {
	return Statement{Subject: s, Predicate: p, Object: o}
}

// NewStatementInContext constructs a Statement in a named graph.
func NewStatementInContext(s, p, o, ctx Value) Statement {
	c := ctx
	return Statement{Subject: s, Predicate: p, Object: o, Context: &c}
}

// String renders a statement as N-Quads-ish text for diagnostics.
func (s Statement) String() string {
	if s.Context != nil {
		return s.Subject.String() + " " + s.Predicate.String() + " " + s.Object.String() + " " + s.Context.String() + " ."
	}
	return s.Subject.String() + " " + s.Predicate.String() + " " + s.Object.String() + " ."
}

// Equal implements value-object equality on the full 4-tuple.
func (s Statement) Equal(o Statement) bool {
	if !s.Subject.Equal(o.Subject) || !s.Predicate.Equal(o.Predicate) || !s.Object.Equal(o.Object) {
		return false
	}
	return contextEqual(s.Context, o.Context)
}

func contextEqual(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Key is a comparable representation of a Statement suitable for use as a
// map key, used throughout the changeset/dataset merge algorithms for
// 4-tuple identity de-duplication.
type Key struct {
	S, P, O string
	SKind   Kind
	OKind   Kind
	OLang   string
	ODt     string
	C       string
	HasC    bool
}

func valueKeyPart(v Value) (string, string, string) {
	switch v.kind {
	case KindIRI:
		return v.iri, "", ""
	case KindBlankNode:
		return v.bnode + "\x00" + v.scope.String(), "", ""
	case KindLiteral:
		lang := ""
		if v.lang != nil {
			lang = *v.lang
		}
		dt := ""
		if v.datatype != nil {
			dt = *v.datatype
		}
		return v.lexical, lang, dt
	}
	return "", "", ""
}

// KeyOf computes the de-duplication key for a Statement.
func KeyOf(st Statement) Key {
	sPart, _, _ := valueKeyPart(st.Subject)
	oPart, oLang, oDt := valueKeyPart(st.Object)
	k := Key{
		S:     sPart,
		P:     st.Predicate.iri,
		O:     oPart,
		SKind: st.Subject.kind,
		OKind: st.Object.kind,
		OLang: oLang,
		ODt:   oDt,
	}
	if st.Context != nil {
		c, _, _ := valueKeyPart(*st.Context)
		k.C = c
		k.HasC = true
	}
	return k
}

// Namespace maps a prefix to an IRI name. Prefixes are unique per store.
type Namespace struct {
	Prefix string
	Name   string
}
