package connection

import (
	"context"

	"github.com/rickmoynihan/quadsail/pkg/rdf"
	"github.com/rickmoynihan/quadsail/pkg/triplesource"
)

// tripleSourceView adapts a Connection's transactional read surface to the
// narrower, context-free TripleSource capability an external query
// evaluator receives.
type tripleSourceView struct {
	ctx             context.Context
	conn            *Connection
	includeInferred bool
}

// TripleSource returns a triplesource.TripleSource bound to this
// Connection's current transaction (or its autocommit state, if none is
// active), evaluating against ctx and including inferred statements per
// includeInferred.
func (c *Connection) TripleSource(ctx context.Context, includeInferred bool) triplesource.TripleSource {
	return &tripleSourceView{ctx: ctx, conn: c, includeInferred: includeInferred}
}

func (v *tripleSourceView) GetStatements(subject, predicate, object *rdf.Value, contexts ...*rdf.Value) (rdf.StatementIterator, error) {
	return v.conn.GetStatements(v.ctx, subject, predicate, object, v.includeInferred, contexts...)
}

func (v *tripleSourceView) ValueFactory() rdf.ValueFactory {
	return rdf.NewValueFactory()
}

var _ triplesource.TripleSource = (*tripleSourceView)(nil)
