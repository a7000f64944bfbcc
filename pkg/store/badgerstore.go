package store

import (
	"context"
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/rickmoynihan/quadsail/pkg/changeset"
	"github.com/rickmoynihan/quadsail/pkg/quadstats"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

// statement key prefixes, split per-kind so explicit and inferred statements
// are independently versioned, as the statement store's guarantee requires.
const (
	explicitPrefix = "st:e:"
	inferredPrefix = "st:i:"
	namespacePrefix = "ns:"
)

// wireValue/wireStatement/wireNamespace are the on-disk JSON encodings.
// Badger stores opaque []byte values; the store is free to choose any
// encoding, since persisted state layout is an implementation detail.
type wireValue struct {
	Kind     rdf.Kind `json:"kind"`
	IRI      string   `json:"iri,omitempty"`
	BNode    string   `json:"bnode,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	Lexical  string   `json:"lexical,omitempty"`
	Lang     *string  `json:"lang,omitempty"`
	Datatype *string  `json:"datatype,omitempty"`
}

type wireStatement struct {
	S, P, O wireValue
	Ctx     *wireValue
}

// BadgerStore is a durable StatementStore backed by a single *badger.DB.
// The handle lives on the struct rather than a package-level global, so
// multiple stores can be opened independently in the same process.
type BadgerStore struct {
	db       *badger.DB
	explicit *badgerBacking
	inferred *badgerBacking
	stats    quadstats.Statistics
}

// OpenBadgerStore opens (or creates) a Badger-backed statement store at
// path, suppressing Badger's own internal logger.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger store")
	}
	stats := quadstats.New()
	s := &BadgerStore{
		db:       db,
		stats:    stats,
		explicit: &badgerBacking{db: db, prefix: explicitPrefix, stats: stats},
		inferred: &badgerBacking{db: db, prefix: inferredPrefix, stats: stats},
	}
	if err := s.explicit.seedStatistics(); err != nil {
		return nil, err
	}
	if err := s.inferred.seedStatistics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) ExplicitBacking() Backing                   { return s.explicit }
func (s *BadgerStore) InferredBacking() Backing                   { return s.inferred }
func (s *BadgerStore) EvaluationStatistics() quadstats.Statistics { return s.stats }

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerBacking struct {
	db     *badger.DB
	prefix string
	stats  quadstats.Statistics
}

func toWireValue(v rdf.Value) wireValue {
	w := wireValue{Kind: v.Kind()}
	switch v.Kind() {
	case rdf.KindIRI:
		w.IRI = v.IRIValue()
	case rdf.KindBlankNode:
		w.BNode = v.BlankNodeID()
		w.Scope = v.BlankNodeScope().String()
	case rdf.KindLiteral:
		w.Lexical = v.Lexical()
		w.Lang = v.Lang()
		w.Datatype = v.Datatype()
	}
	return w
}

func fromWireValue(w wireValue, vf rdf.ValueFactory) rdf.Value {
	switch w.Kind {
	case rdf.KindIRI:
		return vf.CreateIRI(w.IRI)
	case rdf.KindBlankNode:
		return vf.CreateBlankNode(w.BNode)
	case rdf.KindLiteral:
		return vf.CreateLiteral(w.Lexical, w.Lang, w.Datatype)
	default:
		return rdf.Value{}
	}
}

func toWireStatement(st rdf.Statement) wireStatement {
	w := wireStatement{S: toWireValue(st.Subject), P: toWireValue(st.Predicate), O: toWireValue(st.Object)}
	if st.Context != nil {
		c := toWireValue(*st.Context)
		w.Ctx = &c
	}
	return w
}

func fromWireStatement(w wireStatement, vf rdf.ValueFactory) rdf.Statement {
	st := rdf.Statement{
		Subject:   fromWireValue(w.S, vf),
		Predicate: fromWireValue(w.P, vf),
		Object:    fromWireValue(w.O, vf),
	}
	if w.Ctx != nil {
		c := fromWireValue(*w.Ctx, vf)
		st.Context = &c
	}
	return st
}

func (b *badgerBacking) statementKey(k rdf.Key) []byte {
	// Badger orders keys lexically; prefixing by predicate first would let
	// a future iteration narrow by predicate cheaply, but the store keeps
	// its key opaque to callers: the key is the kind prefix followed by the
	// subject, predicate, object and context parts of rdf.Key joined with
	// \x1f, with no secondary sort order exposed here.
	return []byte(b.prefix + k.S + "\x1f" + k.P + "\x1f" + k.O + "\x1f" + k.C)
}

func (b *badgerBacking) seedStatistics() error {
	vf := rdf.NewValueFactory()
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(b.prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var w wireStatement
				if err := json.Unmarshal(val, &w); err != nil {
					return err
				}
				b.stats.Observe(fromWireStatement(w, vf), true)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerBacking) Statements(_ context.Context, pattern rdf.Pattern) (rdf.StatementIterator, error) {
	vf := rdf.NewValueFactory()
	var out []rdf.Statement
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(b.prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var w wireStatement
				if err := json.Unmarshal(val, &w); err != nil {
					return err
				}
				st := fromWireStatement(w, vf)
				if pattern.Matches(st) {
					out = append(out, st)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "badger statements scan")
	}
	return rdf.NewSliceStatementIterator(out), nil
}

func (b *badgerBacking) Namespaces(_ context.Context) (rdf.NamespaceIterator, error) {
	var out []rdf.Namespace
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(namespacePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := string(item.Key())[len(namespacePrefix):]
			err := item.Value(func(val []byte) error {
				out = append(out, rdf.Namespace{Prefix: k, Name: string(val)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "badger namespace scan")
	}
	return rdf.NewSliceNamespaceIterator(out), nil
}

func (b *badgerBacking) Namespace(_ context.Context, prefix string) (string, bool, error) {
	var name string
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(namespacePrefix + prefix))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			name = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, errors.Wrap(err, "badger namespace lookup")
	}
	return name, found, nil
}

// CommitChangeset applies cs inside a single badger.Update transaction, so
// the commit is all-or-nothing and durable on return, satisfying the
// root-sink atomicity/durability contract.
func (b *badgerBacking) CommitChangeset(_ context.Context, cs *changeset.Changeset) error {
	vf := rdf.NewValueFactory()
	err := b.db.Update(func(txn *badger.Txn) error {
		if cs.IsStatementCleared() {
			if err := b.deleteAllStatements(txn); err != nil {
				return err
			}
		} else if dctx := cs.DeprecatedContexts(); len(dctx) > 0 {
			if err := b.deleteMatchingContexts(txn, vf, dctx); err != nil {
				return err
			}
		}
		for k, st := range cs.Deprecated() {
			if err := txn.Delete(b.statementKey(k)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			b.stats.Observe(st, false)
		}
		for k, st := range cs.Approved() {
			data, err := json.Marshal(toWireStatement(st))
			if err != nil {
				return err
			}
			if err := txn.Set(b.statementKey(k), data); err != nil {
				return err
			}
			b.stats.Observe(st, true)
		}
		if cs.IsNamespaceCleared() {
			if err := b.clearNamespaces(txn, cs.AddedNamespaces()); err != nil {
				return err
			}
		}
		for prefix := range cs.RemovedPrefixes() {
			if err := txn.Delete([]byte(namespacePrefix + prefix)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		for prefix, name := range cs.AddedNamespaces() {
			if err := txn.Set([]byte(namespacePrefix+prefix), []byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("badger commit failed")
		return errors.Wrap(err, "badger commit changeset")
	}
	return nil
}

func (b *badgerBacking) deleteAllStatements(txn *badger.Txn) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := []byte(b.prefix)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, append([]byte{}, it.Item().Key()...))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *badgerBacking) deleteMatchingContexts(txn *badger.Txn, vf rdf.ValueFactory, contexts []*rdf.Value) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := []byte(b.prefix)
	var toDelete [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := append([]byte{}, item.Key()...)
		err := item.Value(func(val []byte) error {
			var w wireStatement
			if err := json.Unmarshal(val, &w); err != nil {
				return err
			}
			st := fromWireStatement(w, vf)
			for _, ctx := range contexts {
				if contextEqual(st.Context, ctx) {
					toDelete = append(toDelete, key)
					break
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, k := range toDelete {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *badgerBacking) clearNamespaces(txn *badger.Txn, keep map[string]string) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := []byte(namespacePrefix)
	var toDelete [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k := string(it.Item().Key())[len(namespacePrefix):]
		if _, ok := keep[k]; !ok {
			toDelete = append(toDelete, append([]byte{}, it.Item().Key()...))
		}
	}
	for _, k := range toDelete {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
