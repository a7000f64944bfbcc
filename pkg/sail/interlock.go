package sail

import (
	"sync"

	"github.com/rickmoynihan/quadsail/pkg/rdf"
)

// interlockedIterator wraps a StatementIterator taken from a Dataset so
// that closing the iterator also closes the Dataset and, when release is
// set, releases the Source it was snapshotted from, in that order. Callers get back a single
// handle that owns the whole chain of resources behind one read, and
// forgetting to close it leaks all of them together, which is exactly what
// internal/leaktrack exists to catch.
type interlockedIterator struct {
	once    sync.Once
	inner   rdf.StatementIterator
	dataset *Dataset
	branch  Source
	release bool // whether Close should also Release the branch
}

// Interlock binds an iterator to the dataset and branch it was read from.
// If release is true, closing the iterator also releases the branch (used
// for one-shot, non-transactional reads); if false, the branch outlives the
// iterator (used when the branch is the connection's own long-lived
// transaction branch).
func Interlock(it rdf.StatementIterator, dataset *Dataset, branch Source, release bool) rdf.StatementIterator {
	return &interlockedIterator{inner: it, dataset: dataset, branch: branch, release: release}
}

func (i *interlockedIterator) Next() (rdf.Statement, bool, error) {
	return i.inner.Next()
}

func (i *interlockedIterator) Close() error {
	var err error
	i.once.Do(func() {
		err = i.inner.Close()
		if dErr := i.dataset.Close(); dErr != nil && err == nil {
			err = dErr
		}
		if i.release {
			if rErr := i.branch.Release(); rErr != nil && err == nil {
				err = rErr
			}
		}
	})
	return err
}
