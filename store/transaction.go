package store

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Transaction is a single MVCC-style transaction: reads are served from a
// point-in-time snapshot taken at Begin, and writes accumulate in a batch
// applied atomically on Commit. The store supports any number of
// concurrent read transactions but relies on its callers to serialize
// writers: the block processor, and the vote processor, whose writes touch
// only the vote table.
type Transaction struct {
	ldb      *leveldb.DB
	snapshot *leveldb.Snapshot
	batch    *leveldb.Batch
	isClosed bool
}

// Begin starts a new transaction.
func (s *Store) Begin() (*Transaction, error) {
	snapshot, err := s.ldb.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ldb:      s.ldb,
		snapshot: snapshot,
		batch:    new(leveldb.Batch),
	}, nil
}

// Commit releases the read snapshot and atomically applies the
// accumulated writes.
func (tx *Transaction) Commit() error {
	if tx.isClosed {
		return errors.New("cannot commit a closed transaction")
	}
	tx.isClosed = true
	tx.snapshot.Release()
	return tx.ldb.Write(tx.batch, nil)
}

// Rollback discards the transaction's accumulated writes without applying
// them.
func (tx *Transaction) Rollback() error {
	if tx.isClosed {
		return errors.New("cannot rollback a closed transaction")
	}
	tx.isClosed = true
	tx.snapshot.Release()
	tx.batch.Reset()
	return nil
}

// Put stages a write of value at key within table.
func (tx *Transaction) Put(table Table, key, value []byte) error {
	if tx.isClosed {
		return errors.New("cannot put into a closed transaction")
	}
	tx.batch.Put(tableKey(table, key), value)
	return nil
}

// Delete stages a deletion of key within table.
func (tx *Transaction) Delete(table Table, key []byte) error {
	if tx.isClosed {
		return errors.New("cannot delete from a closed transaction")
	}
	tx.batch.Delete(tableKey(table, key))
	return nil
}

// Get reads key within table from the transaction's snapshot, returning
// leveldb.ErrNotFound if absent.
func (tx *Transaction) Get(table Table, key []byte) ([]byte, error) {
	if tx.isClosed {
		return nil, errors.New("cannot get from a closed transaction")
	}
	return tx.snapshot.Get(tableKey(table, key), nil)
}

// Has reports whether key exists within table.
func (tx *Transaction) Has(table Table, key []byte) (bool, error) {
	if tx.isClosed {
		return false, errors.New("cannot query a closed transaction")
	}
	return tx.snapshot.Has(tableKey(table, key), nil)
}

// Iterator walks table in key order, starting from the snapshot taken at
// Begin. Keys are yielded with the table prefix stripped.
type Iterator struct {
	it    iterator.Iterator
	table Table
}

// Iterate returns an Iterator positioned before the first key of table.
// Call Next to advance it.
func (tx *Transaction) Iterate(table Table) (*Iterator, error) {
	return tx.IteratePrefix(table, nil)
}

// IteratePrefix returns an Iterator over only the keys of table beginning
// with the given sub-prefix (e.g. scoping the unchecked table down to the
// entries waiting on one specific missing hash).
func (tx *Transaction) IteratePrefix(table Table, subPrefix []byte) (*Iterator, error) {
	if tx.isClosed {
		return nil, errors.New("cannot iterate a closed transaction")
	}
	prefix := tableKey(table, subPrefix)
	it := tx.snapshot.NewIterator(util.BytesPrefix(prefix), nil)
	return &Iterator{it: it, table: table}, nil
}

// Next advances the iterator, returning false once exhausted.
func (it *Iterator) Next() bool {
	return it.it.Next()
}

// Key returns the current key, with the table prefix stripped. The
// returned slice is only valid until the next call to Next.
func (it *Iterator) Key() []byte {
	full := it.it.Key()
	return full[1:]
}

// Value returns the current value. The returned slice is only valid until
// the next call to Next.
func (it *Iterator) Value() []byte {
	return it.it.Value()
}

// Release releases the iterator's resources. It must be called when done.
func (it *Iterator) Release() {
	it.it.Release()
}

// Error returns any accumulated iteration error.
func (it *Iterator) Error() error {
	return it.it.Error()
}
