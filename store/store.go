// Package store wraps the embedded ordered key-value store razed treats
// as an external collaborator (transactional get/put/iteration). The
// snapshot-is-a-read-transaction, batch-is-a-write-transaction shape and
// the corruption-recovery-on-open behavior are grounded on the teacher's
// database2/ffldb/leveldb package; this version adds the table-prefix
// scheme and ordered-iteration support the ledger needs on top of it.
package store

import (
	"path/filepath"

	"github.com/razenet/razed/logger"
	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.STOR)

// Table is a key-prefix namespace within the store, corresponding to one
// of the named tables the Ledger keeps: accounts, blocks, pending,
// representation, unchecked, checksum, vote, meta.
type Table byte

// The tables the Ledger persists to.
const (
	TableAccounts       Table = 'a'
	TableBlocks         Table = 'b'
	TablePending        Table = 'p'
	TableRepresentation Table = 'r'
	TableUnchecked      Table = 'u'
	TableChecksum       Table = 'c'
	TableVote           Table = 'v'
	TableMeta           Table = 'm'
)

// Store is a single embedded LevelDB database, namespaced into tables by
// a one-byte key prefix.
type Store struct {
	ldb *leveldb.DB
}

// Open opens (or creates) the store at the given directory, attempting a
// recovery pass if the existing database is corrupted.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "ledger")

	ldb, err := leveldb.OpenFile(dbPath, nil)
	if _, corrupted := err.(*lderrors.ErrCorrupted); corrupted {
		log.Warnf("store corruption detected at %s: %s", dbPath, err)
		ldb, err = leveldb.RecoverFile(dbPath, nil)
		if err != nil {
			return nil, err
		}
		log.Warnf("store recovered from corruption at %s", dbPath)
	}
	if err != nil {
		return nil, err
	}

	return &Store{ldb: ldb}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.ldb.Close()
}

func tableKey(table Table, key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, byte(table))
	out = append(out, key...)
	return out
}
