package ledgerdb

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// Transaction is a batched write context over a consistent snapshot of the
// store. Writes are buffered in a leveldb batch and applied atomically on
// Commit, so a crash mid-write leaves the previous durable state intact.
type Transaction struct {
	ldb      *leveldb.DB
	snapshot *leveldb.Snapshot
	batch    *leveldb.Batch

	isClosed bool
}

// Begin begins a new transaction.
func (db *LedgerDB) Begin() (*Transaction, error) {
	snapshot, err := db.ldb.GetSnapshot()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Transaction{
		ldb:      db.ldb,
		snapshot: snapshot,
		batch:    new(leveldb.Batch),
	}, nil
}

// Commit atomically applies all writes buffered in the transaction.
func (tx *Transaction) Commit() error {
	if tx.isClosed {
		return errors.New("cannot commit a closed transaction")
	}

	tx.isClosed = true
	tx.snapshot.Release()
	return errors.WithStack(tx.ldb.Write(tx.batch, nil))
}

// Rollback discards all writes buffered in the transaction.
func (tx *Transaction) Rollback() error {
	if tx.isClosed {
		return errors.New("cannot rollback a closed transaction")
	}

	tx.isClosed = true
	tx.snapshot.Release()
	tx.batch.Reset()
	return nil
}

// RollbackUnlessClosed rolls the transaction back unless it was already
// committed or rolled back. Meant to be deferred.
func (tx *Transaction) RollbackUnlessClosed() error {
	if tx.isClosed {
		return nil
	}
	return tx.Rollback()
}

// Put buffers a write of value under key.
func (tx *Transaction) Put(key, value []byte) error {
	if tx.isClosed {
		return errors.New("cannot put into a closed transaction")
	}

	tx.batch.Put(key, value)
	return nil
}

// Delete buffers a deletion of key.
func (tx *Transaction) Delete(key []byte) error {
	if tx.isClosed {
		return errors.New("cannot delete from a closed transaction")
	}

	tx.batch.Delete(key)
	return nil
}

// Get reads the value of key from the transaction's snapshot. Writes buffered
// in the transaction are not visible. Returns ErrNotFound if the key does not
// exist.
func (tx *Transaction) Get(key []byte) ([]byte, error) {
	if tx.isClosed {
		return nil, errors.New("cannot get from a closed transaction")
	}

	data, err := tx.snapshot.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "key %x", key)
		}
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// Has returns true if the given key exists in the transaction's snapshot.
func (tx *Transaction) Has(key []byte) (bool, error) {
	if tx.isClosed {
		return false, errors.New("cannot check a closed transaction")
	}

	exists, err := tx.snapshot.Has(key, nil)
	return exists, errors.WithStack(err)
}
