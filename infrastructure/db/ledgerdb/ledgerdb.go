// Package ledgerdb provides the durable store for the block sequence and the
// node's auxiliary state (chain tip, contract registry, outbox queue) on top
// of leveldb.
package ledgerdb

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

// storeName is the directory name of the leveldb store inside the datadir.
const storeName = "ledger"

// ErrNotFound denotes that the requested key was not found in the store.
var ErrNotFound = errors.New("ledgerdb: key not found")

// LedgerDB wraps a leveldb instance holding the serialized chain.
type LedgerDB struct {
	ldb *leveldb.DB
}

// Open opens the ledger store under the given datadir. If it doesn't exist,
// it is created.
func Open(dataDir string) (*LedgerDB, error) {
	return open(dataDir, nil)
}

// OpenReadOnly opens the ledger store without allowing writes. Used by
// operator tools that inspect a possibly live datadir.
func OpenReadOnly(dataDir string) (*LedgerDB, error) {
	return open(dataDir, &opt.Options{ReadOnly: true})
}

func open(dataDir string, options *opt.Options) (*LedgerDB, error) {
	dbPath := filepath.Join(dataDir, storeName)

	// Open leveldb. If it doesn't exist, create it.
	ldb, err := leveldb.OpenFile(dbPath, options)

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s: %s", dbPath, err)
		ldb, err = leveldb.RecoverFile(dbPath, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "failed recovering levelDB store at %s", dbPath)
		}
		log.Warnf("LevelDB recovered from corruption for path %s", dbPath)
	}

	// If the database cannot be opened for any other reason, return the
	// error as-is.
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &LedgerDB{ldb: ldb}, nil
}

// Close closes the underlying leveldb instance.
func (db *LedgerDB) Close() error {
	return errors.WithStack(db.ldb.Close())
}

// Put sets the value of the given key. It overwrites any previous value.
func (db *LedgerDB) Put(key, value []byte) error {
	return errors.WithStack(db.ldb.Put(key, value, nil))
}

// Get gets the value of the given key. Returns ErrNotFound if the key does
// not exist.
func (db *LedgerDB) Get(key []byte) ([]byte, error) {
	data, err := db.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "key %x", key)
		}
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// Has returns true if the given key exists.
func (db *LedgerDB) Has(key []byte) (bool, error) {
	exists, err := db.ldb.Has(key, nil)
	return exists, errors.WithStack(err)
}

// Delete deletes the value of the given key.
func (db *LedgerDB) Delete(key []byte) error {
	return errors.WithStack(db.ldb.Delete(key, nil))
}

// IsNotFoundError checks whether err is an ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Cursor iterates over all key/value pairs whose keys begin with prefix, in
// ascending key order.
type Cursor struct {
	iterator iterator.Iterator
}

// Cursor begins a new cursor over the given prefix.
func (db *LedgerDB) Cursor(prefix []byte) *Cursor {
	return &Cursor{iterator: db.ldb.NewIterator(ldbutil.BytesPrefix(prefix), nil)}
}

// Next moves the cursor to the next key/value pair. Returns false once the
// cursor is exhausted.
func (c *Cursor) Next() bool {
	return c.iterator.Next()
}

// Key returns the key at the current cursor position. The returned slice is
// only valid until the next call to Next.
func (c *Cursor) Key() []byte {
	return c.iterator.Key()
}

// Value returns the value at the current cursor position. The returned slice
// is only valid until the next call to Next.
func (c *Cursor) Value() []byte {
	return c.iterator.Value()
}

// Close releases the cursor and reports any accumulated iteration error.
func (c *Cursor) Close() error {
	defer c.iterator.Release()
	return errors.WithStack(c.iterator.Error())
}
