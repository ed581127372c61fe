package idb

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// Badger has no buckets, so they are simulated with key prefixes:
//
//	b\x00<name>\x00<sub>             bucket marker
//	d\x00<name>\x00<sub>\x00<key>    bucket entry
//
// Names never contain NUL, so prefixes of different buckets never overlap.
type badgerBackend struct {
	dir string
}

func (be *badgerBackend) ID() string {
	return describeBackend(EngineBadger, be.dir)
}

func (be *badgerBackend) path(name string) string {
	return filepath.Join(be.dir, name+".badger")
}

func (be *badgerBackend) Open(name string, opt *Options) (storage, error) {
	bopt := badger.DefaultOptions(be.path(name)).
		WithLogger(badgerLogger{logf: opt.logf(), verbose: opt.Verbose})
	if opt.IsTesting {
		bopt = bopt.WithSyncWrites(false).WithNumVersionsToKeep(1)
	}
	db, err := badger.Open(bopt)
	if isBadgerLockErr(err) {
		return nil, storeErrf(ErrBlocked, name, "", 0, err, "store directory is locked by another handle")
	}
	if err != nil {
		return nil, err
	}
	return &badgerStorage{db: db}, nil
}

// Remove probes the directory lock by opening the store once; Badger reports
// a held lock only through its error text.
func (be *badgerBackend) Remove(name string, opt *Options) error {
	path := be.path(name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if isBadgerLockErr(err) {
		return storeErrf(ErrBlocked, name, "", 0, err, "store directory is locked")
	}
	if err == nil {
		err = db.Close()
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func isBadgerLockErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Cannot acquire directory lock")
}

type badgerLogger struct {
	logf    func(format string, args ...any)
	verbose bool
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logf("idb: badger: ERROR "+format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logf("idb: badger: WARN "+format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	if l.verbose {
		l.logf("idb: badger: "+format, args...)
	}
}

func (l badgerLogger) Debugf(format string, args ...any) {}

type badgerStorage struct {
	db *badger.DB
}

func (s *badgerStorage) BeginTx(writable bool) (storageTx, error) {
	if s.db.IsClosed() {
		return nil, badger.ErrDBClosed
	}
	return &badgerTx{db: s.db, txn: s.db.NewTransaction(writable), writable: writable}, nil
}

func (s *badgerStorage) Close() error {
	return s.db.Close()
}

type badgerTx struct {
	db       *badger.DB
	txn      *badger.Txn
	writable bool
	done     bool
}

func badgerMarkerKey(name, sub string) []byte {
	return []byte("b\x00" + name + "\x00" + sub)
}

func badgerDataPrefix(name, sub string) []byte {
	return []byte("d\x00" + name + "\x00" + sub + "\x00")
}

func (tx *badgerTx) Writable() bool { return tx.writable }

func (tx *badgerTx) Bucket(name, sub string) storageBucket {
	_, err := tx.txn.Get(badgerMarkerKey(name, sub))
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			panic(err)
		}
		return nil
	}
	return &badgerBucket{tx: tx, prefix: badgerDataPrefix(name, sub)}
}

func (tx *badgerTx) CreateBucket(name, sub string) (storageBucket, error) {
	if sub != "" {
		if err := tx.txn.Set(badgerMarkerKey(name, ""), []byte{1}); err != nil {
			return nil, err
		}
	}
	if err := tx.txn.Set(badgerMarkerKey(name, sub), []byte{1}); err != nil {
		return nil, err
	}
	return &badgerBucket{tx: tx, prefix: badgerDataPrefix(name, sub)}, nil
}

func (tx *badgerTx) DeleteBucket(name, sub string) error {
	if sub == "" || tx.Bucket(name, sub) == nil {
		return ErrBucketNotFound
	}
	prefix := badgerDataPrefix(name, sub)
	var keys [][]byte
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := tx.txn.Delete(k); err != nil {
			return err
		}
	}
	return tx.txn.Delete(badgerMarkerKey(name, sub))
}

func (tx *badgerTx) Commit() error {
	tx.done = true
	return tx.txn.Commit()
}

func (tx *badgerTx) Rollback() error {
	if !tx.done {
		tx.done = true
		tx.txn.Discard()
	}
	return nil
}

func (tx *badgerTx) Size() int64 {
	lsm, vlog := tx.db.Size()
	return lsm + vlog
}

type badgerBucket struct {
	tx     *badgerTx
	prefix []byte
}

func (b *badgerBucket) fullKey(key []byte) []byte {
	return append(slices.Clip(b.prefix), key...)
}

func (b *badgerBucket) Get(key []byte) []byte {
	item, err := b.tx.txn.Get(b.fullKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		panic(err)
	}
	return must(item.ValueCopy(nil))
}

// Put copies both slices: Badger keeps them until commit.
func (b *badgerBucket) Put(key, value []byte) error {
	return b.tx.txn.Set(b.fullKey(key), slices.Clone(value))
}

func (b *badgerBucket) Delete(key []byte) error {
	return b.tx.txn.Delete(b.fullKey(key))
}

func (b *badgerBucket) Cursor() storageCursor {
	return &badgerCursor{b: b}
}

func (b *badgerBucket) Stats() bucketStats {
	var st bucketStats
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = b.prefix
	it := b.tx.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(b.prefix); it.Next() {
		item := it.Item()
		st.KeyN++
		st.LeafInuse += int64(len(item.Key())-len(b.prefix)) + item.ValueSize()
	}
	st.LeafAlloc = st.LeafInuse
	return st
}

// badgerCursor opens a short-lived iterator per move. Read-write Badger
// transactions allow only one live iterator, and callers interleave cursor
// moves with Get/Put on other buckets.
type badgerCursor struct {
	b   *badgerBucket
	cur []byte // full key of the current position, nil when off the ends
}

func (c *badgerCursor) seek(start []byte, reverse, skipEqual bool) ([]byte, []byte) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = reverse
	it := c.b.tx.txn.NewIterator(opts)
	defer it.Close()

	it.Seek(start)
	if skipEqual && it.Valid() && bytes.Equal(it.Item().Key(), start) {
		it.Next()
	}
	if !it.ValidForPrefix(c.b.prefix) {
		c.cur = nil
		return nil, nil
	}
	item := it.Item()
	c.cur = item.KeyCopy(nil)
	return c.cur[len(c.b.prefix):], must(item.ValueCopy(nil))
}

func (c *badgerCursor) First() ([]byte, []byte) {
	return c.seek(c.b.prefix, false, false)
}

// Last seeks backwards from the smallest key above the prefix range.
func (c *badgerCursor) Last() ([]byte, []byte) {
	limit := slices.Clone(c.b.prefix)
	if !inc(limit) {
		panic("unreachable: bucket prefixes never consist of 0xFF bytes")
	}
	return c.seek(limit, true, true)
}

func (c *badgerCursor) Seek(seek []byte) ([]byte, []byte) {
	return c.seek(c.b.fullKey(seek), false, false)
}

func (c *badgerCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	return c.seek(c.cur, false, true)
}

func (c *badgerCursor) Prev() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	return c.seek(c.cur, true, true)
}
