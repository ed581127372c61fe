package idb

import (
	"errors"
	"os"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

const boltExt = ".db"

type boltBackend struct {
	dir string
}

func (be *boltBackend) ID() string {
	return describeBackend(EngineBolt, be.dir)
}

func boltOptions(opt *Options, timeout time.Duration) *bbolt.Options {
	bopt := new(bbolt.Options)
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = timeout
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}
	return bopt
}

func (be *boltBackend) Open(name string, opt *Options) (storage, error) {
	bdb, err := bbolt.Open(storePath(be.dir, name, boltExt), 0o666, boltOptions(opt, opt.lockTimeout()))
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, storeErrf(ErrBlocked, name, "", 0, err, "store file is locked by another handle")
	}
	if err != nil {
		return nil, err
	}
	return &boltStorage{bdb: bdb}, nil
}

// Remove probes the file lock with a single non-waiting open: a held lock
// means another handle (possibly in another process) still has the store open.
func (be *boltBackend) Remove(name string, opt *Options) error {
	path := storePath(be.dir, name, boltExt)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	bdb, err := bbolt.Open(path, 0o666, boltOptions(opt, time.Millisecond))
	if errors.Is(err, bbolt.ErrTimeout) {
		return storeErrf(ErrBlocked, name, "", 0, err, "store file is locked")
	}
	if err != nil {
		return err
	}
	if err := bdb.Close(); err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type boltStorage struct {
	bdb *bbolt.DB
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) Bucket(name, sub string) storageBucket {
	root := tx.btx.Bucket(unsafeBytesFromString(name))
	if root == nil {
		return nil
	}
	if sub == "" {
		return boltBucket{b: root}
	}
	leaf := root.Bucket(unsafeBytesFromString(sub))
	if leaf == nil {
		return nil
	}
	return boltBucket{b: leaf}
}

func (tx *boltStorageTx) CreateBucket(name, sub string) (storageBucket, error) {
	root, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	if sub == "" {
		return boltBucket{b: root}, nil
	}
	leaf, err := root.CreateBucketIfNotExists([]byte(sub))
	if err != nil {
		return nil, err
	}
	return boltBucket{b: leaf}, nil
}

func (tx *boltStorageTx) DeleteBucket(name, sub string) error {
	if sub == "" {
		return ErrBucketNotFound
	}
	root := tx.btx.Bucket(unsafeBytesFromString(name))
	if root == nil {
		return ErrBucketNotFound
	}
	err := root.DeleteBucket(unsafeBytesFromString(sub))
	if err == bbolt.ErrBucketNotFound {
		return ErrBucketNotFound
	}
	return err
}

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }

func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }

func (b boltBucket) Cursor() storageCursor { return boltCursor{c: b.b.Cursor()} }

func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		LeafInuse:   int64(s.LeafInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

// boltCursor skips nested buckets (nil values) so callers only see records.
type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) skip(k, v []byte, forward bool) ([]byte, []byte) {
	for k != nil && v == nil {
		if forward {
			k, v = c.c.Next()
		} else {
			k, v = c.c.Prev()
		}
	}
	return k, v
}

func (c boltCursor) First() ([]byte, []byte) {
	k, v := c.c.First()
	return c.skip(k, v, true)
}

func (c boltCursor) Last() ([]byte, []byte) {
	k, v := c.c.Last()
	return c.skip(k, v, false)
}

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) {
	k, v := c.c.Seek(seek)
	return c.skip(k, v, true)
}

func (c boltCursor) Next() ([]byte, []byte) {
	k, v := c.c.Next()
	return c.skip(k, v, true)
}

func (c boltCursor) Prev() ([]byte, []byte) {
	k, v := c.c.Prev()
	return c.skip(k, v, false)
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
