package idb

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

const memBucketSep = "\x00"

var (
	errMemDropped  = errors.New("memory store was removed")
	errMemReadOnly = errors.New("read-only transaction")
)

// memBackend keeps stores in process memory. Data survives closing a handle
// and is only dropped by Remove, which lets tests simulate restarts.
type memBackend struct {
	stores *xsync.MapOf[string, *memStorage]
}

var defaultMemBackend = newMemBackend()

func newMemBackend() *memBackend {
	return &memBackend{stores: xsync.NewMapOf[string, *memStorage]()}
}

func (be *memBackend) ID() string {
	return describeBackend(EngineMemory, fmt.Sprintf("%p", be))
}

func (be *memBackend) Open(name string, opt *Options) (storage, error) {
	s, _ := be.stores.LoadOrCompute(name, newMemStorage)
	return s, nil
}

func (be *memBackend) Remove(name string, opt *Options) error {
	if s, ok := be.stores.LoadAndDelete(name); ok {
		s.drop()
	}
	return nil
}

// memStorage publishes committed data as a map of immutable buckets.
// Readers use the map they started with; the single writer works on a
// shallow copy and swaps it in on commit.
type memStorage struct {
	writeMu sync.Mutex // held for the life of the write transaction

	mu      sync.RWMutex
	buckets map[string]*memBucket
	dropped bool
}

func newMemStorage() *memStorage {
	return &memStorage{buckets: make(map[string]*memBucket)}
}

func (s *memStorage) committed() (map[string]*memBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dropped {
		return nil, errMemDropped
	}
	return s.buckets, nil
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		s.writeMu.Lock()
	}
	buckets, err := s.committed()
	if err != nil {
		if writable {
			s.writeMu.Unlock()
		}
		return nil, err
	}

	tx := &memTx{s: s, writable: writable, buckets: buckets}
	if writable {
		tx.buckets = maps.Clone(buckets)
		tx.owned = make(map[string]bool)
	}
	return tx, nil
}

// Close is a no-op: the data belongs to the backend, not to the handle.
func (s *memStorage) Close() error {
	return nil
}

func (s *memStorage) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = true
	s.buckets = nil
}

type memTx struct {
	s        *memStorage
	writable bool
	done     bool
	buckets  map[string]*memBucket
	owned    map[string]bool // buckets already copied by this transaction
}

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.writable {
		tx.s.writeMu.Unlock()
	}
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return nil
	}
	return &memBucketRef{tx: tx, key: key}
}

// CreateBucket also creates the root of a nested bucket, as bolt does.
func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if !tx.writable {
		return nil, errMemReadOnly
	}
	for _, key := range []string{memBucketKey(name, ""), memBucketKey(name, sub)} {
		if tx.buckets[key] == nil {
			tx.buckets[key] = new(memBucket)
			tx.owned[key] = true
		}
	}
	return &memBucketRef{tx: tx, key: memBucketKey(name, sub)}, nil
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	if !tx.writable {
		return errMemReadOnly
	}
	key := memBucketKey(name, sub)
	if sub == "" || tx.buckets[key] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, key)
	delete(tx.owned, key)
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return nil
	}
	if !tx.writable {
		return errMemReadOnly
	}
	defer tx.finish()

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.s.dropped {
		return errMemDropped
	}
	tx.s.buckets = tx.buckets
	return nil
}

func (tx *memTx) Rollback() error {
	tx.finish()
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

// memBucket is a sorted run of pairs. Once committed, neither the slice nor
// the pairs' bytes change.
type memBucket struct {
	items []memKV
}

type memKV struct {
	key   []byte
	value []byte
}

func (b *memBucket) search(key []byte) (int, bool) {
	return slices.BinarySearchFunc(b.items, key, func(kv memKV, k []byte) int {
		return bytes.Compare(kv.key, k)
	})
}

// memBucketRef resolves its bucket on every call, so that the first write
// through any handle copies the bucket for the transaction.
type memBucketRef struct {
	tx  *memTx
	key string
}

func (r *memBucketRef) read() *memBucket {
	if b := r.tx.buckets[r.key]; b != nil {
		return b
	}
	return new(memBucket)
}

func (r *memBucketRef) write() (*memBucket, error) {
	tx := r.tx
	if !tx.writable {
		return nil, errMemReadOnly
	}
	b := tx.buckets[r.key]
	if b == nil {
		return nil, ErrBucketNotFound
	}
	if !tx.owned[r.key] {
		b = &memBucket{items: slices.Clone(b.items)}
		tx.buckets[r.key] = b
		tx.owned[r.key] = true
	}
	return b, nil
}

func (r *memBucketRef) Get(key []byte) []byte {
	b := r.read()
	if i, found := b.search(key); found {
		return b.items[i].value
	}
	return nil
}

func (r *memBucketRef) Put(key, value []byte) error {
	b, err := r.write()
	if err != nil {
		return err
	}
	kv := memKV{key: slices.Clone(key), value: append([]byte{}, value...)}
	if i, found := b.search(key); found {
		b.items[i] = kv
	} else {
		b.items = slices.Insert(b.items, i, kv)
	}
	return nil
}

func (r *memBucketRef) Delete(key []byte) error {
	b, err := r.write()
	if err != nil {
		return err
	}
	if i, found := b.search(key); found {
		b.items = slices.Delete(b.items, i, i+1)
	}
	return nil
}

func (r *memBucketRef) Cursor() storageCursor {
	return &memCursor{b: r.read(), pos: -1}
}

func (r *memBucketRef) Stats() bucketStats {
	b := r.read()
	st := bucketStats{KeyN: len(b.items)}
	for _, kv := range b.items {
		st.LeafInuse += int64(len(kv.key) + len(kv.value))
	}
	st.LeafAlloc = st.LeafInuse
	return st
}

// memCursor positions range from -1 (before the first pair) to len (after
// the last one).
type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) move(pos int) ([]byte, []byte) {
	n := len(c.b.items)
	c.pos = max(-1, min(pos, n))
	if c.pos < 0 || c.pos == n {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) { return c.move(0) }

func (c *memCursor) Last() ([]byte, []byte) { return c.move(len(c.b.items) - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := c.b.search(seek)
	return c.move(i)
}

func (c *memCursor) Next() ([]byte, []byte) { return c.move(c.pos + 1) }

func (c *memCursor) Prev() ([]byte, []byte) { return c.move(c.pos - 1) }
