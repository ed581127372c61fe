package idb

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// tx is one storage transaction of a store. Internal helpers panic on
// unexpected storage failures; run converts panics into errors at the
// transaction boundary.
type tx struct {
	store   *Store
	stx     storageTx
	written bool
}

func (tx *tx) markWritten() {
	tx.written = true
}

func (tx *tx) dataBucket(cs *collectionState) storageBucket {
	b := tx.stx.Bucket(cs.name, dataSubName)
	if b == nil {
		panic(storeErrf(ErrRequest, tx.store.Name(), cs.name, 0, ErrBucketNotFound, "missing data bucket"))
	}
	return b
}

func (tx *tx) indexBucket(cs *collectionState, is *indexState) storageBucket {
	b := tx.stx.Bucket(cs.name, indexSubName(is.name))
	if b == nil {
		panic(storeErrf(ErrRequest, tx.store.Name(), cs.name, 0, ErrBucketNotFound, "missing bucket of index %s", is.name))
	}
	return b
}

func (tx *tx) dropBucket(name, sub string) {
	err := tx.stx.DeleteBucket(name, sub)
	if err != nil && err != ErrBucketNotFound {
		panic(err)
	}
}

// run executes f in a single storage transaction. Writable transactions are
// committed only if f succeeds and wrote something.
func (s *Store) run(writable bool, f func(tx *tx) error) error {
	stx, err := s.stg.BeginTx(writable)
	if err != nil {
		return storeErrf(ErrRequest, s.Name(), "", 0, err, "begin transaction")
	}
	defer stx.Rollback()

	tx := &tx{store: s, stx: stx}
	if err := safelyCall(f, tx); err != nil {
		return asStoreError(s.Name(), err)
	}
	if writable && tx.written {
		if err := stx.Commit(); err != nil {
			return storeErrf(ErrRequest, s.Name(), "", 0, err, "commit")
		}
	}
	return nil
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func (p panicked) Unwrap() error {
	err, _ := p.reason.(error)
	return err
}

func safelyCall(fn func(*tx) error, tx *tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(*StoreError); ok {
				err = e
			} else {
				err = panicked{p, string(debug.Stack())}
			}
		}
	}()
	return fn(tx)
}

// asStoreError classifies anything that isn't already a StoreError as a
// failed storage request.
func asStoreError(store string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return storeErrf(ErrRequest, store, "", 0, err, "")
}
