package idb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrBucketNotFound is returned by storageTx.DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// Engine selects the durable key-value substrate a store lives in.
type Engine string

const (
	EngineBolt   Engine = "bolt"
	EngineBadger Engine = "badger"
	EngineMemory Engine = "memory"
)

// backend locates stores by name and owns their on-disk representation.
type backend interface {
	// ID identifies the backend instance (engine and location).
	ID() string
	// Open opens or creates the named store.
	Open(name string, opt *Options) (storage, error)
	// Remove permanently deletes the named store. Returns an error matching
	// ErrBlocked if the store is held open elsewhere; removing a missing store
	// is not an error.
	Remove(name string, opt *Options) error
}

func resolveBackend(opt *Options) (backend, error) {
	if opt.backend != nil {
		return opt.backend, nil
	}
	switch opt.Engine {
	case "", EngineBolt, EngineBadger:
		if opt.Dir == "" {
			return nil, storeErrf(ErrUnsupportedEnvironment, "", "", 0, nil, "engine %s needs a directory", opt.engine())
		}
		dir, err := filepath.Abs(opt.Dir)
		if err == nil {
			err = os.MkdirAll(dir, 0o755)
		}
		if err != nil {
			return nil, storeErrf(ErrUnsupportedEnvironment, "", "", 0, err, "engine %s unusable", opt.engine())
		}
		if opt.engine() == EngineBadger {
			return &badgerBackend{dir: dir}, nil
		}
		return &boltBackend{dir: dir}, nil
	case EngineMemory:
		return defaultMemBackend, nil
	default:
		return nil, storeErrf(ErrUnsupportedEnvironment, "", "", 0, nil, "unknown engine %q", opt.Engine)
	}
}

// storage represents an opened key-value store (Bolt, Badger, in-memory).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns a bucket. Use sub="" for a root bucket, non-empty for a nested bucket.
	// Returns nil if the bucket doesn't exist.
	Bucket(name, sub string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	// For sub != "", it must also ensure the root bucket exists.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket deletes a nested bucket (sub must be non-empty).
	DeleteBucket(name, sub string) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection).
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration.
	Cursor() storageCursor

	// Stats returns storage-specific bucket statistics.
	// Backends that don't track allocation sizes may return zero values except KeyN.
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted bucket. Returned keys are relative to
// the bucket; nil key means the cursor ran off either end.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)
}

func storePath(dir, name, ext string) string {
	return filepath.Join(dir, name+ext)
}

func (opt *Options) engine() Engine {
	if opt.Engine == "" {
		return EngineBolt
	}
	return opt.Engine
}

func describeBackend(e Engine, dir string) string {
	return fmt.Sprintf("%s:%s", e, dir)
}
