package idb

import (
	"context"
	"reflect"
	"slices"
)

// startOp validates the request synchronously, then waits for readiness.
// Pass key 0 for operations that don't address a record.
func (s *Store) startOp(ctx context.Context, coll string, key Key, needKey bool) (*collection, error) {
	if err := s.checkCollection(coll); err != nil {
		return nil, err
	}
	if needKey && key == 0 {
		return nil, storeErrf(ErrConfig, s.Name(), coll, 0, ErrInvalidKey, "keys must be positive")
	}
	if err := s.beginOp(ctx); err != nil {
		return nil, err
	}
	return s.collection(coll)
}

// isNilItem reports items that cannot be encoded as a record.
func isNilItem(item any) bool {
	if item == nil {
		return true
	}
	v := reflect.ValueOf(item)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// getValue returns the decoded value stored at key. The value is copied out
// of the storage buffer, so it stays valid across writes in the same tx.
func (tx *tx) getValue(cs *collectionState, key Key) (value, bool, error) {
	var vle value
	raw := tx.dataBucket(cs).Get(encodeKey(key))
	if raw == nil {
		return vle, false, nil
	}
	if err := vle.decode(slices.Clone(raw)); err != nil {
		return vle, false, storeErrf(ErrRequest, tx.store.Name(), cs.name, key, err, "corrupted record")
	}
	return vle, true, nil
}

// putValue writes a record with its index rows and confirms that the
// storage acknowledges the key it was written under.
func (tx *tx) putValue(cs *collectionState, key Key, modCount uint64, data []byte, old []indexEntry) error {
	entries, err := cs.indexEntries(data)
	if err != nil {
		return storeErrf(ErrRequest, tx.store.Name(), cs.name, key, err, "computing index keys")
	}
	if err := tx.putIndexEntries(cs, key, old, entries); err != nil {
		return err
	}

	keyRaw := encodeKey(key)
	dataB := tx.dataBucket(cs)
	tx.markWritten()
	ensure(dataB.Put(keyRaw, encodeValue(tx.store.state.Version, modCount, data, entries)))
	if dataB.Get(keyRaw) == nil {
		return storeErrf(ErrKeyMismatch, tx.store.Name(), cs.name, key, nil, "record not found under its key after write")
	}
	return nil
}
