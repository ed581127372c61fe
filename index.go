package idb

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var indexRowValue = []byte{1}

// indexEntries derives the index keys a record contributes. Records that
// aren't objects, or lack a field, simply contribute nothing to that index.
func (cs *collectionState) indexEntries(data []byte) ([]indexEntry, error) {
	if len(cs.indexStates) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := msgpack.Unmarshal(data, &doc); err != nil || doc == nil {
		return nil, nil
	}
	var entries []indexEntry
	for _, is := range cs.indexStates {
		v, ok := lookupKeyPath(doc, is.name)
		if !ok || v == nil {
			continue
		}
		key, err := encodeIndexValue(v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, indexEntry{ord: is.Ordinal, key: key})
	}
	return entries, nil
}

func lookupKeyPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, comp := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[comp]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// indexRowKey = uvarint(len(value)) value key, so all rows of one value share
// a prefix and are ordered by record key.
func indexRowKey(valueKey []byte, key Key) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(valueKey)+keySize)
	buf = indexValuePrefix(buf, valueKey)
	return binary.BigEndian.AppendUint64(buf, uint64(key))
}

func indexValuePrefix(buf []byte, valueKey []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(valueKey)))
	return append(buf, valueKey...)
}

func decodeIndexRowKey(k []byte) (valueKey []byte, key Key, err error) {
	size, n := binary.Uvarint(k)
	if n <= 0 || uint64(len(k)-n) != size+keySize {
		return nil, 0, dataErrf(k, 0, nil, "invalid index row key")
	}
	valueKey = k[n : n+int(size)]
	return valueKey, decodeKey(k[n+int(size):]), nil
}

// checkUnique fails if another record already holds valueKey in a unique index.
func (tx *tx) checkUnique(idxB storageBucket, cs *collectionState, is *indexState, valueKey []byte, key Key) error {
	prefix := indexValuePrefix(nil, valueKey)
	c := idxB.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if other := decodeKey(k[len(prefix):]); other != key {
			return storeErrf(ErrConstraint, tx.store.Name(), cs.name, key, nil, "unique index %s already maps this value to key %d", is.name, other)
		}
	}
	return nil
}

// putIndexEntries replaces the index rows of a record: old rows not present
// in the new set are removed, then new rows are written.
func (tx *tx) putIndexEntries(cs *collectionState, key Key, old, entries []indexEntry) error {
	for _, e := range entries {
		is := cs.indexByOrdinal(e.ord)
		if is.Unique {
			if err := tx.checkUnique(tx.indexBucket(cs, is), cs, is, e.key, key); err != nil {
				return err
			}
		}
	}
	tx.deleteIndexEntries(cs, key, old)
	for _, e := range entries {
		is := cs.indexByOrdinal(e.ord)
		ensure(tx.indexBucket(cs, is).Put(indexRowKey(e.key, key), indexRowValue))
	}
	return nil
}

func (tx *tx) deleteIndexEntries(cs *collectionState, key Key, old []indexEntry) {
	for _, e := range old {
		is := cs.indexByOrdinal(e.ord)
		if is == nil {
			continue // index dropped since the record was written
		}
		ensure(tx.indexBucket(cs, is).Delete(indexRowKey(e.key, key)))
	}
}
