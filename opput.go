package idb

import (
	"bytes"
	"context"
	"time"
)

// Update replaces the record stored under key. It fails with ErrNotFound if
// there is no such record; use Create to add records.
func Update[T any](ctx context.Context, s *Store, coll string, key Key, item T) (err error) {
	start := time.Now()
	defer func() { s.observe("update", start, err) }()

	if isNilItem(item) {
		return configErrf(s.Name(), coll, nil, "nil item")
	}
	c, err := s.startOp(ctx, coll, key, true)
	if err != nil {
		return err
	}
	data, err := encodeRecord(item)
	if err != nil {
		return storeErrf(ErrConfig, s.Name(), coll, key, err, "")
	}

	var noop bool
	err = s.run(true, func(tx *tx) error {
		old, ok, err := tx.getValue(c.state, key)
		if err != nil {
			return err
		}
		if !ok {
			return storeErrf(ErrNotFound, s.Name(), coll, key, nil, "cannot update a missing record")
		}
		if bytes.Equal(old.Data, data) && old.StoreVer == s.state.Version {
			noop = true
			return nil
		}
		oldEntries, err := decodeIndexEntries(old.Index)
		if err != nil {
			return storeErrf(ErrRequest, s.Name(), coll, key, err, "corrupted record")
		}
		return tx.putValue(c.state, key, old.ModCount+1, data, oldEntries)
	})
	if err != nil {
		return err
	}

	if s.verbose {
		if noop {
			s.logf("idb: UPDATE.NOOP %s.%s/%d", s.Name(), coll, key)
		} else {
			s.logf("idb: UPDATE %s.%s/%d => %s", s.Name(), coll, key, loggableVal(item))
		}
	}
	return nil
}
