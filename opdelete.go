package idb

import (
	"context"
	"time"
)

// Delete removes the record stored under key together with its index rows.
// Deleting a missing record succeeds. The key is never handed out again.
func (s *Store) Delete(ctx context.Context, coll string, key Key) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()

	c, err := s.startOp(ctx, coll, key, true)
	if err != nil {
		return err
	}

	var found bool
	err = s.run(true, func(tx *tx) error {
		old, ok, err := tx.getValue(c.state, key)
		if err != nil || !ok {
			return err
		}
		found = true
		oldEntries, err := decodeIndexEntries(old.Index)
		if err != nil {
			return storeErrf(ErrRequest, s.Name(), coll, key, err, "corrupted record")
		}
		tx.markWritten()
		tx.deleteIndexEntries(c.state, key, oldEntries)
		ensure(tx.dataBucket(c.state).Delete(encodeKey(key)))
		return nil
	})
	if err != nil {
		return err
	}

	if s.verbose {
		if found {
			s.logf("idb: DELETE %s.%s/%d", s.Name(), coll, key)
		} else {
			s.logf("idb: DELETE.NOOP %s.%s/%d", s.Name(), coll, key)
		}
	}
	return nil
}

// ClearCollection removes every record of the collection and its index rows
// in one transaction. Key allocation continues where it was.
func (s *Store) ClearCollection(ctx context.Context, coll string) (err error) {
	start := time.Now()
	defer func() { s.observe("clear", start, err) }()

	c, err := s.startOp(ctx, coll, 0, false)
	if err != nil {
		return err
	}

	// hold the allocator so a concurrent Create can't straddle the clear
	c.alloc.allocate()
	defer c.alloc.release(false)

	err = s.run(true, func(tx *tx) error {
		cs := c.state
		tx.markWritten()
		tx.dropBucket(cs.name, dataSubName)
		_ = must(tx.stx.CreateBucket(cs.name, dataSubName))
		for _, is := range cs.indexStates {
			tx.dropBucket(cs.name, indexSubName(is.name))
			_ = must(tx.stx.CreateBucket(cs.name, indexSubName(is.name)))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.verbose {
		s.logf("idb: CLEAR %s.%s", s.Name(), coll)
	}
	return nil
}
