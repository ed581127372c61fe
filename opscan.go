package idb

import (
	"context"
	"time"
)

// Scan calls f for every record of the collection in key order (insertion
// order, since keys only grow), or in reverse. Returning false from f stops
// the scan. f runs inside a read transaction and must not call back into
// the store for writes.
func Scan[T any](ctx context.Context, s *Store, coll string, reverse bool, f func(key Key, item T) bool) (err error) {
	start := time.Now()
	defer func() { s.observe("scan", start, err) }()

	c, err := s.startOp(ctx, coll, 0, false)
	if err != nil {
		return err
	}

	var n int
	err = s.run(false, func(tx *tx) error {
		cur := tx.dataBucket(c.state).Cursor()
		for k, v := firstOrLast(cur, reverse); k != nil; k, v = advance(cur, reverse) {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := decodeKey(k)
			var vle value
			if err := vle.decode(v); err != nil {
				return storeErrf(ErrRequest, s.Name(), coll, key, err, "corrupted record")
			}
			item, err := decodeRecord[T](vle.Data)
			if err != nil {
				return storeErrf(ErrRequest, s.Name(), coll, key, err, "")
			}
			n++
			if !f(key, item) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.verbose {
		s.logf("idb: SCAN %s.%s reverse=%v => %d records", s.Name(), coll, reverse, n)
	}
	return nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, coll string) (n int, err error) {
	start := time.Now()
	defer func() { s.observe("count", start, err) }()

	c, err := s.startOp(ctx, coll, 0, false)
	if err != nil {
		return 0, err
	}
	err = s.run(false, func(tx *tx) error {
		n = tx.dataBucket(c.state).Stats().KeyN
		return nil
	})
	return n, err
}

func firstOrLast(c storageCursor, reverse bool) ([]byte, []byte) {
	if reverse {
		return c.Last()
	} else {
		return c.First()
	}
}

func advance(c storageCursor, reverse bool) ([]byte, []byte) {
	if reverse {
		return c.Prev()
	} else {
		return c.Next()
	}
}
