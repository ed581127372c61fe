package idb

import (
	"context"
	"time"
)

// Read fetches the record stored under key. A missing record is not an
// error: found is false and item is the zero value.
func Read[T any](ctx context.Context, s *Store, coll string, key Key) (item T, found bool, err error) {
	start := time.Now()
	defer func() { s.observe("read", start, err) }()

	c, err := s.startOp(ctx, coll, key, true)
	if err != nil {
		return item, false, err
	}

	err = s.run(false, func(tx *tx) error {
		vle, ok, err := tx.getValue(c.state, key)
		if err != nil || !ok {
			return err
		}
		item, err = decodeRecord[T](vle.Data)
		if err != nil {
			return storeErrf(ErrRequest, s.Name(), coll, key, err, "")
		}
		found = true
		return nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}

	if s.verbose {
		if found {
			s.logf("idb: READ %s.%s/%d => %s", s.Name(), coll, key, loggableVal(item))
		} else {
			s.logf("idb: READ.NOTFOUND %s.%s/%d", s.Name(), coll, key)
		}
	}
	return item, found, nil
}

// Exists reports whether a record is stored under key.
func (s *Store) Exists(ctx context.Context, coll string, key Key) (found bool, err error) {
	start := time.Now()
	defer func() { s.observe("exists", start, err) }()

	c, err := s.startOp(ctx, coll, key, true)
	if err != nil {
		return false, err
	}
	err = s.run(false, func(tx *tx) error {
		found = tx.dataBucket(c.state).Get(encodeKey(key)) != nil
		return nil
	})
	return found, err
}
