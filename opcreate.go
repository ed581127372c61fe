package idb

import (
	"context"
	"time"
)

// Create stores item under the next key of the collection and returns that
// key. If assign is non-nil, it is called with the key before encoding, so
// the record can carry its own key.
//
// Keys of a collection are handed out one at a time: concurrent Creates on
// the same collection are serialized until each commits, and a failed Create
// doesn't consume its key.
func Create[T any](ctx context.Context, s *Store, coll string, item T, assign func(T, Key) T) (key Key, err error) {
	start := time.Now()
	defer func() { s.observe("create", start, err) }()

	if isNilItem(item) {
		return 0, configErrf(s.Name(), coll, nil, "nil item")
	}
	c, err := s.startOp(ctx, coll, 0, false)
	if err != nil {
		return 0, err
	}

	key = c.alloc.allocate()
	committed := false
	defer func() { c.alloc.release(committed) }()

	if assign != nil {
		item = assign(item, key)
		if isNilItem(item) {
			return 0, configErrf(s.Name(), coll, nil, "assign returned a nil item")
		}
	}
	data, err := encodeRecord(item)
	if err != nil {
		return 0, storeErrf(ErrConfig, s.Name(), coll, key, err, "")
	}

	err = s.run(true, func(tx *tx) error {
		if tx.dataBucket(c.state).Get(encodeKey(key)) != nil {
			return storeErrf(ErrConstraint, s.Name(), coll, key, nil, "a record already exists under the allocated key")
		}
		if err := tx.putValue(c.state, key, 1, data, nil); err != nil {
			return err
		}
		tx.saveNextKey(c.state, key+1)
		return nil
	})
	if err != nil {
		return 0, err
	}
	committed = true

	if s.verbose {
		s.logf("idb: CREATE %s.%s/%d => %s", s.Name(), coll, key, loggableVal(item))
	}
	return key, nil
}
