package idb

import (
	"context"
	"time"
)

// Reindex rebuilds every index of the collection from its records.
func (s *Store) Reindex(ctx context.Context, coll string) (err error) {
	start := time.Now()
	defer func() { s.observe("reindex", start, err) }()

	c, err := s.startOp(ctx, coll, 0, false)
	if err != nil {
		return err
	}
	c.alloc.allocate()
	defer c.alloc.release(false)

	cs := c.state
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	err = s.run(true, func(tx *tx) error {
		built := false
		defer func() {
			// on failure the transaction rolls back, keeping the old rows
			if !built {
				for _, is := range cs.indexStates {
					is.Built = true
				}
			}
		}()
		for _, is := range cs.indexStates {
			tx.dropBucket(cs.name, indexSubName(is.name))
			_ = must(tx.stx.CreateBucket(cs.name, indexSubName(is.name)))
			is.Built = false
		}
		tx.markWritten()
		cs.buildPendingIndices(tx)
		s.state.save(tx)
		built = true
		return nil
	})
	if err != nil {
		return err
	}
	if s.verbose {
		s.logf("idb: REINDEX %s.%s", s.Name(), coll)
	}
	return nil
}
