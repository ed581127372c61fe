package idb

import (
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	metaBucket   = "_meta"
	dataSubName  = "data"
	indexSubPref = "idx."
)

var storeStateKey = []byte("store")

func indexSubName(index string) string {
	return indexSubPref + index
}

// storeState is the meta document persisted alongside the data. Index
// ordinals are never reused, even if an index is removed.
type storeState struct {
	Name        string                      `msgpack:"n"`
	Version     uint64                      `msgpack:"v"`
	Collections map[string]*collectionState `msgpack:"c"`
	CreatedAt   time.Time                   `msgpack:"ct"`
	UpgradedAt  time.Time                   `msgpack:"ut"`
}

type collectionState struct {
	LastIndexOrdinal uint64                 `msgpack:"li"`
	Indices          map[string]*indexState `msgpack:"i"`

	name             string                 `msgpack:"-"`
	indexStates      []*indexState          `msgpack:"-"`
	indexStatesByOrd map[uint64]*indexState `msgpack:"-"`
}

type indexState struct {
	Ordinal uint64 `msgpack:"o"`
	Unique  bool   `msgpack:"u"`
	Built   bool   `msgpack:"f"`

	name string `msgpack:"-"`
}

func (cs *collectionState) indexByOrdinal(ord uint64) *indexState {
	return cs.indexStatesByOrd[ord]
}

func (cs *collectionState) hasPendingIndices() bool {
	for _, is := range cs.indexStates {
		if !is.Built {
			return true
		}
	}
	return false
}

func loadStoreState(tx *tx) (*storeState, error) {
	b := tx.stx.Bucket(metaBucket, "")
	if b == nil {
		return nil, nil
	}
	raw := b.Get(storeStateKey)
	if raw == nil {
		return nil, nil
	}
	st := new(storeState)
	if err := msgpack.Unmarshal(raw, st); err != nil {
		return nil, dataErrf(raw, 0, err, "failed to decode store state")
	}
	return st, nil
}

// nextKeyMetaKey names the persisted key counter of a collection. It lives
// in the meta bucket so that keys deleted at the tail stay consumed after a
// reopen.
func nextKeyMetaKey(coll string) []byte {
	return []byte("next." + coll)
}

func (tx *tx) loadNextKey(cs *collectionState) (Key, error) {
	b := tx.stx.Bucket(metaBucket, "")
	if b == nil {
		return 0, nil
	}
	raw := b.Get(nextKeyMetaKey(cs.name))
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, dataErrf(raw, 0, nil, "invalid key counter of %s", cs.name)
	}
	return decodeKey(raw), nil
}

// saveNextKey expects the meta bucket to exist, which prepare guarantees.
func (tx *tx) saveNextKey(cs *collectionState, next Key) {
	b := tx.stx.Bucket(metaBucket, "")
	if b == nil {
		panic(storeErrf(ErrRequest, tx.store.Name(), cs.name, 0, ErrBucketNotFound, "missing meta bucket"))
	}
	ensure(b.Put(nextKeyMetaKey(cs.name), encodeKey(next)))
}

func (st *storeState) save(tx *tx) {
	b := must(tx.stx.CreateBucket(metaBucket, ""))
	ensure(b.Put(storeStateKey, must(msgpack.Marshal(st))))
}

// prepareCollection creates the buckets of a collection and its indexes,
// assigning ordinals to new indexes and dropping indexes no longer described.
func (st *storeState) prepareCollection(tx *tx, cd *CollectionDescriptor) *collectionState {
	cs := st.Collections[cd.Name]
	if cs == nil {
		cs = new(collectionState)
		st.Collections[cd.Name] = cs
	}
	if cs.Indices == nil {
		cs.Indices = make(map[string]*indexState)
	}
	_ = must(tx.stx.CreateBucket(cd.Name, dataSubName))

	described := make(map[string]bool, len(cd.Indexes))
	for _, id := range cd.Indexes {
		described[id.Name] = true
		is := cs.Indices[id.Name]
		if is != nil && is.Unique != id.Unique {
			// uniqueness changed: rebuild from scratch under the same name
			tx.dropBucket(cd.Name, indexSubName(id.Name))
			delete(cs.Indices, id.Name)
			is = nil
		}
		if is == nil {
			cs.LastIndexOrdinal++
			cs.Indices[id.Name] = &indexState{
				Ordinal: cs.LastIndexOrdinal,
				Unique:  id.Unique,
			}
		}
		_ = must(tx.stx.CreateBucket(cd.Name, indexSubName(id.Name)))
	}
	for name := range cs.Indices {
		if !described[name] {
			tx.dropBucket(cd.Name, indexSubName(name))
			delete(cs.Indices, name)
			tx.store.logf("idb: dropped index %s.%s.%s", st.Name, cd.Name, name)
		}
	}
	cs.attach(cd)
	return cs
}

// attach links the decoded state to the descriptor order of its indexes.
func (cs *collectionState) attach(cd *CollectionDescriptor) {
	cs.name = cd.Name
	cs.indexStates = make([]*indexState, 0, len(cd.Indexes))
	cs.indexStatesByOrd = make(map[uint64]*indexState, len(cd.Indexes))
	for _, id := range cd.Indexes {
		is := cs.Indices[id.Name]
		if is == nil {
			continue
		}
		is.name = id.Name
		cs.indexStates = append(cs.indexStates, is)
		cs.indexStatesByOrd[is.Ordinal] = is
	}
}

// matches reports whether the persisted indexes are exactly the described ones.
func (cs *collectionState) matches(cd *CollectionDescriptor) bool {
	if len(cs.Indices) != len(cd.Indexes) {
		return false
	}
	for _, id := range cd.Indexes {
		is := cs.Indices[id.Name]
		if is == nil || is.Unique != id.Unique || !is.Built {
			return false
		}
	}
	return true
}

// buildPendingIndices indexes existing records for indexes added by an upgrade.
func (cs *collectionState) buildPendingIndices(tx *tx) {
	if !cs.hasPendingIndices() {
		return
	}
	start := time.Now()
	dataB := tx.dataBucket(cs)

	// collect first: bolt cursors are invalidated by writes to their bucket
	type row struct {
		keyRaw []byte
		old    value
	}
	var rows []row
	c := dataB.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		r := row{keyRaw: slices.Clone(k)}
		ensure(r.old.decode(slices.Clone(v)))
		rows = append(rows, r)
	}

	for _, r := range rows {
		key := decodeKey(r.keyRaw)
		entries, err := cs.indexEntries(r.old.Data)
		ensure(err)
		for _, e := range entries {
			is := cs.indexByOrdinal(e.ord)
			if is.Built {
				continue
			}
			idxB := tx.indexBucket(cs, is)
			if is.Unique {
				ensure(tx.checkUnique(idxB, cs, is, e.key, key))
			}
			ensure(idxB.Put(indexRowKey(e.key, key), indexRowValue))
		}
		ensure(dataB.Put(r.keyRaw, encodeValue(r.old.StoreVer, r.old.ModCount, r.old.Data, entries)))
	}
	for _, is := range cs.indexStates {
		is.Built = true
	}
	tx.store.logf("idb: built indexes of %s.%s over %d records in %d ms", tx.store.Name(), cs.name, len(rows), time.Since(start).Milliseconds())
}
