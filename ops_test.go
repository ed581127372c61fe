package idb

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
)

func indexedDescriptor(name string) *StoreDescriptor {
	return &StoreDescriptor{
		Name:    name,
		Version: 1,
		Collections: []CollectionDescriptor{
			{Name: "nodes", Indexes: []IndexDescriptor{
				{Name: "name", Unique: true},
				{Name: "parent"},
				{Name: "meta.path"},
			}},
		},
	}
}

func TestCreate_invalid(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))

	_, err := Create[*Node](ctx, s, "nodes", nil, nil)
	isErr(t, err, ErrConfig)

	_, err = Create(ctx, s, "missing", &Node{}, nil)
	isErr(t, err, ErrConfig)

	_, err = Create(ctx, s, "nodes", func() {}, nil)
	isErr(t, err, ErrConfig)

	// failures don't consume keys
	deepEqual(t, must(Create(ctx, s, "nodes", &Node{}, nil)), Key(1))
}

func TestKeyed_invalid(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))

	_, _, err := Read[Node](ctx, s, "nodes", 0)
	isErr(t, err, ErrConfig)
	isErr(t, err, ErrInvalidKey)

	err = Update(ctx, s, "nodes", 0, &Node{})
	isErr(t, err, ErrInvalidKey)

	isErr(t, s.Delete(ctx, "nodes", 0), ErrInvalidKey)
	isErr(t, s.Delete(ctx, "nope", 1), ErrConfig)
	isErr(t, s.ClearCollection(ctx, "nope"), ErrConfig)

	_, _, err = Read[Node](ctx, s, "nope", 1)
	isErr(t, err, ErrConfig)
}

func TestRead_missing(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))

	n, found, err := Read[Node](ctx, s, "nodes", 42)
	ok(t, err)
	if found {
		t.Errorf("found = true for a missing record")
	}
	deepEqual(t, n, Node{})
	deepEqual(t, must(s.Exists(ctx, "nodes", 42)), false)
}

func TestUpdate(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))

	err := Update(ctx, s, "nodes", 7, &Node{Name: "ghost"})
	isErr(t, err, ErrNotFound)
	var se *StoreError
	if !errors.As(err, &se) || se.Key != 7 || se.Collection != "nodes" {
		t.Errorf("Update error = %#v, wanted StoreError for nodes/7", err)
	}

	k := must(Create(ctx, s, "nodes", &Node{Name: "a"}, assignNodeID))
	ok(t, Update(ctx, s, "nodes", k, &Node{ID: k, Name: "b"}))
	ok(t, Update(ctx, s, "nodes", k, &Node{ID: k, Name: "b"}))
	n, _, err := Read[Node](ctx, s, "nodes", k)
	ok(t, err)
	deepEqual(t, n, Node{ID: k, Name: "b"})

	// updates never allocate keys
	deepEqual(t, must(Create(ctx, s, "nodes", &Node{}, nil)), Key(2))
}

func TestUpdate_modCount(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))
	c := s.colls["nodes"]

	k := must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil))
	modCount := func() uint64 {
		var mc uint64
		ok(t, s.run(false, func(tx *tx) error {
			vle, _, err := tx.getValue(c.state, k)
			mc = vle.ModCount
			return err
		}))
		return mc
	}
	deepEqual(t, modCount(), uint64(1))
	ok(t, Update(ctx, s, "nodes", k, &Node{Name: "b"}))
	deepEqual(t, modCount(), uint64(2))
	ok(t, Update(ctx, s, "nodes", k, &Node{Name: "b"}))
	deepEqual(t, modCount(), uint64(2))
}

func TestDelete(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))

	// unconditional: deleting a missing record succeeds
	ok(t, s.Delete(ctx, "nodes", 5))

	k := must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil))
	deepEqual(t, must(s.Exists(ctx, "nodes", k)), true)
	ok(t, s.Delete(ctx, "nodes", k))
	deepEqual(t, must(s.Exists(ctx, "nodes", k)), false)
	deepEqual(t, must(s.Count(ctx, "nodes")), 0)
}

func TestClearCollection(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, indexedDescriptor(uniqueName(t)))

	for _, name := range []string{"a", "b", "c"} {
		must(Create(ctx, s, "nodes", &Node{Name: name, Meta: &Meta{Path: "/" + name}}, nil))
	}
	ok(t, s.ClearCollection(ctx, "nodes"))

	stats := must(s.Stats(ctx))
	deepEqual(t, stats[0].Rows, 0)
	deepEqual(t, stats[0].IndexRows, 0)
	deepEqual(t, stats[0].NextKey, Key(4))

	// the counter survives the clear, unique values are free again
	deepEqual(t, must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil)), Key(4))
	_, found, err := Read[Node](ctx, s, "nodes", 1)
	ok(t, err)
	deepEqual(t, found, false)
}

func TestUniqueIndex(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, indexedDescriptor(uniqueName(t)))

	a := must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil))
	b := must(Create(ctx, s, "nodes", &Node{Name: "b"}, nil))

	_, err := Create(ctx, s, "nodes", &Node{Name: "a"}, nil)
	isErr(t, err, ErrConstraint)
	isErr(t, Update(ctx, s, "nodes", b, &Node{Name: "a"}), ErrConstraint)

	// a record may keep its own unique value
	ok(t, Update(ctx, s, "nodes", a, &Node{Name: "a", Parent: 9}))

	// renaming frees the old value
	ok(t, Update(ctx, s, "nodes", a, &Node{Name: "z"}))
	ok(t, Update(ctx, s, "nodes", b, &Node{Name: "a"}))

	// deleting frees the value too
	ok(t, s.Delete(ctx, "nodes", b))
	deepEqual(t, must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil)), Key(3))
}

func TestIndexRows(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, indexedDescriptor(uniqueName(t)))

	k := must(Create(ctx, s, "nodes", &Node{Name: "a", Parent: 1, Meta: &Meta{Path: "/a"}}, nil))
	deepEqual(t, must(s.Stats(ctx))[0].IndexRows, 3)

	// a field that disappears drops its index row
	ok(t, Update(ctx, s, "nodes", k, &Node{Name: "a"}))
	deepEqual(t, must(s.Stats(ctx))[0].IndexRows, 1)

	// records that don't carry indexed fields contribute no rows
	must(Create(ctx, s, "nodes", map[string]any{"other": 1}, nil))
	must(Create(ctx, s, "nodes", "just a string", nil))
	deepEqual(t, must(s.Stats(ctx))[0].IndexRows, 1)

	ok(t, s.Delete(ctx, "nodes", k))
	deepEqual(t, must(s.Stats(ctx))[0].IndexRows, 0)
}

func TestIndex_canonicalValues(t *testing.T) {
	ctx := testContext(t)
	desc := &StoreDescriptor{Name: uniqueName(t), Version: 1, Collections: []CollectionDescriptor{
		{Name: "items", Indexes: []IndexDescriptor{{Name: "n", Unique: true}}},
	}}
	s := setup(t, desc)

	type small struct {
		N int8 `msgpack:"n"`
	}
	must(Create(ctx, s, "items", small{N: 5}, nil))

	// the same number written with a different Go type collides
	_, err := Create(ctx, s, "items", map[string]any{"n": uint64(5)}, nil)
	isErr(t, err, ErrConstraint)
	_, err = Create(ctx, s, "items", map[string]any{"n": 5.0}, nil)
	isErr(t, err, ErrConstraint)
}

func TestReindex(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, indexedDescriptor(uniqueName(t)))

	must(Create(ctx, s, "nodes", &Node{Name: "a", Parent: 1}, nil))
	must(Create(ctx, s, "nodes", &Node{Name: "b", Parent: 1}, nil))
	before := must(s.Stats(ctx))[0].IndexRows

	ok(t, s.Reindex(ctx, "nodes"))
	deepEqual(t, must(s.Stats(ctx))[0].IndexRows, before)

	_, err := Create(ctx, s, "nodes", &Node{Name: "b"}, nil)
	isErr(t, err, ErrConstraint)
}

func TestReindex_failureKeepsIndexes(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, indexedDescriptor(uniqueName(t)))
	c := s.colls["nodes"]
	must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil))

	garbage := encodeKey(99)
	ok(t, s.run(true, func(tx *tx) error {
		tx.markWritten()
		return tx.dataBucket(c.state).Put(garbage, []byte{0xFF})
	}))
	isErr(t, s.Reindex(ctx, "nodes"), ErrRequest)
	for _, is := range c.state.indexStates {
		if !is.Built {
			t.Errorf("index %s left unbuilt", is.name)
		}
	}

	ok(t, s.run(true, func(tx *tx) error {
		tx.markWritten()
		return tx.dataBucket(c.state).Delete(garbage)
	}))
	_, err := Create(ctx, s, "nodes", &Node{Name: "a"}, nil)
	isErr(t, err, ErrConstraint)
	ok(t, s.Reindex(ctx, "nodes"))
}

func TestReindex_concurrentCollections(t *testing.T) {
	ctx := testContext(t)
	desc := indexedDescriptor(uniqueName(t))
	desc.Collections = append(desc.Collections, CollectionDescriptor{
		Name:    "tags",
		Indexes: []IndexDescriptor{{Name: "name", Unique: true}},
	})
	s := setup(t, desc)
	must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil))
	must(Create(ctx, s, "tags", &Node{Name: "a"}, nil))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		coll := desc.Collections[i%2].Name
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Reindex(ctx, coll)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		ok(t, err)
	}
	stats := must(s.Stats(ctx))
	deepEqual(t, stats[0].IndexRows, 1)
	deepEqual(t, stats[1].IndexRows, 1)
}

func TestScan(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))

	for _, name := range []string{"a", "b", "c", "d"} {
		must(Create(ctx, s, "nodes", &Node{Name: name}, assignNodeID))
	}
	ok(t, s.Delete(ctx, "nodes", 2))

	var names []string
	ok(t, Scan(ctx, s, "nodes", false, func(key Key, n Node) bool {
		if n.ID != key {
			t.Errorf("record %d carries ID %d", key, n.ID)
		}
		names = append(names, n.Name)
		return true
	}))
	deepEqual(t, names, []string{"a", "c", "d"})

	names = nil
	ok(t, Scan(ctx, s, "nodes", true, func(key Key, n Node) bool {
		names = append(names, n.Name)
		return len(names) < 2
	}))
	deepEqual(t, names, []string{"d", "c"})

	var calls int
	ok(t, Scan(ctx, s, "blobs", false, func(Key, Node) bool {
		calls++
		return true
	}))
	deepEqual(t, calls, 0)
}

func TestScan_cancelled(t *testing.T) {
	s := setup(t, libDescriptor(uniqueName(t), 1))
	must(Create(testContext(t), s, "nodes", &Node{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Scan(ctx, s, "nodes", false, func(Key, Node) bool { return true })
	isErr(t, err, context.Canceled)
}

func TestCreate_concurrent(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))

	const workers, perWorker = 8, 25
	var mu sync.Mutex
	seen := make(map[Key]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				coll := "nodes"
				if i%5 == 0 {
					coll = "blobs"
				}
				k, err := Create(ctx, s, coll, &Node{Name: "n"}, assignNodeID)
				if err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				if coll == "nodes" {
					mu.Lock()
					if seen[k] {
						t.Errorf("key %d handed out twice", k)
					}
					seen[k] = true
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	nodes := workers * (perWorker - perWorker/5)
	deepEqual(t, len(seen), nodes)
	deepEqual(t, must(s.Count(ctx, "nodes")), nodes)
	for k := Key(1); k <= Key(nodes); k++ {
		if !seen[k] {
			t.Errorf("key %d skipped", k)
		}
	}
	deepEqual(t, must(s.Count(ctx, "blobs")), workers*perWorker/5)
}

func TestCreate_occupiedKey(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, libDescriptor(uniqueName(t), 1))
	c := s.colls["nodes"]

	must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil))
	// simulate a counter that fell behind the data
	c.alloc.reset(1)
	_, err := Create(ctx, s, "nodes", &Node{Name: "b"}, nil)
	isErr(t, err, ErrConstraint)
	deepEqual(t, c.alloc.peek(), Key(1))
}

func TestDump(t *testing.T) {
	ctx := testContext(t)
	s := setup(t, indexedDescriptor(uniqueName(t)))
	must(Create(ctx, s, "nodes", &Node{Name: "a"}, nil))

	out := must(s.Dump(ctx, DumpRecords|DumpIndexRows|DumpIndices))
	for _, want := range []string{
		s.Name() + `.nodes/1 = (m1 v1) {"id":0,"name":"a"}`,
		s.Name() + `.nodes.i.name: "a" => 1`,
	} {
		if !slices.Contains(strings.Split(out, "\n"), want) {
			t.Errorf("Dump missing %q in:\n%s", want, out)
		}
	}
}
