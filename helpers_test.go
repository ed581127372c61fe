package idb

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type Node struct {
	ID     Key    `msgpack:"id"`
	Name   string `msgpack:"name"`
	Parent Key    `msgpack:"parent,omitempty"`
	Meta   *Meta  `msgpack:"meta,omitempty"`
}

type Meta struct {
	Path string `msgpack:"path"`
}

func assignNodeID(n *Node, key Key) *Node {
	n.ID = key
	return n
}

var storeSeq atomic.Int64

// uniqueName keeps memory-engine stores of different tests apart.
func uniqueName(t testing.TB) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return name + "_" + strconv.FormatInt(storeSeq.Add(1), 10)
}

func libDescriptor(name string, version uint64) *StoreDescriptor {
	return &StoreDescriptor{
		Name:    name,
		Version: version,
		Collections: []CollectionDescriptor{
			{Name: "nodes"},
			{Name: "blobs"},
		},
	}
}

func testOptions(t testing.TB) Options {
	return Options{
		Engine:    EngineMemory,
		IsTesting: true,
		Logf:      t.Logf,
	}
}

// setup opens a fresh memory store, waits for it and closes and deletes it
// at the end of the test.
func setup(t testing.TB, desc *StoreDescriptor) *Store {
	t.Helper()
	return setupWith(t, desc, testOptions(t))
}

func setupWith(t testing.TB, desc *StoreDescriptor, opt Options) *Store {
	t.Helper()
	s := must(Open(desc, opt))
	t.Cleanup(func() {
		s.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := DeleteStore(ctx, desc.Name, opt); err != nil {
			t.Errorf("DeleteStore(%s): %v", desc.Name, err)
		}
	})
	if _, err := s.WaitForReady(testContext(t)); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	return s
}

func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isErr(t testing.TB, err, kind error) {
	if !errors.Is(err, kind) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, kind)
	}
}

func ok(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}
