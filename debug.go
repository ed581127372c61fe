package idb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

type DumpFlags uint64

const (
	DumpCollectionHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpIndices
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of the store for debugging and tests.
func (s *Store) Dump(ctx context.Context, f DumpFlags) (string, error) {
	if err := s.beginOp(ctx); err != nil {
		return "", err
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	err = s.run(false, func(tx *tx) error {
		for i, cd := range s.desc.Collections {
			tx.dumpCollection(&buf, f, s.colls[cd.Name], &stats[i])
		}
		return nil
	})
	return buf.String(), err
}

func (tx *tx) dumpCollection(w *strings.Builder, f DumpFlags, c *collection, st *CollectionStats) {
	prefix := tx.store.Name() + "." + c.state.name

	if f.Contains(DumpCollectionHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records, next key %d)\n", prefix, st.Rows, st.NextKey)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_rows = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, st.IndexRows, st.DataSize, st.DataAlloc, st.IndexSize, st.IndexAlloc, st.TotalAlloc())
	}

	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		cur := tx.dataBucket(c.state).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			dumpRecord(w, prefix, k, v)
		}
	}

	if f.Contains(DumpIndices) {
		for _, is := range c.state.indexStates {
			fmt.Fprintln(w, dumpSep2)
			fmt.Fprintf(w, "%s.i.%s (0x%x)%s\n", prefix, is.name, is.Ordinal, map[bool]string{false: "", true: " UNIQUE"}[is.Unique])
			if f.Contains(DumpIndexRows) {
				cur := tx.indexBucket(c.state, is).Cursor()
				for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
					dumpIndexRow(w, prefix+".i."+is.name, k)
				}
			}
		}
	}
}

func dumpRecord(w *strings.Builder, prefix string, k, v []byte) {
	key := decodeKey(k)
	var vle value
	if err := vle.decode(v); err != nil {
		fmt.Fprintf(w, "%s/%d = ** ERROR: %v\n", prefix, key, err)
		return
	}
	var doc any
	if err := msgpack.Unmarshal(vle.Data, &doc); err != nil {
		fmt.Fprintf(w, "%s/%d = (m%d v%d) ** ERROR: %v\n", prefix, key, vle.ModCount, vle.StoreVer, err)
		return
	}
	fmt.Fprintf(w, "%s/%d = (m%d v%d) %s\n", prefix, key, vle.ModCount, vle.StoreVer, loggableVal(doc))
}

func dumpIndexRow(w *strings.Builder, prefix string, k []byte) {
	valueKey, key, err := decodeIndexRowKey(k)
	if err != nil {
		fmt.Fprintf(w, "%s: ** ERROR: %v\n", prefix, err)
		return
	}
	var v any
	if err := msgpack.Unmarshal(valueKey, &v); err != nil {
		fmt.Fprintf(w, "%s: %x => %d\n", prefix, valueKey, key)
		return
	}
	fmt.Fprintf(w, "%s: %s => %d\n", prefix, must(json.Marshal(v)), key)
}
