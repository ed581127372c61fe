/*
Package idb implements an asynchronous, persistent, collection-based record
store on top of an ordered key-value engine (Bolt by default, Badger or
process memory on request).

A store is described by a StoreDescriptor: a name, a schema version and a list
of collections, each optionally carrying secondary indexes. Open returns
immediately; the store is opened or created in the background and every
operation waits until it is ready.

We implement:

1. Collections of msgpack-encoded records keyed by positive integers that the
store allocates itself, in increasing order. A key is consumed only once a
record was committed under it, and is never handed out again by the same
handle, even after Delete or ClearCollection.

2. Indexes over dotted field paths of the records. Unique indexes reject a
second record with the same value.

3. Whole-store deletion that waits for open handles to go away.

# Technical Details

**Buckets.**
Each collection owns a data bucket and one bucket per index. Bolt supports
nested buckets natively; the Badger engine simulates them via key prefixes.

**Store state**
A meta document in the _meta bucket records the store version and, per
collection, which indexes exist. Each index gets an ordinal that is never
reused, even if the index is removed.

**Versions**
Opening at a higher version than persisted creates missing collections and
indexes and builds new indexes over existing records. Opening at a lower
version fails.

**Key counters**
Every Create persists the collection's next key under "next.<collection>" in
the _meta bucket, in the same transaction as the record. At open, the counter
is the larger of that value and the highest stored key plus one, so deleted
keys are never handed out again. Key allocation holds a per-collection lock
until the write commits.

**Engine limits**
The Badger engine clears a bucket by deleting its keys one by one inside a
single transaction. Clearing or reindexing a collection whose buckets exceed
Badger's transaction size fails with ErrRequest wrapping badger.ErrTxnTooBig.

## Binary encoding

**Key**: 8 bytes, big-endian, so byte order is numeric order.

**Value header**:
1. Flags (uvarint).
2. Store version the record was written at (uvarint).
3. Modification count (uvarint).
4. xxhash64 of the data (8 bytes, little-endian).
5. Data size (uvarint).
6. Index size (uvarint).

**Value data**: msgpack of the record.

**Index key records** (inside a value) record the keys contributed by this
record, so that update and delete know which index rows to remove. Format:
1. Number of entries (uvarint).
2. For each entry: index ordinal (uvarint), key length (uvarint), key bytes.

**Index row key**: uvarint length of the msgpack-encoded field value, the
value itself, then the 8-byte record key.
*/
package idb
