package idb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Key identifies a record within a collection. Valid keys are positive.
type Key uint64

const keySize = 8

// Keys are stored big-endian so that byte order matches numeric order.
func encodeKey(key Key) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, keySize), uint64(key))
}

func decodeKey(raw []byte) Key {
	if len(raw) != keySize {
		panic(dataErrf(raw, 0, nil, "invalid key length %d", len(raw)))
	}
	return Key(binary.BigEndian.Uint64(raw))
}

func encodeRecord[T any](item T) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(item)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", item, err)
	}
	return buf.Bytes(), nil
}

func decodeRecord[T any](data []byte) (T, error) {
	var item T
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	err := dec.Decode(&item)
	msgpack.PutDecoder(dec)
	if err != nil {
		return item, dataErrf(data, 0, err, "failed to decode msgpack into %T", item)
	}
	return item, nil
}

// encodeIndexValue produces a canonical encoding of an index value, so that
// equal values decoded from records of different Go types compare equal.
func encodeIndexValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	enc.UseCompactFloats(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
