package idb

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	checksumSize = 8
	minValueSize = 5 + checksumSize
)

// value is a decoded record value. Data and Index alias the decoded buffer.
type value struct {
	Flags    valueFlags
	StoreVer uint64
	ModCount uint64
	Checksum uint64
	Data     []byte
	Index    []byte
}

type indexEntry struct {
	ord uint64
	key []byte
}

// encodeValue lays out a record as
//
//	flags | storeVer | modCount | xxhash64(data) | len(data) | len(index) | data | index
//
// where index = count (ordinal len(key) key)*, all integers uvarint except
// the fixed little-endian checksum.
func encodeValue(storeVer, modCount uint64, data []byte, entries []indexEntry) []byte {
	index := appendIndexEntries(nil, entries)

	buf := make([]byte, 0, binary.MaxVarintLen64*5+checksumSize+len(data)+len(index))
	buf = binary.AppendUvarint(buf, uint64(vfDefault))
	buf = binary.AppendUvarint(buf, storeVer)
	buf = binary.AppendUvarint(buf, modCount)
	buf = binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(data))
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	buf = binary.AppendUvarint(buf, uint64(len(index)))
	buf = append(buf, data...)
	buf = append(buf, index...)
	return buf
}

func appendIndexEntries(buf []byte, entries []indexEntry) []byte {
	if len(entries) == 0 {
		return buf
	}
	buf = binary.AppendUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, e.ord)
		buf = binary.AppendUvarint(buf, uint64(len(e.key)))
		buf = append(buf, e.key...)
	}
	return buf
}

func (vle *value) decode(data []byte) error {
	orig := data
	off := func() int { return len(orig) - len(data) }
	if len(data) < minValueSize {
		return dataErrf(orig, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}

	v, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, off(), nil, "invalid value: bad flags")
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(orig, off(), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags, data = valueFlags(v), data[n:]

	v, n = binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, off(), nil, "invalid value: bad store version")
	}
	vle.StoreVer, data = v, data[n:]

	v, n = binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, off(), nil, "invalid value: bad mod count")
	}
	vle.ModCount, data = v, data[n:]

	if len(data) < checksumSize {
		return dataErrf(orig, off(), nil, "invalid value: truncated checksum")
	}
	vle.Checksum, data = binary.LittleEndian.Uint64(data), data[checksumSize:]

	dataSize, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, off(), nil, "invalid value: bad data size")
	}
	data = data[n:]

	indexSize, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, off(), nil, "invalid value: bad index size")
	}
	data = data[n:]

	if uint64(len(data)) != dataSize+indexSize {
		return dataErrf(orig, off(), nil, "invalid value: got %d bytes for data+index, expected %d bytes", len(data), dataSize+indexSize)
	}
	vle.Data, vle.Index = data[:dataSize], data[dataSize:]

	if sum := xxhash.Sum64(vle.Data); sum != vle.Checksum {
		return dataErrf(orig, off(), nil, "invalid value: checksum %016x, expected %016x", sum, vle.Checksum)
	}
	return nil
}

func decodeIndexEntries(index []byte) ([]indexEntry, error) {
	if len(index) == 0 {
		return nil, nil
	}
	orig := index
	count, n := binary.Uvarint(index)
	if n <= 0 {
		return nil, dataErrf(orig, 0, nil, "invalid index keys: bad count")
	}
	index = index[n:]
	entries := make([]indexEntry, 0, min(count, uint64(len(index))))
	for i := uint64(0); i < count; i++ {
		ord, n := binary.Uvarint(index)
		if n <= 0 {
			return nil, dataErrf(orig, len(orig)-len(index), nil, "invalid index keys: bad ordinal")
		}
		index = index[n:]
		size, n := binary.Uvarint(index)
		if n <= 0 || uint64(len(index)-n) < size {
			return nil, dataErrf(orig, len(orig)-len(index), nil, "invalid index keys: bad key size")
		}
		index = index[n:]
		entries = append(entries, indexEntry{ord: ord, key: index[:size]})
		index = index[size:]
	}
	if len(index) != 0 {
		return nil, dataErrf(orig, len(orig)-len(index), nil, "invalid index keys: %d trailing bytes", len(index))
	}
	return entries, nil
}
