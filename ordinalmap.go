package permafrost

import (
	"bytes"

	"github.com/zeebo/xxh3"

	"github.com/permafrost-db/permafrost/internal/bytestore"
)

// ordinalMap assigns dense ordinals to staged records by content: staging the
// same record bytes twice yields the same ordinal. Record bytes live in a
// flat append-only arena; encoders probe them in place via PointerForData.
type ordinalMap struct {
	store    *bytestore.ByteStore
	pointers []int64 // ordinal -> start offset in store
	lengths  []int32 // ordinal -> record length in bytes
	byHash   map[uint64][]int32
}

func newOrdinalMap() *ordinalMap {
	return &ordinalMap{
		store:  bytestore.New(),
		byHash: make(map[uint64][]int32),
	}
}

// Add returns the ordinal for record, assigning the next dense ordinal if the
// content has not been staged before.
func (m *ordinalMap) Add(record []byte) int {
	h := xxh3.Hash(record)
	for _, ord := range m.byHash[h] {
		if bytes.Equal(m.recordBytes(int(ord)), record) {
			return int(ord)
		}
	}

	ord := len(m.pointers)
	m.pointers = append(m.pointers, m.store.Len())
	m.lengths = append(m.lengths, int32(len(record)))
	m.store.Append(record)
	m.byHash[h] = append(m.byHash[h], int32(ord))
	return ord
}

// PointerForData returns the arena offset of the record staged at ordinal.
func (m *ordinalMap) PointerForData(ordinal int) int64 {
	return m.pointers[ordinal]
}

// ByteData returns the arena. The slice is invalidated by further Adds.
func (m *ordinalMap) ByteData() []byte {
	return m.store.Bytes()
}

// MaxOrdinal returns the highest assigned ordinal, or -1 when nothing has
// been staged.
func (m *ordinalMap) MaxOrdinal() int {
	return len(m.pointers) - 1
}

// RecordLength returns the byte length of the record staged at ordinal.
func (m *ordinalMap) RecordLength(ordinal int) int {
	return int(m.lengths[ordinal])
}

func (m *ordinalMap) recordBytes(ordinal int) []byte {
	start := m.pointers[ordinal]
	return m.store.Bytes()[start : start+int64(m.lengths[ordinal])]
}
