package permafrost

import (
	"fmt"
	"sort"

	perrors "github.com/permafrost-db/permafrost/errors"
	"github.com/permafrost-db/permafrost/internal/bytestore"
	"github.com/permafrost-db/permafrost/internal/hashing"
	"github.com/permafrost-db/permafrost/internal/varint"
)

// MapWriteRecord stages one map record: a multiset of (key ordinal, value
// ordinal) pairs. Records are reusable across Add calls via Reset.
type MapWriteRecord struct {
	entries []mapEntry
}

type mapEntry struct {
	keyOrdinal   int
	valueOrdinal int
}

// NewMapWriteRecord returns an empty map record.
func NewMapWriteRecord() *MapWriteRecord {
	return &MapWriteRecord{}
}

// AddEntry stages one (key ordinal, value ordinal) pair. Duplicate keys are
// allowed; the record is a multiset.
func (r *MapWriteRecord) AddEntry(keyOrdinal, valueOrdinal int) {
	r.entries = append(r.entries, mapEntry{keyOrdinal: keyOrdinal, valueOrdinal: valueOrdinal})
}

// NumEntries returns the logical map size.
func (r *MapWriteRecord) NumEntries() int {
	return len(r.entries)
}

// Reset clears the record for reuse.
func (r *MapWriteRecord) Reset() {
	r.entries = r.entries[:0]
}

// serializeTo writes the staged wire form: the logical size, then per entry
// the forward key-ordinal delta, the value ordinal, and the bucket hint the
// stager derives from the key ordinal. Entries are sorted by key ordinal so
// the deltas are nonnegative.
func (r *MapWriteRecord) serializeTo(store *bytestore.ByteStore) {
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].keyOrdinal < r.entries[j].keyOrdinal
	})

	numBuckets := hashing.HashTableSize(len(r.entries))

	_ = varint.WriteVInt(store, len(r.entries))
	previousKey := 0
	for _, e := range r.entries {
		_ = varint.WriteVInt(store, e.keyOrdinal-previousKey)
		_ = varint.WriteVInt(store, e.valueOrdinal)
		_ = varint.WriteVInt(store, int(hashing.HashInt(e.keyOrdinal))&(numBuckets-1))
		previousKey = e.keyOrdinal
	}
}

// ObjectWriteRecord stages one object record: a value per declared field.
// Unset fields stage as the zero value of their type.
type ObjectWriteRecord struct {
	schema    *ObjectSchema
	intValues []int64
	strValues []string
}

// NewObjectWriteRecord returns an empty record for the given schema.
func NewObjectWriteRecord(schema *ObjectSchema) *ObjectWriteRecord {
	return &ObjectWriteRecord{
		schema:    schema,
		intValues: make([]int64, len(schema.Fields)),
		strValues: make([]string, len(schema.Fields)),
	}
}

// SetInt stages an integer field value.
func (r *ObjectWriteRecord) SetInt(field string, v int64) error {
	i := r.schema.fieldIndex(field)
	if i < 0 {
		return fmt.Errorf("%w: %q.%q", perrors.ErrUnknownField, r.schema.Name, field)
	}
	if r.schema.Fields[i].Type != FieldInt {
		return fmt.Errorf("%w: %q.%q is %s", perrors.ErrFieldTypeMismatch, r.schema.Name, field, r.schema.Fields[i].Type)
	}
	r.intValues[i] = v
	return nil
}

// SetString stages a string field value.
func (r *ObjectWriteRecord) SetString(field string, v string) error {
	i := r.schema.fieldIndex(field)
	if i < 0 {
		return fmt.Errorf("%w: %q.%q", perrors.ErrUnknownField, r.schema.Name, field)
	}
	if r.schema.Fields[i].Type != FieldString {
		return fmt.Errorf("%w: %q.%q is %s", perrors.ErrFieldTypeMismatch, r.schema.Name, field, r.schema.Fields[i].Type)
	}
	r.strValues[i] = v
	return nil
}

// Reset clears all staged field values for reuse.
func (r *ObjectWriteRecord) Reset() {
	for i := range r.intValues {
		r.intValues[i] = 0
	}
	for i := range r.strValues {
		r.strValues[i] = ""
	}
}

// serializeTo writes the staged wire form: field values in schema order,
// ints zig-zagged, strings length-prefixed.
func (r *ObjectWriteRecord) serializeTo(store *bytestore.ByteStore) {
	for i, f := range r.schema.Fields {
		switch f.Type {
		case FieldInt:
			_ = varint.WriteVLong(store, int64(zigZagEncode(r.intValues[i])))
		case FieldString:
			_ = varint.WriteVInt(store, len(r.strValues[i]))
			store.Append([]byte(r.strValues[i]))
		}
	}
}

func zigZagEncode(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func zigZagDecode(uv uint64) int64 {
	return int64(uv>>1) ^ -int64(uv&1)
}
