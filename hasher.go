package permafrost

import (
	"github.com/permafrost-db/permafrost/internal/hashing"
	"github.com/permafrost-db/permafrost/internal/varint"
)

// primaryKeyHasher derives a bucket hash from the content of a key record,
// overriding the bucket hint chosen when the record was staged. It is bound
// late, once per encode, so it always reflects the schemas registered at
// write time.
type primaryKeyHasher struct {
	keyState *ObjectTypeWriteState
	fields   []boundField
}

// newPrimaryKeyHasher binds the map schema's hash key against the engine.
// Returns an error wrapping ErrNotBindable when a path cannot be bound to the
// current state; callers recover from that by keeping the staged hints.
func newPrimaryKeyHasher(schema *MapSchema, engine *WriteStateEngine) (*primaryKeyHasher, error) {
	bound, err := bindFieldPaths(engine, schema.KeyType, schema.HashKey.FieldPaths)
	if err != nil {
		return nil, err
	}
	return &primaryKeyHasher{
		keyState: engine.types[schema.KeyType].(*ObjectTypeWriteState),
		fields:   bound,
	}, nil
}

// recordHash hashes the bound field values of the key record staged at
// keyOrdinal. Field hashes are mixed in hash-key declaration order.
func (h *primaryKeyHasher) recordHash(keyOrdinal int) uint32 {
	data := h.keyState.ordinalMap.ByteData()
	p := h.keyState.ordinalMap.PointerForData(keyOrdinal)

	// Decode the record once; staged object records carry every schema field
	// in order, so walking is cheaper than re-seeking per bound path.
	schema := h.keyState.objectSchema
	intValues := make([]int64, len(schema.Fields))
	strStarts := make([]int64, len(schema.Fields))
	strLens := make([]int, len(schema.Fields))
	for i, f := range schema.Fields {
		switch f.Type {
		case FieldInt:
			uv := varint.ReadVLong(data, p)
			p += varint.SizeOfVLong(uv)
			intValues[i] = zigZagDecode(uint64(uv))
		case FieldString:
			n := varint.ReadVInt(data, p)
			p += varint.SizeOfVInt(n)
			strStarts[i] = p
			strLens[i] = n
			p += int64(n)
		}
	}

	var mixed uint32
	for _, bf := range h.fields {
		var fieldHash uint32
		switch bf.fieldType {
		case FieldInt:
			fieldHash = hashing.HashLong(intValues[bf.fieldIndex])
		case FieldString:
			start := strStarts[bf.fieldIndex]
			fieldHash = hashing.HashBytes(data[start : start+int64(strLens[bf.fieldIndex])])
		}
		mixed = mixed*31 + fieldHash
	}
	return mixed
}
