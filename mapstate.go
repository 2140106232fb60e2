package permafrost

import (
	"errors"

	perrors "github.com/permafrost-db/permafrost/errors"
	"github.com/permafrost-db/permafrost/internal/bitarray"
	intbits "github.com/permafrost-db/permafrost/internal/bits"
	"github.com/permafrost-db/permafrost/internal/bytestore"
	"github.com/permafrost-db/permafrost/internal/hashing"
	"github.com/permafrost-db/permafrost/internal/varint"
)

// MapTypeWriteState encodes a Map type: per cycle it gathers the statistics
// that fix the bit-widths, then lays each shard out as two bit-packed
// regions — a pointers-and-sizes array indexed by shard-local ordinal and an
// entries array holding the hash tables the reader probes in place.
type MapTypeWriteState struct {
	typeWriteState
	mapSchema *MapSchema

	// statistics required for writing fixed length map data
	bitsPerMapPointer    int
	revBitsPerMapPointer int
	bitsPerMapSizeValue  int
	bitsPerKeyElement    int
	bitsPerValueElement  int
	totalOfMapBuckets    []int64
	revTotalOfMapBuckets []int64

	// data required for writing snapshot or delta
	mapPointersAndSizes []*bitarray.FixedLength
	entryData           []*bitarray.FixedLength

	// additional data required for writing delta
	numMapsInDelta       []int
	numBucketsInDelta    []int64
	deltaAddedOrdinals   []*bytestore.ByteStore
	deltaRemovedOrdinals []*bytestore.ByteStore

	hasherWarned bool
}

func newMapTypeWriteState(engine *WriteStateEngine, schema *MapSchema) *MapTypeWriteState {
	return &MapTypeWriteState{
		typeWriteState: newTypeWriteState(engine),
		mapSchema:      schema,
	}
}

// Schema returns the map schema this state encodes.
func (t *MapTypeWriteState) Schema() *MapSchema { return t.mapSchema }

func (t *MapTypeWriteState) schema() Schema        { return t.mapSchema }
func (t *MapTypeWriteState) base() *typeWriteState { return &t.typeWriteState }

// PinNumShards freezes the shard count for every cycle, bypassing the sizer.
// Must be a power of two.
func (t *MapTypeWriteState) PinNumShards(n int) error {
	return t.pinNumShards(n)
}

// Add stages a map record and returns its ordinal. Records with identical
// content receive the same ordinal.
func (t *MapTypeWriteState) Add(rec *MapWriteRecord) (int, error) {
	if t.engine.preparedForWrite {
		return 0, perrors.ErrCyclePrepared
	}
	t.scratch.Reset()
	rec.serializeTo(t.scratch)
	return t.stage(t.scratch.Bytes()), nil
}

func (t *MapTypeWriteState) prepareForWrite(canReshard bool) {
	t.prepareCommon(canReshard, t.typeStateNumShards)
	t.gatherStatistics(t.numShards != t.revNumShards)
	t.hasherWarned = false
}

// mapRecordStats are the per-record maxima one statistics walk accumulates.
type mapRecordStats struct {
	maxKeyOrdinal   int
	maxValueOrdinal int
	maxMapSize      int
}

func newMapRecordStats() mapRecordStats {
	return mapRecordStats{maxKeyOrdinal: -1, maxValueOrdinal: -1}
}

// scanRecord walks the staged record at ordinal, folds its maxima into s, and
// returns the record's bucket count.
func (s *mapRecordStats) scanRecord(m *ordinalMap, ordinal int) int {
	data := m.ByteData()
	p := m.PointerForData(ordinal)

	size := varint.ReadVInt(data, p)
	p += varint.SizeOfVInt(size)

	if size > s.maxMapSize {
		s.maxMapSize = size
	}

	keyOrdinal := 0
	for kOrdCount := 0; kOrdCount < size; kOrdCount++ {
		keyOrdinalDelta := varint.ReadVInt(data, p)
		p += varint.SizeOfVInt(keyOrdinalDelta)
		valueOrdinal := varint.ReadVInt(data, p)
		p += varint.SizeOfVInt(valueOrdinal)
		p += varint.NextVLongSize(data, p) // skip the staged bucket hint

		keyOrdinal += keyOrdinalDelta
		if keyOrdinal > s.maxKeyOrdinal {
			s.maxKeyOrdinal = keyOrdinal
		}
		if valueOrdinal > s.maxValueOrdinal {
			s.maxValueOrdinal = valueOrdinal
		}
	}
	return hashing.HashTableSize(size)
}

// gatherStatistics runs the statistics pass over every ordinal populated in
// the previous or current cycle. The key, value, and size widths are global;
// the pointer width is derived per shard count, and when the shard count
// changed this cycle a second set of bucket totals is kept for the previous
// count so reverse deltas stay writable.
func (t *MapTypeWriteState) gatherStatistics(numShardsChanged bool) {
	stats := newMapRecordStats()

	t.totalOfMapBuckets = make([]int64, t.numShards)
	t.revTotalOfMapBuckets = nil
	if numShardsChanged {
		t.revTotalOfMapBuckets = make([]int64, t.revNumShards)
	}

	for i := 0; i <= t.maxOrdinal; i++ {
		if !t.currCyclePopulated.Get(i) && !t.prevCyclePopulated.Get(i) {
			continue
		}
		numBuckets := stats.scanRecord(t.ordinalMap, i)
		t.totalOfMapBuckets[i&(t.numShards-1)] += int64(numBuckets)
		if numShardsChanged {
			t.revTotalOfMapBuckets[i&(t.revNumShards-1)] += int64(numBuckets)
		}
	}

	t.bitsPerKeyElement = intbits.CeilLog2(uint64(stats.maxKeyOrdinal + 2))
	t.bitsPerValueElement = max(1, intbits.CeilLog2(uint64(stats.maxValueOrdinal+1)))
	t.bitsPerMapSizeValue = intbits.CeilLog2(uint64(stats.maxMapSize + 1))

	t.bitsPerMapPointer = intbits.CeilLog2(uint64(maxOf(t.totalOfMapBuckets) + 1))
	if numShardsChanged {
		t.revBitsPerMapPointer = intbits.CeilLog2(uint64(maxOf(t.revTotalOfMapBuckets) + 1))
	}
}

func maxOf(totals []int64) int64 {
	var m int64
	for _, v := range totals {
		if v > m {
			m = v
		}
	}
	return m
}

// typeStateNumShards is the shard sizer: one pass over the populated ordinals
// computing the bit-widths as if the type had a single shard, then the
// smallest power-of-two shard count keeping every shard under the engine's
// byte budget.
func (t *MapTypeWriteState) typeStateNumShards(maxOrdinal int) int {
	stats := newMapRecordStats()
	var totalOfMapBuckets int64

	for i := 0; i <= maxOrdinal; i++ {
		if !t.currCyclePopulated.Get(i) && !t.prevCyclePopulated.Get(i) {
			continue
		}
		totalOfMapBuckets += int64(stats.scanRecord(t.ordinalMap, i))
	}

	bitsPerKeyElement := intbits.CeilLog2(uint64(stats.maxKeyOrdinal + 2))
	bitsPerValueElement := max(1, intbits.CeilLog2(uint64(stats.maxValueOrdinal+1)))
	bitsPerMapSizeValue := intbits.CeilLog2(uint64(stats.maxMapSize + 1))
	bitsPerMapPointer := intbits.CeilLog2(uint64(totalOfMapBuckets + 1))

	projectedSizeOfType := int64(bitsPerMapSizeValue+bitsPerMapPointer) * int64(maxOrdinal+1) / 8
	projectedSizeOfType += int64(bitsPerKeyElement+bitsPerValueElement) * totalOfMapBuckets / 8

	targetNumShards := 1
	for t.engine.cfg.targetMaxShardBytes*int64(targetNumShards) < projectedSizeOfType {
		targetNumShards *= 2
	}
	return targetNumShards
}

// projectedSnapshotBytes estimates this type's snapshot body size from the
// gathered statistics. Used by the blob file writer to pre-allocate.
func (t *MapTypeWriteState) projectedSnapshotBytes() int64 {
	fixedBits := int64(t.bitsPerMapSizeValue+t.bitsPerMapPointer) * int64(t.maxOrdinal+1)
	var entryBits int64
	for _, buckets := range t.totalOfMapBuckets {
		entryBits += int64(t.bitsPerKeyElement+t.bitsPerValueElement) * buckets
	}
	return (fixedBits+entryBits)/8 + int64(t.maxOrdinal)/8 + 64
}

// bindHasher attempts the per-encode primary-key hasher binding. A hash key
// that cannot be bound to the current state downgrades to the staged bucket
// hints with a single warning per cycle; any other binding failure aborts
// the encode.
func (t *MapTypeWriteState) bindHasher() (*primaryKeyHasher, error) {
	if t.mapSchema.HashKey == nil {
		return nil, nil
	}
	hasher, err := newPrimaryKeyHasher(t.mapSchema, t.engine)
	if err != nil {
		if errors.Is(err, perrors.ErrNotBindable) {
			if !t.hasherWarned {
				t.hasherWarned = true
				t.engine.log.Warn("failed to create a key hasher; falling back to staged bucket hints",
					"type", t.mapSchema.Name,
					"hashKey", t.mapSchema.HashKey.FieldPaths,
					"err", err)
			}
			return nil, nil
		}
		return nil, err
	}
	return hasher, nil
}

// placeEntries lays out one record's hash table in the entries array at
// bucketBase: every slot's key field starts as the empty sentinel, then each
// staged entry is placed at its bucket (hasher-derived when bound, staged
// hint otherwise) with forward linear probing. Entries are placed in staging
// order, so the table is a deterministic function of the staged record.
func (t *MapTypeWriteState) placeEntries(entries *bitarray.FixedLength, data []byte, p int64, size, numBuckets int, bucketBase int64, hasher *primaryKeyHasher) {
	bitsPerMapEntry := t.bitsPerKeyElement + t.bitsPerValueElement
	emptySentinel := uint64(1)<<uint(t.bitsPerKeyElement) - 1

	for j := 0; j < numBuckets; j++ {
		entries.SetElementValue(int64(bitsPerMapEntry)*(bucketBase+int64(j)), t.bitsPerKeyElement, emptySentinel)
	}

	keyOrdinal := 0
	for kOrdCount := 0; kOrdCount < size; kOrdCount++ {
		keyOrdinalDelta := varint.ReadVInt(data, p)
		p += varint.SizeOfVInt(keyOrdinalDelta)
		valueOrdinal := varint.ReadVInt(data, p)
		p += varint.SizeOfVInt(valueOrdinal)
		bucket := varint.ReadVInt(data, p)
		p += varint.SizeOfVInt(bucket)

		keyOrdinal += keyOrdinalDelta

		if hasher != nil {
			bucket = int(hasher.recordHash(keyOrdinal)) & (numBuckets - 1)
		}

		for entries.GetElementValue(int64(bitsPerMapEntry)*(bucketBase+int64(bucket)), t.bitsPerKeyElement) != emptySentinel {
			bucket = (bucket + 1) & (numBuckets - 1)
		}

		entryBitOffset := int64(bitsPerMapEntry) * (bucketBase + int64(bucket))
		entries.SetElementValue(entryBitOffset, t.bitsPerKeyElement, uint64(keyOrdinal))
		entries.SetElementValue(entryBitOffset+int64(t.bitsPerKeyElement), t.bitsPerValueElement, uint64(valueOrdinal))
	}
}
