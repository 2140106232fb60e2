package permafrost

import (
	"fmt"

	"github.com/permafrost-db/permafrost/internal/bitarray"
	"github.com/permafrost-db/permafrost/internal/bytestore"
	"github.com/permafrost-db/permafrost/internal/hashing"
	"github.com/permafrost-db/permafrost/internal/popset"
	"github.com/permafrost-db/permafrost/internal/varint"
)

// effectiveShardLayout resolves which shard geometry a delta direction uses:
// a reverse delta written across a reshard targets the previously published
// shard count and its pointer width and bucket totals.
func (t *MapTypeWriteState) effectiveShardLayout(isReverse bool) (numShards, bitsPerMapPointer int, totalOfMapBuckets []int64) {
	if isReverse && t.numShards != t.revNumShards {
		return t.revNumShards, t.revBitsPerMapPointer, t.revTotalOfMapBuckets
	}
	return t.numShards, t.bitsPerMapPointer, t.totalOfMapBuckets
}

// calculateDelta encodes the transition between two populated sets: a dense
// re-encoding of only the added records plus per-shard var-int streams of
// added and removed shard-ordinal gaps.
func (t *MapTypeWriteState) calculateDelta(from, to *popset.Set, isReverse bool) error {
	numShards, bitsPerMapPointer, _ := t.effectiveShardLayout(isReverse)
	if isReverse && t.numShards != t.revNumShards && t.revTotalOfMapBuckets == nil {
		// revNumShards must be the count the statistics pass saw; a reverse
		// delta against any other count would reference buckets that were
		// never tallied.
		return fmt.Errorf("permafrost: reverse delta requested across a reshard but no previous-count statistics were gathered (numShards=%d revNumShards=%d)", t.numShards, t.revNumShards)
	}

	hasher, err := t.bindHasher()
	if err != nil {
		return err
	}

	bitsPerMapFixedLengthPortion := t.bitsPerMapSizeValue + bitsPerMapPointer
	bitsPerMapEntry := t.bitsPerKeyElement + t.bitsPerValueElement

	t.numMapsInDelta = make([]int, numShards)
	t.numBucketsInDelta = make([]int64, numShards)
	t.mapPointersAndSizes = make([]*bitarray.FixedLength, numShards)
	t.entryData = make([]*bitarray.FixedLength, numShards)
	t.deltaAddedOrdinals = make([]*bytestore.ByteStore, numShards)
	t.deltaRemovedOrdinals = make([]*bytestore.ByteStore, numShards)

	deltaAdditions := to.AndNot(from)

	shardMask := numShards - 1
	data := t.ordinalMap.ByteData()

	// Diff pass: size the per-shard arrays from only the size var-int of each
	// added record.
	for ordinal := deltaAdditions.NextSetBit(0); ordinal != -1; ordinal = deltaAdditions.NextSetBit(ordinal + 1) {
		shard := ordinal & shardMask
		t.numMapsInDelta[shard]++
		size := varint.ReadVInt(data, t.ordinalMap.PointerForData(ordinal))
		t.numBucketsInDelta[shard] += int64(hashing.HashTableSize(size))
	}

	for shard := 0; shard < numShards; shard++ {
		t.mapPointersAndSizes[shard] = bitarray.NewFixedLength(int64(t.numMapsInDelta[shard]) * int64(bitsPerMapFixedLengthPortion))
		t.entryData[shard] = bitarray.NewFixedLength(t.numBucketsInDelta[shard] * int64(bitsPerMapEntry))
		t.deltaAddedOrdinals[shard] = bytestore.New()
		t.deltaRemovedOrdinals[shard] = bytestore.New()
	}

	mapCounter := make([]int, numShards)
	bucketCounter := make([]int64, numShards)
	previousAddedShardOrdinal := make([]int, numShards)
	previousRemovedShardOrdinal := make([]int, numShards)

	// Encode pass. The gap streams encode distances from the previously
	// emitted shard-ordinal, starting from zero, which is how the reader
	// reconstructs the absolute values.
	for ordinal := 0; ordinal <= t.maxOrdinal; ordinal++ {
		shard := ordinal & shardMask
		switch {
		case deltaAdditions.Get(ordinal):
			p := t.ordinalMap.PointerForData(ordinal)
			size := varint.ReadVInt(data, p)
			p += varint.SizeOfVInt(size)
			numBuckets := hashing.HashTableSize(size)

			endBucketPosition := bucketCounter[shard] + int64(numBuckets)
			fixedBitOffset := int64(bitsPerMapFixedLengthPortion) * int64(mapCounter[shard])
			t.mapPointersAndSizes[shard].SetElementValue(fixedBitOffset, bitsPerMapPointer, uint64(endBucketPosition))
			t.mapPointersAndSizes[shard].SetElementValue(fixedBitOffset+int64(bitsPerMapPointer), t.bitsPerMapSizeValue, uint64(size))

			t.placeEntries(t.entryData[shard], data, p, size, numBuckets, bucketCounter[shard], hasher)

			bucketCounter[shard] = endBucketPosition
			mapCounter[shard]++

			shardOrdinal := ordinal / numShards
			_ = varint.WriteVInt(t.deltaAddedOrdinals[shard], shardOrdinal-previousAddedShardOrdinal[shard])
			previousAddedShardOrdinal[shard] = shardOrdinal

		case from.Get(ordinal) && !to.Get(ordinal):
			shardOrdinal := ordinal / numShards
			_ = varint.WriteVInt(t.deltaRemovedOrdinals[shard], shardOrdinal-previousRemovedShardOrdinal[shard])
			previousRemovedShardOrdinal[shard] = shardOrdinal
		}
	}

	return nil
}

// writeCalculatedDelta streams the calculated delta. maxShardOrdinal must be
// derived under the same shard count the delta was calculated with. Unlike a
// snapshot, no populated bit-set is appended: readers reconstruct it from the
// base state plus the add and remove streams. Scratch state is released
// whether or not the stream write succeeds.
func (t *MapTypeWriteState) writeCalculatedDelta(w *blobWriter, isReverse bool, maxShardOrdinal []int) error {
	defer func() {
		t.mapPointersAndSizes = nil
		t.entryData = nil
		t.deltaAddedOrdinals = nil
		t.deltaRemovedOrdinals = nil
	}()

	numShards, bitsPerMapPointer, totalOfMapBuckets := t.effectiveShardLayout(isReverse)

	if numShards == 1 {
		return t.writeCalculatedDeltaShard(w, 0, maxShardOrdinal, bitsPerMapPointer, totalOfMapBuckets)
	}
	if err := varint.WriteVInt(w, t.maxOrdinal); err != nil {
		return err
	}
	for shard := 0; shard < numShards; shard++ {
		if err := t.writeCalculatedDeltaShard(w, shard, maxShardOrdinal, bitsPerMapPointer, totalOfMapBuckets); err != nil {
			return err
		}
	}
	return nil
}

func (t *MapTypeWriteState) writeCalculatedDeltaShard(w *blobWriter, shard int, maxShardOrdinal []int, bitsPerMapPointer int, totalOfMapBuckets []int64) error {
	// 1) max shard ordinal
	if err := varint.WriteVInt(w, maxShardOrdinal[shard]); err != nil {
		return err
	}

	// 2) removal / addition ordinal streams
	if err := writeOrdinalStream(w, t.deltaRemovedOrdinals[shard]); err != nil {
		return err
	}
	if err := writeOrdinalStream(w, t.deltaAddedOrdinals[shard]); err != nil {
		return err
	}

	// 3) statistics
	if err := t.writeStatistics(w, bitsPerMapPointer, totalOfMapBuckets[shard]); err != nil {
		return err
	}

	// 4) pointers-and-sizes array
	if err := writeBitArray(w, t.mapPointersAndSizes[shard]); err != nil {
		return err
	}

	// 5) entries array
	return writeBitArray(w, t.entryData[shard])
}

func writeOrdinalStream(w *blobWriter, stream *bytestore.ByteStore) error {
	if err := varint.WriteVLong(w, stream.Len()); err != nil {
		return err
	}
	_, err := stream.WriteTo(w)
	return err
}
