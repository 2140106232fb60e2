package permafrost

import (
	"golang.org/x/sync/errgroup"

	"github.com/permafrost-db/permafrost/internal/bitarray"
	"github.com/permafrost-db/permafrost/internal/hashing"
	"github.com/permafrost-db/permafrost/internal/varint"
)

// calculateSnapshot encodes every currently populated record into per-shard
// scratch arrays. Shards are disjoint in both input ordinals and output
// arrays, so they are encoded concurrently up to the engine's worker limit;
// each shard walks its ordinals in order, keeping the output deterministic.
func (t *MapTypeWriteState) calculateSnapshot() error {
	hasher, err := t.bindHasher()
	if err != nil {
		return err
	}

	t.mapPointersAndSizes = make([]*bitarray.FixedLength, t.numShards)
	t.entryData = make([]*bitarray.FixedLength, t.numShards)

	g := new(errgroup.Group)
	g.SetLimit(t.engine.cfg.encodeWorkers)
	for shard := 0; shard < t.numShards; shard++ {
		shard := shard
		g.Go(func() error {
			t.calculateSnapshotShard(shard, hasher)
			return nil
		})
	}
	return g.Wait()
}

func (t *MapTypeWriteState) calculateSnapshotShard(shard int, hasher *primaryKeyHasher) {
	bitsPerMapFixedLengthPortion := t.bitsPerMapSizeValue + t.bitsPerMapPointer
	bitsPerMapEntry := t.bitsPerKeyElement + t.bitsPerValueElement

	pointersAndSizes := bitarray.NewFixedLength(int64(bitsPerMapFixedLengthPortion) * int64(t.maxShardOrdinal[shard]+1))
	entries := bitarray.NewFixedLength(int64(bitsPerMapEntry) * t.totalOfMapBuckets[shard])

	data := t.ordinalMap.ByteData()
	bucketCursor := int64(0)

	for ordinal := shard; ordinal <= t.maxOrdinal; ordinal += t.numShards {
		shardOrdinal := int64(ordinal / t.numShards)

		if t.currCyclePopulated.Get(ordinal) {
			p := t.ordinalMap.PointerForData(ordinal)
			size := varint.ReadVInt(data, p)
			p += varint.SizeOfVInt(size)
			numBuckets := hashing.HashTableSize(size)

			pointersAndSizes.SetElementValue(
				int64(bitsPerMapFixedLengthPortion)*shardOrdinal+int64(t.bitsPerMapPointer),
				t.bitsPerMapSizeValue, uint64(size))

			t.placeEntries(entries, data, p, size, numBuckets, bucketCursor, hasher)
			bucketCursor += int64(numBuckets)
		}

		// The pointer is the exclusive end-bucket offset; an absent ordinal
		// shares its predecessor's end so it costs no buckets.
		pointersAndSizes.SetElementValue(
			int64(bitsPerMapFixedLengthPortion)*shardOrdinal,
			t.bitsPerMapPointer, uint64(bucketCursor))
	}

	t.mapPointersAndSizes[shard] = pointersAndSizes
	t.entryData[shard] = entries
}

// writeSnapshot streams the calculated shard bodies. Single-shard snapshots
// omit the sharding header for compatibility with unsharded readers. The
// scratch arrays are released whether or not the stream write succeeds.
func (t *MapTypeWriteState) writeSnapshot(w *blobWriter) error {
	defer func() {
		t.mapPointersAndSizes = nil
		t.entryData = nil
	}()

	if t.numShards == 1 {
		if err := t.writeSnapshotShard(w, 0); err != nil {
			return err
		}
	} else {
		if err := varint.WriteVInt(w, t.maxOrdinal); err != nil {
			return err
		}
		for shard := 0; shard < t.numShards; shard++ {
			if err := t.writeSnapshotShard(w, shard); err != nil {
				return err
			}
		}
	}

	return t.currCyclePopulated.Serialize(w)
}

func (t *MapTypeWriteState) writeSnapshotShard(w *blobWriter, shard int) error {
	// 1) max shard ordinal
	if err := varint.WriteVInt(w, t.maxShardOrdinal[shard]); err != nil {
		return err
	}

	// 2) statistics
	if err := t.writeStatistics(w, t.bitsPerMapPointer, t.totalOfMapBuckets[shard]); err != nil {
		return err
	}

	// 3) pointers-and-sizes array
	if err := writeBitArray(w, t.mapPointersAndSizes[shard]); err != nil {
		return err
	}

	// 4) entries array
	return writeBitArray(w, t.entryData[shard])
}

func (t *MapTypeWriteState) writeStatistics(w *blobWriter, bitsPerMapPointer int, totalOfMapBuckets int64) error {
	if err := varint.WriteVInt(w, bitsPerMapPointer); err != nil {
		return err
	}
	if err := varint.WriteVInt(w, t.bitsPerMapSizeValue); err != nil {
		return err
	}
	if err := varint.WriteVInt(w, t.bitsPerKeyElement); err != nil {
		return err
	}
	if err := varint.WriteVInt(w, t.bitsPerValueElement); err != nil {
		return err
	}
	return varint.WriteVLong(w, totalOfMapBuckets)
}

// writeBitArray frames a bit-packed array: a var-int word count, then the
// backing words big-endian.
func writeBitArray(w *blobWriter, arr *bitarray.FixedLength) error {
	if err := varint.WriteVInt(w, arr.NumWords()); err != nil {
		return err
	}
	for i, n := 0, arr.NumWords(); i < n; i++ {
		if err := w.writeWord(arr.Word(i)); err != nil {
			return err
		}
	}
	return nil
}
