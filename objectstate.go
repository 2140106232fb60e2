package permafrost

import (
	perrors "github.com/permafrost-db/permafrost/errors"
	"github.com/permafrost-db/permafrost/internal/bitarray"
	intbits "github.com/permafrost-db/permafrost/internal/bits"
	"github.com/permafrost-db/permafrost/internal/bytestore"
	"github.com/permafrost-db/permafrost/internal/popset"
	"github.com/permafrost-db/permafrost/internal/varint"
)

// ObjectTypeWriteState encodes an Object type: staged field tuples laid out
// per shard as a bit-packed exclusive-end pointer array over a packed record
// byte region. It also serves as the binding target for map hash keys, which
// read staged field values through it.
type ObjectTypeWriteState struct {
	typeWriteState
	objectSchema *ObjectSchema

	bitsPerRecordPointer    int
	revBitsPerRecordPointer int
	totalOfRecordBytes      []int64
	revTotalOfRecordBytes   []int64

	recordPointers []*bitarray.FixedLength
	recordData     []*bytestore.ByteStore

	numRecordsInDelta    []int
	deltaAddedOrdinals   []*bytestore.ByteStore
	deltaRemovedOrdinals []*bytestore.ByteStore
}

func newObjectTypeWriteState(engine *WriteStateEngine, schema *ObjectSchema) *ObjectTypeWriteState {
	return &ObjectTypeWriteState{
		typeWriteState: newTypeWriteState(engine),
		objectSchema:   schema,
	}
}

// Schema returns the object schema this state encodes.
func (t *ObjectTypeWriteState) Schema() *ObjectSchema { return t.objectSchema }

func (t *ObjectTypeWriteState) schema() Schema        { return t.objectSchema }
func (t *ObjectTypeWriteState) base() *typeWriteState { return &t.typeWriteState }

// PinNumShards freezes the shard count for every cycle, bypassing the sizer.
// Must be a power of two.
func (t *ObjectTypeWriteState) PinNumShards(n int) error {
	return t.pinNumShards(n)
}

// Add stages an object record and returns its ordinal. Records with
// identical content receive the same ordinal.
func (t *ObjectTypeWriteState) Add(rec *ObjectWriteRecord) (int, error) {
	if t.engine.preparedForWrite {
		return 0, perrors.ErrCyclePrepared
	}
	t.scratch.Reset()
	rec.serializeTo(t.scratch)
	return t.stage(t.scratch.Bytes()), nil
}

func (t *ObjectTypeWriteState) prepareForWrite(canReshard bool) {
	t.prepareCommon(canReshard, t.typeStateNumShards)
	t.gatherStatistics(t.numShards != t.revNumShards)
}

func (t *ObjectTypeWriteState) gatherStatistics(numShardsChanged bool) {
	t.totalOfRecordBytes = make([]int64, t.numShards)
	t.revTotalOfRecordBytes = nil
	if numShardsChanged {
		t.revTotalOfRecordBytes = make([]int64, t.revNumShards)
	}

	for i := 0; i <= t.maxOrdinal; i++ {
		if !t.currCyclePopulated.Get(i) && !t.prevCyclePopulated.Get(i) {
			continue
		}
		length := int64(t.ordinalMap.RecordLength(i))
		t.totalOfRecordBytes[i&(t.numShards-1)] += length
		if numShardsChanged {
			t.revTotalOfRecordBytes[i&(t.revNumShards-1)] += length
		}
	}

	t.bitsPerRecordPointer = intbits.CeilLog2(uint64(maxOf(t.totalOfRecordBytes) + 1))
	if numShardsChanged {
		t.revBitsPerRecordPointer = intbits.CeilLog2(uint64(maxOf(t.revTotalOfRecordBytes) + 1))
	}
}

func (t *ObjectTypeWriteState) typeStateNumShards(maxOrdinal int) int {
	var totalRecordBytes int64
	for i := 0; i <= maxOrdinal; i++ {
		if t.currCyclePopulated.Get(i) || t.prevCyclePopulated.Get(i) {
			totalRecordBytes += int64(t.ordinalMap.RecordLength(i))
		}
	}

	bitsPerRecordPointer := intbits.CeilLog2(uint64(totalRecordBytes + 1))
	projectedSizeOfType := int64(bitsPerRecordPointer)*int64(maxOrdinal+1)/8 + totalRecordBytes

	targetNumShards := 1
	for t.engine.cfg.targetMaxShardBytes*int64(targetNumShards) < projectedSizeOfType {
		targetNumShards *= 2
	}
	return targetNumShards
}

func (t *ObjectTypeWriteState) projectedSnapshotBytes() int64 {
	var total int64
	for _, b := range t.totalOfRecordBytes {
		total += b
	}
	return int64(t.bitsPerRecordPointer)*int64(t.maxOrdinal+1)/8 + total + int64(t.maxOrdinal)/8 + 64
}

func (t *ObjectTypeWriteState) calculateSnapshot() error {
	t.recordPointers = make([]*bitarray.FixedLength, t.numShards)
	t.recordData = make([]*bytestore.ByteStore, t.numShards)

	data := t.ordinalMap.ByteData()

	for shard := 0; shard < t.numShards; shard++ {
		pointers := bitarray.NewFixedLength(int64(t.bitsPerRecordPointer) * int64(t.maxShardOrdinal[shard]+1))
		shardData := bytestore.New()

		for ordinal := shard; ordinal <= t.maxOrdinal; ordinal += t.numShards {
			shardOrdinal := int64(ordinal / t.numShards)
			if t.currCyclePopulated.Get(ordinal) {
				start := t.ordinalMap.PointerForData(ordinal)
				shardData.Append(data[start : start+int64(t.ordinalMap.RecordLength(ordinal))])
			}
			pointers.SetElementValue(int64(t.bitsPerRecordPointer)*shardOrdinal, t.bitsPerRecordPointer, uint64(shardData.Len()))
		}

		t.recordPointers[shard] = pointers
		t.recordData[shard] = shardData
	}
	return nil
}

func (t *ObjectTypeWriteState) writeSnapshot(w *blobWriter) error {
	defer func() {
		t.recordPointers = nil
		t.recordData = nil
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

func (t *ObjectTypeWriteState) writeSnapshotShard(w *blobWriter, shard int) error {
	if err := varint.WriteVInt(w, t.maxShardOrdinal[shard]); err != nil {
		return err
	}
	if err := varint.WriteVInt(w, t.bitsPerRecordPointer); err != nil {
		return err
	}
	if err := varint.WriteVLong(w, t.totalOfRecordBytes[shard]); err != nil {
		return err
	}
	if err := writeBitArray(w, t.recordPointers[shard]); err != nil {
		return err
	}
	if err := varint.WriteVLong(w, t.recordData[shard].Len()); err != nil {
		return err
	}
	_, err := t.recordData[shard].WriteTo(w)
	return err
}

func (t *ObjectTypeWriteState) effectiveShardLayout(isReverse bool) (numShards, bitsPerRecordPointer int, totalOfRecordBytes []int64) {
	if isReverse && t.numShards != t.revNumShards {
		return t.revNumShards, t.revBitsPerRecordPointer, t.revTotalOfRecordBytes
	}
	return t.numShards, t.bitsPerRecordPointer, t.totalOfRecordBytes
}

func (t *ObjectTypeWriteState) calculateDelta(from, to *popset.Set, isReverse bool) error {
	numShards, bitsPerRecordPointer, _ := t.effectiveShardLayout(isReverse)

	t.numRecordsInDelta = make([]int, numShards)
	t.recordPointers = make([]*bitarray.FixedLength, numShards)
	t.recordData = make([]*bytestore.ByteStore, numShards)
	t.deltaAddedOrdinals = make([]*bytestore.ByteStore, numShards)
	t.deltaRemovedOrdinals = make([]*bytestore.ByteStore, numShards)

	deltaAdditions := to.AndNot(from)
	shardMask := numShards - 1

	for ordinal := deltaAdditions.NextSetBit(0); ordinal != -1; ordinal = deltaAdditions.NextSetBit(ordinal + 1) {
		t.numRecordsInDelta[ordinal&shardMask]++
	}

	for shard := 0; shard < numShards; shard++ {
		t.recordPointers[shard] = bitarray.NewFixedLength(int64(t.numRecordsInDelta[shard]) * int64(bitsPerRecordPointer))
		t.recordData[shard] = bytestore.New()
		t.deltaAddedOrdinals[shard] = bytestore.New()
		t.deltaRemovedOrdinals[shard] = bytestore.New()
	}

	data := t.ordinalMap.ByteData()
	recordCounter := make([]int, numShards)
	previousAddedShardOrdinal := make([]int, numShards)
	previousRemovedShardOrdinal := make([]int, numShards)

	for ordinal := 0; ordinal <= t.maxOrdinal; ordinal++ {
		shard := ordinal & shardMask
		switch {
		case deltaAdditions.Get(ordinal):
			start := t.ordinalMap.PointerForData(ordinal)
			t.recordData[shard].Append(data[start : start+int64(t.ordinalMap.RecordLength(ordinal))])

			t.recordPointers[shard].SetElementValue(
				int64(bitsPerRecordPointer)*int64(recordCounter[shard]),
				bitsPerRecordPointer, uint64(t.recordData[shard].Len()))
			recordCounter[shard]++

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

func (t *ObjectTypeWriteState) writeCalculatedDelta(w *blobWriter, isReverse bool, maxShardOrdinal []int) error {
	defer func() {
		t.recordPointers = nil
		t.recordData = nil
		t.deltaAddedOrdinals = nil
		t.deltaRemovedOrdinals = nil
	}()

	numShards, bitsPerRecordPointer, totalOfRecordBytes := t.effectiveShardLayout(isReverse)

	if numShards == 1 {
		return t.writeCalculatedDeltaShard(w, 0, maxShardOrdinal, bitsPerRecordPointer, totalOfRecordBytes)
	}
	if err := varint.WriteVInt(w, t.maxOrdinal); err != nil {
		return err
	}
	for shard := 0; shard < numShards; shard++ {
		if err := t.writeCalculatedDeltaShard(w, shard, maxShardOrdinal, bitsPerRecordPointer, totalOfRecordBytes); err != nil {
			return err
		}
	}
	return nil
}

func (t *ObjectTypeWriteState) writeCalculatedDeltaShard(w *blobWriter, shard int, maxShardOrdinal []int, bitsPerRecordPointer int, totalOfRecordBytes []int64) error {
	if err := varint.WriteVInt(w, maxShardOrdinal[shard]); err != nil {
		return err
	}
	if err := writeOrdinalStream(w, t.deltaRemovedOrdinals[shard]); err != nil {
		return err
	}
	if err := writeOrdinalStream(w, t.deltaAddedOrdinals[shard]); err != nil {
		return err
	}
	if err := varint.WriteVInt(w, bitsPerRecordPointer); err != nil {
		return err
	}
	if err := varint.WriteVLong(w, totalOfRecordBytes[shard]); err != nil {
		return err
	}
	if err := writeBitArray(w, t.recordPointers[shard]); err != nil {
		return err
	}
	if err := varint.WriteVLong(w, t.recordData[shard].Len()); err != nil {
		return err
	}
	_, err := t.recordData[shard].WriteTo(w)
	return err
}
