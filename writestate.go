package permafrost

import (
	"fmt"

	perrors "github.com/permafrost-db/permafrost/errors"
	intbits "github.com/permafrost-db/permafrost/internal/bits"
	"github.com/permafrost-db/permafrost/internal/bytestore"
	"github.com/permafrost-db/permafrost/internal/popset"
)

// typeWriter is the narrow interface the state engine drives once per cycle.
// Each type encoder (Object, Map) implements it over the shared
// typeWriteState base.
//
// Call order within a cycle:
//
//  1. prepareForWrite — shard decision plus the statistics pass
//  2. calculateSnapshot / writeSnapshot, or
//     calculateDelta / writeCalculatedDelta (forward and reverse)
//  3. prepareForNextCycle (via the base) once the cycle's blobs are written
type typeWriter interface {
	schema() Schema
	base() *typeWriteState
	prepareForWrite(canReshard bool)
	typeStateNumShards(maxOrdinal int) int
	calculateSnapshot() error
	writeSnapshot(w *blobWriter) error
	calculateDelta(from, to *popset.Set, isReverse bool) error
	writeCalculatedDelta(w *blobWriter, isReverse bool, maxShardOrdinal []int) error
}

// typeWriteState holds the state every type encoder shares: the staging
// arena, the populated bit sets for the previous and current cycle, and the
// shard bookkeeping. The staged structures are owned here and only read by
// the encoders.
type typeWriteState struct {
	engine     *WriteStateEngine
	ordinalMap *ordinalMap
	scratch    *bytestore.ByteStore

	prevCyclePopulated *popset.Set
	currCyclePopulated *popset.Set

	// numShards is 0 until the first prepareForWrite sizes the type (or a
	// caller pins a count). revNumShards tracks the previously published
	// count so deltas can still be written against it across a reshard.
	numShards    int
	revNumShards int
	shardsPinned bool
	sized        bool // true once the first prepareForWrite has run

	maxOrdinal      int
	maxShardOrdinal []int
}

func newTypeWriteState(engine *WriteStateEngine) typeWriteState {
	return typeWriteState{
		engine:             engine,
		ordinalMap:         newOrdinalMap(),
		scratch:            bytestore.New(),
		prevCyclePopulated: popset.New(),
		currCyclePopulated: popset.New(),
	}
}

// stage assigns an ordinal to the serialized record and marks it populated in
// the current cycle.
func (t *typeWriteState) stage(record []byte) int {
	ord := t.ordinalMap.Add(record)
	t.currCyclePopulated.Set(ord)
	return ord
}

// prepareCommon runs the shared part of prepareForWrite: refresh maxOrdinal,
// decide the shard counts, and derive the per-shard max ordinals. sizer is
// the type's typeStateNumShards.
func (t *typeWriteState) prepareCommon(canReshard bool, sizer func(maxOrdinal int) int) {
	t.maxOrdinal = t.ordinalMap.MaxOrdinal()

	if !t.sized {
		// First cycle for this type. Nothing has been published, so the
		// previous count is 1 regardless of what the sizer picks now.
		if !t.shardsPinned {
			t.numShards = sizer(t.maxOrdinal)
		}
		t.revNumShards = 1
		t.sized = true
	} else {
		t.revNumShards = t.numShards
		if canReshard && !t.shardsPinned {
			t.numShards = sizer(t.maxOrdinal)
		}
	}

	t.maxShardOrdinal = t.maxShardOrdinals(t.numShards)
}

// maxShardOrdinals returns, per shard, the highest shard-local ordinal
// (-1 for a shard with no ordinal slots). The shard of ordinal o is
// o & (numShards-1); its shard-local ordinal is o / numShards.
func (t *typeWriteState) maxShardOrdinals(numShards int) []int {
	out := make([]int, numShards)
	n := t.maxOrdinal + 1
	q, r := n/numShards, n%numShards
	for s := range out {
		if s < r {
			out[s] = q
		} else {
			out[s] = q - 1
		}
	}
	return out
}

// pinNumShards freezes the shard count, bypassing the sizer for every cycle.
func (t *typeWriteState) pinNumShards(n int) error {
	if !intbits.IsPowerOfTwo(n) {
		return fmt.Errorf("%w: shard count %d is not a power of two", perrors.ErrInvalidSchema, n)
	}
	t.numShards = n
	t.shardsPinned = true
	return nil
}

// deltaMaxShardOrdinals returns the per-shard max ordinals for a delta in
// the given direction: a reverse delta across a reshard is laid out under
// the previously published shard count.
func (t *typeWriteState) deltaMaxShardOrdinals(isReverse bool) []int {
	if isReverse && t.numShards != t.revNumShards {
		return t.maxShardOrdinals(t.revNumShards)
	}
	return t.maxShardOrdinal
}

// prepareForNextCycle rolls the populated sets: the just-published cycle
// becomes the previous cycle and staging starts fresh.
func (t *typeWriteState) prepareForNextCycle() {
	t.prevCyclePopulated = t.currCyclePopulated.Copy()
	t.currCyclePopulated.Clear()
}
