// blobdecode_test.go holds the test-side decoding helpers: just enough frame
// parsing to verify that encoded snapshots and deltas hold the right bits in
// the right places. The production package is write-only.
package permafrost

import (
	"encoding/binary"
	"testing"

	"github.com/permafrost-db/permafrost/internal/varint"
)

// blobReader walks a serialized blob.
type blobReader struct {
	data []byte
	pos  int64
}

func (r *blobReader) vint() int {
	v := varint.ReadVInt(r.data, r.pos)
	r.pos += varint.NextVLongSize(r.data, r.pos)
	return v
}

// svint reads a var-int written from a possibly negative 32-bit value
// (e.g. the -1 max ordinal of an empty shard).
func (r *blobReader) svint() int {
	return int(int32(uint32(r.vint())))
}

func (r *blobReader) vlong() int64 {
	v := varint.ReadVLong(r.data, r.pos)
	r.pos += varint.NextVLongSize(r.data, r.pos)
	return v
}

func (r *blobReader) bytes(n int) []byte {
	b := r.data[r.pos : r.pos+int64(n)]
	r.pos += int64(n)
	return b
}

func (r *blobReader) word() uint64 {
	return binary.BigEndian.Uint64(r.bytes(8))
}

func (r *blobReader) words(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = r.word()
	}
	return out
}

func (r *blobReader) str() string {
	n := r.vint()
	return string(r.bytes(n))
}

// header reads the blob header and returns the kind and type count.
func (r *blobReader) header(t *testing.T) (blobKind, int) {
	t.Helper()
	if magic := binary.BigEndian.Uint32(r.bytes(4)); magic != blobMagic {
		t.Fatalf("bad magic %#x", magic)
	}
	if version := binary.BigEndian.Uint16(r.bytes(2)); version != blobVersion {
		t.Fatalf("bad version %d", version)
	}
	kind := blobKind(r.bytes(1)[0])
	return kind, r.vint()
}

// skipSchema consumes a type section's schema identity and returns the name.
func (r *blobReader) skipSchema(t *testing.T) string {
	t.Helper()
	name := r.str()
	switch SchemaKind(r.bytes(1)[0]) {
	case SchemaObject:
		numFields := r.vint()
		for range numFields {
			r.str()
			r.bytes(1)
		}
	case SchemaMap:
		r.str()
		r.str()
		for range r.vint() {
			r.str()
		}
	default:
		t.Fatalf("unknown schema kind in blob")
	}
	return name
}

// decodedMapShard is one parsed map shard body.
type decodedMapShard struct {
	maxShardOrdinal     int
	bitsPerMapPointer   int
	bitsPerMapSizeValue int
	bitsPerKeyElement   int
	bitsPerValueElement int
	totalOfMapBuckets   int64
	pointerWords        []uint64
	entryWords          []uint64

	// delta-only
	removedGaps []int
	addedGaps   []int
}

func (r *blobReader) mapShard(t *testing.T, isDelta bool) *decodedMapShard {
	t.Helper()
	s := &decodedMapShard{}
	s.maxShardOrdinal = r.svint()

	if isDelta {
		s.removedGaps = r.gapStream()
		s.addedGaps = r.gapStream()
	}

	s.bitsPerMapPointer = r.vint()
	s.bitsPerMapSizeValue = r.vint()
	s.bitsPerKeyElement = r.vint()
	s.bitsPerValueElement = r.vint()
	s.totalOfMapBuckets = r.vlong()

	s.pointerWords = r.words(r.vint())
	s.entryWords = r.words(r.vint())
	return s
}

func (r *blobReader) gapStream() []int {
	length := r.vlong()
	stream := r.bytes(int(length))
	var gaps []int
	pos := int64(0)
	for pos < int64(len(stream)) {
		gaps = append(gaps, varint.ReadVInt(stream, pos))
		pos += varint.NextVLongSize(stream, pos)
	}
	return gaps
}

// popset reads the trailing populated bit-set and returns the set ordinals.
func (r *blobReader) popset() []int {
	numWords := r.vint()
	var ordinals []int
	for w := range numWords {
		word := r.word()
		for b := range 64 {
			if word&(uint64(1)<<uint(b)) != 0 {
				ordinals = append(ordinals, w*64+b)
			}
		}
	}
	return ordinals
}

// readBits extracts width bits at bitOffset from LSB-first packed words.
func readBits(words []uint64, bitOffset int64, width int) uint64 {
	if width == 0 {
		return 0
	}
	word := bitOffset >> 6
	shift := uint(bitOffset & 63)
	v := words[word] >> shift
	if int(shift)+width > 64 {
		v |= words[word+1] << (64 - shift)
	}
	if width >= 64 {
		return v
	}
	return v & ((uint64(1) << uint(width)) - 1)
}

// pointerAt returns the exclusive end-bucket offset of shardOrdinal i.
func (s *decodedMapShard) pointerAt(i int) int64 {
	fixed := int64(s.bitsPerMapPointer + s.bitsPerMapSizeValue)
	return int64(readBits(s.pointerWords, fixed*int64(i), s.bitsPerMapPointer))
}

// sizeAt returns the logical map size of shardOrdinal i.
func (s *decodedMapShard) sizeAt(i int) int {
	fixed := int64(s.bitsPerMapPointer + s.bitsPerMapSizeValue)
	return int(readBits(s.pointerWords, fixed*int64(i)+int64(s.bitsPerMapPointer), s.bitsPerMapSizeValue))
}

// bucketRange returns the bucket span [start, end) of shardOrdinal i.
func (s *decodedMapShard) bucketRange(i int) (int64, int64) {
	start := int64(0)
	if i > 0 {
		start = s.pointerAt(i - 1)
	}
	return start, s.pointerAt(i)
}

// slot returns the (key, value) stored in the given bucket and whether the
// slot is occupied (key field not the empty sentinel).
func (s *decodedMapShard) slot(bucket int64) (key, value int, occupied bool) {
	entryBits := int64(s.bitsPerKeyElement + s.bitsPerValueElement)
	sentinel := uint64(1)<<uint(s.bitsPerKeyElement) - 1
	k := readBits(s.entryWords, entryBits*bucket, s.bitsPerKeyElement)
	if k == sentinel {
		return 0, 0, false
	}
	v := readBits(s.entryWords, entryBits*bucket+int64(s.bitsPerKeyElement), s.bitsPerValueElement)
	return int(k), int(v), true
}

// entriesOf collects the occupied (key, value) pairs of shardOrdinal i in
// bucket order.
func (s *decodedMapShard) entriesOf(i int) [][2]int {
	start, end := s.bucketRange(i)
	var out [][2]int
	for b := start; b < end; b++ {
		if k, v, ok := s.slot(b); ok {
			out = append(out, [2]int{k, v})
		}
	}
	return out
}

// deltaEntriesOf collects entries of the j-th added record in the delta
// (pointer semantics identical to the snapshot, indexed by delta position).
func (s *decodedMapShard) deltaEntriesOf(j int) [][2]int {
	return s.entriesOf(j)
}

// absoluteOrdinals resolves a gap stream to absolute shard-ordinals.
func absoluteOrdinals(gaps []int) []int {
	out := make([]int, len(gaps))
	prev := 0
	for i, g := range gaps {
		prev += g
		out[i] = prev
	}
	return out
}

// decodedMapType parses one map type body from a snapshot or delta blob.
type decodedMapType struct {
	maxOrdinal int // only present when sharded
	shards     []*decodedMapShard
	populated  []int // snapshot only
}

func (r *blobReader) mapType(t *testing.T, numShards int, isDelta bool) *decodedMapType {
	t.Helper()
	d := &decodedMapType{maxOrdinal: -1}
	if numShards > 1 {
		d.maxOrdinal = r.svint()
	}
	for range numShards {
		d.shards = append(d.shards, r.mapShard(t, isDelta))
	}
	if !isDelta {
		d.populated = r.popset()
	}
	return d
}
