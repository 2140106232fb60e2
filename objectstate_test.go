package permafrost

import (
	"bytes"
	"testing"

	"github.com/permafrost-db/permafrost/internal/varint"
)

func movieSchema() *ObjectSchema {
	return &ObjectSchema{
		Name: "Movie",
		Fields: []ObjectField{
			{Name: "id", Type: FieldInt},
			{Name: "title", Type: FieldString},
		},
	}
}

func stageMovie(t *testing.T, state *ObjectTypeWriteState, id int64, title string) int {
	t.Helper()
	rec := NewObjectWriteRecord(state.Schema())
	if err := rec.SetInt("id", id); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := rec.SetString("title", title); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	ord, err := state.Add(rec)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return ord
}

// decodedObjectShard is one parsed object shard body.
type decodedObjectShard struct {
	maxShardOrdinal      int
	bitsPerRecordPointer int
	totalOfRecordBytes   int64
	pointerWords         []uint64
	recordData           []byte

	removedGaps []int
	addedGaps   []int
}

func (r *blobReader) objectShard(t *testing.T, isDelta bool) *decodedObjectShard {
	t.Helper()
	s := &decodedObjectShard{}
	s.maxShardOrdinal = r.svint()
	if isDelta {
		s.removedGaps = r.gapStream()
		s.addedGaps = r.gapStream()
	}
	s.bitsPerRecordPointer = r.vint()
	s.totalOfRecordBytes = r.vlong()
	s.pointerWords = r.words(r.vint())
	s.recordData = r.bytes(int(r.vlong()))
	return s
}

func (s *decodedObjectShard) pointerAt(i int) int64 {
	return int64(readBits(s.pointerWords, int64(s.bitsPerRecordPointer)*int64(i), s.bitsPerRecordPointer))
}

// recordAt returns the raw record bytes of shardOrdinal i.
func (s *decodedObjectShard) recordAt(i int) []byte {
	start := int64(0)
	if i > 0 {
		start = s.pointerAt(i - 1)
	}
	return s.recordData[start:s.pointerAt(i)]
}

// decodeMovie parses the staged wire form of a movieSchema record.
func decodeMovie(rec []byte) (int64, string) {
	p := int64(0)
	uv := varint.ReadVLong(rec, p)
	p += varint.NextVLongSize(rec, p)
	n := varint.ReadVInt(rec, p)
	p += varint.NextVLongSize(rec, p)
	return zigZagDecode(uint64(uv)), string(rec[p : p+int64(n)])
}

func TestObjectSnapshot(t *testing.T) {
	e := newTestEngine(t)
	movies, err := e.AddObjectType(movieSchema())
	if err != nil {
		t.Fatalf("AddObjectType: %v", err)
	}

	stageMovie(t, movies, 1, "The Green Mile")
	stageMovie(t, movies, -2, "Arrival")
	stageMovie(t, movies, 300, "Heat")
	if err := e.PrepareForWrite(); err != nil {
		t.Fatalf("PrepareForWrite: %v", err)
	}

	blob := writeSnapshotBytes(t, e)
	r := &blobReader{data: blob}
	kind, numTypes := r.header(t)
	if kind != blobSnapshot || numTypes != 1 {
		t.Fatalf("header = (%s, %d), want (snapshot, 1)", kind, numTypes)
	}
	if name := r.skipSchema(t); name != "Movie" {
		t.Fatalf("schema name = %q", name)
	}
	shard := r.objectShard(t, false)
	populated := r.popset()

	if shard.maxShardOrdinal != 2 {
		t.Fatalf("maxShardOrdinal = %d, want 2", shard.maxShardOrdinal)
	}
	wantMovies := []struct {
		id    int64
		title string
	}{
		{1, "The Green Mile"}, {-2, "Arrival"}, {300, "Heat"},
	}
	for i, want := range wantMovies {
		id, title := decodeMovie(shard.recordAt(i))
		if id != want.id || title != want.title {
			t.Errorf("ordinal %d: (%d, %q), want (%d, %q)", i, id, title, want.id, want.title)
		}
	}
	if len(populated) != 3 {
		t.Errorf("populated = %v, want 3 ordinals", populated)
	}
	if r.pos != int64(len(blob)) {
		t.Errorf("trailing bytes: consumed %d of %d", r.pos, len(blob))
	}
}

func TestObjectAbsentOrdinalSharesPointer(t *testing.T) {
	e := newTestEngine(t)
	movies, err := e.AddObjectType(movieSchema())
	if err != nil {
		t.Fatalf("AddObjectType: %v", err)
	}

	stageMovie(t, movies, 1, "One")
	stageMovie(t, movies, 2, "Two")
	if err := e.PrepareForWrite(); err != nil {
		t.Fatalf("PrepareForWrite: %v", err)
	}
	writeSnapshotBytes(t, e)
	e.PrepareForNextCycle()

	stageMovie(t, movies, 1, "One")
	if err := e.PrepareForWrite(); err != nil {
		t.Fatalf("PrepareForWrite: %v", err)
	}

	blob := writeSnapshotBytes(t, e)
	r := &blobReader{data: blob}
	r.header(t)
	r.skipSchema(t)
	shard := r.objectShard(t, false)

	if got := len(shard.recordAt(1)); got != 0 {
		t.Errorf("absent ordinal 1 has %d record bytes, want 0", got)
	}
	if shard.pointerAt(0) != shard.pointerAt(1) {
		t.Errorf("absent ordinal does not share its predecessor's pointer")
	}
}

func TestObjectDelta(t *testing.T) {
	e := newTestEngine(t)
	movies, err := e.AddObjectType(movieSchema())
	if err != nil {
		t.Fatalf("AddObjectType: %v", err)
	}

	stageMovie(t, movies, 1, "One")
	stageMovie(t, movies, 2, "Two")
	if err := e.PrepareForWrite(); err != nil {
		t.Fatalf("PrepareForWrite: %v", err)
	}
	writeSnapshotBytes(t, e)
	e.PrepareForNextCycle()

	stageMovie(t, movies, 2, "Two")
	stageMovie(t, movies, 3, "Three")
	if err := e.PrepareForWrite(); err != nil {
		t.Fatalf("PrepareForWrite: %v", err)
	}

	var buf bytes.Buffer
	if err := e.WriteDelta(&buf); err != nil {
		t.Fatalf("WriteDelta: %v", err)
	}
	r := &blobReader{data: buf.Bytes()}
	kind, _ := r.header(t)
	if kind != blobDelta {
		t.Fatalf("kind = %s, want delta", kind)
	}
	r.skipSchema(t)
	shard := r.objectShard(t, true)

	if got := absoluteOrdinals(shard.addedGaps); len(got) != 1 || got[0] != 2 {
		t.Errorf("added = %v, want [2]", got)
	}
	if got := absoluteOrdinals(shard.removedGaps); len(got) != 1 || got[0] != 0 {
		t.Errorf("removed = %v, want [0]", got)
	}
	id, title := decodeMovie(shard.recordAt(0))
	if id != 3 || title != "Three" {
		t.Errorf("delta record = (%d, %q), want (3, \"Three\")", id, title)
	}
}

func TestObjectRecordValidation(t *testing.T) {
	schema := movieSchema()
	rec := NewObjectWriteRecord(schema)

	if err := rec.SetInt("title", 3); err == nil {
		t.Error("SetInt on a string field should fail")
	}
	if err := rec.SetString("id", "x"); err == nil {
		t.Error("SetString on an int field should fail")
	}
	if err := rec.SetInt("missing", 3); err == nil {
		t.Error("SetInt on an undeclared field should fail")
	}
}
