package permafrost

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"

	perrors "github.com/permafrost-db/permafrost/errors"
)

func TestBlobFileWriter(t *testing.T) {
	e := newTestEngine(t)
	ms := addMapType(t, e, &MapSchema{Name: "M", KeyType: "K", ValueType: "V"})
	for i := range 20 {
		stageMap(t, ms, [2]int{i, i * 3})
	}
	if err := e.PrepareForWrite(); err != nil {
		t.Fatalf("PrepareForWrite: %v", err)
	}

	want := writeSnapshotBytes(t, e)

	path := filepath.Join(t.TempDir(), "snapshot.blob")
	fw, err := NewBlobFileWriter(path, e)
	if err != nil {
		t.Fatalf("NewBlobFileWriter: %v", err)
	}
	defer fw.Close()

	if err := e.WriteSnapshot(fw); err != nil {
		t.Fatalf("WriteSnapshot to file: %v", err)
	}
	if err := fw.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(want)+blobTrailerSize {
		t.Fatalf("file size %d, want %d blob bytes + %d trailer", len(got), len(want), blobTrailerSize)
	}
	body, trailer := got[:len(got)-blobTrailerSize], got[len(got)-blobTrailerSize:]
	if !bytes.Equal(body, want) {
		t.Error("file blob differs from stream blob")
	}
	if sum := binary.BigEndian.Uint64(trailer); sum != xxhash.Sum64(body) {
		t.Errorf("trailer checksum %#x, want %#x", sum, xxhash.Sum64(body))
	}

	// Finalize already closed the writer.
	if err := fw.Finalize(); !errors.Is(err, perrors.ErrWriterClosed) {
		t.Errorf("second Finalize: %v, want ErrWriterClosed", err)
	}
	if _, err := fw.Write([]byte("x")); !errors.Is(err, perrors.ErrWriterClosed) {
		t.Errorf("Write after Finalize: %v, want ErrWriterClosed", err)
	}
}

func TestBlobFileWriterRequiresPreparedEngine(t *testing.T) {
	e := newTestEngine(t)
	addMapType(t, e, &MapSchema{Name: "M", KeyType: "K", ValueType: "V"})

	path := filepath.Join(t.TempDir(), "snapshot.blob")
	if _, err := NewBlobFileWriter(path, e); !errors.Is(err, perrors.ErrCycleNotPrepared) {
		t.Errorf("NewBlobFileWriter: %v, want ErrCycleNotPrepared", err)
	}
}

func TestBlobFileWriterCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ms := addMapType(t, e, &MapSchema{Name: "M", KeyType: "K", ValueType: "V"})
	stageMap(t, ms, [2]int{1, 1})
	if err := e.PrepareForWrite(); err != nil {
		t.Fatalf("PrepareForWrite: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.blob")
	fw, err := NewBlobFileWriter(path, e)
	if err != nil {
		t.Fatalf("NewBlobFileWriter: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
