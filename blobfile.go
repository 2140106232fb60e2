package permafrost

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	perrors "github.com/permafrost-db/permafrost/errors"
)

// blobTrailerSize is the xxhash64 checksum appended to a finalized blob file.
const blobTrailerSize = 8

// BlobFileWriter writes one blob to disk through a pre-allocated memory map.
// The file is sized from the statistics the engine gathered at
// PrepareForWrite, pre-faulted, written in place, and truncated to its
// actual length on Finalize. A streaming xxhash64 of the blob bytes is
// appended as an 8-byte big-endian trailer so consumers can verify the file
// before mapping it.
//
// Usage:
//
//	fw, err := permafrost.NewBlobFileWriter("snapshot.blob", engine)
//	if err != nil { return err }
//	defer fw.Close() // Clean up on error
//	if err := engine.WriteSnapshot(fw); err != nil { return err }
//	return fw.Finalize()
type BlobFileWriter struct {
	file *os.File
	mmap mmap.MMap
	data []byte

	offset        int64
	estimatedSize int64
	hasher        *xxhash.Digest
	closed        bool
}

// NewBlobFileWriter creates and maps the blob file at path. The engine must
// already be prepared for write: the pre-allocation size comes from the
// cycle's gathered statistics.
func NewBlobFileWriter(path string, engine *WriteStateEngine) (*BlobFileWriter, error) {
	if !engine.preparedForWrite {
		return nil, perrors.ErrCycleNotPrepared
	}

	// The projection is a statistics-exact body size plus framing slack;
	// double it so var-int framing and schema sections never overrun.
	estimatedSize := engine.projectedSnapshotBytes()*2 + blobTrailerSize

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create blob file: %w", err)
	}

	// Pre-allocate disk blocks to prevent SIGBUS on disk full
	if err := fallocateFile(file, estimatedSize); err != nil {
		primaryErr := fmt.Errorf("allocate blob file: %w", err)
		return nil, errors.Join(primaryErr, file.Close(), os.Remove(path))
	}

	mm, err := mmap.MapRegion(file, int(estimatedSize), mmap.RDWR, 0, 0)
	if err != nil {
		primaryErr := fmt.Errorf("mmap blob file: %w", err)
		return nil, errors.Join(primaryErr, file.Close(), os.Remove(path))
	}

	w := &BlobFileWriter{
		file:          file,
		mmap:          mm,
		data:          []byte(mm),
		estimatedSize: estimatedSize,
		hasher:        xxhash.New(),
	}
	prefaultRegion(w.data)
	return w, nil
}

// Write copies p into the mapped region and folds it into the streaming
// checksum. Implements io.Writer for the engine's blob writers.
func (w *BlobFileWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, perrors.ErrWriterClosed
	}
	if w.offset+int64(len(p)) > w.estimatedSize-blobTrailerSize {
		return 0, perrors.ErrBlobSizeExceeded
	}
	copy(w.data[w.offset:], p)
	w.offset += int64(len(p))
	if _, err := w.hasher.Write(p); err != nil {
		panic("hash.Hash.Write returned unexpected error: " + err.Error())
	}
	return len(p), nil
}

// Finalize appends the checksum trailer, flushes, unmaps, and truncates the
// file to its actual size. On error, delegates to Close for idempotent
// cleanup. After a successful Finalize, Close is a no-op.
func (w *BlobFileWriter) Finalize() error {
	if w.closed {
		return perrors.ErrWriterClosed
	}

	binary.BigEndian.PutUint64(w.data[w.offset:], w.hasher.Sum64())
	actualSize := w.offset + blobTrailerSize

	if err := w.mmap.Flush(); err != nil {
		primaryErr := fmt.Errorf("mmap flush failed: %w", err)
		return errors.Join(primaryErr, w.Close())
	}

	// Unmap before truncate (required order).
	unmapErr := w.mmap.Unmap()
	w.mmap = nil
	if unmapErr != nil {
		primaryErr := fmt.Errorf("mmap unmap failed: %w", unmapErr)
		return errors.Join(primaryErr, w.Close())
	}

	if err := w.file.Truncate(actualSize); err != nil {
		primaryErr := fmt.Errorf("truncate failed: %w", err)
		return errors.Join(primaryErr, w.Close())
	}

	closeErr := w.file.Close()
	w.file = nil
	w.closed = true
	return closeErr
}

// Close releases the map and file without finalizing (for error cleanup).
// Idempotent: safe to call multiple times and after Finalize.
func (w *BlobFileWriter) Close() error {
	w.closed = true
	var unmapErr error
	if w.mmap != nil {
		unmapErr = w.mmap.Unmap()
		w.mmap = nil
	}
	var closeErr error
	if w.file != nil {
		closeErr = w.file.Close()
		w.file = nil
	}
	return errors.Join(unmapErr, closeErr)
}
