package permafrost

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/permafrost-db/permafrost/internal/varint"
)

const (
	// blobMagic identifies permafrost blobs: "PFRO" in big-endian.
	blobMagic = uint32(0x5046524F)

	// blobVersion is the current blob format version.
	blobVersion = uint16(0x0001)
)

// blobKind distinguishes the three blob flavors a cycle can publish.
type blobKind uint8

const (
	blobSnapshot     blobKind = 0
	blobDelta        blobKind = 1
	blobReverseDelta blobKind = 2
)

// String returns the blob kind name.
func (k blobKind) String() string {
	switch k {
	case blobSnapshot:
		return "snapshot"
	case blobDelta:
		return "delta"
	case blobReverseDelta:
		return "reversedelta"
	default:
		return "unknown"
	}
}

// blobWriter is the buffered stream every type body is framed into. Shard
// bodies interleave var-ints with whole big-endian 64-bit words, so the
// writer exposes both.
type blobWriter struct {
	*bufio.Writer
}

func newBlobWriter(w io.Writer) *blobWriter {
	return &blobWriter{Writer: bufio.NewWriter(w)}
}

// writeWord writes one 64-bit word big-endian.
func (w *blobWriter) writeWord(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// writeHeader frames the blob: magic, version, kind, then the type count.
func (w *blobWriter) writeHeader(kind blobKind, numTypes int) error {
	var buf [7]byte
	binary.BigEndian.PutUint32(buf[0:4], blobMagic)
	binary.BigEndian.PutUint16(buf[4:6], blobVersion)
	buf[6] = byte(kind)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	return varint.WriteVInt(w, numTypes)
}

// writeString writes a length-prefixed string.
func (w *blobWriter) writeString(s string) error {
	if err := varint.WriteVInt(w, len(s)); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

// writeSchema identifies a type section: name, kind, and the kind-specific
// declaration the reader needs to interpret the body.
func (w *blobWriter) writeSchema(s Schema) error {
	if err := w.writeString(s.SchemaName()); err != nil {
		return err
	}
	if err := w.WriteByte(byte(s.Kind())); err != nil {
		return err
	}
	switch schema := s.(type) {
	case *ObjectSchema:
		if err := varint.WriteVInt(w, len(schema.Fields)); err != nil {
			return err
		}
		for _, f := range schema.Fields {
			if err := w.writeString(f.Name); err != nil {
				return err
			}
			if err := w.WriteByte(byte(f.Type)); err != nil {
				return err
			}
		}
	case *MapSchema:
		if err := w.writeString(schema.KeyType); err != nil {
			return err
		}
		if err := w.writeString(schema.ValueType); err != nil {
			return err
		}
		hashKeyPaths := 0
		if schema.HashKey != nil {
			hashKeyPaths = len(schema.HashKey.FieldPaths)
		}
		if err := varint.WriteVInt(w, hashKeyPaths); err != nil {
			return err
		}
		if schema.HashKey != nil {
			for _, p := range schema.HashKey.FieldPaths {
				if err := w.writeString(p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
