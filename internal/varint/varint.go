// Package varint implements the unsigned var-int codec used by staged records
// and blob frames.
//
// Values are encoded most-significant group first: every byte except the last
// carries a continuation bit (0x80) and seven value bits. Decoding therefore
// streams left to right with no byte reversal, which is what the blob reader
// relies on when probing records in place. This group order is incompatible
// with encoding/binary's Uvarint, which emits least-significant groups first.
package varint

import "io"

// ReadVInt decodes an unsigned var-int starting at pos.
// The caller advances by SizeOfVInt of the returned value.
func ReadVInt(data []byte, pos int64) int {
	b := data[pos]
	v := int(b & 0x7F)
	for b&0x80 != 0 {
		pos++
		b = data[pos]
		v = v<<7 | int(b&0x7F)
	}
	return v
}

// ReadVLong decodes an unsigned var-long starting at pos.
func ReadVLong(data []byte, pos int64) int64 {
	b := data[pos]
	v := int64(b & 0x7F)
	for b&0x80 != 0 {
		pos++
		b = data[pos]
		v = v<<7 | int64(b&0x7F)
	}
	return v
}

// SizeOfVInt returns the encoded length of v in bytes. v is treated as a
// 32-bit value: the -1 that marks an empty ordinal space encodes in five
// bytes, matching WriteVInt.
func SizeOfVInt(v int) int64 {
	return SizeOfVLong(int64(uint32(v)))
}

// SizeOfVLong returns the encoded length of v in bytes.
func SizeOfVLong(v int64) int64 {
	n := int64(1)
	for uv := uint64(v) >> 7; uv != 0; uv >>= 7 {
		n++
	}
	return n
}

// NextVLongSize returns the encoded length of the var-long starting at pos
// without decoding its value.
func NextVLongSize(data []byte, pos int64) int64 {
	n := int64(1)
	for data[pos]&0x80 != 0 {
		pos++
		n++
	}
	return n
}

// WriteVInt encodes v to w. v is treated as a 32-bit value so that the -1
// marking an empty ordinal space encodes in five bytes rather than ten.
func WriteVInt(w io.ByteWriter, v int) error {
	return WriteVLong(w, int64(uint32(v)))
}

// WriteVLong encodes v to w, most-significant group first.
func WriteVLong(w io.ByteWriter, v int64) error {
	uv := uint64(v)
	n := SizeOfVLong(v)
	for i := n - 1; i > 0; i-- {
		if err := w.WriteByte(0x80 | byte(uv>>(7*uint(i))&0x7F)); err != nil {
			return err
		}
	}
	return w.WriteByte(byte(uv & 0x7F))
}
