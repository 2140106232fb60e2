// Package popset implements the populated-ordinal bit set.
//
// Stagers may set bits from multiple goroutines while records are being
// added; the encoders read the set only after the cycle has quiesced. The
// set is segmented so that growth never moves a word another goroutine is
// updating.
package popset

import (
	"io"
	"math/bits"
	"sync/atomic"

	"github.com/permafrost-db/permafrost/internal/varint"
)

const (
	segmentWords    = 1024 // 65536 ordinals per segment
	ordinalsPerWord = 64
)

type segment [segmentWords]atomic.Uint64

// Set is a thread-safe bit set over the dense ordinal space.
type Set struct {
	segments atomic.Pointer[[]*segment]
}

// New returns an empty set.
func New() *Set {
	return &Set{}
}

func (s *Set) segmentFor(word int, grow bool) *segment {
	segIdx := word / segmentWords
	segs := s.segments.Load()
	if segs != nil && segIdx < len(*segs) {
		return (*segs)[segIdx]
	}
	if !grow {
		return nil
	}
	for {
		old := s.segments.Load()
		oldLen := 0
		if old != nil {
			oldLen = len(*old)
		}
		if segIdx < oldLen {
			return (*old)[segIdx]
		}
		grown := make([]*segment, segIdx+1)
		if old != nil {
			copy(grown, *old)
		}
		for i := oldLen; i <= segIdx; i++ {
			grown[i] = new(segment)
		}
		if s.segments.CompareAndSwap(old, &grown) {
			return grown[segIdx]
		}
	}
}

// Set marks ordinal i populated.
func (s *Set) Set(i int) {
	word := i / ordinalsPerWord
	seg := s.segmentFor(word, true)
	w := &seg[word%segmentWords]
	bit := uint64(1) << uint(i%ordinalsPerWord)
	for {
		old := w.Load()
		if old&bit != 0 {
			return
		}
		if w.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

// Get reports whether ordinal i is populated.
func (s *Set) Get(i int) bool {
	word := i / ordinalsPerWord
	seg := s.segmentFor(word, false)
	if seg == nil {
		return false
	}
	return seg[word%segmentWords].Load()&(uint64(1)<<uint(i%ordinalsPerWord)) != 0
}

func (s *Set) numWords() int {
	segs := s.segments.Load()
	if segs == nil {
		return 0
	}
	return len(*segs) * segmentWords
}

func (s *Set) word(i int) uint64 {
	seg := s.segmentFor(i, false)
	if seg == nil {
		return 0
	}
	return seg[i%segmentWords].Load()
}

// NextSetBit returns the first populated ordinal at or after from, or -1.
func (s *Set) NextSetBit(from int) int {
	if from < 0 {
		from = 0
	}
	numWords := s.numWords()
	word := from / ordinalsPerWord
	if word >= numWords {
		return -1
	}

	w := s.word(word) >> uint(from%ordinalsPerWord)
	if w != 0 {
		return from + bits.TrailingZeros64(w)
	}
	for word++; word < numWords; word++ {
		if w := s.word(word); w != 0 {
			return word*ordinalsPerWord + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// AndNot returns a new set holding the ordinals in s but not in o.
func (s *Set) AndNot(o *Set) *Set {
	result := New()
	for i, n := 0, s.numWords(); i < n; i++ {
		if w := s.word(i) &^ o.word(i); w != 0 {
			seg := result.segmentFor(i, true)
			seg[i%segmentWords].Store(w)
		}
	}
	return result
}

// Copy returns a snapshot of the set.
func (s *Set) Copy() *Set {
	result := New()
	for i, n := 0, s.numWords(); i < n; i++ {
		if w := s.word(i); w != 0 {
			seg := result.segmentFor(i, true)
			seg[i%segmentWords].Store(w)
		}
	}
	return result
}

// Cardinality returns the number of populated ordinals.
func (s *Set) Cardinality() int {
	count := 0
	for i, n := 0, s.numWords(); i < n; i++ {
		count += bits.OnesCount64(s.word(i))
	}
	return count
}

// Clear unmarks every ordinal, retaining allocated segments.
func (s *Set) Clear() {
	segs := s.segments.Load()
	if segs == nil {
		return
	}
	for _, seg := range *segs {
		for i := range seg {
			seg[i].Store(0)
		}
	}
}

// Serialize writes the framework's standard bit-set representation: a var-int
// word count followed by that many big-endian 64-bit words. Trailing zero
// words are trimmed so equal logical sets serialize identically.
func (s *Set) Serialize(w interface {
	io.Writer
	io.ByteWriter
}) error {
	last := -1
	for i, n := 0, s.numWords(); i < n; i++ {
		if s.word(i) != 0 {
			last = i
		}
	}
	if err := varint.WriteVInt(w, last+1); err != nil {
		return err
	}
	var buf [8]byte
	for i := 0; i <= last; i++ {
		word := s.word(i)
		for j := range buf {
			buf[j] = byte(word >> uint(56-8*j))
		}
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}
