// Package sortutil provides the in-memory variable-length record sorter
// that extsort uses for run formation.
package sortutil

import "sort"

// Serializer turns a record type T into and from a byte encoding of
// whatever length the record itself requires. Unlike streamfile.Codec,
// EncodedSize may vary between calls.
type Serializer[T any] interface {
	EncodedSize(v T) int
	Encode(v T, dst []byte)
	Decode(src []byte) T
}

// FixedSerializer is a Serializer whose EncodedSize never varies across
// values. A caller holding one can use a fixed-width block stream
// (streamfile.Stream[T]) instead of length-prefixed framing.
type FixedSerializer[T any] interface {
	Serializer[T]
	ItemSize() int
}

// Sorter buffers records tail-to-tail in a single byte slice of capacity M
// and sorts them in place by deserializing on demand during comparison,
// without materializing a []T of live records.
type Sorter[T any] struct {
	ser  Serializer[T]
	less func(a, b T) bool

	buf []byte // capacity M, length is the high-water mark of used bytes
	cap int

	offsets []int // start offset of each record in buf
	lengths []int // encoded length of each record

	order []int // permutation into offsets/lengths, built by Sort

	pullIndex int // next position into order to Pull

	full bool

	largest int
}

// NewSorter returns a Sorter with buffer capacity cap bytes, using less to
// compare decoded records and ser to encode/decode them.
func NewSorter[T any](cap int, ser Serializer[T], less func(a, b T) bool) *Sorter[T] {
	return &Sorter[T]{
		ser:  ser,
		less: less,
		buf:  make([]byte, 0, cap),
		cap:  cap,
	}
}

// Push appends item to the buffer. If item would not fit in the remaining
// capacity it returns false, leaves the buffered records untouched and
// marks the sorter full, so every later Push also returns false until Reset
// -- the caller must Sort, drain via Pull, Reset, and retry.
func (s *Sorter[T]) Push(item T) bool {
	if s.full {
		return false
	}
	n := s.ser.EncodedSize(item)
	if len(s.buf)+n > s.cap {
		s.full = true
		return false
	}
	start := len(s.buf)
	s.buf = s.buf[:start+n]
	s.ser.Encode(item, s.buf[start:start+n])
	s.offsets = append(s.offsets, start)
	s.lengths = append(s.lengths, n)
	if n > s.largest {
		s.largest = n
	}
	return true
}

// Sort orders the buffered records according to less. It must be called
// before Pull.
func (s *Sorter[T]) Sort() {
	n := len(s.offsets)
	s.order = make([]int, n)
	for i := range s.order {
		s.order[i] = i
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		a := s.decodeAt(s.order[i])
		b := s.decodeAt(s.order[j])
		return s.less(a, b)
	})
	s.pullIndex = 0
}

func (s *Sorter[T]) decodeAt(i int) T {
	off, n := s.offsets[i], s.lengths[i]
	return s.ser.Decode(s.buf[off : off+n])
}

// Pull returns the next record in sorted order. The second return value is
// false once every buffered record has been pulled.
func (s *Sorter[T]) Pull() (T, bool) {
	var zero T
	if s.pullIndex >= len(s.order) {
		return zero, false
	}
	v := s.decodeAt(s.order[s.pullIndex])
	s.pullIndex++
	return v, true
}

// LargestItemSize returns the maximum encoded record length seen since the
// last Reset.
func (s *Sorter[T]) LargestItemSize() int { return s.largest }

// Len returns the number of records currently buffered (pushed since the
// last Reset, regardless of how many have since been pulled).
func (s *Sorter[T]) Len() int { return len(s.offsets) }

// Remaining returns the number of records not yet returned by Pull. It is
// only meaningful after Sort.
func (s *Sorter[T]) Remaining() int { return len(s.order) - s.pullIndex }

// Reset discards all buffered records, making the sorter ready to accept
// Push calls again. LargestItemSize is not reset, since extsort needs the
// largest size observed across every run to size the merge fanout.
func (s *Sorter[T]) Reset() {
	s.buf = s.buf[:0]
	s.offsets = s.offsets[:0]
	s.lengths = s.lengths[:0]
	s.order = nil
	s.pullIndex = 0
	s.full = false
}
