// Package extsort implements external merge-sort over arbitrarily large
// inputs: records are buffered and sorted in memory via sortutil, spilled
// to temporary run files once the buffer fills, and the runs are merged
// down with a bounded-fanout k-way merge.
package extsort

import (
	"container/heap"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robot-dreams/extio/extioctx"
	"github.com/robot-dreams/extio/fileaccessor"
	"github.com/robot-dreams/extio/memory"
	"github.com/robot-dreams/extio/sortutil"
	"github.com/robot-dreams/extio/streamfile"
	"github.com/robot-dreams/extio/xerrors"
)

// minFixedBlockItems is the floor on the fixed-width run file block size (in
// items), used if a configured BlockSizeHint is smaller than one item.
const minFixedBlockItems = 1

// lengthPrefixSize is the width of the record-framing length prefix written
// ahead of every record in a run file, since streamfile.SerializationStream
// itself carries no record boundaries.
const lengthPrefixSize = 4

// seqTagSize is the width of the sequence number every buffered record is
// tagged with, used to break ties when Stable is requested: records that
// compare equal under the caller's less must still come out in the order
// they went in, and that order is otherwise lost once records from
// different runs interleave during the merge.
const seqTagSize = 8

// tagged pairs a record with the order it was pushed in.
type tagged[T any] struct {
	v   T
	seq uint64
}

// taggedSerializer adapts a sortutil.Serializer[T] to tagged[T] by framing
// the sequence number ahead of the caller's encoding.
type taggedSerializer[T any] struct {
	ser sortutil.Serializer[T]
}

func (s taggedSerializer[T]) EncodedSize(v tagged[T]) int { return seqTagSize + s.ser.EncodedSize(v.v) }

func (s taggedSerializer[T]) Encode(v tagged[T], dst []byte) {
	streamfile.ByteOrder.PutUint64(dst, v.seq)
	s.ser.Encode(v.v, dst[seqTagSize:])
}

func (s taggedSerializer[T]) Decode(src []byte) tagged[T] {
	seq := streamfile.ByteOrder.Uint64(src)
	return tagged[T]{v: s.ser.Decode(src[seqTagSize:]), seq: seq}
}

// fixedItemSize reports the constant encoded size of a tagged[T] and true
// only when the wrapped Serializer is itself a sortutil.FixedSerializer.
func (s taggedSerializer[T]) fixedItemSize() (int, bool) {
	fs, ok := s.ser.(sortutil.FixedSerializer[T])
	if !ok {
		return 0, false
	}
	return seqTagSize + fs.ItemSize(), true
}

// fixedCodec adapts taggedSerializer to streamfile.Codec[tagged[T]] for the
// fixed-width run file path.
type fixedCodec[T any] struct {
	ser  taggedSerializer[T]
	size int
}

func (c fixedCodec[T]) ItemSize() int                   { return c.size }
func (c fixedCodec[T]) Encode(v tagged[T], dst []byte)  { c.ser.Encode(v, dst) }
func (c fixedCodec[T]) Decode(src []byte) tagged[T]     { return c.ser.Decode(src) }

// Sorter is an external merge-sort over record type T. It is not safe for
// concurrent use.
type Sorter[T any] struct {
	ser    sortutil.Serializer[T]
	tagSer taggedSerializer[T]
	less   func(a, b T) bool
	stable bool
	nextSeq uint64

	buf      *sortutil.Sorter[tagged[T]]
	memAvail int64
	bufBytes int64
	mem      *memory.Manager

	fixed              bool
	fixedItemSize      int
	fixedBlockItems    uint64
	validateCleanClose bool

	tmpDir   string
	runID    int
	runPaths []string

	finalized   bool
	inMemory    bool
	closed      bool
	finalReader runReader[T]
}

// runWriter and runReader abstract over the two run-file representations:
// length-prefixed streamfile.SerializationStream (the general case) and
// fixed-width streamfile.Stream[T] (when the record's Serializer reports a
// constant encoded size). Sort, flushRun, and mergeGroup are written once
// against these interfaces rather than duplicated per representation.
type runWriter[T any] interface {
	write(v tagged[T]) error
	Close() error
}

type runReader[T any] interface {
	canRead() bool
	read() (tagged[T], bool, error)
	Close() error
}

type serWriter[T any] struct {
	w      *streamfile.SerializationStream
	ser    taggedSerializer[T]
	lenBuf []byte
}

func (x *serWriter[T]) write(v tagged[T]) error { return writeRecord(x.w, x.ser, v, x.lenBuf) }
func (x *serWriter[T]) Close() error            { return x.w.Close() }

type serReader[T any] struct {
	r   *streamfile.SerializationStream
	ser taggedSerializer[T]
}

func (x *serReader[T]) canRead() bool                    { return x.r.CanRead(lengthPrefixSize) }
func (x *serReader[T]) read() (tagged[T], bool, error)   { return readRecord(x.r, x.ser) }
func (x *serReader[T]) Close() error                     { return x.r.Close() }

type fixedWriter[T any] struct {
	w *streamfile.Stream[tagged[T]]
}

func (x *fixedWriter[T]) write(v tagged[T]) error { return x.w.WriteItem(v) }
func (x *fixedWriter[T]) Close() error            { return x.w.Close() }

type fixedReader[T any] struct {
	r *streamfile.Stream[tagged[T]]
}

func (x *fixedReader[T]) canRead() bool { return x.r.CanRead() }
func (x *fixedReader[T]) read() (tagged[T], bool, error) {
	if !x.r.CanRead() {
		return tagged[T]{}, false, nil
	}
	v, err := x.r.ReadItem()
	if err != nil {
		return tagged[T]{}, false, err
	}
	return v, true, nil
}
func (x *fixedReader[T]) Close() error { return x.r.Close() }

// openWriter and openReader pick the run-file representation for path,
// using the fixed-width path when s.fixed (threading s.mem through so the
// resident block buffer is accounted the same way for either
// representation).
func (s *Sorter[T]) openWriter(path string) (runWriter[T], error) {
	if s.fixed {
		codec := fixedCodec[T]{ser: s.tagSer, size: s.fixedItemSize}
		w, err := streamfile.OpenStream[tagged[T]](path, false, true, codec, s.fixedBlockItems, 0, fileaccessor.Sequential, s.validateCleanClose, s.mem)
		if err != nil {
			return nil, err
		}
		return &fixedWriter[T]{w: w}, nil
	}
	w, err := streamfile.OpenSerializationStream(path, true, s.validateCleanClose, fileaccessor.Sequential, s.mem)
	if err != nil {
		return nil, err
	}
	return &serWriter[T]{w: w, ser: s.tagSer, lenBuf: make([]byte, lengthPrefixSize)}, nil
}

func (s *Sorter[T]) openReader(path string) (runReader[T], error) {
	if s.fixed {
		codec := fixedCodec[T]{ser: s.tagSer, size: s.fixedItemSize}
		r, err := streamfile.OpenStream[tagged[T]](path, true, false, codec, s.fixedBlockItems, 0, fileaccessor.Sequential, s.validateCleanClose, s.mem)
		if err != nil {
			return nil, err
		}
		return &fixedReader[T]{r: r}, nil
	}
	r, err := streamfile.OpenSerializationStream(path, false, s.validateCleanClose, fileaccessor.Sequential, s.mem)
	if err != nil {
		return nil, err
	}
	return &serReader[T]{r: r, ser: s.tagSer}, nil
}

// Options configures a Sorter.
type Options struct {
	// MemAvail bounds the total memory the Sorter may use for run
	// formation; the merge phase additionally needs one
	// streamfile.SerializationBlockSize per open input run plus one for
	// its output, accounted against the same budget.
	MemAvail int64
	// Stable requests that records comparing equal under less retain their
	// original relative (push) order.
	Stable bool
}

// NewSorter returns a Sorter that writes run files under ctx's configured
// temp dir. The run-formation buffer and every open run file's block are
// accounted against ctx.Memory for the Sorter's lifetime.
func NewSorter[T any](ctx *extioctx.Context, ser sortutil.Serializer[T], less func(a, b T) bool, opts Options) (*Sorter[T], error) {
	tagSer := taggedSerializer[T]{ser: ser}
	bufSize := opts.MemAvail - int64(streamfile.SerializationBlockSize)
	if bufSize < lengthPrefixSize+seqTagSize {
		return nil, xerrors.Wrap(xerrors.ErrResourceExhausted, "extsort: MemAvail %d too small to hold a run-formation buffer and one output block", opts.MemAvail)
	}
	if err := ctx.Memory.Account(bufSize); err != nil {
		return nil, err
	}
	tmpDir, err := os.MkdirTemp(ctx.Config.TempDir, "extsort-"+ctx.NextTempFileID()+"-")
	if err != nil {
		ctx.Memory.Release(bufSize)
		return nil, xerrors.Wrap(xerrors.ErrIO, "extsort: creating run directory: %v", err)
	}
	fixedSize, fixed := tagSer.fixedItemSize()
	blockItems := uint64(minFixedBlockItems)
	if fixed && fixedSize > 0 {
		if hint := ctx.Config.BlockSizeHint; hint > int64(fixedSize) {
			blockItems = uint64(hint) / uint64(fixedSize)
		}
	}
	s := &Sorter[T]{
		ser:                ser,
		tagSer:             tagSer,
		less:               less,
		stable:             opts.Stable,
		memAvail:           opts.MemAvail,
		bufBytes:           bufSize,
		mem:                ctx.Memory,
		fixed:              fixed,
		fixedItemSize:      fixedSize,
		fixedBlockItems:    blockItems,
		validateCleanClose: ctx.Config.ValidateCleanClose,
		tmpDir:             tmpDir,
	}
	s.buf = sortutil.NewSorter[tagged[T]](int(bufSize), tagSer, s.lessTagged)
	return s, nil
}

// lessTagged is the comparator the in-memory sorter and the merge heap both
// use: the caller's less first, falling back to sequence order for ties
// only when Stable was requested.
func (s *Sorter[T]) lessTagged(a, b tagged[T]) bool {
	if s.less(a.v, b.v) {
		return true
	}
	if s.less(b.v, a.v) {
		return false
	}
	if s.stable {
		return a.seq < b.seq
	}
	return false
}

func (s *Sorter[T]) runPath(id int) string {
	return filepath.Join(s.tmpDir, fmt.Sprintf("run-%d", id))
}

// Push buffers item for sorting. It may trigger a run flush to disk.
func (s *Sorter[T]) Push(item T) error {
	if s.finalized {
		return xerrors.Wrap(xerrors.ErrIO, "extsort: Push called after Sort")
	}
	t := tagged[T]{v: item, seq: s.nextSeq}
	s.nextSeq++
	if s.buf.Push(t) {
		return nil
	}
	if err := s.flushRun(); err != nil {
		return err
	}
	if !s.buf.Push(t) {
		return xerrors.Wrap(xerrors.ErrResourceExhausted, "extsort: a single record does not fit in the run-formation buffer")
	}
	return nil
}

func (s *Sorter[T]) flushRun() error {
	s.buf.Sort()
	path := s.runPath(s.runID)
	s.runID++
	w, err := s.openWriter(path)
	if err != nil {
		return err
	}
	for {
		v, ok := s.buf.Pull()
		if !ok {
			break
		}
		if err := w.write(v); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	s.runPaths = append(s.runPaths, path)
	s.buf.Reset()
	return nil
}

func writeRecord[T any](w *streamfile.SerializationStream, ser sortutil.Serializer[T], v T, lenBuf []byte) error {
	n := ser.EncodedSize(v)
	streamfile.ByteOrder.PutUint32(lenBuf, uint32(n))
	if err := w.Write(lenBuf); err != nil {
		return err
	}
	payload := make([]byte, n)
	ser.Encode(v, payload)
	return w.Write(payload)
}

func readRecord[T any](r *streamfile.SerializationStream, ser sortutil.Serializer[T]) (T, bool, error) {
	var zero T
	lenBuf := make([]byte, lengthPrefixSize)
	if !r.CanRead(lengthPrefixSize) {
		return zero, false, nil
	}
	if err := r.Read(lenBuf); err != nil {
		return zero, false, err
	}
	n := streamfile.ByteOrder.Uint32(lenBuf)
	payload := make([]byte, n)
	if err := r.Read(payload); err != nil {
		return zero, false, err
	}
	return ser.Decode(payload), true, nil
}

// Sort finalizes run formation and performs the merge phase (if more than
// one run was spilled). It must be called exactly once, after the last
// Push, and before the first Pull.
func (s *Sorter[T]) Sort() error {
	if s.finalized {
		return nil
	}
	s.finalized = true

	if len(s.runPaths) == 0 {
		s.buf.Sort()
		s.inMemory = true
		return nil
	}
	if s.buf.Len() > 0 {
		if err := s.flushRun(); err != nil {
			return err
		}
	}

	fanout, err := s.fanout()
	if err != nil {
		return err
	}
	for len(s.runPaths) > 1 {
		var merged []string
		for i := 0; i < len(s.runPaths); i += fanout {
			end := i + fanout
			if end > len(s.runPaths) {
				end = len(s.runPaths)
			}
			group := s.runPaths[i:end]
			if len(group) == 1 {
				merged = append(merged, group[0])
				continue
			}
			out, err := s.mergeGroup(group)
			if err != nil {
				return err
			}
			merged = append(merged, out)
		}
		s.runPaths = merged
	}

	r, err := s.openReader(s.runPaths[0])
	if err != nil {
		return err
	}
	s.finalReader = r
	return nil
}

// fanout computes f = (memAvail - w) / (l + r): w and r are both one
// resident block, sized per the active run-file representation -- one
// streamfile.SerializationBlockSize for the general case, or one
// s.fixedBlockItems-sized block for the fixed-width path.
func (s *Sorter[T]) fanout() (int, error) {
	var l, w, r int64
	if s.fixed {
		blockSize := int64(s.fixedItemSize) * int64(s.fixedBlockItems)
		l, w, r = int64(s.fixedItemSize), blockSize, blockSize
	} else {
		l = int64(s.buf.LargestItemSize() + lengthPrefixSize)
		w = int64(streamfile.SerializationBlockSize)
		r = int64(streamfile.SerializationBlockSize)
	}
	available := s.memAvail - w
	if available < 0 || l+r == 0 {
		return 0, xerrors.Wrap(xerrors.ErrResourceExhausted, "extsort: no memory available for merge")
	}
	f := available / (l + r)
	if f < 2 {
		return 0, xerrors.Wrap(xerrors.ErrResourceExhausted, "extsort: merge fanout %d < 2 (largest record %d bytes)", f, l)
	}
	return int(f), nil
}

// mergeGroup k-way merges the runs named by paths into a single fresh run
// file, deletes the inputs, and returns the new path.
func (s *Sorter[T]) mergeGroup(paths []string) (string, error) {
	readers := make([]runReader[T], 0, len(paths))
	closeReaders := func() {
		for _, r := range readers {
			r.Close()
		}
	}
	defer closeReaders()

	h := &mergeHeap[T]{less: s.lessTagged}
	for _, p := range paths {
		r, err := s.openReader(p)
		if err != nil {
			return "", err
		}
		readers = append(readers, r)
		v, ok, err := r.read()
		if err != nil {
			return "", err
		}
		if ok {
			h.items = append(h.items, mergeItem[T]{v: v, reader: len(readers) - 1})
		}
	}
	heap.Init(h)

	outPath := s.runPath(s.runID)
	s.runID++
	w, err := s.openWriter(outPath)
	if err != nil {
		return "", err
	}
	for h.Len() > 0 {
		top := heap.Pop(h).(mergeItem[T])
		if err := w.write(top.v); err != nil {
			w.Close()
			return "", err
		}
		v, ok, err := readers[top.reader].read()
		if err != nil {
			w.Close()
			return "", err
		}
		if ok {
			heap.Push(h, mergeItem[T]{v: v, reader: top.reader})
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	closeReaders()
	readers = nil
	for _, p := range paths {
		os.Remove(p)
	}
	return outPath, nil
}

// CanPull reports whether another record is available from Pull.
func (s *Sorter[T]) CanPull() bool {
	if !s.finalized {
		return false
	}
	if s.inMemory {
		return s.buf.Remaining() > 0
	}
	return s.finalReader != nil && s.finalReader.canRead()
}

// Pull returns the next record in sorted order.
func (s *Sorter[T]) Pull() (T, bool, error) {
	var zero T
	if !s.finalized {
		return zero, false, xerrors.Wrap(xerrors.ErrIO, "extsort: Pull called before Sort")
	}
	if s.inMemory {
		v, ok := s.buf.Pull()
		return v.v, ok, nil
	}
	t, ok, err := s.finalReader.read()
	return t.v, ok, err
}

// Close releases all temporary resources, including the run-formation
// buffer's accounted bytes. It is safe to call multiple times.
func (s *Sorter[T]) Close() error {
	if s.finalReader != nil {
		s.finalReader.Close()
		s.finalReader = nil
	}
	if !s.closed {
		s.closed = true
		s.mem.Release(s.bufBytes)
	}
	return os.RemoveAll(s.tmpDir)
}

type mergeItem[T any] struct {
	v      tagged[T]
	reader int
}

// mergeHeap is a container/heap.Interface over the current front record of
// each open run reader.
type mergeHeap[T any] struct {
	items []mergeItem[T]
	less  func(a, b tagged[T]) bool
}

func (h *mergeHeap[T]) Len() int           { return len(h.items) }
func (h *mergeHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap[T]) Less(i, j int) bool { return h.less(h.items[i].v, h.items[j].v) }
func (h *mergeHeap[T]) Push(x interface{}) { h.items = append(h.items, x.(mergeItem[T])) }
func (h *mergeHeap[T]) Pop() interface{} {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}
