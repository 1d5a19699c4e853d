package streamfile

import (
	"github.com/robot-dreams/extio/fileaccessor"
	"github.com/robot-dreams/extio/memory"
	"github.com/robot-dreams/extio/xerrors"
)

// Codec turns a fixed-size item type T into and from a constant-width byte
// encoding. ItemSize() must return the same value for every call.
type Codec[T any] interface {
	ItemSize() int
	Encode(v T, dst []byte)
	Decode(src []byte) T
}

// Stream is the sequential/random-access cursor: it holds exactly one
// resident block and an index into it, and is built on top of an Accessor.
// Stream is not safe for concurrent use, and a Stream's underlying file is
// never shared across processes.
type Stream[T any] struct {
	acc   *Accessor
	codec Codec[T]

	block      []byte // raw bytes of the resident block, always len == blockSize
	blockNum   uint64
	blockSize  uint64 // valid bytes (<= acc.blockSize), in items*itemSize terms this is validItems*itemSize
	validItems uint64
	index      uint64 // item index within the resident block
	dirty      bool
	loaded     bool

	mem          *memory.Manager
	memAccounted int64
}

// OpenStream opens path as a Stream[T] using codec to translate between T
// and the fixed-width on-disk encoding. If mgr is non-nil, the resident
// block buffer's bytes are accounted against it for the lifetime of the
// Stream and released on Close.
func OpenStream[T any](path string, read, write bool, codec Codec[T], blockItems uint64, maxUserDataSize uint64, hint fileaccessor.CacheHint, requireCleanClose bool, mgr *memory.Manager) (*Stream[T], error) {
	itemSize := uint64(codec.ItemSize())
	acc, err := Open(path, OpenOptions{
		Read:              read,
		Write:             write,
		ItemSize:          itemSize,
		BlockSize:         itemSize * blockItems,
		MaxUserDataSize:   maxUserDataSize,
		CacheHint:         hint,
		RequireCleanClose: requireCleanClose,
	})
	if err != nil {
		return nil, err
	}
	accounted := int64(acc.BlockSize())
	if mgr != nil {
		if err := mgr.Account(accounted); err != nil {
			acc.Close()
			return nil, err
		}
	}
	s := &Stream[T]{
		acc:          acc,
		codec:        codec,
		block:        make([]byte, acc.BlockSize()),
		mem:          mgr,
		memAccounted: accounted,
	}
	return s, nil
}

func (s *Stream[T]) itemSize() uint64 { return uint64(s.codec.ItemSize()) }

// flush writes the resident block back to disk if it is dirty.
func (s *Stream[T]) flush() error {
	if !s.loaded || !s.dirty {
		return nil
	}
	if err := s.acc.WriteBlock(s.block, s.blockNum, s.validItems); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// load reads blockNum into the resident block, replacing whatever was
// there. The caller must have already flushed a dirty block.
func (s *Stream[T]) load(blockNum uint64) error {
	n, err := s.acc.ReadBlock(s.block, blockNum, s.acc.BlockItems())
	if err != nil {
		return err
	}
	s.blockNum = blockNum
	s.validItems = n
	s.loaded = true
	s.dirty = false
	return nil
}

// offset returns the current logical item position of the cursor.
func (s *Stream[T]) offset() uint64 {
	return s.blockNum*s.acc.BlockItems() + s.index
}

// Size returns the logical item count of the stream.
func (s *Stream[T]) Size() uint64 { return s.acc.Size() }

// CanRead reports whether another item can be read at the current cursor
// position without hitting end of stream.
func (s *Stream[T]) CanRead() bool {
	return s.offset() < s.acc.Size()
}

// ReadItem reads and returns the item at the cursor, advancing it by one.
func (s *Stream[T]) ReadItem() (T, error) {
	var zero T
	if !s.loaded || s.index >= s.validItems {
		if !s.CanRead() {
			return zero, xerrors.Wrap(xerrors.ErrEndOfStream, "")
		}
		if err := s.flush(); err != nil {
			return zero, err
		}
		nextBlock := uint64(0)
		if s.loaded {
			nextBlock = s.blockNum + 1
		}
		if err := s.load(nextBlock); err != nil {
			return zero, err
		}
		s.index = 0
	}
	if s.index >= s.validItems {
		return zero, xerrors.Wrap(xerrors.ErrEndOfStream, "")
	}
	itemSize := s.itemSize()
	start := s.index * itemSize
	v := s.codec.Decode(s.block[start : start+itemSize])
	s.index++
	return v, nil
}

// WriteItem writes v at the cursor and advances it by one, growing the
// stream's logical size monotonically.
func (s *Stream[T]) WriteItem(v T) error {
	blockItems := s.acc.BlockItems()
	if !s.loaded || s.index >= blockItems {
		if err := s.flush(); err != nil {
			return err
		}
		nextBlock := uint64(0)
		if s.loaded {
			nextBlock = s.blockNum + 1
		}
		// Writing past the end of an existing block always starts a fresh
		// one; there is nothing to read back first.
		s.blockNum = nextBlock
		s.validItems = 0
		s.loaded = true
		s.index = 0
	}
	itemSize := s.itemSize()
	start := s.index * itemSize
	s.codec.Encode(v, s.block[start:start+itemSize])
	s.index++
	if s.index > s.validItems {
		s.validItems = s.index
	}
	s.dirty = true
	return nil
}

// SeekItem moves the cursor to item i. If i lies within the resident
// block, this is O(1) with no I/O; otherwise the current block is flushed
// and the containing block is loaded.
func (s *Stream[T]) SeekItem(i uint64) error {
	blockItems := s.acc.BlockItems()
	targetBlock := i / blockItems
	targetIndex := i % blockItems
	if s.loaded && targetBlock == s.blockNum {
		s.index = targetIndex
		return nil
	}
	if err := s.flush(); err != nil {
		return err
	}
	if err := s.load(targetBlock); err != nil {
		return err
	}
	s.index = targetIndex
	return nil
}

// Truncate drops items at or beyond n.
func (s *Stream[T]) Truncate(n uint64) error {
	if err := s.flush(); err != nil {
		return err
	}
	if err := s.acc.Truncate(n); err != nil {
		return err
	}
	s.loaded = false
	s.index = 0
	return nil
}

// ReadUserData/WriteUserData pass through to the underlying Accessor.
func (s *Stream[T]) ReadUserData(buf []byte) (uint64, error) { return s.acc.ReadUserData(buf) }
func (s *Stream[T]) WriteUserData(data []byte) error         { return s.acc.WriteUserData(data) }

func (s *Stream[T]) UserDataSize() uint64    { return s.acc.UserDataSize() }
func (s *Stream[T]) MaxUserDataSize() uint64 { return s.acc.MaxUserDataSize() }
func (s *Stream[T]) ByteSize() uint64        { return s.acc.ByteSize() }
func (s *Stream[T]) Path() string            { return s.acc.Path() }

// Close flushes the resident block (never silently dropping a dirty one)
// and seals the stream.
func (s *Stream[T]) Close() error {
	if s.mem != nil {
		s.mem.Release(s.memAccounted)
	}
	if err := s.flush(); err != nil {
		return err
	}
	return s.acc.Close()
}
