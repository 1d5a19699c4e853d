package streamfile

import (
	"os"

	"github.com/robot-dreams/extio/fileaccessor"
	"github.com/robot-dreams/extio/memory"
	"github.com/robot-dreams/extio/xerrors"
)

// SerializationBlockSize is the block size used by SerializationStream,
// matching tpie's serialization_stream::block_size(). It is a var rather
// than a const so tests can shrink it temporarily to exercise multi-block
// behavior without multi-megabyte fixtures.
var SerializationBlockSize uint64 = 2 << 20

// SerializationStream is a byte-oriented stream of opaque 2 MiB blocks,
// used by extsort for variable-length records: record boundaries are
// recovered by the caller's own (de)serialization, not by the stream. It
// shares the fixed-item stream's header discipline (magic, version,
// cleanClose) under a distinct magic number.
type SerializationStream struct {
	file *fileaccessor.Accessor
	path string

	write bool

	block      []byte
	blockNum   uint64 // block currently resident; undefined if !loaded
	blockValid uint64 // valid bytes in the resident block
	index      uint64 // byte offset within the resident block
	dirty      bool
	loaded     bool

	size uint64 // logical size in bytes

	mem          *memory.Manager
	memAccounted int64
}

// OpenSerializationStream opens or creates path as a SerializationStream.
// If mgr is non-nil, the resident block buffer's bytes are accounted
// against it for the lifetime of the stream and released on Close.
func OpenSerializationStream(path string, write bool, requireCleanClose bool, hint fileaccessor.CacheHint, mgr *memory.Manager) (*SerializationStream, error) {
	s := &SerializationStream{path: path, write: write, block: make([]byte, SerializationBlockSize)}

	if mgr != nil {
		accounted := int64(SerializationBlockSize)
		if err := mgr.Account(accounted); err != nil {
			return nil, err
		}
		s.mem = mgr
		s.memAccounted = accounted
	}

	exists, err := fileExists(path)
	if err != nil {
		s.releaseMemory()
		return nil, err
	}
	if exists {
		var ferr error
		if write {
			s.file, ferr = fileaccessor.OpenRW(path, hint)
		} else {
			s.file, ferr = fileaccessor.OpenRO(path, hint)
		}
		if ferr != nil {
			s.releaseMemory()
			return nil, ferr
		}
		if err := s.readAndValidateHeader(requireCleanClose); err != nil {
			s.file.Close()
			s.releaseMemory()
			return nil, err
		}
	} else {
		if !write {
			s.releaseMemory()
			return nil, xerrors.Wrap(xerrors.ErrNotFound, "%s does not exist and stream was not opened for writing", path)
		}
		s.file, err = fileaccessor.OpenRWNew(path, hint)
		if err != nil {
			s.releaseMemory()
			return nil, err
		}
		s.writeHeader(false)
	}
	return s, nil
}

func (s *SerializationStream) releaseMemory() {
	if s.mem != nil {
		s.mem.Release(s.memAccounted)
		s.mem = nil
	}
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, xerrors.Wrap(xerrors.ErrIO, "stat %s: %v", path, err)
}

func (s *SerializationStream) serHeaderSize() uint64 { return headerSize(0) }

func (s *SerializationStream) readAndValidateHeader(requireCleanClose bool) error {
	buf := make([]byte, wireSize)
	if err := s.file.ReadAt(buf, 0); err != nil {
		return err
	}
	h, err := unmarshalHeader(buf)
	if err != nil {
		return err
	}
	if err := verifyMagic(h, magicSerialization); err != nil {
		return err
	}
	if err := verifyVersion(h); err != nil {
		return err
	}
	if h.BlockSize != SerializationBlockSize {
		return xerrors.Wrap(xerrors.ErrShape, "serialization stream block size mismatch: file has %d, want %d", h.BlockSize, SerializationBlockSize)
	}
	s.size = h.Size
	if h.CleanClose != 1 {
		if requireCleanClose {
			return xerrors.Wrap(xerrors.ErrUncleanClose, "%s was not closed cleanly", s.path)
		}
		fileSize, err := s.file.Size()
		if err != nil {
			return err
		}
		dataBytes := fileSize - int64(s.serHeaderSize())
		if dataBytes < 0 {
			dataBytes = 0
		}
		s.size = uint64(dataBytes)
	}
	return nil
}

func (s *SerializationStream) writeHeader(cleanClose bool) {
	h := &header{
		Magic:     magicSerialization,
		Version:   headerVersion,
		BlockSize: SerializationBlockSize,
		Size:      s.size,
	}
	if cleanClose {
		h.CleanClose = 1
	}
	buf := h.marshal(0)
	s.file.WriteAt(buf, 0)
}

func (s *SerializationStream) flushBlock() error {
	if !s.loaded || !s.dirty {
		return nil
	}
	off := int64(s.serHeaderSize() + s.blockNum*SerializationBlockSize)
	if err := s.file.WriteAt(s.block[:s.blockValid], off); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *SerializationStream) readBlock(blockNum uint64) error {
	blockStart := blockNum * SerializationBlockSize
	valid := uint64(SerializationBlockSize)
	if blockStart+valid > s.size {
		if blockStart >= s.size {
			valid = 0
		} else {
			valid = s.size - blockStart
		}
	}
	if valid > 0 {
		off := int64(s.serHeaderSize() + blockStart)
		if err := s.file.ReadAt(s.block[:valid], off); err != nil {
			return err
		}
	}
	s.blockNum = blockNum
	s.blockValid = valid
	s.loaded = true
	s.dirty = false
	return nil
}

func (s *SerializationStream) updateBlock() error {
	next := uint64(0)
	if s.loaded {
		next = s.blockNum + 1
	}
	if err := s.flushBlock(); err != nil {
		return err
	}
	if err := s.readBlock(next); err != nil {
		return err
	}
	s.index = 0
	return nil
}

// Offset returns the current byte position of the cursor.
func (s *SerializationStream) Offset() uint64 {
	if !s.loaded {
		return 0
	}
	return s.blockNum*SerializationBlockSize + s.index
}

// Size returns the logical size of the stream in bytes.
func (s *SerializationStream) Size() uint64 { return s.size }

// CanRead reports whether n more bytes can be read from the current
// position without reaching end of stream.
func (s *SerializationStream) CanRead(n uint64) bool {
	if s.loaded && s.index+n <= s.blockValid {
		return true
	}
	return s.Offset()+n <= s.size
}

// Write writes all of data to the stream at the cursor.
func (s *SerializationStream) Write(data []byte) error {
	written := uint64(0)
	count := uint64(len(data))
	for written != count {
		if !s.loaded || s.index >= SerializationBlockSize {
			if err := s.updateBlock(); err != nil {
				return err
			}
		}
		remaining := count - written
		blockRemaining := SerializationBlockSize - s.index
		writeSize := remaining
		if blockRemaining < writeSize {
			writeSize = blockRemaining
		}
		copy(s.block[s.index:s.index+writeSize], data[written:written+writeSize])
		written += writeSize
		s.index += writeSize
		s.dirty = true
		if s.index > s.blockValid {
			s.blockValid = s.index
		}
	}
	newSize := s.Offset()
	if newSize > s.size {
		s.size = newSize
	}
	return nil
}

// Read fills buf entirely from the cursor, raising ErrEndOfStream if that
// would read past the logical size.
func (s *SerializationStream) Read(buf []byte) error {
	read := uint64(0)
	count := uint64(len(buf))
	for read != count {
		if !s.loaded || s.index >= s.blockValid {
			if !s.CanRead(count - read) {
				return xerrors.Wrap(xerrors.ErrEndOfStream, "")
			}
			if err := s.updateBlock(); err != nil {
				return err
			}
		}
		remaining := count - read
		blockRemaining := s.blockValid - s.index
		readSize := remaining
		if blockRemaining < readSize {
			readSize = blockRemaining
		}
		copy(buf[read:read+readSize], s.block[s.index:s.index+readSize])
		read += readSize
		s.index += readSize
	}
	return nil
}

// Close flushes the resident block, seals the header, and closes the file.
func (s *SerializationStream) Close() error {
	s.releaseMemory()
	if err := s.flushBlock(); err != nil {
		return err
	}
	if s.write {
		s.writeHeader(true)
	}
	return s.file.Close()
}

// Path returns the underlying file path.
func (s *SerializationStream) Path() string { return s.path }
