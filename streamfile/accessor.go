package streamfile

import (
	"os"

	"github.com/robot-dreams/extio/fileaccessor"
	"github.com/robot-dreams/extio/xerrors"
)

// Accessor presents the typed-block interface: a stream of fixed-size items
// laid out as header + blocks, on top of a raw fileaccessor.Accessor. Most
// callers want Stream[T], which wraps an Accessor with a single-block
// cursor; Accessor itself is the primitive read_block/write_block layer the
// cursor is built from.
type Accessor struct {
	file *fileaccessor.Accessor
	path string

	read, write bool

	itemSize        uint64
	blockSize       uint64
	blockItems      uint64
	maxUserDataSize uint64
	userDataSize    uint64
	size            uint64

	requireCleanClose bool
}

// OpenOptions configures Open.
type OpenOptions struct {
	Read, Write       bool
	ItemSize          uint64
	BlockSize         uint64
	MaxUserDataSize   uint64
	CacheHint         fileaccessor.CacheHint
	RequireCleanClose bool
}

// Open opens path as a fixed-item block stream. If the file does not exist
// it is created with the given shape; if it exists, the header is
// validated against the requested shape.
func Open(path string, opts OpenOptions) (*Accessor, error) {
	a := &Accessor{
		path:              path,
		read:              opts.Read,
		write:             opts.Write,
		itemSize:          opts.ItemSize,
		blockSize:         opts.BlockSize,
		maxUserDataSize:   opts.MaxUserDataSize,
		requireCleanClose: opts.RequireCleanClose,
	}
	if a.blockSize == 0 || a.blockSize%a.itemSize != 0 {
		return nil, xerrors.Wrap(xerrors.ErrShape, "blockSize %d must be a positive multiple of itemSize %d", a.blockSize, a.itemSize)
	}
	a.blockItems = a.blockSize / a.itemSize

	exists := true
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.ErrIO, "stat %s: %v", path, err)
		}
		exists = false
	}

	var err error
	if exists {
		if opts.Write && opts.Read {
			a.file, err = fileaccessor.OpenRW(path, opts.CacheHint)
		} else if opts.Write {
			a.file, err = fileaccessor.OpenWO(path, opts.CacheHint)
		} else {
			a.file, err = fileaccessor.OpenRO(path, opts.CacheHint)
		}
		if err != nil {
			return nil, err
		}
		if err := a.readAndValidateHeader(); err != nil {
			a.file.Close()
			return nil, err
		}
	} else {
		if !opts.Write {
			return nil, xerrors.Wrap(xerrors.ErrNotFound, "%s does not exist and stream was not opened for writing", path)
		}
		a.file, err = fileaccessor.OpenRWNew(path, opts.CacheHint)
		if err != nil {
			return nil, err
		}
		a.writeHeader(false)
	}
	return a, nil
}

func (a *Accessor) headerSize() uint64 { return headerSize(a.maxUserDataSize) }

func (a *Accessor) readAndValidateHeader() error {
	buf := make([]byte, wireSize)
	if err := a.file.ReadAt(buf, 0); err != nil {
		return err
	}
	h, err := unmarshalHeader(buf)
	if err != nil {
		return err
	}
	if err := verifyMagic(h, magicFixed); err != nil {
		return err
	}
	if err := verifyVersion(h); err != nil {
		return err
	}
	if h.ItemSize != a.itemSize || h.BlockSize != a.blockSize {
		return xerrors.Wrap(xerrors.ErrShape,
			"stream shape mismatch: file has itemSize=%d blockSize=%d, opener requested itemSize=%d blockSize=%d",
			h.ItemSize, h.BlockSize, a.itemSize, a.blockSize)
	}
	a.maxUserDataSize = h.MaxUserDataSize
	a.userDataSize = h.UserDataSize
	a.size = h.Size

	if h.CleanClose != 1 {
		if a.requireCleanClose {
			return xerrors.Wrap(xerrors.ErrUncleanClose, "%s was not closed cleanly", a.path)
		}
		// Recover the logical size from file length: the last block may
		// be partial.
		fileSize, err := a.file.Size()
		if err != nil {
			return err
		}
		dataBytes := fileSize - int64(a.headerSize())
		if dataBytes < 0 {
			dataBytes = 0
		}
		a.size = uint64(dataBytes) / a.itemSize
	}
	return nil
}

func (a *Accessor) writeHeader(cleanClose bool) {
	h := &header{
		Magic:           magicFixed,
		Version:         headerVersion,
		ItemSize:        a.itemSize,
		BlockSize:       a.blockSize,
		BlockItems:      a.blockItems,
		MaxUserDataSize: a.maxUserDataSize,
		UserDataSize:    a.userDataSize,
		Size:            a.size,
	}
	if cleanClose {
		h.CleanClose = 1
	}
	buf := h.marshal(a.maxUserDataSize)
	a.file.WriteAt(buf, 0)
}

// ReadBlock reads up to itemCount items beginning at blockNumber into buf
// (which must be at least itemCount*itemSize bytes) and returns the number
// of items actually read, which is less than itemCount only at EOF.
func (a *Accessor) ReadBlock(buf []byte, blockNumber uint64, itemCount uint64) (uint64, error) {
	if !a.read {
		return 0, xerrors.Wrap(xerrors.ErrAccess, "stream %s was not opened for reading", a.path)
	}
	want := itemCount * a.itemSize
	if uint64(len(buf)) < want {
		return 0, xerrors.Wrap(xerrors.ErrIO, "buffer too small: need %d bytes, got %d", want, len(buf))
	}
	blockStartItem := blockNumber * a.blockItems
	if blockStartItem >= a.size {
		return 0, nil
	}
	available := a.size - blockStartItem
	if available < itemCount {
		itemCount = available
	}
	n := itemCount * a.itemSize
	off := int64(a.headerSize() + blockNumber*a.blockSize)
	if err := a.file.ReadAt(buf[:n], off); err != nil {
		return 0, err
	}
	return itemCount, nil
}

// WriteBlock writes itemCount items from buf to blockNumber.
func (a *Accessor) WriteBlock(buf []byte, blockNumber uint64, itemCount uint64) error {
	if !a.write {
		return xerrors.Wrap(xerrors.ErrAccess, "stream %s was not opened for writing", a.path)
	}
	n := itemCount * a.itemSize
	if uint64(len(buf)) < n {
		return xerrors.Wrap(xerrors.ErrIO, "buffer too small: need %d bytes, got %d", n, len(buf))
	}
	off := int64(a.headerSize() + blockNumber*a.blockSize)
	if err := a.file.WriteAt(buf[:n], off); err != nil {
		return err
	}
	newSize := blockNumber*a.blockItems + itemCount
	if newSize > a.size {
		a.size = newSize
	}
	return nil
}

// ReadUserData reads up to len(buf) bytes of user data and returns the
// number of bytes actually present.
func (a *Accessor) ReadUserData(buf []byte) (uint64, error) {
	n := a.userDataSize
	if uint64(len(buf)) < n {
		n = uint64(len(buf))
	}
	if n == 0 {
		return 0, nil
	}
	if err := a.file.ReadAt(buf[:n], int64(wireSize)); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteUserData writes data as the stream's user data. len(data) must not
// exceed MaxUserDataSize().
func (a *Accessor) WriteUserData(data []byte) error {
	if uint64(len(data)) > a.maxUserDataSize {
		return xerrors.Wrap(xerrors.ErrIO, "user data of %d bytes exceeds max %d", len(data), a.maxUserDataSize)
	}
	if len(data) == 0 {
		a.userDataSize = 0
		return nil
	}
	if err := a.file.WriteAt(data, int64(wireSize)); err != nil {
		return err
	}
	a.userDataSize = uint64(len(data))
	return nil
}

// Truncate drops any items at or beyond index n and shrinks the file to
// the smallest aligned size that contains the remaining items.
func (a *Accessor) Truncate(n uint64) error {
	if n > a.size {
		n = a.size
	}
	a.size = n
	numBlocks := (n + a.blockItems - 1) / a.blockItems
	newFileSize := int64(a.headerSize() + numBlocks*a.blockSize)
	return a.file.Truncate(newFileSize)
}

func (a *Accessor) Size() uint64               { return a.size }
func (a *Accessor) UserDataSize() uint64       { return a.userDataSize }
func (a *Accessor) MaxUserDataSize() uint64    { return a.maxUserDataSize }
func (a *Accessor) Path() string               { return a.path }
func (a *Accessor) ItemSize() uint64           { return a.itemSize }
func (a *Accessor) BlockSize() uint64          { return a.blockSize }
func (a *Accessor) BlockItems() uint64         { return a.blockItems }

// ByteSize returns the size of the entire stream as laid out on disk,
// including header, user data, and padding of the final block.
func (a *Accessor) ByteSize() uint64 {
	numBlocks := (a.size + a.blockItems - 1) / a.blockItems
	return numBlocks*a.blockSize + a.headerSize()
}

// Close flushes the header, marking the stream cleanly closed, and closes
// the underlying file.
func (a *Accessor) Close() error {
	if a.write {
		a.writeHeader(true)
	}
	return a.file.Close()
}
