package streamfile

import (
	"encoding/binary"

	"github.com/robot-dreams/extio/xerrors"
)

// Boundary is the alignment boundary the header is padded to. Blocks are
// not aligned to it: block i starts at headerSize + i*blockSize.
const Boundary = 4096

// magicFixed identifies a fixed-item block stream (streamfile.Stream[T]).
// magicSerialization identifies a variable-length record stream
// (streamfile.SerializationStream). The two families are not
// interchangeable: opening one as the other is a format error.
const (
	magicFixed          uint64 = 0xfa340f49edbada01
	magicSerialization  uint64 = 0xfa340f49edbada67
	headerVersion        uint64 = 1
)

// ByteOrder is the on-disk byte order for every integer field in the
// header and in fixed-item block payloads that extio itself encodes.
var ByteOrder = binary.LittleEndian

// header is the fixed-layout, little-endian stream header. Field order and
// sizes are part of the on-disk format; adding a field is a version bump,
// not a silent extension.
type header struct {
	Magic           uint64
	Version         uint64
	ItemSize        uint64
	BlockSize       uint64
	BlockItems      uint64
	MaxUserDataSize uint64
	UserDataSize    uint64
	Size            uint64
	CleanClose      uint8
}

// wireSize is sizeof(header) as laid out on disk: 8 uint64 fields plus one
// byte, unpadded.
const wireSize = 8*8 + 1

func alignUp(z, boundary uint64) uint64 {
	return (z + boundary - 1) / boundary * boundary
}

// headerSize returns the first multiple of Boundary that is >= wireSize +
// maxUserDataSize -- the offset at which the first logical block begins.
func headerSize(maxUserDataSize uint64) uint64 {
	return alignUp(wireSize+maxUserDataSize, Boundary)
}

func (h *header) marshal(maxUserDataSize uint64) []byte {
	buf := make([]byte, headerSize(maxUserDataSize))
	o := 0
	putU64 := func(v uint64) {
		ByteOrder.PutUint64(buf[o:], v)
		o += 8
	}
	putU64(h.Magic)
	putU64(h.Version)
	putU64(h.ItemSize)
	putU64(h.BlockSize)
	putU64(h.BlockItems)
	putU64(h.MaxUserDataSize)
	putU64(h.UserDataSize)
	putU64(h.Size)
	buf[o] = h.CleanClose
	return buf
}

func unmarshalHeader(buf []byte) (*header, error) {
	if len(buf) < int(wireSize) {
		return nil, xerrors.Wrap(xerrors.ErrFormat, "header buffer too short: %d bytes", len(buf))
	}
	h := &header{}
	o := 0
	getU64 := func() uint64 {
		v := ByteOrder.Uint64(buf[o:])
		o += 8
		return v
	}
	h.Magic = getU64()
	h.Version = getU64()
	h.ItemSize = getU64()
	h.BlockSize = getU64()
	h.BlockItems = getU64()
	h.MaxUserDataSize = getU64()
	h.UserDataSize = getU64()
	h.Size = getU64()
	h.CleanClose = buf[o]
	if h.CleanClose > 1 {
		return nil, xerrors.Wrap(xerrors.ErrFormat, "cleanClose flag has invalid value %d", h.CleanClose)
	}
	return h, nil
}

func verifyMagic(h *header, expected uint64) error {
	if h.Magic != expected {
		return xerrors.Wrap(xerrors.ErrFormat, "bad magic: got %x, want %x", h.Magic, expected)
	}
	return nil
}

func verifyVersion(h *header) error {
	if h.Version != headerVersion {
		return xerrors.Wrap(xerrors.ErrVersion, "unsupported stream version %d (want %d)", h.Version, headerVersion)
	}
	return nil
}
