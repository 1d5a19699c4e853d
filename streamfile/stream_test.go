package streamfile

import (
	"encoding/binary"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/robot-dreams/extio/fileaccessor"
	"github.com/robot-dreams/extio/memory"
)

func Test(t *testing.T) { TestingT(t) }

type StreamSuite struct{}

var _ = Suite(&StreamSuite{})

type u64Codec struct{}

func (u64Codec) ItemSize() int { return 8 }
func (u64Codec) Encode(v uint64, dst []byte) {
	binary.LittleEndian.PutUint64(dst, v)
}
func (u64Codec) Decode(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// blockItems is small enough that a few dozen items span several blocks,
// so round-trip and partial-block behavior are both exercised without a
// large fixture.
const blockItems = 4

func (s *StreamSuite) TestRoundTrip(c *C) {
	path := c.MkDir() + "/stream.dat"
	mgr := memory.New()

	w, err := OpenStream[uint64](path, false, true, u64Codec{}, blockItems, 0, fileaccessor.Sequential, true, mgr)
	c.Assert(err, IsNil)

	in := make([]uint64, 37)
	for i := range in {
		in[i] = uint64(i * i)
		c.Assert(w.WriteItem(in[i]), IsNil)
	}
	c.Assert(w.Close(), IsNil)
	c.Assert(mgr.Used(), Equals, int64(0))

	r, err := OpenStream[uint64](path, true, false, u64Codec{}, blockItems, 0, fileaccessor.Sequential, true, mgr)
	c.Assert(err, IsNil)
	defer r.Close()

	c.Assert(r.Size(), Equals, uint64(len(in)))
	var out []uint64
	for r.CanRead() {
		v, err := r.ReadItem()
		c.Assert(err, IsNil)
		out = append(out, v)
	}
	c.Assert(out, DeepEquals, in)

	_, err = r.ReadItem()
	c.Assert(err, NotNil)
}

func (s *StreamSuite) TestAccountsResidentBlockAgainstManager(c *C) {
	path := c.MkDir() + "/stream.dat"
	mgr := memory.New()
	mgr.SetLimit(4) // smaller than one block's worth of bytes

	_, err := OpenStream[uint64](path, false, true, u64Codec{}, blockItems, 0, fileaccessor.Sequential, true, mgr)
	c.Assert(err, NotNil)
	c.Assert(mgr.Used(), Equals, int64(0))
}

func (s *StreamSuite) TestPartialLastBlock(c *C) {
	path := c.MkDir() + "/stream.dat"
	mgr := memory.New()

	w, err := OpenStream[uint64](path, false, true, u64Codec{}, blockItems, 0, fileaccessor.Sequential, true, mgr)
	c.Assert(err, IsNil)

	// One full block plus a partial second block.
	in := []uint64{1, 2, 3, 4, 5, 6}
	for _, v := range in {
		c.Assert(w.WriteItem(v), IsNil)
	}
	c.Assert(w.Close(), IsNil)

	r, err := OpenStream[uint64](path, true, false, u64Codec{}, blockItems, 0, fileaccessor.Sequential, true, mgr)
	c.Assert(err, IsNil)
	defer r.Close()

	c.Assert(r.Size(), Equals, uint64(len(in)))
	var out []uint64
	for r.CanRead() {
		v, err := r.ReadItem()
		c.Assert(err, IsNil)
		out = append(out, v)
	}
	c.Assert(out, DeepEquals, in)
}

func (s *StreamSuite) TestUncleanCloseRejectedWhenRequired(c *C) {
	path := c.MkDir() + "/stream.dat"
	mgr := memory.New()

	w, err := OpenStream[uint64](path, false, true, u64Codec{}, blockItems, 0, fileaccessor.Sequential, true, mgr)
	c.Assert(err, IsNil)
	c.Assert(w.WriteItem(42), IsNil)
	// Flush the resident block and close the underlying file directly,
	// bypassing Accessor.Close's writeHeader(true) -- simulating a crash
	// between the last write and a clean shutdown.
	c.Assert(w.flush(), IsNil)
	c.Assert(w.acc.file.Close(), IsNil)

	_, err = OpenStream[uint64](path, true, false, u64Codec{}, blockItems, 0, fileaccessor.Sequential, true, mgr)
	c.Assert(err, NotNil)

	r, err := OpenStream[uint64](path, true, false, u64Codec{}, blockItems, 0, fileaccessor.Sequential, false, mgr)
	c.Assert(err, IsNil)
	defer r.Close()
	v, err := r.ReadItem()
	c.Assert(err, IsNil)
	c.Assert(v, Equals, uint64(42))
}
