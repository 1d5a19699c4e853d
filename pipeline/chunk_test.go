package pipeline

import (
	"errors"
	"fmt"

	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"

	"github.com/robot-dreams/extio/extioctx"
	"github.com/robot-dreams/extio/xerrors"
)

type ChunkSuite struct{}

var _ = Suite(&ChunkSuite{})

func (s *ChunkSuite) TestMismatchedTypesRejectedAtComposeTime(c *C) {
	producesString := NewChunk[int64, string]("itoa", func(x int64) string { return fmt.Sprintf("%d", x) })
	wantsBool := NewChunk[bool, int64]("negate", func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	})

	_, err := ComposeChunks(producesString, wantsBool)
	c.Assert(errors.Is(err, xerrors.ErrShape), IsTrue)
}

func (s *ChunkSuite) TestComposedChunkRunsEndToEnd(c *C) {
	source := NewChunkSource[int64]("source", []int64{1, 2, 3, 4})
	double := NewChunk[int64, int64]("double", func(x int64) int64 { return 2 * x })
	format := NewChunk[int64, string]("format", func(x int64) string { return fmt.Sprintf("<%d>", x) })

	middle, err := ComposeChunks(double, format)
	c.Assert(err, IsNil)
	full, err := ComposeChunks(source, middle)
	c.Assert(err, IsNil)
	c.Assert(full.OutputType(), Equals, format.OutputType())

	sink := NewChunkSink("sink")
	root := full.Construct(sink)

	rt, err := Build(root)
	c.Assert(err, IsNil)
	c.Assert(rt.Run(extioctx.Silent(), 4, nil, 1<<20), IsNil)

	c.Assert(sink.Items(), DeepEquals, []interface{}{"<2>", "<4>", "<6>", "<8>"})
}
