package pipeline

import (
	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"

	"github.com/robot-dreams/extio/extioconfig"
	"github.com/robot-dreams/extio/extioctx"
	"github.com/robot-dreams/extio/extiolog"
)

type ParallelSuite struct{}

var _ = Suite(&ParallelSuite{})

// squareFront is the front node of the per-worker sub-pipeline the Parallel
// tests wrap: it squares each pushed int and forwards it to the worker's
// collector.
type squareFront struct {
	*Base
	dest *parallelCollector[int64]
}

func newSquareFactory() Factory[*parallelCollector[int64], *squareFront] {
	return NewFactory(func(dest *parallelCollector[int64]) *squareFront {
		n := &squareFront{dest: dest}
		n.Base = NewBase(n, "square")
		n.AddPushDestination(dest)
		return n
	})
}

func (n *squareFront) Push(x int64) error {
	return n.dest.Push(x * x)
}

func (s *ParallelSuite) TestMaintainOrderPreservesSequence(c *C) {
	n := 2000
	sink := NewVecSink[int64]("vec").Construct()

	parallelFactory := NewParallel[int64, int64, *squareFront, *vecSinkNode[int64]](
		"parallel", newSquareFactory(), extioctx.Silent(), 8, 16, true)
	root := NewSource[int64, *Parallel[int64, int64, *squareFront, *vecSinkNode[int64]]](
		"source", int64(n), intRange(n)).Construct(parallelFactory.Construct(sink))

	rt, err := Build(root)
	c.Assert(err, IsNil)
	c.Assert(rt.Run(extioctx.Silent(), int64(n), nil, 1<<20), IsNil)

	items := sink.Items()
	c.Assert(len(items), Equals, n)
	for i, v := range items {
		c.Assert(v, Equals, int64(i)*int64(i))
	}
}

func (s *ParallelSuite) TestZeroWorkerCountDefaultsFromConfig(c *C) {
	cfg := extioconfig.Default()
	cfg.WorkerCount = 3
	ctx := extioctx.New(cfg, extiolog.Null())

	factory := NewParallel[int64, int64, *squareFront, *vecSinkNode[int64]](
		"parallel", newSquareFactory(), ctx, 0, 16, false)
	dest := NewVecSink[int64]("vec").Construct()
	n := factory.Construct(dest)
	c.Assert(n.numWorkers, Equals, 3)
}

func (s *ParallelSuite) TestWithoutMaintainOrderEveryItemStillArrives(c *C) {
	n := 2000
	sink := NewVecSink[int64]("vec").Construct()

	parallelFactory := NewParallel[int64, int64, *squareFront, *vecSinkNode[int64]](
		"parallel", newSquareFactory(), extioctx.Silent(), 8, 16, false)
	root := NewSource[int64, *Parallel[int64, int64, *squareFront, *vecSinkNode[int64]]](
		"source", int64(n), intRange(n)).Construct(parallelFactory.Construct(sink))

	rt, err := Build(root)
	c.Assert(err, IsNil)
	c.Assert(rt.Run(extioctx.Silent(), int64(n), nil, 1<<20), IsNil)

	items := sink.Items()
	c.Assert(len(items), Equals, n)

	seen := make(map[int64]bool, n)
	for _, v := range items {
		seen[v] = true
	}
	for i := 0; i < n; i++ {
		c.Assert(seen[int64(i)*int64(i)], IsTrue)
	}
}
