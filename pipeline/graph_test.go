package pipeline

import (
	"errors"

	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"

	"github.com/robot-dreams/extio/extioctx"
	"github.com/robot-dreams/extio/xerrors"
)

type GraphSuite struct{}

var _ = Suite(&GraphSuite{})

// testNode is a minimal Node for exercising the scheduler directly,
// without any real Push/Pull data flow.
type testNode struct {
	*Base
	steps                  int64
	driveFn                func() error
	forwardKey, forwardVal string
}

func newTestNode(name string) *testNode {
	n := &testNode{}
	n.Base = NewBase(n, name)
	return n
}

func (n *testNode) Steps() int64 { return n.steps }

func (n *testNode) Drive() error {
	if n.driveFn != nil {
		return n.driveFn()
	}
	return nil
}

func (n *testNode) Begin() error {
	if n.forwardKey != "" {
		n.Forward(n.forwardKey, n.forwardVal)
	}
	return n.Base.Begin()
}

func (s *GraphSuite) TestCycleIsRejected(c *C) {
	p := newTestNode("p")
	q := newTestNode("q")
	p.AddPushDestination(q)
	q.AddPushDestination(p)

	_, err := Build(p)
	c.Assert(errors.Is(err, xerrors.ErrCycle), IsTrue)
}

func (s *GraphSuite) TestNoInitiatorIsRejected(c *C) {
	a := newTestNode("a")
	b := newTestNode("b")
	a.AddPushDestination(b)
	b.AddPullDestination(a)

	_, err := Build(a)
	c.Assert(errors.Is(err, xerrors.ErrNoInitiator), IsTrue)
}

func (s *GraphSuite) TestMultipleInitiatorsIsRejected(c *C) {
	p := newTestNode("p")
	q := newTestNode("q")
	r := newTestNode("r")
	p.AddPushDestination(r)
	q.AddPushDestination(r)

	_, err := Build(p)
	c.Assert(errors.Is(err, xerrors.ErrMultipleInitiators), IsTrue)
}

func (s *GraphSuite) TestForwardPropagatesTransitively(c *C) {
	a := newTestNode("a")
	b := newTestNode("b")
	cNode := newTestNode("c")
	a.forwardKey, a.forwardVal = "k", "v1"
	a.AddPushDestination(b)
	b.AddPushDestination(cNode)

	rt, err := Build(a)
	c.Assert(err, IsNil)
	c.Assert(rt.Run(extioctx.Silent(), 0, nil, 1<<20), IsNil)

	v, ok := cNode.Fetch("k")
	c.Assert(ok, IsTrue)
	c.Assert(v, Equals, "v1")
}

func (s *GraphSuite) TestDependsOnOrdersAcrossPhases(c *C) {
	var order []string

	a := newTestNode("a")
	a.driveFn = func() error { order = append(order, "a"); return nil }

	b := newTestNode("b")
	b.driveFn = func() error { order = append(order, "b"); return nil }
	b.AddDependency(a)

	rt, err := Build(a)
	c.Assert(err, IsNil)
	c.Assert(len(rt.phases), Equals, 2)
	c.Assert(rt.Run(extioctx.Silent(), 0, nil, 1<<20), IsNil)

	c.Assert(order, DeepEquals, []string{"a", "b"})
}

func (s *GraphSuite) TestAssignMemoryPinsMinimaThenSplitsRemainderByFraction(c *C) {
	small := newTestNode("small")
	small.SetMemoryFraction(0.1)
	small.SetMinimumMemory(900)

	big1 := newTestNode("big1")
	big1.SetMemoryFraction(1)

	big2 := newTestNode("big2")
	big2.SetMemoryFraction(1)

	assignMemory([]Node{small, big1, big2}, 10000, nil)

	c.Assert(small.AvailableMemory(), Equals, int64(900))
	c.Assert(big1.AvailableMemory(), Equals, big2.AvailableMemory())
	c.Assert(big1.AvailableMemory()+big2.AvailableMemory()+small.AvailableMemory() <= int64(10000), IsTrue)
}

func (s *GraphSuite) TestAssignMemoryFallsBackToMinimaWhenBudgetTooSmall(c *C) {
	a := newTestNode("a")
	a.SetMemoryFraction(1)
	a.SetMinimumMemory(500)

	b := newTestNode("b")
	b.SetMemoryFraction(1)
	b.SetMinimumMemory(500)

	assignMemory([]Node{a, b}, 100, nil)

	c.Assert(a.AvailableMemory(), Equals, int64(500))
	c.Assert(b.AvailableMemory(), Equals, int64(500))
}
