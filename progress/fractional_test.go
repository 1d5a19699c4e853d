package progress

import (
	"time"

	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"
)

type FractionalSuite struct{}

var _ = Suite(&FractionalSuite{})

func (s *FractionalSuite) TestSplitsRangeByWeight(c *C) {
	p := NewFractionalParent("run", nil, nil)
	a := p.Sub("phase-a", 1)
	b := p.Sub("phase-b", 3)
	p.Init(400)
	c.Assert(a.rangeSteps, Equals, int64(100))
	c.Assert(b.rangeSteps, Equals, int64(300))
}

func (s *FractionalSuite) TestLastSubAbsorbsRoundingRemainder(c *C) {
	p := NewFractionalParent("run", nil, nil)
	a := p.Sub("phase-a", 1)
	b := p.Sub("phase-b", 1)
	cc := p.Sub("phase-c", 1)
	p.Init(100)
	c.Assert(a.rangeSteps+b.rangeSteps+cc.rangeSteps, Equals, int64(100))
}

func (s *FractionalSuite) TestSubProgressAdvancesParent(c *C) {
	p := NewFractionalParent("run", nil, nil)
	a := p.Sub("phase-a", 1)
	b := p.Sub("phase-b", 1)
	p.Init(200)

	a.Init(10)
	for i := 0; i < 10; i++ {
		a.Step()
	}
	a.Done()
	c.Assert(p.Current(), Equals, int64(100))

	b.Init(4)
	b.Step(2)
	b.Step(2)
	b.Done()
	c.Assert(p.Current(), Equals, int64(200))
}

func (s *FractionalSuite) TestSubWeightComesFromPredictor(c *C) {
	dir := c.MkDir()
	seed, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)
	c.Assert(seed.append("phase-a", 30*time.Second), IsNil)

	predictor2, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)

	p := NewFractionalParent("run", predictor2, nil)
	a := p.Sub("phase-a", 1) // fallback irrelevant, predictor has an estimate
	b := p.Sub("phase-b", 10)
	p.Init(400)
	// phase-a's predicted weight (30s) dwarfs phase-b's fallback (10), so
	// phase-a should receive nearly the entire budget.
	c.Assert(a.rangeSteps > b.rangeSteps, IsTrue)
}
