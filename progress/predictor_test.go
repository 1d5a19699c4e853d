package progress

import (
	"time"

	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"
)

type PredictorSuite struct{}

var _ = Suite(&PredictorSuite{})

func (s *PredictorSuite) TestUnknownIDHasNoEstimate(c *C) {
	dir := c.MkDir()
	p, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)
	_, ok := p.Estimate("never-seen")
	c.Assert(ok, IsFalse)
}

func (s *PredictorSuite) TestStartStopRecordsEstimate(c *C) {
	dir := c.MkDir()
	p, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)

	p.Start("phase-a")
	time.Sleep(time.Millisecond)
	c.Assert(p.Stop("phase-a"), IsNil)

	d, ok := p.Estimate("phase-a")
	c.Assert(ok, IsTrue)
	c.Assert(d > 0, IsTrue)
}

func (s *PredictorSuite) TestEstimatePersistsAcrossInstances(c *C) {
	dir := c.MkDir()
	p1, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)
	c.Assert(p1.append("phase-a", 5*time.Second), IsNil)

	p2, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)
	d, ok := p2.Estimate("phase-a")
	c.Assert(ok, IsTrue)
	c.Assert(d, Equals, 5*time.Second)
}

func (s *PredictorSuite) TestStopWithoutStartIsNoop(c *C) {
	dir := c.MkDir()
	p, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)
	c.Assert(p.Stop("never-started"), IsNil)
	_, ok := p.Estimate("never-started")
	c.Assert(ok, IsFalse)
}

func (s *PredictorSuite) TestEstimateRemainingScalesByFraction(c *C) {
	dir := c.MkDir()
	p, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)
	c.Assert(p.append("phase-a", 10*time.Second), IsNil)

	// append only persists; a fresh instance replays the record.
	p2, err := OpenTimePredictor(dir)
	c.Assert(err, IsNil)
	rem, ok := p2.EstimateRemaining("phase-a", 0.25)
	c.Assert(ok, IsTrue)
	c.Assert(rem, Equals, 7500*time.Millisecond)
}
