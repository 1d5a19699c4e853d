package memory

import (
	"errors"
	"testing"

	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"

	"github.com/robot-dreams/extio/xerrors"
)

func Test(t *testing.T) { TestingT(t) }

type ManagerSuite struct{}

var _ = Suite(&ManagerSuite{})

func (s *ManagerSuite) TestUnlimitedByDefault(c *C) {
	m := New()
	c.Assert(m.Account(1<<40), IsNil)
	c.Assert(m.Used(), Equals, int64(1<<40))
}

func (s *ManagerSuite) TestThrowRejectsOverBudgetAndLeavesUsedUnchanged(c *C) {
	m := New()
	m.SetLimit(100)

	c.Assert(m.Account(60), IsNil)
	c.Assert(m.Used(), Equals, int64(60))

	err := m.Account(50)
	c.Assert(err, NotNil)
	c.Assert(errors.Is(err, xerrors.ErrResourceExhausted), IsTrue)
	c.Assert(m.Used(), Equals, int64(60))
}

func (s *ManagerSuite) TestReleaseReducesUsedAndClampsAtZero(c *C) {
	m := New()
	m.SetLimit(100)
	c.Assert(m.Account(30), IsNil)
	m.Release(10)
	c.Assert(m.Used(), Equals, int64(20))
	m.Release(1000)
	c.Assert(m.Used(), Equals, int64(0))
}

func (s *ManagerSuite) TestAvailableReflectsLimitMinusUsed(c *C) {
	m := New()
	m.SetLimit(100)
	c.Assert(m.Account(40), IsNil)
	c.Assert(m.Available(), Equals, int64(60))
}

func (s *ManagerSuite) TestAvailableUnlimitedIsHuge(c *C) {
	m := New()
	c.Assert(m.Account(40), IsNil)
	c.Assert(m.Available() > 1<<61, IsTrue)
}

func (s *ManagerSuite) TestWarnOnceAllowsOverBudgetAfterFirstWarning(c *C) {
	m := New()
	m.SetLimit(100)
	m.SetPolicy(PolicyWarnOnce)

	var warnings int
	var lastUsed, lastLimit int64
	m.SetWarnHandler(func(used, limit int64) {
		warnings++
		lastUsed, lastLimit = used, limit
	})

	c.Assert(m.Account(80), IsNil)
	c.Assert(warnings, Equals, 0)

	c.Assert(m.Account(50), IsNil)
	c.Assert(warnings, Equals, 1)
	c.Assert(lastUsed, Equals, int64(130))
	c.Assert(lastLimit, Equals, int64(100))
	c.Assert(m.Used(), Equals, int64(130))

	// Second over-budget accounting is silently allowed, without a second
	// warning.
	c.Assert(m.Account(20), IsNil)
	c.Assert(warnings, Equals, 1)
}

func (s *ManagerSuite) TestIgnorePolicyNeverRejects(c *C) {
	m := New()
	m.SetLimit(10)
	m.SetPolicy(PolicyIgnore)
	c.Assert(m.Account(1000), IsNil)
	c.Assert(m.Used(), Equals, int64(1000))
}

func (s *ManagerSuite) TestNegativeAccountIsRejected(c *C) {
	m := New()
	err := m.Account(-1)
	c.Assert(err, NotNil)
	c.Assert(m.Used(), Equals, int64(0))
}

func (s *ManagerSuite) TestSetLimitResetsWarnOnceState(c *C) {
	m := New()
	m.SetLimit(10)
	m.SetPolicy(PolicyWarnOnce)
	var warnings int
	m.SetWarnHandler(func(used, limit int64) { warnings++ })
	c.Assert(m.Account(20), IsNil)
	c.Assert(warnings, Equals, 1)

	// Calling SetLimit again lets a fresh warning fire, since SetLimit
	// clears the "already warned" flag.
	m.SetLimit(5)
	c.Assert(m.Account(20), IsNil)
	c.Assert(warnings, Equals, 2)
}
