package pipeline

import (
	. "gopkg.in/check.v1"
)

type TokenSuite struct{}

var _ = Suite(&TokenSuite{})

func (s *TokenSuite) TestUnionMergesThreeDistinctMaps(c *C) {
	a := newTestNode("a")
	b := newTestNode("b")
	cNode := newTestNode("c")

	c.Assert(a.token().mapAuthority(), Not(Equals), b.token().mapAuthority())

	a.token().union(b.token())
	c.Assert(a.token().mapAuthority(), Equals, b.token().mapAuthority())
	c.Assert(a.token().mapAuthority(), Not(Equals), cNode.token().mapAuthority())

	b.token().union(cNode.token())
	auth := a.token().mapAuthority()
	c.Assert(b.token().mapAuthority(), Equals, auth)
	c.Assert(cNode.token().mapAuthority(), Equals, auth)
	c.Assert(len(auth.tokens), Equals, 3)
}

func (s *TokenSuite) TestUnionOfAlreadySameClassIsNoop(c *C) {
	a := newTestNode("a")
	b := newTestNode("b")
	a.token().union(b.token())
	auth := a.token().mapAuthority()

	a.token().union(b.token())
	c.Assert(a.token().mapAuthority(), Equals, auth)
}

func (s *TokenSuite) TestIDsAreGloballyUnique(c *C) {
	a := newTestNode("a")
	b := newTestNode("b")
	c.Assert(a.token().ID(), Not(Equals), b.token().ID())
}
