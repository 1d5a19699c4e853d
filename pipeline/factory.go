package pipeline

import (
	"github.com/robot-dreams/extio/extioctx"
	"github.com/robot-dreams/extio/progress"
)

// Factory[Dest, Out] carries a constructor payload that produces a
// concrete Out node given its downstream node, typed as Dest rather than
// the plain Node interface -- this is what lets a chain of factories fuse
// into a single monomorphized call chain (Out's Push method calls straight
// through to a Dest-typed field, no interface dispatch at the boundary),
// mirroring tpie's fact_t::construct(dest_t) in core.h.
type Factory[Dest Node, Out Node] struct {
	build func(dest Dest) Out
}

// NewFactory wraps build as a Factory. Operator constructors in
// operators.go use this to return something composable with Pipe/PipeEnd.
func NewFactory[Dest Node, Out Node](build func(dest Dest) Out) Factory[Dest, Out] {
	return Factory[Dest, Out]{build: build}
}

func (f Factory[Dest, Out]) Construct(dest Dest) Out {
	return f.build(dest)
}

// TerminatorFactory carries a constructor payload with no downstream
// argument, for sinks and other pipeline endpoints (tpie's pipe_end).
type TerminatorFactory[Out Node] struct {
	build func() Out
}

func NewTerminatorFactory[Out Node](build func() Out) TerminatorFactory[Out] {
	return TerminatorFactory[Out]{build: build}
}

func (f TerminatorFactory[Out]) Construct() Out {
	return f.build()
}

// Pipe composes a with b: the combined factory's Construct(dest) is
// a.Construct(b.Construct(dest)), exactly tpie's pair_factory. A is the
// combined factory's own Out type, B is the intermediate node type b
// produces (and what a accepts as its Dest), C is what the combined
// factory will eventually accept as ITS Dest.
func Pipe[A Node, B Node, C Node](a Factory[B, A], b Factory[C, B]) Factory[C, A] {
	return Factory[C, A]{build: func(dest C) A {
		return a.Construct(b.Construct(dest))
	}}
}

// PipeEnd composes a middle factory with a terminator, producing a new
// terminator factory (tpie's termpair_factory).
func PipeEnd[A Node, B Node](a Factory[B, A], term TerminatorFactory[B]) TerminatorFactory[A] {
	return TerminatorFactory[A]{build: func() A {
		return a.Construct(term.Construct())
	}}
}

// Pipeline owns one assembled terminator factory's root node and knows how
// to run it: Build the graph reachable from that node, then drive the
// scheduler.
type Pipeline[Root Node] struct {
	root Root
}

// NewPipeline constructs term's node tree and returns a Pipeline ready to
// Run. For graphs with more than one independent terminal chain joined
// only by depends-on edges (e.g. a two-phase buffer/reverser), construct
// each chain's terminator separately and call Build directly on any one of
// the resulting nodes instead of going through Pipeline.
func NewPipeline[Root Node](term TerminatorFactory[Root]) *Pipeline[Root] {
	return &Pipeline[Root]{root: term.Construct()}
}

// Root returns the constructed root node, for callers that need to read
// state off it (e.g. a sink's accumulated total) after Run returns.
func (p *Pipeline[Root]) Root() Root { return p.root }

func (p *Pipeline[Root]) Run(ctx *extioctx.Context, n int64, pi progress.Indicator, mem int64) error {
	rt, err := Build(p.root)
	if err != nil {
		return err
	}
	return rt.Run(ctx, n, pi, mem)
}
