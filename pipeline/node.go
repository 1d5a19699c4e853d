// Package pipeline implements the fused-operator pipelining runtime: a
// node contract, a graph/phase scheduler built on a union-find token map,
// and generic factories that compose operators into a single monomorphized
// call chain, grounded on tpie/pipelining (tokens.h, core.h, graph.cpp).
package pipeline

import "github.com/robot-dreams/extio/xerrors"

// Node is the graph-shape and lifecycle contract every pipeline operator
// satisfies, mirroring tpie's pipe_segment base class. Push and Pull are
// deliberately not part of this interface: they are typed per operator and
// called directly between concretely-typed neighbours (see Pusher[T] in
// operators.go), fused at compile time via generics rather than dispatched
// through Node.
//
// The unexported token method effectively seals Node to implementations
// that embed *Base (or otherwise obtain a *Token from this package), since
// external code cannot define an unexported method on a type from another
// package -- the intended way to implement a custom operator is to embed
// Base, exactly as every node in this package does.
type Node interface {
	Name() string
	Priority() int
	MemoryFraction() float64
	MinimumMemory() int64

	AddPushDestination(peer Node)
	AddPullDestination(peer Node)
	AddDependency(peer Node)

	Prepare() error
	SetAvailableMemory(m int64)
	Begin() error
	End() error
	CanEvacuate() bool
	Evacuate() error

	// Steps reports how many progress units this node expects to
	// contribute once it starts running; the scheduler sums it across a
	// phase's nodes to size that phase's progress indicator.
	Steps() int64

	// Drive runs the node as its phase's initiator, synchronously pushing
	// or pulling every item through the phase. Only ever called on the
	// node the scheduler identifies as the phase's unique initiator.
	Drive() error

	// Forward attaches a value under key, visible to every node reachable
	// from this one by push/pull edges once it is this node's turn to
	// Begin. Fetch reads a value forwarded by an ancestor (or by this node
	// itself).
	Forward(key string, value interface{})
	Fetch(key string) (interface{}, bool)

	token() *Token
	receiveForward(map[string]interface{})
	forwardedSnapshot() map[string]interface{}
}

// Base is the embeddable mixin providing Node's graph-shape and lifecycle
// plumbing; every concrete operator in this package embeds it and need
// only implement the behavior specific to what it does (typically Push,
// Pull, and/or Drive).
type Base struct {
	name           string
	priority       int
	memoryFraction float64
	minimumMemory  int64
	availableMemory int64

	tok *Token

	forwarded map[string]interface{}
	received  map[string]interface{}
}

// NewBase mints owner a fresh Token and returns the Base it should embed.
// owner must be the concrete node under construction; NewBase only stores
// it as a Node value (to key the shared map), it never calls a method on
// it.
func NewBase(owner Node, name string) *Base {
	return &Base{
		name:      name,
		tok:       newToken(owner),
		forwarded: make(map[string]interface{}),
		received:  make(map[string]interface{}),
	}
}

func (b *Base) Name() string            { return b.name }
func (b *Base) Priority() int           { return b.priority }
func (b *Base) MemoryFraction() float64 { return b.memoryFraction }
func (b *Base) MinimumMemory() int64    { return b.minimumMemory }

// SetName overrides the name assigned at construction; SetPriority records
// the value Priority reports. The scheduler does not read the priority: a
// phase's id concatenates the names of all its nodes.
func (b *Base) SetName(name string)           { b.name = name }
func (b *Base) SetPriority(priority int)      { b.priority = priority }
func (b *Base) SetMemoryFraction(f float64)   { b.memoryFraction = f }
func (b *Base) SetMinimumMemory(bytes int64)  { b.minimumMemory = bytes }

func (b *Base) AddPushDestination(peer Node) {
	b.addEdge(peer, relPushes)
}

func (b *Base) AddPullDestination(peer Node) {
	b.addEdge(peer, relPulls)
}

func (b *Base) AddDependency(peer Node) {
	b.addEdge(peer, relDepends)
}

func (b *Base) addEdge(peer Node, kind relKind) {
	pt := peer.token()
	b.tok.union(pt)
	auth := b.tok.mapAuthority()
	auth.addRelation(b.tok.id, pt.id, kind)
}

// Prepare, Begin, End, and Evacuate default to no-ops; concrete operators
// override whichever they need. SetAvailableMemory just records the
// assignment for operators that want to read it back (e.g. to size an
// internal buffer in Begin).
func (b *Base) Prepare() error               { return nil }
func (b *Base) SetAvailableMemory(m int64)   { b.availableMemory = m }
func (b *Base) AvailableMemory() int64       { return b.availableMemory }
func (b *Base) Begin() error {
	for k, v := range b.received {
		if _, ok := b.forwarded[k]; !ok {
			b.forwarded[k] = v
		}
	}
	return nil
}
func (b *Base) End() error          { return nil }
func (b *Base) CanEvacuate() bool   { return false }
func (b *Base) Evacuate() error     { return nil }
func (b *Base) Steps() int64        { return 0 }

// Drive's default returns an xerrors.ErrAccess error: only a node the
// scheduler identified as a phase's initiator has a Drive to run.
func (b *Base) Drive() error {
	return xerrors.Wrap(xerrors.ErrAccess, "pipeline: Drive called on a non-initiator node %q", b.name)
}

func (b *Base) Forward(key string, value interface{}) {
	b.forwarded[key] = value
}

func (b *Base) Fetch(key string) (interface{}, bool) {
	if v, ok := b.forwarded[key]; ok {
		return v, true
	}
	v, ok := b.received[key]
	return v, ok
}

func (b *Base) token() *Token { return b.tok }

func (b *Base) receiveForward(values map[string]interface{}) {
	b.received = values
}

func (b *Base) forwardedSnapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(b.forwarded))
	for k, v := range b.forwarded {
		out[k] = v
	}
	return out
}

var _ Node = (*Base)(nil)
