package pipeline

// Pusher is the typed push contract two fused operators share: Out's
// constructor stores its Dest-typed downstream in a concrete field and
// calls dest.Push directly, with no interface dispatch at the boundary.
type Pusher[T any] interface {
	Push(T) error
}

// sourceNode is a phase initiator driving items from next into dest.
type sourceNode[T any, Dest interface {
	Node
	Pusher[T]
}] struct {
	*Base
	dest  Dest
	next  func() (T, bool)
	steps int64
}

// NewSource returns a factory for an initiator that calls next until it
// reports no more items, pushing each one to its downstream.
func NewSource[T any, Dest interface {
	Node
	Pusher[T]
}](name string, steps int64, next func() (T, bool)) Factory[Dest, *sourceNode[T, Dest]] {
	return NewFactory(func(dest Dest) *sourceNode[T, Dest] {
		n := &sourceNode[T, Dest]{dest: dest, next: next, steps: steps}
		n.Base = NewBase(n, name)
		n.AddPushDestination(dest)
		return n
	})
}

func (n *sourceNode[T, Dest]) Steps() int64 { return n.steps }

func (n *sourceNode[T, Dest]) Drive() error {
	for {
		v, ok := n.next()
		if !ok {
			return nil
		}
		if err := n.dest.Push(v); err != nil {
			return err
		}
	}
}

// mapNode transforms each pushed item with f before forwarding it.
type mapNode[In, Out any, Dest interface {
	Node
	Pusher[Out]
}] struct {
	*Base
	dest Dest
	f    func(In) Out
}

// NewMap returns a factory for a node that pushes f(x) downstream for
// every x it receives.
func NewMap[In, Out any, Dest interface {
	Node
	Pusher[Out]
}](name string, f func(In) Out) Factory[Dest, *mapNode[In, Out, Dest]] {
	return NewFactory(func(dest Dest) *mapNode[In, Out, Dest] {
		n := &mapNode[In, Out, Dest]{dest: dest, f: f}
		n.Base = NewBase(n, name)
		n.AddPushDestination(dest)
		return n
	})
}

func (n *mapNode[In, Out, Dest]) Push(x In) error {
	return n.dest.Push(n.f(x))
}

// filterNode forwards only items for which keep returns true.
type filterNode[T any, Dest interface {
	Node
	Pusher[T]
}] struct {
	*Base
	dest Dest
	keep func(T) bool
}

// NewFilter returns a factory for a node that drops items keep rejects.
func NewFilter[T any, Dest interface {
	Node
	Pusher[T]
}](name string, keep func(T) bool) Factory[Dest, *filterNode[T, Dest]] {
	return NewFactory(func(dest Dest) *filterNode[T, Dest] {
		n := &filterNode[T, Dest]{dest: dest, keep: keep}
		n.Base = NewBase(n, name)
		n.AddPushDestination(dest)
		return n
	})
}

func (n *filterNode[T, Dest]) Push(x T) error {
	if !n.keep(x) {
		return nil
	}
	return n.dest.Push(x)
}

// sumSinkNode is a terminal node accumulating a running int64 sum.
type sumSinkNode struct {
	*Base
	total int64
}

// NewSumSink returns a terminator factory for a node that sums every
// pushed int64.
func NewSumSink(name string) TerminatorFactory[*sumSinkNode] {
	return NewTerminatorFactory(func() *sumSinkNode {
		n := &sumSinkNode{}
		n.Base = NewBase(n, name)
		return n
	})
}

func (n *sumSinkNode) Push(x int64) error {
	n.total += x
	return nil
}

func (n *sumSinkNode) Sum() int64 { return n.total }

// vecSinkNode is a terminal node collecting every pushed item into a
// slice, in push order.
type vecSinkNode[T any] struct {
	*Base
	items []T
}

// NewVecSink returns a terminator factory for a node that collects every
// pushed item into a slice.
func NewVecSink[T any](name string) TerminatorFactory[*vecSinkNode[T]] {
	return NewTerminatorFactory(func() *vecSinkNode[T] {
		n := &vecSinkNode[T]{}
		n.Base = NewBase(n, name)
		return n
	})
}

func (n *vecSinkNode[T]) Push(x T) error {
	n.items = append(n.items, x)
	return nil
}

func (n *vecSinkNode[T]) Items() []T { return n.items }

// Reverser bridges two phases: its Sink half is pushed into during one
// phase, buffering every item; its Source half is a later phase's
// initiator, replaying the buffered items in reverse. The two halves are
// joined by a depends-on edge so the scheduler always finishes the sink's
// phase before starting the source's, mirroring the "reverser.sink /
// reverser.source" two-phase example.
type Reverser[T any] struct {
	buf []T
}

// NewReverser returns an empty Reverser ready to produce a Sink and,
// once the sink node exists, a Source.
func NewReverser[T any]() *Reverser[T] {
	return &Reverser[T]{}
}

type bufferSinkNode[T any] struct {
	*Base
	buf *[]T
}

// Sink returns a terminator factory for this reverser's push endpoint.
func (r *Reverser[T]) Sink(name string) TerminatorFactory[*bufferSinkNode[T]] {
	return NewTerminatorFactory(func() *bufferSinkNode[T] {
		n := &bufferSinkNode[T]{buf: &r.buf}
		n.Base = NewBase(n, name)
		return n
	})
}

func (n *bufferSinkNode[T]) Push(x T) error {
	*n.buf = append(*n.buf, x)
	return nil
}

type bufferSourceNode[T any, Dest interface {
	Node
	Pusher[T]
}] struct {
	*Base
	buf *[]T
	dest Dest
}

// NewReverserSource returns a factory for r's initiator half, which
// depends on sink (sink's phase must run first) and replays r's buffered
// items in reverse order to dest.
func NewReverserSource[T any, Dest interface {
	Node
	Pusher[T]
}](r *Reverser[T], name string, sink *bufferSinkNode[T]) Factory[Dest, *bufferSourceNode[T, Dest]] {
	return NewFactory(func(dest Dest) *bufferSourceNode[T, Dest] {
		n := &bufferSourceNode[T, Dest]{buf: &r.buf, dest: dest}
		n.Base = NewBase(n, name)
		n.AddPushDestination(dest)
		n.AddDependency(sink)
		return n
	})
}

func (n *bufferSourceNode[T, Dest]) Steps() int64 { return int64(len(*n.buf)) }

func (n *bufferSourceNode[T, Dest]) Drive() error {
	items := *n.buf
	for i := len(items) - 1; i >= 0; i-- {
		if err := n.dest.Push(items[i]); err != nil {
			return err
		}
	}
	return nil
}
