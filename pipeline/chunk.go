package pipeline

import (
	"reflect"

	"github.com/robot-dreams/extio/xerrors"
)

// chunkDest is the push contract every virtual-chunk node satisfies:
// boxed items in, one interface-call indirection at this boundary. It is
// unexported because callers never need to name it -- Chunk.Construct
// accepts and returns it, and NewChunkSink's node satisfies it, by inference.
type chunkDest interface {
	Node
	Push(interface{}) error
}

// Chunk is a type-erased factory keyed by its input and output
// reflect.Type. Two chunks compose with ComposeChunks iff the first's
// output type equals the second's input type; a mismatch is reported as
// an error at composition time rather than surfacing as a type-assertion
// panic during execution.
type Chunk struct {
	inType, outType reflect.Type
	construct       func(dest chunkDest) chunkDest
}

func (c Chunk) InputType() reflect.Type  { return c.inType }
func (c Chunk) OutputType() reflect.Type { return c.outType }

// Construct builds this chunk's node chain ending at dest.
func (c Chunk) Construct(dest chunkDest) chunkDest {
	return c.construct(dest)
}

// ComposeChunks chains a then b. It fails at construction time -- before
// any node is built -- if a's output type doesn't match b's input type.
func ComposeChunks(a, b Chunk) (Chunk, error) {
	if a.outType != b.inType {
		return Chunk{}, xerrors.Wrap(xerrors.ErrShape,
			"pipeline: cannot compose chunk producing %s into chunk expecting %s", a.outType, b.inType)
	}
	return Chunk{
		inType:  a.inType,
		outType: b.outType,
		construct: func(dest chunkDest) chunkDest {
			return a.construct(b.construct(dest))
		},
	}, nil
}

type chunkMapNode struct {
	*Base
	dest chunkDest
	f    func(interface{}) interface{}
}

func (n *chunkMapNode) Push(x interface{}) error {
	return n.dest.Push(n.f(x))
}

// NewChunk returns a Chunk wrapping f, type-erasing its In/Out types for
// runtime composition.
func NewChunk[In, Out any](name string, f func(In) Out) Chunk {
	return Chunk{
		inType:  reflect.TypeOf((*In)(nil)).Elem(),
		outType: reflect.TypeOf((*Out)(nil)).Elem(),
		construct: func(dest chunkDest) chunkDest {
			n := &chunkMapNode{dest: dest, f: func(x interface{}) interface{} { return f(x.(In)) }}
			n.Base = NewBase(n, name)
			n.AddPushDestination(dest)
			return n
		},
	}
}

type chunkSourceNode struct {
	*Base
	dest chunkDest
	next func() (interface{}, bool)
}

// Push satisfies chunkDest so a chunkSourceNode's construct func can share
// the uniform chunkDest->chunkDest signature; a source is always the
// outermost node in a composed chain, so nothing ever pushes into it.
func (n *chunkSourceNode) Push(x interface{}) error {
	return xerrors.Wrap(xerrors.ErrShape, "pipeline: chunk source node cannot receive pushed values")
}

func (n *chunkSourceNode) Drive() error {
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

// NewChunkSource returns a Chunk that has no input type (it is always the
// first chunk in a composition) and pushes each of items in order.
func NewChunkSource[T any](name string, items []T) Chunk {
	i := 0
	next := func() (interface{}, bool) {
		if i >= len(items) {
			return nil, false
		}
		v := items[i]
		i++
		return v, true
	}
	return Chunk{
		outType: reflect.TypeOf((*T)(nil)).Elem(),
		construct: func(dest chunkDest) chunkDest {
			n := &chunkSourceNode{dest: dest, next: next}
			n.Base = NewBase(n, name)
			n.AddPushDestination(dest)
			return n
		},
	}
}

type chunkSinkNode struct {
	*Base
	items []interface{}
}

func (n *chunkSinkNode) Push(x interface{}) error {
	n.items = append(n.items, x)
	return nil
}

func (n *chunkSinkNode) Items() []interface{} { return n.items }

// NewChunkSink returns a terminal chunkDest collecting every pushed value,
// boxed, in push order.
func NewChunkSink(name string) *chunkSinkNode {
	n := &chunkSinkNode{}
	n.Base = NewBase(n, name)
	return n
}
