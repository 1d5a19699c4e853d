package pipeline

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robot-dreams/extio/extioconfig"
	"github.com/robot-dreams/extio/extioctx"
	"github.com/robot-dreams/extio/extiolog"
)

// parallelCollector is the per-worker terminal sink a Parallel combinator
// wires its middle sub-pipeline's front node into, so it can read back
// whatever that worker produced for one chunk.
type parallelCollector[Out any] struct {
	*Base
	items []Out
}

func newParallelCollector[Out any](name string) *parallelCollector[Out] {
	c := &parallelCollector[Out]{}
	c.Base = NewBase(c, name)
	return c
}

func (c *parallelCollector[Out]) Push(x Out) error {
	c.items = append(c.items, x)
	return nil
}

type parallelChunk[Out any] struct {
	seq   int64
	items []Out
}

// parallelHeap orders completed chunks by sequence number so a Parallel
// combinator with MaintainOrder can replay them in dispatch order.
type parallelHeap[Out any] []parallelChunk[Out]

func (h parallelHeap[Out]) Len() int            { return len(h) }
func (h parallelHeap[Out]) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h parallelHeap[Out]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *parallelHeap[Out]) Push(x interface{}) { *h = append(*h, x.(parallelChunk[Out])) }
func (h *parallelHeap[Out]) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Parallel is the one place this package spawns goroutines on its own. It
// buffers pushed items into chunks of BufferSize and dispatches each chunk
// to a worker goroutine (bounded by NumWorkers, via errgroup) running an
// independent copy of a middle sub-pipeline. With MaintainOrder, completed
// chunks are rebuffered into dispatch order before being forwarded
// downstream; without it, each chunk is forwarded as soon as its worker
// finishes. It does not provide, and is not, a general job pool.
type Parallel[In, Out any, Front interface {
	Node
	Pusher[In]
}, Dest interface {
	Node
	Pusher[Out]
}] struct {
	*Base
	dest       Dest
	buildFront func(sink *parallelCollector[Out]) Front

	numWorkers    int
	bufferSize    int
	maintainOrder bool
	log           *extiolog.Logger

	g        *errgroup.Group
	inFlight int64
	buf      []In
	seq      int64

	mu      sync.Mutex
	pending parallelHeap[Out]
	nextOut int64
}

// NewParallel returns a factory for a Parallel combinator wrapping f, the
// middle sub-pipeline's factory (constructed once per dispatched chunk,
// each instance wired to its own collector rather than shared state).
// numWorkers <= 0 defaults to ctx.Config.WorkerCount, falling back further
// to runtime.NumCPU() if that is also unset; bufferSize <= 0 defaults to 1
// (dispatch one item per chunk). While End drains in-flight workers, it
// logs progress through ctx.Log every extioconfig.PollInterval().
func NewParallel[In, Out any, Front interface {
	Node
	Pusher[In]
}, Dest interface {
	Node
	Pusher[Out]
}](name string, f Factory[*parallelCollector[Out], Front], ctx *extioctx.Context, numWorkers, bufferSize int, maintainOrder bool) Factory[Dest, *Parallel[In, Out, Front, Dest]] {
	if ctx == nil {
		ctx = extioctx.Default()
	}
	if numWorkers <= 0 {
		numWorkers = ctx.Config.WorkerCount
	}
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return NewFactory(func(dest Dest) *Parallel[In, Out, Front, Dest] {
		n := &Parallel[In, Out, Front, Dest]{
			dest:          dest,
			buildFront:    func(sink *parallelCollector[Out]) Front { return f.Construct(sink) },
			numWorkers:    numWorkers,
			bufferSize:    bufferSize,
			maintainOrder: maintainOrder,
			log:           ctx.Log,
		}
		n.Base = NewBase(n, name)
		n.AddPushDestination(dest)
		return n
	})
}

func (n *Parallel[In, Out, Front, Dest]) Begin() error {
	n.g, _ = errgroup.WithContext(context.Background())
	n.g.SetLimit(n.numWorkers)
	return n.Base.Begin()
}

func (n *Parallel[In, Out, Front, Dest]) Push(x In) error {
	n.buf = append(n.buf, x)
	if len(n.buf) >= n.bufferSize {
		return n.flush()
	}
	return nil
}

// End drains every dispatched worker before sealing the node. It polls
// rather than blocking outright on g.Wait so a long-running worker set
// still produces progress log lines at extioconfig.PollInterval().
func (n *Parallel[In, Out, Front, Dest]) End() error {
	if err := n.flush(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- n.g.Wait() }()

	ticker := time.NewTicker(extioconfig.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			return n.Base.End()
		case <-ticker.C:
			n.log.Infof("%s: draining, %d chunk(s) in flight", n.Name(), atomic.LoadInt64(&n.inFlight))
		}
	}
}

func (n *Parallel[In, Out, Front, Dest]) flush() error {
	if len(n.buf) == 0 {
		return nil
	}
	chunk := n.buf
	n.buf = nil
	seq := n.seq
	n.seq++
	atomic.AddInt64(&n.inFlight, 1)
	n.g.Go(func() error {
		defer atomic.AddInt64(&n.inFlight, -1)
		collector := newParallelCollector[Out](n.Name() + ".worker")
		front := n.buildFront(collector)
		for _, x := range chunk {
			if err := front.Push(x); err != nil {
				return err
			}
		}
		return n.deliver(seq, collector.items)
	})
	return nil
}

// deliver forwards a completed chunk's items downstream, serialized across
// workers since dest.Push is not safe for concurrent calls. With
// MaintainOrder it holds a chunk back until every earlier-numbered chunk
// has already been forwarded.
func (n *Parallel[In, Out, Front, Dest]) deliver(seq int64, items []Out) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.maintainOrder {
		for _, x := range items {
			if err := n.dest.Push(x); err != nil {
				return err
			}
		}
		return nil
	}

	heap.Push(&n.pending, parallelChunk[Out]{seq: seq, items: items})
	for n.pending.Len() > 0 && n.pending[0].seq == n.nextOut {
		r := heap.Pop(&n.pending).(parallelChunk[Out])
		for _, x := range r.items {
			if err := n.dest.Push(x); err != nil {
				return err
			}
		}
		n.nextOut++
	}
	return nil
}
