package pipeline

import (
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/robot-dreams/extio/extioctx"
	"github.com/robot-dreams/extio/progress"
	"github.com/robot-dreams/extio/xerrors"
)

// disjointSet is a small union-find over ids, used to discover phases
// (connected components of the pushes∪pulls relation). It is deliberately
// separate from nodeMap's own union-find, which merges over every relation
// kind (including depends-on) purely so the whole graph stays reachable
// from any one node.
type disjointSet struct {
	parent map[id]id
	rank   map[id]int
}

func newDisjointSet(ids []id) *disjointSet {
	ds := &disjointSet{parent: make(map[id]id, len(ids)), rank: make(map[id]int, len(ids))}
	for _, i := range ids {
		ds.parent[i] = i
	}
	return ds
}

func (ds *disjointSet) find(x id) id {
	root := x
	for ds.parent[root] != root {
		root = ds.parent[root]
	}
	for ds.parent[x] != root {
		next := ds.parent[x]
		ds.parent[x] = root
		x = next
	}
	return root
}

func (ds *disjointSet) union(x, y id) {
	rx, ry := ds.find(x), ds.find(y)
	if rx == ry {
		return
	}
	if ds.rank[rx] < ds.rank[ry] {
		rx, ry = ry, rx
	}
	ds.parent[ry] = rx
	if ds.rank[rx] == ds.rank[ry] {
		ds.rank[rx]++
	}
}

// topoSortOrError runs a DFS over nodes/succ (edge direction: dependency
// must come before dependent, i.e. succ[x] are things that must run after
// x), returning nodes in execution order (ties broken by the order they
// appear in the nodes slice, mirroring dfs_traversal's reverse-finish-time
// toposort) or xerrors.ErrCycle if succ contains a cycle.
func topoSortOrError(nodes []id, succ map[id][]id) ([]id, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[id]int, len(nodes))
	finish := make(map[id]int, len(nodes))
	counter := 0

	var cyclic error
	var dfs func(id)
	dfs = func(n id) {
		color[n] = gray
		for _, m := range succ[n] {
			switch color[m] {
			case white:
				dfs(m)
			case gray:
				cyclic = xerrors.Wrap(xerrors.ErrCycle, "pipeline: cycle detected through node relations")
			case black:
				// already finished, fine
			}
		}
		color[n] = black
		finish[n] = counter
		counter++
	}
	// Start DFS roots from the back of the slice: nodes finishing later sort
	// earlier, so unrelated nodes keep their slice order.
	for i := len(nodes) - 1; i >= 0; i-- {
		if n := nodes[i]; color[n] == white {
			dfs(n)
		}
	}
	if cyclic != nil {
		return nil, cyclic
	}

	order := append([]id(nil), nodes...)
	sort.SliceStable(order, func(i, j int) bool {
		return finish[order[i]] > finish[order[j]]
	})
	return order, nil
}

// phase is a maximal connected component under pushes∪pulls, scheduled as
// one unit: Prepare, memory-assign, Begin in topo order, drive the
// initiator, End in reverse topo order.
type phase struct {
	uid       string
	order     []Node // Begin/End order (producer-like nodes first)
	initiator Node
	evacuate  bool // evacuate the previous phase before running this one
}

func (p *phase) run(ctx *extioctx.Context, mem int64, pi progress.Indicator) error {
	for _, n := range p.order {
		if err := n.Prepare(); err != nil {
			return err
		}
	}
	assignMemory(p.order, mem, ctx.Log)

	predecessors := p.directPredecessors()
	var totalSteps int64
	for i, n := range p.order {
		received := make(map[string]interface{})
		for _, pred := range predecessors[n] {
			for k, v := range pred.forwardedSnapshot() {
				received[k] = v
			}
		}
		n.receiveForward(received)
		if err := n.Begin(); err != nil {
			p.endAll(ctx, p.order[:i+1])
			return err
		}
		totalSteps += n.Steps()
	}

	pi.Init(totalSteps)
	driveErr := p.initiator.Drive()
	pi.Done()

	endErr := p.endAll(ctx, p.order)
	if driveErr != nil {
		return driveErr
	}
	return endErr
}

// directPredecessors maps each node in the phase to the nodes immediately
// before it in Begin order under the raw pushes∪pulls relation (used only
// to propagate forwarded values one hop per Begin call; propagation beyond
// one hop happens because Base.Begin folds received into forwarded).
func (p *phase) directPredecessors() map[Node][]Node {
	byID := make(map[id]Node, len(p.order))
	for _, n := range p.order {
		byID[n.token().ID()] = n
	}
	preds := make(map[Node][]Node)
	auth := p.order[0].token().mapAuthority()
	for _, r := range auth.relations {
		if r.kind != relPushes && r.kind != relPulls {
			continue
		}
		from, okFrom := byID[r.from]
		to, okTo := byID[r.to]
		if !okFrom || !okTo {
			continue
		}
		if r.kind == relPulls {
			// A pull edge runs puller→producer; the producer Begins first.
			from, to = to, from
		}
		preds[to] = append(preds[to], from)
	}
	return preds
}

// endAll calls End on nodes in reverse order, logs any errors at warning
// and returns them combined (nil if every End succeeded).
func (p *phase) endAll(ctx *extioctx.Context, nodes []Node) error {
	var errs *multierror.Error
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := nodes[i].End(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		ctx.Log.Warnf("pipeline: errors ending phase %s: %v", p.uid, errs)
	}
	return errs.ErrorOrNil()
}

func (p *phase) evacuateAll() {
	for _, n := range p.order {
		if n.CanEvacuate() {
			if err := n.Evacuate(); err != nil {
				// Evacuation is best-effort housekeeping between phases;
				// a failure here must not abort a pipeline that otherwise
				// completed its current phase successfully.
				continue
			}
		}
	}
}

// Runtime is a built pipeline graph: phases in execution order, ready to
// Run.
type Runtime struct {
	phases []*phase
}

// Build discovers the full pipeline graph reachable from entry (via its
// token's authoritative nodeMap), partitions it into phases, orders the
// phases by their depends-on DAG, and within each phase orders its nodes
// and identifies its initiator.
func Build(entry Node) (*Runtime, error) {
	auth := entry.token().mapAuthority()

	ids := make([]id, 0, len(auth.tokens))
	nodeOf := make(map[id]Node, len(auth.tokens))
	for tid, n := range auth.tokens {
		ids = append(ids, tid)
		nodeOf[tid] = n
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ds := newDisjointSet(ids)
	for _, r := range auth.relations {
		if r.kind == relPushes || r.kind == relPulls {
			ds.union(r.from, r.to)
		}
	}

	classOf := make(map[id]id, len(ids))
	var classOrder []id
	seenClass := make(map[id]bool)
	for _, i := range ids {
		c := ds.find(i)
		classOf[i] = c
		if !seenClass[c] {
			seenClass[c] = true
			classOrder = append(classOrder, c)
		}
	}

	// Phase-level DAG from depends-on relations lifted to class
	// representatives: edge dependee -> depender, so the dependee's phase
	// is ordered before the depender's.
	phaseSucc := make(map[id][]id)
	for _, c := range classOrder {
		phaseSucc[c] = nil
	}
	for _, r := range auth.relations {
		if r.kind != relDepends {
			continue
		}
		dependerClass := classOf[r.from]
		dependeeClass := classOf[r.to]
		if dependerClass == dependeeClass {
			continue
		}
		phaseSucc[dependeeClass] = append(phaseSucc[dependeeClass], dependerClass)
	}

	execOrder, err := topoSortOrError(classOrder, phaseSucc)
	if err != nil {
		return nil, err
	}

	dependedOn := make(map[id]map[id]bool, len(classOrder))
	for from, tos := range phaseSucc {
		for _, to := range tos {
			if dependedOn[to] == nil {
				dependedOn[to] = make(map[id]bool)
			}
			dependedOn[to][from] = true
		}
	}

	phases := make([]*phase, 0, len(execOrder))
	for i, class := range execOrder {
		members := make([]id, 0)
		for _, i2 := range ids {
			if classOf[i2] == class {
				members = append(members, i2)
			}
		}
		ph, err := buildPhase(class, members, nodeOf, auth)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			ph.evacuate = !dependedOn[class][execOrder[i-1]]
		}
		phases = append(phases, ph)
	}

	return &Runtime{phases: phases}, nil
}

func buildPhase(class id, members []id, nodeOf map[id]Node, auth *nodeMap) (*phase, error) {
	memberSet := make(map[id]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}

	// rawIndeg counts in-edges under the raw, as-declared direction: the
	// node a push/pull declaration's "to" side, used to find the unique
	// initiator (in-degree zero under both relations combined).
	rawIndeg := make(map[id]int, len(members))
	// topoSucc is the Begin/End ordering graph: pushes keep their declared
	// direction (producer -> consumer); pulls are reversed (the producer a
	// pull names as "to" must still Begin before the puller that named it),
	// mirroring calc_phases' std::swap(from, to) for pulls.
	topoSucc := make(map[id][]id, len(members))
	for _, m := range members {
		topoSucc[m] = nil
	}
	for _, r := range auth.relations {
		if r.kind != relPushes && r.kind != relPulls {
			continue
		}
		if !memberSet[r.from] || !memberSet[r.to] {
			continue
		}
		rawIndeg[r.to]++
		if r.kind == relPushes {
			topoSucc[r.from] = append(topoSucc[r.from], r.to)
		} else {
			topoSucc[r.to] = append(topoSucc[r.to], r.from)
		}
	}

	order, err := topoSortOrError(members, topoSucc)
	if err != nil {
		return nil, err
	}

	var initiator id
	nInitiators := 0
	for _, m := range members {
		if rawIndeg[m] == 0 {
			initiator = m
			nInitiators++
		}
	}
	if nInitiators == 0 {
		return nil, xerrors.Wrap(xerrors.ErrNoInitiator, "pipeline: phase has no initiator")
	}
	if nInitiators > 1 {
		return nil, xerrors.Wrap(xerrors.ErrMultipleInitiators, "pipeline: phase has %d initiators", nInitiators)
	}

	nodes := make([]Node, 0, len(order))
	var uid string
	for _, m := range order {
		n := nodeOf[m]
		nodes = append(nodes, n)
		uid += n.Name() + ":"
	}

	return &phase{
		uid:       uid,
		order:     nodes,
		initiator: nodeOf[initiator],
	}, nil
}

// assignMemory splits total bytes across nodes proportional to each one's
// MemoryFraction, pinning any node whose proportional share falls below its
// MinimumMemory to that minimum first (iteratively, since pinning a node
// changes the remaining budget and the remaining total fraction). The loop
// runs at most len(nodes) passes: each pass that is not the last pins at
// least one more node, so the set of unpinned nodes strictly shrinks.
func assignMemory(nodes []Node, total int64, log interface{ Warnf(string, ...interface{}) }) {
	var minTotal int64
	var fracTotal float64
	for _, n := range nodes {
		minTotal += n.MinimumMemory()
		fracTotal += n.MemoryFraction()
	}
	assignMinima := func() {
		for _, n := range nodes {
			n.SetAvailableMemory(n.MinimumMemory())
		}
	}
	if total < minTotal {
		if log != nil {
			log.Warnf("pipeline: phase requires %d bytes minimum but only %d available", minTotal, total)
		}
		assignMinima()
		return
	}
	if fracTotal < 1e-9 {
		assignMinima()
		return
	}

	remaining := total
	fraction := fracTotal
	assigned := make([]bool, len(nodes))
	for pass := 0; pass < len(nodes); pass++ {
		progressed := false
		for i, n := range nodes {
			if assigned[i] {
				continue
			}
			frac := n.MemoryFraction()
			min := n.MinimumMemory()
			share := int64(frac / fraction * float64(remaining))
			if share < min {
				n.SetAvailableMemory(min)
				assigned[i] = true
				remaining -= min
				fraction -= frac
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	for i, n := range nodes {
		if assigned[i] {
			continue
		}
		frac := n.MemoryFraction()
		share := int64(frac / fraction * float64(remaining))
		n.SetAvailableMemory(share)
	}
}

// Run executes every phase in order: Prepare, assign memory, Begin, drive
// the initiator, End, repeating for each phase and evacuating the previous
// phase first when the phase about to run does not depend on it.
func (rt *Runtime) Run(ctx *extioctx.Context, n int64, pi progress.Indicator, mem int64) error {
	if pi == nil || !ctx.Config.ProgressEnabled {
		pi = &progress.Null{}
	}

	fp, isFractional := pi.(*progress.FractionalParent)
	var subs []*progress.Sub
	if isFractional {
		for _, ph := range rt.phases {
			subs = append(subs, fp.Sub(ph.uid, float64(len(ph.order))))
		}
	}

	pi.Init(n)
	for i, ph := range rt.phases {
		if i > 0 && ph.evacuate {
			rt.phases[i-1].evacuateAll()
		}
		var sub progress.Indicator = &progress.Null{}
		if isFractional {
			sub = subs[i]
		}
		if err := ph.run(ctx, mem, sub); err != nil {
			return err
		}
	}
	pi.Done()
	return nil
}
