package progress

// FractionalParent apportions one overall step budget across a sequence of
// phases, weighting each phase's share by its predicted cost. Phases must
// be registered via Sub before Init is called; once Init runs, the
// registration list is frozen and each Sub's share of the parent's range
// is fixed.
type FractionalParent struct {
	base      *Base
	predictor *TimePredictor

	subs     []*Sub
	started  bool
	position int64 // parent units consumed by completed subs
}

// NewFractionalParent returns a FractionalParent that reports its own
// aggregate progress through render, estimating unregistered phases'
// weight from predictor when available.
func NewFractionalParent(label string, predictor *TimePredictor, render RenderFunc) *FractionalParent {
	return &FractionalParent{
		base:      NewBase(label, render),
		predictor: predictor,
	}
}

// Sub registers a new sequential phase identified by id, with
// fallbackWeight used if the predictor has no prior observation for id.
// Sub must be called before Init; it panics otherwise, since the range
// split can only be computed once every phase is known.
func (p *FractionalParent) Sub(id string, fallbackWeight float64) *Sub {
	if p.started {
		panic("progress: Sub called on a FractionalParent after Init")
	}
	weight := fallbackWeight
	if p.predictor != nil {
		if est, ok := p.predictor.Estimate(id); ok {
			weight = est.Seconds()
			if weight <= 0 {
				weight = fallbackWeight
			}
		}
	}
	if weight <= 0 {
		weight = 1
	}
	s := &Sub{parent: p, id: id, weight: weight}
	p.subs = append(p.subs, s)
	return s
}

// Init assigns each registered Sub its share of total, proportional to its
// weight. No Sub is started; each Sub's own Init begins its phase.
func (p *FractionalParent) Init(total int64) {
	p.started = true
	p.base.Init(total)

	var sumWeight float64
	for _, s := range p.subs {
		sumWeight += s.weight
	}
	if sumWeight <= 0 {
		sumWeight = float64(len(p.subs))
	}

	var assigned int64
	for i, s := range p.subs {
		if i == len(p.subs)-1 {
			s.rangeSteps = total - assigned
		} else {
			s.rangeSteps = int64(float64(total) * s.weight / sumWeight)
			assigned += s.rangeSteps
		}
	}
}

// Step advances the parent's own progress counter directly, delegating to
// the underlying Base.
func (p *FractionalParent) Step(k ...int64) { p.base.Step(k...) }

// Done finalizes the parent's own progress display. It does not validate
// that every Sub ran to completion; a short pipeline run that errors out
// partway through is expected to call Done anyway during cleanup.
func (p *FractionalParent) Done() { p.base.Done() }

func (p *FractionalParent) Current() int64 { return p.base.Current() }
func (p *FractionalParent) Range() int64   { return p.base.Range() }

// advance is called by a Sub as it steps, translating local progress into
// the parent's units.
func (p *FractionalParent) advance(delta int64) {
	p.position += delta
	p.base.current = p.position
	p.base.refreshThrottled()
}

// Sub is one phase's view onto a FractionalParent's overall budget. It
// satisfies Indicator in its own local units [0, nSteps), which need not
// match rangeSteps; Step rescales proportionally as it goes.
type Sub struct {
	parent *FractionalParent
	id     string
	weight float64

	rangeSteps int64 // this phase's share of the parent's total, in parent units

	localRange   int64
	localCurrent int64
	parentOffset int64 // how much of rangeSteps has already been pushed to parent
}

func (s *Sub) Init(nSteps int64) {
	s.localRange = nSteps
	s.localCurrent = 0
	s.parentOffset = 0
	if s.parent.predictor != nil {
		s.parent.predictor.Start(s.id)
	}
}

func (s *Sub) Step(k ...int64) {
	delta := int64(1)
	if len(k) > 0 {
		delta = k[0]
	}
	s.localCurrent += delta
	s.rebalance()
}

func (s *Sub) rebalance() {
	if s.localRange <= 0 {
		return
	}
	target := int64(float64(s.rangeSteps) * float64(s.localCurrent) / float64(s.localRange))
	if target > s.rangeSteps {
		target = s.rangeSteps
	}
	if delta := target - s.parentOffset; delta > 0 {
		s.parentOffset = target
		s.parent.advance(delta)
	}
}

// Done advances the parent by whatever share of rangeSteps this phase had
// not yet reported, and -- if the parent has a predictor -- records the
// phase's elapsed wall time for the next run's estimate.
func (s *Sub) Done() {
	if delta := s.rangeSteps - s.parentOffset; delta > 0 {
		s.parentOffset = s.rangeSteps
		s.parent.advance(delta)
	}
	if s.parent.predictor != nil {
		s.parent.predictor.Stop(s.id)
	}
}

func (s *Sub) Current() int64 { return s.localCurrent }
func (s *Sub) Range() int64   { return s.localRange }

var (
	_ Indicator = (*FractionalParent)(nil)
	_ Indicator = (*Sub)(nil)
)
