// Package progress implements hierarchical progress reporting: a base
// Indicator contract, a FractionalParent that apportions one budget across
// sequential phases by predicted cost, and a TimePredictor that persists
// those predictions across runs.
package progress

import (
	"time"

	"golang.org/x/time/rate"
)

// RenderFunc is called, throttled, whenever an Indicator's progress
// advances. label identifies which indicator is reporting, useful when
// several indicators share one terminal/log sink.
type RenderFunc func(label string, current, rangeN int64)

// Indicator is the contract every progress reporter in extio satisfies,
// mirroring tpie's progress_indicator_base: Init establishes the step
// count, Step advances the counter (throttled refresh), Done finalizes it.
type Indicator interface {
	Init(nSteps int64)
	Step(k ...int64)
	Done()
	Current() int64
	Range() int64
}

// refreshHz is the target refresh frequency for terminal progress output.
const refreshHz = 10

// Base is a concrete Indicator that renders through a RenderFunc, with
// refresh calls throttled by a rate.Limiter so that a tight Step loop does
// not spend more time rendering than computing.
type Base struct {
	label   string
	current int64
	rangeN  int64
	limiter *rate.Limiter
	render  RenderFunc
}

// NewBase returns a Base that reports through render under label. A nil
// render makes Base behave like Null, which is useful for composing
// Base into types (like FractionalParent) that only sometimes want to
// render directly.
func NewBase(label string, render RenderFunc) *Base {
	return &Base{
		label:   label,
		limiter: rate.NewLimiter(rate.Limit(refreshHz), 1),
		render:  render,
	}
}

func (b *Base) Init(nSteps int64) {
	b.rangeN = nSteps
	b.current = 0
	b.refreshNow()
}

func (b *Base) Step(k ...int64) {
	delta := int64(1)
	if len(k) > 0 {
		delta = k[0]
	}
	b.current += delta
	if b.limiter.Allow() {
		b.refreshNow()
	}
}

func (b *Base) Done() {
	b.current = b.rangeN
	b.refreshNow()
}

func (b *Base) Current() int64 { return b.current }
func (b *Base) Range() int64   { return b.rangeN }

func (b *Base) refreshNow() {
	if b.render != nil {
		b.render(b.label, b.current, b.rangeN)
	}
}

// refreshThrottled renders the current state if the refresh limiter
// allows it. Used by callers (like Sub) that mutate current directly
// rather than through Step.
func (b *Base) refreshThrottled() {
	if b.limiter.Allow() {
		b.refreshNow()
	}
}

// allowAt exists so tests can drive the limiter deterministically without
// sleeping; production code always goes through Allow().
func (b *Base) allowAt(t time.Time) bool {
	return b.limiter.AllowN(t, 1)
}
