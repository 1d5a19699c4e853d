package progress

// Null is a no-op Indicator, used for silent runs and as the default when
// extioconfig's progress_enabled is false.
type Null struct {
	current, rangeN int64
}

func (n *Null) Init(nSteps int64) { n.rangeN = nSteps; n.current = 0 }

func (n *Null) Step(k ...int64) {
	delta := int64(1)
	if len(k) > 0 {
		delta = k[0]
	}
	n.current += delta
}

func (n *Null) Done() { n.current = n.rangeN }

func (n *Null) Current() int64 { return n.current }
func (n *Null) Range() int64   { return n.rangeN }

var _ Indicator = (*Null)(nil)
