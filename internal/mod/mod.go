// Package mod defines the capability shared by every modulation source and
// helpers for driving a fixed set of sources once per tick.
//
// The helpers are generic so a caller holding a concrete slice such as
// []*lfo.LFO gets static dispatch and no per-tick allocation.
package mod

// Source is anything that advances one control tick at a time and exposes
// a scalar output.
type Source interface {
	Advance()
	Value() float64
}

// AdvanceAll advances every source once, in slice order.
func AdvanceAll[S Source](sources []S) {
	for _, s := range sources {
		s.Advance()
	}
}

// Sum returns the sum of the sources' current values.
func Sum[S Source](sources []S) float64 {
	var total float64
	for _, s := range sources {
		total += s.Value()
	}
	return total
}

// Route scales one source by a depth before it is mixed.
type Route[S Source] struct {
	Source S
	Depth  float64
}

// Mix returns Σ depth·value over routes.
func Mix[S Source](routes []Route[S]) float64 {
	var total float64
	for _, r := range routes {
		total += r.Source.Value() * r.Depth
	}
	return total
}

// AdvanceRoutes advances each routed source once.
func AdvanceRoutes[S Source](routes []Route[S]) {
	for _, r := range routes {
		r.Source.Advance()
	}
}

// Constant is a source that never changes; useful as a fixed bias in a mix.
type Constant float64

func (Constant) Advance() {}

func (c Constant) Value() float64 { return float64(c) }

// Product multiplies two sources, e.g. an LFO shaped by an envelope. Both
// inputs advance when the product does.
type Product[A, B Source] struct {
	A A
	B B
}

func (p Product[A, B]) Advance() {
	p.A.Advance()
	p.B.Advance()
}

func (p Product[A, B]) Value() float64 {
	return p.A.Value() * p.B.Value()
}
