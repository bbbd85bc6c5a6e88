// Package ramp steps a value from a start level to a target level over a
// fixed number of ticks. Envelope segments and pitch glide both use it.
package ramp

import "math"

// Curve selects how a segment moves between its endpoints.
type Curve int

const (
	// Linear moves by a constant amount per tick.
	Linear Curve = iota
	// Exponential closes a constant fraction of the remaining distance per
	// tick, the shape of an RC charge curve.
	Exponential
)

// Residual is the fraction of the distance an exponential segment still
// has to cover one tick before its deadline. At the deadline the segment
// is forced onto its target, so exponential segments always finish in
// exactly their configured number of ticks.
const Residual = 0.01

func (c Curve) String() string {
	switch c {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// Valid reports whether c is a known curve.
func (c Curve) Valid() bool {
	return c == Linear || c == Exponential
}

// Segment is one ramp in progress. The zero value is a finished segment
// resting at 0.
type Segment struct {
	curve   Curve
	start   float64
	target  float64
	value   float64
	length  int
	elapsed int
	keep    float64 // exponential: fraction of remaining distance kept per tick
	done    bool
}

// Begin starts a new segment at from, heading to to over ticks ticks.
// A zero-length segment completes on the next Step.
func (s *Segment) Begin(curve Curve, from, to float64, ticks int) {
	if ticks < 0 {
		ticks = 0
	}
	*s = Segment{
		curve:  curve,
		start:  from,
		target: to,
		value:  from,
		length: ticks,
	}
	if curve == Exponential && ticks > 0 {
		s.keep = math.Pow(Residual, 1/float64(ticks))
	}
}

// Step consumes one tick and reports whether the segment completed on it.
// Once complete, further steps hold the target and keep reporting true.
func (s *Segment) Step() bool {
	if s.done {
		return true
	}
	s.elapsed++
	if s.elapsed >= s.length {
		s.value = s.target
		s.done = true
		return true
	}
	switch s.curve {
	case Exponential:
		s.value = s.target + (s.value-s.target)*s.keep
	default:
		s.value = s.start + (s.target-s.start)*float64(s.elapsed)/float64(s.length)
	}
	return false
}

// Value returns the current level.
func (s *Segment) Value() float64 { return s.value }

// Target returns the level the segment is heading to.
func (s *Segment) Target() float64 { return s.target }

// Done reports whether the segment has reached its target.
func (s *Segment) Done() bool { return s.done }

// Remaining returns the number of ticks left before the deadline.
func (s *Segment) Remaining() int {
	if s.done {
		return 0
	}
	if s.length == 0 {
		return 1
	}
	return s.length - s.elapsed
}

// Hold pins the segment at v as already complete.
func (s *Segment) Hold(v float64) {
	*s = Segment{start: v, target: v, value: v, done: true}
}
