// Package envelope implements a gate-driven ADSR envelope generator that
// advances one control tick at a time.
package envelope

import (
	"github.com/cbegin/modcv-go/internal/clock"
	"github.com/cbegin/modcv-go/internal/cverr"
	"github.com/cbegin/modcv-go/internal/ramp"
)

// Phase is the envelope's position in the ADSR cycle.
type Phase int

const (
	Idle Phase = iota
	Attack
	Decay
	Sustain
	Release
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Attack:
		return "attack"
	case Decay:
		return "decay"
	case Sustain:
		return "sustain"
	case Release:
		return "release"
	default:
		return "unknown"
	}
}

// Params configures an envelope. Segment lengths are in ticks; a zero
// length completes that segment on the next tick.
type Params struct {
	AttackTicks  int
	DecayTicks   int
	Sustain      float64 // 0-1
	ReleaseTicks int
	Curve        ramp.Curve
	// Legato ignores a gate-on while the gate is already held, so a new
	// note played over a held one does not restart the attack.
	Legato bool
	// HardReset starts every attack from 0 instead of the current level.
	HardReset bool
}

// DefaultParams returns a short percussive-to-sustained envelope.
func DefaultParams() Params {
	return Params{
		AttackTicks:  5,
		DecayTicks:   120,
		Sustain:      0.75,
		ReleaseTicks: 200,
		Curve:        ramp.Linear,
	}
}

// ParamsFromSeconds converts segment times to ticks on clk.
func ParamsFromSeconds(clk *clock.Clock, attackSec, decaySec, sustain, releaseSec float64, curve ramp.Curve) Params {
	return Params{
		AttackTicks:  clk.TicksFor(attackSec),
		DecayTicks:   clk.TicksFor(decaySec),
		Sustain:      sustain,
		ReleaseTicks: clk.TicksFor(releaseSec),
		Curve:        curve,
	}
}

// Envelope is one ADSR voice. It is not safe for concurrent use.
type Envelope struct {
	clk    *clock.Clock
	params Params
	phase  Phase
	level  float64
	gate   bool
	seg    ramp.Segment
}

// New returns an idle envelope at level 0.
func New(clk *clock.Clock, params Params) (*Envelope, error) {
	if clk == nil {
		return nil, cverr.Config("clock", "must not be nil")
	}
	if err := validate(params); err != nil {
		return nil, err
	}
	return &Envelope{clk: clk, params: params}, nil
}

func validate(p Params) error {
	switch {
	case p.AttackTicks < 0:
		return cverr.Config("attack", "must be >= 0 ticks, got %d", p.AttackTicks)
	case p.DecayTicks < 0:
		return cverr.Config("decay", "must be >= 0 ticks, got %d", p.DecayTicks)
	case p.ReleaseTicks < 0:
		return cverr.Config("release", "must be >= 0 ticks, got %d", p.ReleaseTicks)
	case !(p.Sustain >= 0 && p.Sustain <= 1):
		return cverr.Config("sustain", "must be in [0,1], got %v", p.Sustain)
	case !p.Curve.Valid():
		return cverr.Config("curve", "unknown curve %d", p.Curve)
	}
	return nil
}

// Gate applies a gate edge. A gate-on starts Attack from the current
// level; a gate-off starts Release from the current level. A gate-on
// during Attack, or a gate-off during Release or Idle, is ignored.
func (e *Envelope) Gate(on bool) {
	if on {
		e.gateOn()
		return
	}
	e.gate = false
	switch e.phase {
	case Attack, Decay, Sustain:
		e.phase = Release
		e.seg.Begin(e.params.Curve, e.level, 0, e.params.ReleaseTicks)
	}
}

func (e *Envelope) gateOn() {
	if e.params.Legato && e.gate {
		return
	}
	held := e.gate
	e.gate = true
	if e.phase == Attack && held {
		return
	}
	start := e.level
	if e.params.HardReset {
		start = 0
		e.level = 0
	}
	e.phase = Attack
	e.seg.Begin(e.params.Curve, start, 1, e.params.AttackTicks)
}

// Advance consumes one tick.
func (e *Envelope) Advance() {
	switch e.phase {
	case Idle:
		e.level = 0
	case Sustain:
		e.level = e.params.Sustain
	case Attack:
		done := e.seg.Step()
		e.level = e.seg.Value()
		if done {
			e.level = 1
			e.phase = Decay
			e.seg.Begin(e.params.Curve, 1, e.params.Sustain, e.params.DecayTicks)
		}
	case Decay:
		if e.seg.Step() {
			e.level = e.params.Sustain
			e.phase = Sustain
			return
		}
		e.level = e.seg.Value()
	case Release:
		if e.seg.Step() {
			e.level = 0
			e.phase = Idle
			return
		}
		e.level = e.seg.Value()
	}
}

// Level returns the current output in [0,1].
func (e *Envelope) Level() float64 { return e.level }

// Value is Level; it lets an Envelope act as a modulation source.
func (e *Envelope) Value() float64 { return e.level }

// Phase returns the current segment.
func (e *Envelope) Phase() Phase { return e.phase }

// Gated reports whether the gate is currently held.
func (e *Envelope) Gated() bool { return e.gate }

// Active reports whether the envelope is producing a non-idle output.
func (e *Envelope) Active() bool { return e.phase != Idle }

// Remaining returns the ticks left in the current timed segment, or 0 in
// Idle and Sustain.
func (e *Envelope) Remaining() int {
	switch e.phase {
	case Attack, Decay, Release:
		return e.seg.Remaining()
	}
	return 0
}

func (e *Envelope) Params() Params { return e.params }

// Clock returns the time base the envelope was built against.
func (e *Envelope) Clock() *clock.Clock { return e.clk }

// Reset returns the envelope to Idle at level 0 with the gate released.
func (e *Envelope) Reset() {
	e.phase = Idle
	e.level = 0
	e.gate = false
	e.seg.Hold(0)
}
