package lfo

import (
	"math"
	"math/rand/v2"

	"github.com/cbegin/modcv-go/internal/clock"
	"github.com/cbegin/modcv-go/internal/cverr"
)

// Waveform selects the LFO shape.
type Waveform int

const (
	WaveSine Waveform = iota
	WaveTriangle
	WaveSquare
	WaveSaw     // rising ramp
	WaveSawDown // falling ramp
	WaveSampleHold
)

func (w Waveform) String() string {
	switch w {
	case WaveSine:
		return "sine"
	case WaveTriangle:
		return "triangle"
	case WaveSquare:
		return "square"
	case WaveSaw:
		return "saw"
	case WaveSawDown:
		return "saw-down"
	case WaveSampleHold:
		return "sample-hold"
	default:
		return "unknown"
	}
}

// Valid reports whether w is a known waveform.
func (w Waveform) Valid() bool {
	return w >= WaveSine && w <= WaveSampleHold
}

// phaseScale is one full cycle of the 64-bit phase accumulator.
const phaseScale = 1 << 64

// incBias is added to every non-zero increment so accumulated rounding
// always lands a cycle boundary just after the wrap, never just before it.
const incBias = 1 << 12

// Params configures an LFO.
type Params struct {
	Waveform  Waveform
	RateHz    float64
	Amplitude float64
	Offset    float64
	Duty      float64 // square high fraction of the cycle; 0 means 0.5
	Seed      uint64  // sample-and-hold sequence seed
}

// DefaultParams returns a 1 Hz unit sine.
func DefaultParams() Params {
	return Params{
		Waveform:  WaveSine,
		RateHz:    1,
		Amplitude: 1,
		Duty:      0.5,
		Seed:      1,
	}
}

// LFO is a low-frequency oscillator advanced one control tick at a time.
// Its phase lives in a wrapping 64-bit accumulator, so it is always in
// [0,1) and N·rate·period whole cycles return to the start within about
// N·2^-52 of a cycle.
type LFO struct {
	clk       *clock.Clock
	waveform  Waveform
	rateHz    float64
	amplitude float64
	offset    float64
	duty      float64
	seed      uint64

	phase uint64
	inc   uint64
	wide  bool // rate at or above the tick rate: every tick wraps
	held  float64
	rng   rand.PCG
}

// New returns an LFO at phase 0.
func New(clk *clock.Clock, p Params) (*LFO, error) {
	if clk == nil {
		return nil, cverr.Config("clock", "must not be nil")
	}
	if p.Duty == 0 {
		p.Duty = 0.5
	}
	switch {
	case !p.Waveform.Valid():
		return nil, cverr.Config("waveform", "unknown waveform %d", p.Waveform)
	case !(p.RateHz >= 0) || math.IsInf(p.RateHz, 0):
		return nil, cverr.Config("rate", "must be a finite frequency >= 0 Hz, got %v", p.RateHz)
	case !(p.Duty > 0 && p.Duty < 1):
		return nil, cverr.Config("duty", "must be in (0,1), got %v", p.Duty)
	case !isFinite(p.Amplitude):
		return nil, cverr.Config("amplitude", "must be finite, got %v", p.Amplitude)
	case !isFinite(p.Offset):
		return nil, cverr.Config("offset", "must be finite, got %v", p.Offset)
	}
	l := &LFO{
		clk:       clk,
		waveform:  p.Waveform,
		amplitude: p.Amplitude,
		offset:    p.Offset,
		duty:      p.Duty,
		seed:      p.Seed,
	}
	l.setRate(p.RateHz)
	l.Reset()
	return l, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SetFrequency changes the rate. Negative or non-finite rates are
// rejected and leave the LFO unchanged; 0 freezes the phase.
func (l *LFO) SetFrequency(hz float64) error {
	if err := cverr.CheckFloat("rate", hz, 0, math.MaxFloat64); err != nil {
		return err
	}
	l.setRate(hz)
	return nil
}

func (l *LFO) setRate(hz float64) {
	l.rateHz = hz
	cycles := hz * l.clk.Period()
	l.wide = cycles >= 1
	if hz == 0 {
		l.inc = 0
		return
	}
	v := (cycles - math.Floor(cycles)) * phaseScale
	if v >= phaseScale-incBias {
		l.inc = math.MaxUint64
		return
	}
	l.inc = uint64(v) + incBias
}

// Advance consumes one tick.
func (l *LFO) Advance() {
	prev := l.phase
	l.phase += l.inc
	if l.wide || l.phase < prev {
		l.wrapped()
	}
}

func (l *LFO) wrapped() {
	if l.waveform == WaveSampleHold {
		l.held = l.draw()
	}
}

// draw returns the next sample-and-hold value in [-1,1).
func (l *LFO) draw() float64 {
	return float64(l.rng.Uint64()>>11)/(1<<53)*2 - 1
}

// Value returns waveform(phase)·amplitude + offset.
func (l *LFO) Value() float64 {
	return l.shape(l.Phase())*l.amplitude + l.offset
}

func (l *LFO) shape(p float64) float64 {
	switch l.waveform {
	case WaveTriangle:
		r := p * 4
		switch {
		case r < 1:
			return r
		case r < 3:
			return 2 - r
		default:
			return r - 4
		}
	case WaveSquare:
		if p < l.duty {
			return 1
		}
		return -1
	case WaveSaw:
		return 2*p - 1
	case WaveSawDown:
		return 1 - 2*p
	case WaveSampleHold:
		return l.held
	default: // WaveSine
		return math.Sin(2 * math.Pi * p)
	}
}

// Phase returns the accumulator as a fraction of a cycle in [0,1). Only
// the top 53 bits are converted so the result never rounds up to 1.
func (l *LFO) Phase() float64 {
	return float64(l.phase>>11) / (1 << 53)
}

// SetPhase moves the accumulator to p, which must be in [0,1).
func (l *LFO) SetPhase(p float64) error {
	if !(p >= 0 && p < 1) {
		return &cverr.RangeError{Field: "phase", Value: p, Min: 0, Max: 1}
	}
	l.phase = uint64(p * phaseScale)
	return nil
}

// ResetPhase forces the phase to 0 without touching the held value.
func (l *LFO) ResetPhase() {
	l.phase = 0
}

// Sync restarts the cycle for tempo or gate synchronisation. A
// sample-and-hold LFO treats the restart as a wrap and draws a new value.
func (l *LFO) Sync() {
	l.phase = 0
	l.wrapped()
}

// Reset zeros the phase and restarts the sample-and-hold sequence from
// its seed.
func (l *LFO) Reset() {
	l.phase = 0
	l.rng.Seed(l.seed, l.seed^0x9e3779b97f4a7c15)
	l.held = l.draw()
}

// Active returns true if the LFO has non-zero amplitude and rate.
func (l *LFO) Active() bool {
	return l.amplitude != 0 && l.rateHz != 0
}

// Frequency returns the rate in Hz.
func (l *LFO) Frequency() float64 { return l.rateHz }

func (l *LFO) Waveform() Waveform { return l.waveform }
