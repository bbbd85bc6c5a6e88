// Package ribbon turns ADC readings of a resistive ribbon (softpot)
// controller into a position CV with finger press and release edges.
//
// The softpot sits in series with a dropper resistor, so an open ribbon
// reads above a known boundary. Readings taken while the finger lands or
// lifts are unreliable: the first fallTime of a press is skipped and the
// newest riseTime of readings is left out of the average.
package ribbon

import (
	"math"

	"github.com/cbegin/modcv-go/internal/cverr"
)

// Settling times, in microseconds.
const (
	fallTimeUsec       = 1000
	riseTimeUsec       = 2000
	minCaptureTimeUsec = (fallTimeUsec + riseTimeUsec) * 5
)

const maxCapacity = 1 << 16

// Params describes the ribbon circuit and how often it is polled.
type Params struct {
	SampleRate  float64 // polls per second
	SoftpotOhms float64
	DropperOhms float64 // series resistor between the softpot and the supply
	PullupOhms  float64 // pull-up on the wiper
}

// DefaultParams returns a 20 kΩ softpot with an 820 Ω dropper and a 1 MΩ
// pull-up, polled at sampleRate.
func DefaultParams(sampleRate float64) Params {
	return Params{
		SampleRate:  sampleRate,
		SoftpotOhms: 20e3,
		DropperOhms: 820,
		PullupOhms:  1e6,
	}
}

// Ribbon averages the readings of a held finger into a position in
// [0,1]. The position is kept after the finger lifts. Poll does a bounded
// amount of work and never allocates.
type Ribbon struct {
	boundary float64
	errConst float64
	ignore   int
	discard  int

	buf      []float64
	head     int
	received int
	written  int

	input    float64
	pos      float64
	pressing bool
	pressed  bool
	released bool
}

func samples(rate float64, usec int) int {
	return int(rate * float64(usec) / 1e6)
}

// Capacity returns the number of readings averaged for a ribbon polled at
// sampleRate, including the discarded tail.
func Capacity(sampleRate float64) int {
	return samples(sampleRate, minCaptureTimeUsec) + samples(sampleRate, riseTimeUsec) + 1
}

func New(p Params) (*Ribbon, error) {
	switch {
	case !(p.SampleRate > 0) || math.IsInf(p.SampleRate, 0):
		return nil, cverr.Config("ribbon sample rate", "must be a positive finite rate, got %v", p.SampleRate)
	case !(p.SoftpotOhms > 0) || math.IsInf(p.SoftpotOhms, 0):
		return nil, cverr.Config("softpot ohms", "must be positive, got %v", p.SoftpotOhms)
	case !(p.DropperOhms >= 0) || math.IsInf(p.DropperOhms, 0):
		return nil, cverr.Config("dropper ohms", "must be >= 0, got %v", p.DropperOhms)
	case !(p.PullupOhms > 0) || math.IsInf(p.PullupOhms, 0):
		return nil, cverr.Config("pullup ohms", "must be positive, got %v", p.PullupOhms)
	}
	capacity := Capacity(p.SampleRate)
	if capacity > maxCapacity {
		return nil, cverr.Config("ribbon sample rate", "%v Hz needs %d readings, more than %d", p.SampleRate, capacity, maxCapacity)
	}
	return &Ribbon{
		boundary: 1 - p.DropperOhms/(p.DropperOhms+p.SoftpotOhms),
		errConst: (p.SoftpotOhms + p.DropperOhms) / p.PullupOhms,
		ignore:   samples(p.SampleRate, fallTimeUsec),
		discard:  samples(p.SampleRate, riseTimeUsec),
		buf:      make([]float64, capacity),
		input:    1,
	}, nil
}

// Reset forgets the position and any pending edges, as if the ribbon had
// just been powered up with no finger on it.
func (r *Ribbon) Reset() {
	r.head, r.received, r.written = 0, 0, 0
	r.input, r.pos = 1, 0
	r.pressing, r.pressed, r.released = false, false, false
}

// Poll feeds one normalized ADC reading, 0 at ground and 1 at the supply.
func (r *Ribbon) Poll(raw float64) {
	if !(raw < r.boundary) {
		if r.pressing {
			r.released = true
			r.pressing = false
		}
		r.received, r.written = 0, 0
		return
	}
	r.received = min(r.received+1, r.ignore)
	if r.received < r.ignore {
		return
	}
	r.buf[r.head] = raw
	r.head = (r.head + 1) % len(r.buf)
	r.written = min(r.written+1, len(r.buf))
	if r.written < len(r.buf) {
		return
	}

	// r.head is the oldest reading once the buffer is full
	take := len(r.buf) - r.discard
	var sum float64
	for i := 0; i < take; i++ {
		sum += r.buf[(r.head+i)%len(r.buf)]
	}
	pos := sum / float64(take)
	r.pos = pos - r.errorEstimate(pos)
	if !r.pressing {
		r.pressing = true
		r.pressed = true
	}
}

// errorEstimate is the wiper error caused by the pull-up loading the
// softpot, largest mid-travel.
func (r *Ribbon) errorEstimate(pos float64) float64 {
	return (pos - pos*pos) * r.errConst
}

// SetInput stores the reading the next Advance polls.
func (r *Ribbon) SetInput(raw float64) { r.input = raw }

// Advance polls the stored reading once.
func (r *Ribbon) Advance() { r.Poll(r.input) }

// Value returns the last captured position, scaled so the top of the
// ribbon reads close to 1.
func (r *Ribbon) Value() float64 { return r.pos / r.boundary }

// Pressing reports whether a finger is on the ribbon with a valid reading.
func (r *Ribbon) Pressing() bool { return r.pressing }

// TakePressed reports and clears a pending finger press.
func (r *Ribbon) TakePressed() bool {
	p := r.pressed
	r.pressed = false
	return p
}

// TakeReleased reports and clears a pending finger lift.
func (r *Ribbon) TakeReleased() bool {
	l := r.released
	r.released = false
	return l
}
