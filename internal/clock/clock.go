// Package clock provides the control-rate time base shared by all
// modulation sources.
package clock

import (
	"math"
	"sync/atomic"

	"github.com/cbegin/modcv-go/internal/cverr"
)

// Clock counts control-rate ticks. The counter is an unsigned 64-bit value
// that wraps; it may be read from any goroutine while one goroutine ticks it.
type Clock struct {
	ticks  atomic.Uint64
	period float64
}

// New returns a clock whose ticks are periodSec seconds apart.
func New(periodSec float64) (*Clock, error) {
	if !(periodSec > 0) || math.IsInf(periodSec, 0) {
		return nil, cverr.Config("tick period", "must be a positive finite number of seconds, got %v", periodSec)
	}
	return &Clock{period: periodSec}, nil
}

// NewRate returns a clock ticking rateHz times per second.
func NewRate(rateHz float64) (*Clock, error) {
	if !(rateHz > 0) || math.IsInf(rateHz, 0) {
		return nil, cverr.Config("tick rate", "must be a positive finite number of Hz, got %v", rateHz)
	}
	return New(1 / rateHz)
}

// Tick advances the clock by one control period.
func (c *Clock) Tick() {
	c.ticks.Add(1)
}

// Ticks returns the number of ticks since construction or the last Reset.
func (c *Clock) Ticks() uint64 {
	return c.ticks.Load()
}

// Period returns the tick period in seconds.
func (c *Clock) Period() float64 {
	return c.period
}

// Rate returns the tick rate in Hz.
func (c *Clock) Rate() float64 {
	return 1 / c.period
}

// Elapsed returns the elapsed time in seconds. It is only meaningful until
// the counter wraps.
func (c *Clock) Elapsed() float64 {
	return float64(c.Ticks()) * c.period
}

// TicksFor converts a duration in seconds to a whole number of ticks,
// rounding to nearest. Negative durations map to 0.
func (c *Clock) TicksFor(seconds float64) int {
	if !(seconds > 0) {
		return 0
	}
	n := math.Round(seconds / c.period)
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// Reset sets the tick count back to zero.
func (c *Clock) Reset() {
	c.ticks.Store(0)
}
