package cv

import (
	"math"

	"github.com/cbegin/modcv-go/internal/cverr"
)

// CurveKind selects a velocity response.
type CurveKind int

const (
	VelocityLinear CurveKind = iota
	// VelocityExponential maps velocity onto a decibel scale so equal
	// velocity steps give roughly equal loudness steps.
	VelocityExponential
	VelocityTable
)

func (k CurveKind) String() string {
	switch k {
	case VelocityLinear:
		return "linear"
	case VelocityExponential:
		return "exponential"
	case VelocityTable:
		return "table"
	default:
		return "unknown"
	}
}

// DefaultDynamicRangeDB is the span of the exponential curve between
// velocity 1 and velocity 127.
const DefaultDynamicRangeDB = 40

// VelocityCurve maps MIDI velocity 1..127 to [0,1]. Velocity 127 always
// maps to the curve's maximum.
type VelocityCurve struct {
	kind CurveKind
	out  [128]float64 // index = velocity; 0 unused
}

// LinearVelocity maps v to v/127.
func LinearVelocity() VelocityCurve {
	var c VelocityCurve
	c.kind = VelocityLinear
	for v := 1; v <= 127; v++ {
		c.out[v] = float64(v) / 127
	}
	return c
}

// ExponentialVelocity maps velocity onto rangeDB decibels of attenuation,
// 127 being 0 dB (output 1).
func ExponentialVelocity(rangeDB float64) (VelocityCurve, error) {
	if !(rangeDB > 0) || math.IsInf(rangeDB, 0) {
		return VelocityCurve{}, cverr.Config("velocity range", "must be a positive number of dB, got %v", rangeDB)
	}
	var c VelocityCurve
	c.kind = VelocityExponential
	for v := 1; v <= 127; v++ {
		db := (float64(v)/127 - 1) * rangeDB
		c.out[v] = math.Pow(10, db/20)
	}
	return c, nil
}

// TableVelocity uses a 127-entry lookup table for velocities 1..127. The
// table must stay within [0,1] and must not decrease.
func TableVelocity(table []float64) (VelocityCurve, error) {
	if len(table) != 127 {
		return VelocityCurve{}, cverr.Config("velocity table", "needs 127 entries, got %d", len(table))
	}
	var c VelocityCurve
	c.kind = VelocityTable
	for i, x := range table {
		if !(x >= 0 && x <= 1) {
			return VelocityCurve{}, cverr.Config("velocity table", "entry for velocity %d must be in [0,1], got %v", i+1, x)
		}
		if i > 0 && x < table[i-1] {
			return VelocityCurve{}, cverr.Config("velocity table", "entry for velocity %d decreases", i+1)
		}
		c.out[i+1] = x
	}
	return c, nil
}

// Map returns the curve output for velocity 1..127. Velocity 0 is a
// note-off in MIDI and is rejected here.
func (c VelocityCurve) Map(velocity int) (float64, error) {
	if err := cverr.CheckRange("velocity", velocity, 1, 127); err != nil {
		return 0, err
	}
	return c.out[velocity], nil
}

func (c VelocityCurve) Kind() CurveKind { return c.kind }

// Max returns the curve output at velocity 127.
func (c VelocityCurve) Max() float64 { return c.out[127] }
