package cv

import "math"

// Scale masks are 12-bit sets of allowed pitch classes, bit 0 = C.
const (
	ScaleChromatic  uint16 = 0x0FFF
	ScaleMajor      uint16 = 1<<0 | 1<<2 | 1<<4 | 1<<5 | 1<<7 | 1<<9 | 1<<11
	ScaleMinor      uint16 = 1<<0 | 1<<2 | 1<<3 | 1<<5 | 1<<7 | 1<<8 | 1<<10
	ScalePentatonic uint16 = 1<<0 | 1<<2 | 1<<4 | 1<<7 | 1<<9
)

// quantizerHysteresis widens the current step's capture window by this
// many volts on each side.
const quantizerHysteresis = 0.25 / 12

// Conversion is the result of quantizing an input voltage.
type Conversion struct {
	Note      int     // semitones above 0 V
	Stairstep float64 // Note expressed in volts
	Fraction  float64 // input minus Stairstep
}

// Quantizer snaps a 1 V/octave input to the nearest allowed semitone.
// The input is clamped to [0, 10] V.
type Quantizer struct {
	allowed uint16
	last    Conversion
	primed  bool
}

const quantizerMaxVolts = 10.0

func NewQuantizer(scale uint16) *Quantizer {
	q := &Quantizer{}
	q.SetScale(scale)
	return q
}

// SetScale replaces the allowed pitch classes. An empty mask allows C only.
func (q *Quantizer) SetScale(scale uint16) {
	scale &= ScaleChromatic
	if scale == 0 {
		scale = 1
	}
	q.allowed = scale
	q.primed = false
}

func (q *Quantizer) Allowed(pitchClass int) bool {
	return q.allowed>>(pitchClass%12)&1 == 1
}

// Convert quantizes volts.
func (q *Quantizer) Convert(volts float64) Conversion {
	if q.primed && q.Allowed(q.last.Note) {
		if math.Abs(volts-q.last.Stairstep) < 0.5/12+quantizerHysteresis {
			q.last.Fraction = volts - q.last.Stairstep
			return q.last
		}
	}
	v := math.Max(0, math.Min(volts, quantizerMaxVolts))
	note := q.nearest(v)
	q.last = Conversion{Note: note, Stairstep: float64(note) / 12, Fraction: v - float64(note)/12}
	q.primed = true
	return q.last
}

// nearest searches the octave containing v and its neighbours. The search
// is bounded at 36 candidates.
func (q *Quantizer) nearest(v float64) int {
	target := v * 12
	octave := int(math.Floor(v))
	best, bestDist := 0, math.Inf(1)
	for o := octave - 1; o <= octave+1; o++ {
		if o < 0 || float64(o) > quantizerMaxVolts {
			continue
		}
		for pc := 0; pc < 12; pc++ {
			if q.allowed>>pc&1 == 0 {
				continue
			}
			n := o*12 + pc
			if d := math.Abs(float64(n) - target); d < bestDist {
				best, bestDist = n, d
			}
		}
	}
	return best
}

// Quantize snaps a pitch CV on calibration c to q's scale. The CV is
// measured in semitones from note 0 before quantizing, so notes below the
// zero note keep their pitch and pitch classes follow MIDI note numbers.
// Trims are not applied to the result.
func (q *Quantizer) Quantize(c *Calibration, volts float64) float64 {
	base := c.SemitoneVolts(float64(-c.zeroNote))
	return q.Convert((volts-base)/c.scale).Stairstep*c.scale + base
}
