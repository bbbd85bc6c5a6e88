// Package cv converts decoded MIDI note, velocity, bend and pressure values
// into calibrated control voltages.
package cv

import (
	"math"

	"github.com/cbegin/modcv-go/internal/cverr"
)

const (
	MinNote = 0
	MaxNote = 127
)

// Calibration maps MIDI notes to volts: scale volts per octave, zeroNote
// at 0 V, plus an optional per-note trim in volts. It is immutable after
// construction and safe to share between mappers.
type Calibration struct {
	scale    float64
	zeroNote int
	trims    [MaxNote + 1]float64
	trimmed  bool
	volts    [MaxNote + 1]float64
}

// NewCalibration validates and builds a calibration table. Trims must not
// make the note→volts function decrease anywhere.
func NewCalibration(scale float64, zeroNote int, trims map[int]float64) (*Calibration, error) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, cverr.Config("scale", "must be a positive finite volts-per-octave, got %v", scale)
	}
	if zeroNote < MinNote || zeroNote > MaxNote {
		return nil, cverr.Config("zero note", "must be a MIDI note 0..127, got %d", zeroNote)
	}
	c := &Calibration{scale: scale, zeroNote: zeroNote}
	for note, trim := range trims {
		if note < MinNote || note > MaxNote {
			return nil, cverr.Config("trim", "note %d outside 0..127", note)
		}
		if math.IsNaN(trim) || math.IsInf(trim, 0) {
			return nil, cverr.Config("trim", "note %d trim must be finite, got %v", note, trim)
		}
		c.trims[note] = trim
		c.trimmed = c.trimmed || trim != 0
	}
	for n := MinNote; n <= MaxNote; n++ {
		c.volts[n] = scale*float64(n-zeroNote)/12 + c.trims[n]
		if n > MinNote && c.volts[n] < c.volts[n-1] {
			return nil, cverr.Config("trim", "note %d (%.6f V) is below note %d (%.6f V); trims must keep pitch non-decreasing",
				n, c.volts[n], n-1, c.volts[n-1])
		}
	}
	return c, nil
}

// DefaultCalibration is 1 V/octave with middle C (note 60) at 0 V.
func DefaultCalibration() *Calibration {
	c, _ := NewCalibration(1, 60, nil)
	return c
}

// NoteVolts returns the calibrated voltage for a note in 0..127.
func (c *Calibration) NoteVolts(note int) (float64, error) {
	if err := cverr.CheckRange("note", note, MinNote, MaxNote); err != nil {
		return 0, err
	}
	return c.volts[note], nil
}

// SemitoneVolts converts a semitone interval to volts on this scale.
// Trims do not apply to intervals.
func (c *Calibration) SemitoneVolts(semitones float64) float64 {
	return c.scale * semitones / 12
}

func (c *Calibration) Scale() float64 { return c.scale }

func (c *Calibration) ZeroNote() int { return c.zeroNote }

// Trim returns the trim applied to note, or 0 when none was configured.
func (c *Calibration) Trim(note int) float64 {
	if note < MinNote || note > MaxNote {
		return 0
	}
	return c.trims[note]
}

// Trimmed reports whether any non-zero trim is configured.
func (c *Calibration) Trimmed() bool { return c.trimmed }

// DAC describes a converter's code range and the voltage span it covers.
type DAC struct {
	Bits     int
	MinVolts float64
	MaxVolts float64
}

// NewDAC validates a converter description.
func NewDAC(bits int, minVolts, maxVolts float64) (DAC, error) {
	if bits < 1 || bits > 32 {
		return DAC{}, cverr.Config("dac bits", "must be 1..32, got %d", bits)
	}
	if !(maxVolts > minVolts) || math.IsInf(maxVolts-minVolts, 0) {
		return DAC{}, cverr.Config("dac range", "max %v must exceed min %v", maxVolts, minVolts)
	}
	return DAC{Bits: bits, MinVolts: minVolts, MaxVolts: maxVolts}, nil
}

// MaxCode returns the largest code the converter accepts.
func (d DAC) MaxCode() uint32 {
	return uint32(uint64(1)<<d.Bits - 1)
}

// Code converts volts to the nearest code, clamped to the converter range.
func (d DAC) Code(volts float64) uint32 {
	if !(volts > d.MinVolts) {
		return 0
	}
	if volts >= d.MaxVolts {
		return d.MaxCode()
	}
	max := float64(d.MaxCode())
	return uint32(math.Round((volts - d.MinVolts) / (d.MaxVolts - d.MinVolts) * max))
}

// Volts is the inverse of Code.
func (d DAC) Volts(code uint32) float64 {
	if code > d.MaxCode() {
		code = d.MaxCode()
	}
	return d.MinVolts + float64(code)/float64(d.MaxCode())*(d.MaxVolts-d.MinVolts)
}
