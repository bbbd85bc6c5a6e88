// Package config loads YAML patch files and builds the modulation parts
// they describe.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/modcv-go/internal/clock"
	"github.com/cbegin/modcv-go/internal/cv"
	"github.com/cbegin/modcv-go/internal/cverr"
	"github.com/cbegin/modcv-go/internal/envelope"
	"github.com/cbegin/modcv-go/internal/lfo"
	"github.com/cbegin/modcv-go/internal/midiin"
	"github.com/cbegin/modcv-go/internal/ramp"
	"github.com/cbegin/modcv-go/internal/ribbon"
)

// Patch is the on-disk description of one voice. Times are in seconds and
// are converted to ticks at the patch's control rate.
type Patch struct {
	ControlRate float64          `yaml:"control_rate"`
	Channel     int              `yaml:"channel"` // 1..16, 0 for omni
	Envelope    EnvelopePatch    `yaml:"envelope"`
	LFOs        []LFOPatch       `yaml:"lfos,omitempty"`
	Calibration CalibrationPatch `yaml:"calibration"`
	Velocity    VelocityPatch    `yaml:"velocity"`
	Glide       GlidePatch       `yaml:"glide"`
	BendRange   float64          `yaml:"bend_range"`
	Priority    string           `yaml:"priority"`
	Retrigger   bool             `yaml:"retrigger,omitempty"`
	DAC         *DACPatch        `yaml:"dac,omitempty"`
	Ribbon      *RibbonPatch     `yaml:"ribbon,omitempty"`
}

type EnvelopePatch struct {
	Attack    float64 `yaml:"attack"`
	Decay     float64 `yaml:"decay"`
	Sustain   float64 `yaml:"sustain"`
	Release   float64 `yaml:"release"`
	Curve     string  `yaml:"curve"`
	Legato    bool    `yaml:"legato,omitempty"`
	HardReset bool    `yaml:"hard_reset,omitempty"`
}

type LFOPatch struct {
	Name       string   `yaml:"name"`
	Waveform   string   `yaml:"waveform"`
	Rate       float64  `yaml:"rate"`
	Amplitude  *float64 `yaml:"amplitude,omitempty"` // nil means 1
	Offset     float64  `yaml:"offset,omitempty"`
	Duty       float64  `yaml:"duty,omitempty"`
	Seed       uint64   `yaml:"seed,omitempty"`
	PitchDepth float64  `yaml:"pitch_depth,omitempty"` // semitones added to pitch per unit of output
	KeySync    bool     `yaml:"key_sync,omitempty"`    // restart the cycle on every rising gate
}

type CalibrationPatch struct {
	Scale    float64         `yaml:"scale"`
	ZeroNote int             `yaml:"zero_note"`
	Trims    map[int]float64 `yaml:"trims,omitempty"`
}

type VelocityPatch struct {
	Curve   string    `yaml:"curve"`
	RangeDB float64   `yaml:"range_db,omitempty"`
	Table   []float64 `yaml:"table,omitempty"`
}

type GlidePatch struct {
	Time    float64 `yaml:"time"`
	MaxTime float64 `yaml:"max_time"` // glide time at portamento CC 127
	Curve   string  `yaml:"curve"`
	Legato  bool    `yaml:"legato,omitempty"`
}

type DACPatch struct {
	Bits int     `yaml:"bits"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

// RibbonPatch describes a softpot ribbon read once per control tick.
// Zero resistances take the ribbon package defaults.
type RibbonPatch struct {
	SoftpotOhms float64 `yaml:"softpot_ohms"`
	DropperOhms float64 `yaml:"dropper_ohms"`
	PullupOhms  float64 `yaml:"pullup_ohms"`
}

// Default returns the patch used for fields a file leaves out.
func Default() *Patch {
	return &Patch{
		ControlRate: 1000,
		Envelope: EnvelopePatch{
			Attack:  0.01,
			Decay:   0.1,
			Sustain: 0.7,
			Release: 0.2,
			Curve:   ramp.Linear.String(),
		},
		Calibration: CalibrationPatch{Scale: 1, ZeroNote: 60},
		Velocity:    VelocityPatch{Curve: cv.VelocityLinear.String()},
		Glide:       GlidePatch{MaxTime: 2, Curve: ramp.Linear.String()},
		BendRange:   2,
		Priority:    cv.PriorityLast.String(),
	}
}

// Load reads a patch file.
func Load(path string) (*Patch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open patch: %w", err)
	}
	defer f.Close()
	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Decode reads a patch over Default. Unknown keys are an error; an empty
// document yields the defaults.
func Decode(r io.Reader) (*Patch, error) {
	p := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, &cverr.ConfigError{Field: "patch", Reason: err.Error()}
	}
	return p, nil
}

// Encode writes p as YAML.
func Encode(w io.Writer, p *Patch) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	return enc.Close()
}

// Parts are the constructed components of a patch, sharing one clock.
type Parts struct {
	Clock       *clock.Clock
	Envelope    *envelope.Envelope
	LFOs        []*lfo.LFO
	LFONames    []string
	PitchDepths []float64 // per LFO, semitones per unit of output
	KeySync     []bool
	Mapper      *cv.Mapper
	Receiver    *midiin.Receiver
	DAC         *cv.DAC        // nil when the patch names no converter
	Ribbon      *ribbon.Ribbon // nil when the patch names no ribbon
}

// Build validates p and constructs its parts. Every error wraps
// cverr.ErrConfiguration.
func (p *Patch) Build() (*Parts, error) {
	clk, err := clock.NewRate(p.ControlRate)
	if err != nil {
		return nil, err
	}
	parts := &Parts{Clock: clk}

	curve, err := parseCurve("envelope curve", p.Envelope.Curve)
	if err != nil {
		return nil, err
	}
	ep := envelope.ParamsFromSeconds(clk, p.Envelope.Attack, p.Envelope.Decay, p.Envelope.Sustain, p.Envelope.Release, curve)
	ep.Legato = p.Envelope.Legato
	ep.HardReset = p.Envelope.HardReset
	for name, sec := range map[string]float64{"attack": p.Envelope.Attack, "decay": p.Envelope.Decay, "release": p.Envelope.Release} {
		if !(sec >= 0) {
			return nil, cverr.Config("envelope "+name, "must be >= 0 seconds, got %v", sec)
		}
	}
	if parts.Envelope, err = envelope.New(clk, ep); err != nil {
		return nil, err
	}

	for i, lp := range p.LFOs {
		l, err := buildLFO(clk, lp)
		if err != nil {
			return nil, fmt.Errorf("lfo %d: %w", i, err)
		}
		name := lp.Name
		if name == "" {
			name = fmt.Sprintf("lfo%d", i+1)
		}
		if math.IsNaN(lp.PitchDepth) || math.Abs(lp.PitchDepth) > 96 {
			return nil, fmt.Errorf("lfo %d: %w", i, cverr.Config("pitch depth", "must be within ±96 semitones, got %v", lp.PitchDepth))
		}
		parts.LFOs = append(parts.LFOs, l)
		parts.LFONames = append(parts.LFONames, name)
		parts.PitchDepths = append(parts.PitchDepths, lp.PitchDepth)
		parts.KeySync = append(parts.KeySync, lp.KeySync)
	}

	mc, maxGlide, err := p.mapperConfig(clk)
	if err != nil {
		return nil, err
	}
	if parts.Mapper, err = cv.NewMapper(mc); err != nil {
		return nil, err
	}
	if p.Channel < 0 || p.Channel > 16 {
		return nil, cverr.Config("channel", "must be 1..16, or 0 for omni, got %d", p.Channel)
	}
	ch := midiin.Omni
	if p.Channel > 0 {
		ch = p.Channel - 1
	}
	if parts.Receiver, err = midiin.New(parts.Mapper, midiin.WithChannel(ch), midiin.WithMaxGlideTicks(maxGlide)); err != nil {
		return nil, err
	}

	if p.DAC != nil {
		d, err := cv.NewDAC(p.DAC.Bits, p.DAC.Min, p.DAC.Max)
		if err != nil {
			return nil, err
		}
		parts.DAC = &d
	}
	if p.Ribbon != nil {
		rp := ribbon.DefaultParams(clk.Rate())
		if p.Ribbon.SoftpotOhms != 0 {
			rp.SoftpotOhms = p.Ribbon.SoftpotOhms
		}
		if p.Ribbon.DropperOhms != 0 {
			rp.DropperOhms = p.Ribbon.DropperOhms
		}
		if p.Ribbon.PullupOhms != 0 {
			rp.PullupOhms = p.Ribbon.PullupOhms
		}
		if parts.Ribbon, err = ribbon.New(rp); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

func (p *Patch) mapperConfig(clk *clock.Clock) (cv.Config, int, error) {
	cal, err := cv.NewCalibration(p.Calibration.Scale, p.Calibration.ZeroNote, p.Calibration.Trims)
	if err != nil {
		return cv.Config{}, 0, err
	}
	vel, err := buildVelocity(p.Velocity)
	if err != nil {
		return cv.Config{}, 0, err
	}
	glideCurve, err := parseCurve("glide curve", p.Glide.Curve)
	if err != nil {
		return cv.Config{}, 0, err
	}
	prio, err := parsePriority(p.Priority)
	if err != nil {
		return cv.Config{}, 0, err
	}
	if !(p.Glide.Time >= 0) || !(p.Glide.MaxTime >= 0) {
		return cv.Config{}, 0, cverr.Config("glide", "times must be >= 0 seconds")
	}
	return cv.Config{
		Calibration: cal,
		Velocity:    &vel,
		BendRange:   p.BendRange,
		GlideTicks:  clk.TicksFor(p.Glide.Time),
		GlideCurve:  glideCurve,
		LegatoGlide: p.Glide.Legato,
		Priority:    prio,
		Retrigger:   p.Retrigger,
	}, clk.TicksFor(p.Glide.MaxTime), nil
}

func buildLFO(clk *clock.Clock, lp LFOPatch) (*lfo.LFO, error) {
	w, err := parseWaveform(lp.Waveform)
	if err != nil {
		return nil, err
	}
	params := lfo.DefaultParams()
	params.Waveform = w
	params.RateHz = lp.Rate
	if lp.Amplitude != nil {
		params.Amplitude = *lp.Amplitude
	}
	params.Offset = lp.Offset
	if lp.Duty != 0 {
		params.Duty = lp.Duty
	}
	if lp.Seed != 0 {
		params.Seed = lp.Seed
	}
	return lfo.New(clk, params)
}

func buildVelocity(vp VelocityPatch) (cv.VelocityCurve, error) {
	switch strings.ToLower(vp.Curve) {
	case "", cv.VelocityLinear.String():
		return cv.LinearVelocity(), nil
	case cv.VelocityExponential.String():
		db := vp.RangeDB
		if db == 0 {
			db = cv.DefaultDynamicRangeDB
		}
		return cv.ExponentialVelocity(db)
	case cv.VelocityTable.String():
		return cv.TableVelocity(vp.Table)
	default:
		return cv.VelocityCurve{}, cverr.Config("velocity curve", "unknown curve %q", vp.Curve)
	}
}

func parseCurve(field, s string) (ramp.Curve, error) {
	for _, c := range []ramp.Curve{ramp.Linear, ramp.Exponential} {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	if s == "" {
		return ramp.Linear, nil
	}
	return 0, cverr.Config(field, "unknown curve %q", s)
}

func parseWaveform(s string) (lfo.Waveform, error) {
	for w := lfo.WaveSine; w.Valid(); w++ {
		if strings.EqualFold(s, w.String()) {
			return w, nil
		}
	}
	return 0, cverr.Config("waveform", "unknown waveform %q", s)
}

func parsePriority(s string) (cv.NotePriority, error) {
	for _, p := range []cv.NotePriority{cv.PriorityLast, cv.PriorityHigh, cv.PriorityLow} {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	if s == "" {
		return cv.PriorityLast, nil
	}
	return 0, cverr.Config("priority", "unknown note priority %q", s)
}
