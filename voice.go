package modcv

import (
	"fmt"
	"strconv"
	"strings"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/modcv-go/internal/clock"
	"github.com/cbegin/modcv-go/internal/config"
	"github.com/cbegin/modcv-go/internal/cv"
	"github.com/cbegin/modcv-go/internal/cverr"
	"github.com/cbegin/modcv-go/internal/envelope"
	"github.com/cbegin/modcv-go/internal/lfo"
	"github.com/cbegin/modcv-go/internal/midiin"
	"github.com/cbegin/modcv-go/internal/mod"
	"github.com/cbegin/modcv-go/internal/ribbon"
)

// Patch describes one voice; see LoadPatch.
type Patch = config.Patch

var (
	ErrConfiguration   = cverr.ErrConfiguration
	ErrValueOutOfRange = cverr.ErrValueOutOfRange
	ErrIgnored         = midiin.ErrIgnored
)

// DefaultPatch returns the built-in voice settings.
func DefaultPatch() *Patch { return config.Default() }

// LoadPatch reads a YAML patch file.
func LoadPatch(path string) (*Patch, error) { return config.Load(path) }

// Frame is the state of every output after one tick. Pitch and Note are
// in volts; the other continuous outputs are normalized to [0,1], LFOs are
// in their configured units. Ribbon and Touch stay zero without a ribbon.
type Frame struct {
	Tick      uint64
	Pitch     float64
	Note      float64 // pitch before bend and LFO routes
	Velocity  float64
	Pressure  float64
	Aux       float64 // mod wheel
	Volume    float64
	Cutoff    float64
	Resonance float64
	Envelope  float64
	Ribbon    float64
	Gate      bool
	Touch     bool // finger on the ribbon
	LFO       []float64
}

// Voice is one monophonic MIDI-to-CV channel: a mapper for pitch and
// expression, an envelope driven by its gate, and free-running LFOs, all
// on one clock. A Voice is not safe for concurrent use; Player wraps one
// for live use.
type Voice struct {
	clock       *clock.Clock
	mapper      *cv.Mapper
	receiver    *midiin.Receiver
	env         *envelope.Envelope
	lfos        []*lfo.LFO
	names       []string
	keySync     []*lfo.LFO
	pitchRoutes []mod.Route[*lfo.LFO]
	dac         *cv.DAC
	ribbon      *ribbon.Ribbon
}

// NewVoice builds a voice from a patch.
func NewVoice(p *Patch) (*Voice, error) {
	if p == nil {
		p = config.Default()
	}
	parts, err := p.Build()
	if err != nil {
		return nil, err
	}
	v := &Voice{
		clock:    parts.Clock,
		mapper:   parts.Mapper,
		receiver: parts.Receiver,
		env:      parts.Envelope,
		lfos:     parts.LFOs,
		names:    parts.LFONames,
		dac:      parts.DAC,
		ribbon:   parts.Ribbon,
	}
	for i, l := range parts.LFOs {
		if parts.PitchDepths[i] != 0 {
			v.pitchRoutes = append(v.pitchRoutes, mod.Route[*lfo.LFO]{Source: l, Depth: parts.PitchDepths[i]})
		}
		if parts.KeySync[i] {
			v.keySync = append(v.keySync, l)
		}
	}
	return v, nil
}

// HandleMIDI applies one MIDI message. Messages the voice does not use
// return ErrIgnored.
func (v *Voice) HandleMIDI(msg midi.Message) error {
	return v.receiver.Handle(msg)
}

// Tick feeds pending gate edges to the envelope, advances the clock and
// every source by one tick, and stores the outputs in f. f.LFO is reused
// when it has room, so a Frame kept across calls makes Tick allocation
// free.
func (v *Voice) Tick(f *Frame) {
	if v.mapper.TakeFalling() {
		v.env.Gate(false)
	}
	if v.mapper.TakeRising() {
		v.env.Gate(true)
		for _, l := range v.keySync {
			l.Sync()
		}
	}
	v.clock.Tick()
	v.mapper.Advance()
	v.env.Advance()
	mod.AdvanceAll(v.lfos)
	if v.ribbon != nil {
		v.ribbon.Advance()
		f.Ribbon = v.ribbon.Value()
		f.Touch = v.ribbon.Pressing()
	}

	f.Tick = v.clock.Ticks()
	f.Pitch = v.mapper.PitchCV() + v.mapper.Calibration().SemitoneVolts(mod.Mix(v.pitchRoutes))
	f.Note = v.mapper.NoteCV()
	f.Velocity = v.mapper.VelocityCV()
	f.Pressure = v.mapper.PressureCV()
	f.Aux = v.mapper.ModCV()
	f.Volume = v.mapper.VolumeCV()
	f.Cutoff = v.mapper.CutoffCV()
	f.Resonance = v.mapper.ResonanceCV()
	f.Envelope = v.env.Level()
	f.Gate = v.mapper.Gate()
	f.LFO = f.LFO[:0]
	for _, l := range v.lfos {
		f.LFO = append(f.LFO, l.Value())
	}
}

// Reset returns the envelope, LFOs and clock to their starting state and
// releases every note. Calibration and settings are kept.
func (v *Voice) Reset() {
	v.mapper.AllNotesOff()
	v.mapper.TakeFalling()
	v.mapper.ResetControllers()
	v.env.Reset()
	for _, l := range v.lfos {
		l.Reset()
	}
	if v.ribbon != nil {
		v.ribbon.Reset()
	}
	v.clock.Reset()
}

// SetRibbon stores a normalized ADC reading of the ribbon, polled on the
// next Tick. It does nothing when the patch has no ribbon.
func (v *Voice) SetRibbon(raw float64) {
	if v.ribbon != nil {
		v.ribbon.SetInput(raw)
	}
}

func (v *Voice) Clock() *clock.Clock          { return v.clock }
func (v *Voice) Mapper() *cv.Mapper           { return v.mapper }
func (v *Voice) Envelope() *envelope.Envelope { return v.env }
func (v *Voice) LFONames() []string           { return v.names }

// DAC returns the patch's converter, or nil.
func (v *Voice) DAC() *cv.DAC { return v.dac }

// Ribbon returns the patch's ribbon controller, or nil.
func (v *Voice) Ribbon() *ribbon.Ribbon { return v.ribbon }

// Output selects one CV of a Frame for a physical output.
type Output int

const (
	OutputPitch Output = iota
	OutputGate
	OutputEnvelope
	OutputVelocity
	OutputPressure
	OutputAux
	OutputVolume
	OutputCutoff
	OutputResonance
	OutputNote
	OutputRibbon
	OutputTouch
	// OutputLFO+n is LFO n, counting from 0.
	OutputLFO Output = 100
)

var outputNames = []string{
	"pitch", "gate", "envelope", "velocity", "pressure", "aux", "volume",
	"cutoff", "resonance", "note", "ribbon", "touch",
}

func (o Output) String() string {
	if o >= OutputLFO {
		return "lfo" + strconv.Itoa(int(o-OutputLFO)+1)
	}
	if o >= 0 && int(o) < len(outputNames) {
		return outputNames[o]
	}
	return "unknown"
}

// ParseOutput accepts the names Output.String produces; LFOs are lfo1,
// lfo2 and so on.
func ParseOutput(s string) (Output, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if rest, ok := strings.CutPrefix(s, "lfo"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return 0, cverr.Config("output", "bad lfo output %q", s)
		}
		return OutputLFO + Output(n-1), nil
	}
	for i, name := range outputNames {
		if s == name || (name == "envelope" && s == "env") {
			return Output(i), nil
		}
	}
	return 0, cverr.Config("output", "unknown output %q", s)
}

// Volts returns output o of f. Normalized outputs, the gate and touch are
// scaled to unipolar volts; pitch, note and LFOs are already in volts. An LFO index
// the frame does not have reads as 0.
func (f *Frame) Volts(o Output, unipolar float64) float64 {
	switch o {
	case OutputPitch:
		return f.Pitch
	case OutputNote:
		return f.Note
	case OutputGate:
		if f.Gate {
			return unipolar
		}
		return 0
	case OutputTouch:
		if f.Touch {
			return unipolar
		}
		return 0
	case OutputEnvelope:
		return f.Envelope * unipolar
	case OutputVelocity:
		return f.Velocity * unipolar
	case OutputPressure:
		return f.Pressure * unipolar
	case OutputAux:
		return f.Aux * unipolar
	case OutputVolume:
		return f.Volume * unipolar
	case OutputCutoff:
		return f.Cutoff * unipolar
	case OutputResonance:
		return f.Resonance * unipolar
	case OutputRibbon:
		return f.Ribbon * unipolar
	}
	if i := int(o - OutputLFO); o >= OutputLFO && i < len(f.LFO) {
		return f.LFO[i]
	}
	return 0
}

func (v *Voice) checkOutputs(outs ...Output) error {
	for _, o := range outs {
		if o >= OutputLFO && int(o-OutputLFO) >= len(v.lfos) {
			return cverr.Config("output", "%v: voice has %d LFOs", o, len(v.lfos))
		}
		if o < 0 || (o < OutputLFO && int(o) >= len(outputNames)) {
			return cverr.Config("output", "unknown output %d", int(o))
		}
		if (o == OutputRibbon || o == OutputTouch) && v.ribbon == nil {
			return cverr.Config("output", "%v: voice has no ribbon", o)
		}
	}
	return nil
}

func (v *Voice) String() string {
	return fmt.Sprintf("voice(%g Hz, %d LFOs)", v.clock.Rate(), len(v.lfos))
}
