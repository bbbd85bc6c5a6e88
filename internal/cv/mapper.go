package cv

import (
	"github.com/cbegin/modcv-go/internal/cverr"
	"github.com/cbegin/modcv-go/internal/ramp"
)

// Pitch bend is handled as a signed 14-bit value.
const (
	BendMin = -8192
	BendMax = 8191
)

// MaxHeldNotes bounds the held-note stack; a note pressed while it is full
// evicts the oldest held note.
const MaxHeldNotes = 32

// NotePriority picks the sounding note among the held ones.
type NotePriority int

const (
	PriorityLast NotePriority = iota
	PriorityHigh
	PriorityLow
)

func (p NotePriority) String() string {
	switch p {
	case PriorityLast:
		return "last"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type Config struct {
	Calibration *Calibration   // nil means DefaultCalibration
	Velocity    *VelocityCurve // nil means LinearVelocity
	BendRange   float64        // semitones at full bend
	GlideTicks  int            // 0 disables glide
	GlideCurve  ramp.Curve
	// LegatoGlide only glides when the new note is played over a held one.
	LegatoGlide bool
	Priority    NotePriority
	// Retrigger produces a rising gate edge for every note-on, not only the
	// first one of a phrase.
	Retrigger bool
}

func DefaultConfig() Config {
	return Config{
		BendRange:  2,
		GlideCurve: ramp.Linear,
		Priority:   PriorityLast,
	}
}

// Mapper converts one monophonic MIDI voice into control voltages. Events
// apply synchronously; Advance moves the pitch glide one tick. A Mapper is
// not safe for concurrent use.
type Mapper struct {
	cal         *Calibration
	vel         VelocityCurve
	bendRange   float64
	glideTicks  int
	glideCurve  ramp.Curve
	glideOn     bool
	legatoGlide bool
	priority    NotePriority
	retrigger   bool

	held    [MaxHeldNotes]uint8
	nheld   int
	note    int
	played  bool
	glide   ramp.Segment
	gate    bool
	sustain bool
	rising  bool
	falling bool

	velocity  float64
	bend      int
	bendVolts float64
	pressure  float64
	modWheel  float64
	volume    float64
	cutoff    float64
	resonance float64
}

// NewMapper validates cfg and returns a mapper resting on the calibration's
// zero note with the gate closed.
func NewMapper(cfg Config) (*Mapper, error) {
	if cfg.Calibration == nil {
		cfg.Calibration = DefaultCalibration()
	}
	vel := LinearVelocity()
	if cfg.Velocity != nil {
		vel = *cfg.Velocity
	}
	switch {
	case !(cfg.BendRange >= 0 && cfg.BendRange <= 96):
		return nil, cverr.Config("bend range", "must be 0..96 semitones, got %v", cfg.BendRange)
	case cfg.GlideTicks < 0:
		return nil, cverr.Config("glide", "must be >= 0 ticks, got %d", cfg.GlideTicks)
	case !cfg.GlideCurve.Valid():
		return nil, cverr.Config("glide curve", "unknown curve %d", cfg.GlideCurve)
	case cfg.Priority < PriorityLast || cfg.Priority > PriorityLow:
		return nil, cverr.Config("note priority", "unknown priority %d", cfg.Priority)
	case vel.Max() <= 0:
		return nil, cverr.Config("velocity curve", "maps velocity 127 to %v", vel.Max())
	}
	m := &Mapper{
		cal:         cfg.Calibration,
		vel:         vel,
		bendRange:   cfg.BendRange,
		glideTicks:  cfg.GlideTicks,
		glideCurve:  cfg.GlideCurve,
		glideOn:     true,
		legatoGlide: cfg.LegatoGlide,
		priority:    cfg.Priority,
		retrigger:   cfg.Retrigger,
		note:        cfg.Calibration.ZeroNote(),
		volume:      100.0 / 127,
	}
	m.glide.Hold(m.cal.volts[m.note])
	return m, nil
}

// NoteOn presses note. Velocity 0 is a note-off, as in MIDI.
func (m *Mapper) NoteOn(note, velocity int) error {
	if err := cverr.CheckRange("note", note, MinNote, MaxNote); err != nil {
		return err
	}
	if err := cverr.CheckRange("velocity", velocity, 0, 127); err != nil {
		return err
	}
	if velocity == 0 {
		return m.NoteOff(note)
	}
	v, err := m.vel.Map(velocity)
	if err != nil {
		return err
	}
	legato := m.gate
	m.remove(uint8(note))
	if m.nheld == MaxHeldNotes {
		copy(m.held[:], m.held[1:])
		m.nheld--
	}
	m.held[m.nheld] = uint8(note)
	m.nheld++

	m.velocity = v
	m.gate = true
	m.falling = false
	if !legato || m.retrigger {
		m.rising = true
	}
	m.retarget(legato)
	return nil
}

// NoteOff releases note. Releasing a note that is not held is a no-op.
func (m *Mapper) NoteOff(note int) error {
	if err := cverr.CheckRange("note", note, MinNote, MaxNote); err != nil {
		return err
	}
	if !m.remove(uint8(note)) {
		return nil
	}
	if m.nheld == 0 {
		if !m.sustain {
			m.closeGate()
		}
		return nil
	}
	if next := m.choose(); next != m.note {
		m.retarget(true)
	}
	return nil
}

func (m *Mapper) closeGate() {
	m.gate = false
	m.rising = false
	m.falling = true
}

// AllNotesOff clears the held-note stack and closes the gate, sustained
// or not.
func (m *Mapper) AllNotesOff() {
	if m.gate {
		m.falling = true
	}
	m.nheld = 0
	m.gate = false
	m.rising = false
}

// PitchBend sets the signed 14-bit bend, -8192..8191. The extremes map to
// exactly ±BendRange semitones.
func (m *Mapper) PitchBend(value int) error {
	if err := cverr.CheckRange("pitch bend", value, BendMin, BendMax); err != nil {
		return err
	}
	var semis float64
	switch {
	case value < 0:
		semis = float64(value) / -BendMin * m.bendRange
	case value > 0:
		semis = float64(value) / BendMax * m.bendRange
	}
	m.bend = value
	m.bendVolts = m.cal.SemitoneVolts(semis)
	return nil
}

// PitchBendRaw accepts the unsigned wire form 0..16383, centre 8192.
func (m *Mapper) PitchBendRaw(raw int) error {
	if err := cverr.CheckRange("pitch bend", raw, 0, 16383); err != nil {
		return err
	}
	return m.PitchBend(raw - 8192)
}

// ChannelPressure sets aftertouch, 0..127.
func (m *Mapper) ChannelPressure(value int) error {
	if err := cverr.CheckRange("channel pressure", value, 0, 127); err != nil {
		return err
	}
	m.pressure = float64(value) / 127
	return nil
}

// ModWheel sets the modulation wheel, 0..127.
func (m *Mapper) ModWheel(value int) error {
	if err := cverr.CheckRange("mod wheel", value, 0, 127); err != nil {
		return err
	}
	m.modWheel = float64(value) / 127
	return nil
}

// Volume sets channel volume, 0..127. It is not affected by
// ResetControllers.
func (m *Mapper) Volume(value int) error {
	if err := cverr.CheckRange("volume", value, 0, 127); err != nil {
		return err
	}
	m.volume = float64(value) / 127
	return nil
}

// Cutoff sets the filter cutoff controller, 0..127.
func (m *Mapper) Cutoff(value int) error {
	if err := cverr.CheckRange("cutoff", value, 0, 127); err != nil {
		return err
	}
	m.cutoff = float64(value) / 127
	return nil
}

// Resonance sets the filter resonance controller, 0..127.
func (m *Mapper) Resonance(value int) error {
	if err := cverr.CheckRange("resonance", value, 0, 127); err != nil {
		return err
	}
	m.resonance = float64(value) / 127
	return nil
}

// SetSustain switches the sustain pedal. While it is down, releasing the
// last held note leaves the gate open; lifting it closes a gate no key is
// holding.
func (m *Mapper) SetSustain(on bool) {
	m.sustain = on
	if !on && m.gate && m.nheld == 0 {
		m.closeGate()
	}
}

// SetGlideTicks changes the glide time for subsequent notes.
func (m *Mapper) SetGlideTicks(ticks int) error {
	if err := cverr.CheckRange("glide", ticks, 0, 1<<30); err != nil {
		return err
	}
	m.glideTicks = ticks
	return nil
}

// SetGlide switches glide on or off without forgetting the glide time.
func (m *Mapper) SetGlide(on bool) {
	m.glideOn = on
}

// ResetControllers returns bend, pressure, mod wheel, the filter
// controllers, sustain and the glide switch to their defaults.
func (m *Mapper) ResetControllers() {
	m.bend = 0
	m.bendVolts = 0
	m.pressure = 0
	m.modWheel = 0
	m.cutoff = 0
	m.resonance = 0
	m.glideOn = true
	m.SetSustain(false)
}

// Advance applies one tick of glide.
func (m *Mapper) Advance() {
	m.glide.Step()
}

// PitchCV returns the gliding note voltage plus the bend.
func (m *Mapper) PitchCV() float64 {
	return m.glide.Value() + m.bendVolts
}

// NoteCV returns the gliding note voltage without bend.
func (m *Mapper) NoteCV() float64 { return m.glide.Value() }

// VelocityCV returns the curve output for the last note-on, in [0,1].
func (m *Mapper) VelocityCV() float64 { return m.velocity }

// PressureCV returns channel pressure in [0,1].
func (m *Mapper) PressureCV() float64 { return m.pressure }

// ModCV returns the mod wheel in [0,1].
func (m *Mapper) ModCV() float64 { return m.modWheel }

// VolumeCV returns channel volume in [0,1]; it starts at 100/127.
func (m *Mapper) VolumeCV() float64 { return m.volume }

// CutoffCV returns the filter cutoff controller in [0,1].
func (m *Mapper) CutoffCV() float64 { return m.cutoff }

// ResonanceCV returns the filter resonance controller in [0,1].
func (m *Mapper) ResonanceCV() float64 { return m.resonance }

// Sustained reports whether the sustain pedal is down.
func (m *Mapper) Sustained() bool { return m.sustain }

// GlideTicks returns the configured glide time.
func (m *Mapper) GlideTicks() int { return m.glideTicks }

// GlideEnabled reports the glide switch.
func (m *Mapper) GlideEnabled() bool { return m.glideOn }

// Note returns the sounding (or last sounded) note.
func (m *Mapper) Note() int { return m.note }

// Bend returns the signed bend value.
func (m *Mapper) Bend() int { return m.bend }

// Gate reports whether any note is held or sustained.
func (m *Mapper) Gate() bool { return m.gate }

// Held returns the number of held notes.
func (m *Mapper) Held() int { return m.nheld }

// Gliding reports whether the pitch is still moving toward its target.
func (m *Mapper) Gliding() bool { return !m.glide.Done() }

// TakeRising reports and clears a pending rising gate edge.
func (m *Mapper) TakeRising() bool {
	r := m.rising
	m.rising = false
	return r
}

// TakeFalling reports and clears a pending falling gate edge.
func (m *Mapper) TakeFalling() bool {
	f := m.falling
	m.falling = false
	return f
}

func (m *Mapper) Calibration() *Calibration { return m.cal }

func (m *Mapper) retarget(legato bool) {
	m.note = m.choose()
	target := m.cal.volts[m.note]
	glide := m.glideOn && m.glideTicks > 0 && m.played && (legato || !m.legatoGlide)
	if glide {
		m.glide.Begin(m.glideCurve, m.glide.Value(), target, m.glideTicks)
	} else {
		m.glide.Hold(target)
	}
	m.played = true
}

func (m *Mapper) choose() int {
	if m.nheld == 0 {
		return m.note
	}
	n := m.held[m.nheld-1]
	switch m.priority {
	case PriorityHigh:
		for _, h := range m.held[:m.nheld] {
			n = max(n, h)
		}
	case PriorityLow:
		for _, h := range m.held[:m.nheld] {
			n = min(n, h)
		}
	}
	return int(n)
}

func (m *Mapper) remove(note uint8) bool {
	for i := 0; i < m.nheld; i++ {
		if m.held[i] == note {
			copy(m.held[i:m.nheld], m.held[i+1:m.nheld])
			m.nheld--
			return true
		}
	}
	return false
}
