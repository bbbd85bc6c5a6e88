// Package midiin decodes MIDI channel messages and applies them to a
// cv.Mapper.
package midiin

import (
	"errors"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/modcv-go/internal/cv"
	"github.com/cbegin/modcv-go/internal/cverr"
)

// Omni accepts messages on every channel.
const Omni = -1

// Controller numbers the receiver understands.
const (
	CCModWheel         = 1
	CCPortamentoTime   = 5
	CCVolume           = 7
	CCSustain          = 64
	CCPortamentoSwitch = 65
	CCCutoff           = 71
	CCResonance        = 74
	CCResetControllers = 121
	CCAllNotesOff      = 123
)

// DefaultMaxGlideTicks is the glide time CC 5 = 127 maps to when no other
// maximum is configured.
const DefaultMaxGlideTicks = 1000

// ErrIgnored is returned by Handle for well-formed messages the receiver
// has no use for: other channels, system messages, unknown controllers.
var ErrIgnored = errors.New("midi message ignored")

type Option func(*Receiver)

// WithChannel restricts the receiver to one channel, 0..15, or Omni.
func WithChannel(ch int) Option {
	return func(r *Receiver) {
		r.channel = ch
	}
}

// WithMaxGlideTicks sets the glide time reached by portamento time 127.
func WithMaxGlideTicks(ticks int) Option {
	return func(r *Receiver) {
		r.maxGlide = ticks
	}
}

// Receiver routes one MIDI channel to a Mapper. It is not safe for
// concurrent use; callers serialise Handle with the mapper's Advance.
type Receiver struct {
	mapper   *cv.Mapper
	channel  int
	maxGlide int
	handled  uint64
	ignored  uint64
}

func New(m *cv.Mapper, opts ...Option) (*Receiver, error) {
	if m == nil {
		return nil, cverr.Config("mapper", "must not be nil")
	}
	r := &Receiver{mapper: m, channel: Omni, maxGlide: DefaultMaxGlideTicks}
	for _, opt := range opts {
		opt(r)
	}
	if r.channel != Omni && (r.channel < 0 || r.channel > 15) {
		return nil, cverr.Config("channel", "must be 0..15 or omni, got %d", r.channel)
	}
	if r.maxGlide < 0 {
		return nil, cverr.Config("max glide", "must be >= 0 ticks, got %d", r.maxGlide)
	}
	return r, nil
}

// Handle applies msg. Messages for other channels and message types the
// mapper does not use return ErrIgnored; mapper range errors are passed
// through unchanged.
func (r *Receiver) Handle(msg midi.Message) error {
	var ch, key, vel, ctl, val uint8
	var rel int16
	var abs uint16
	var err error
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		if !r.accepts(ch) {
			return r.ignore()
		}
		err = r.mapper.NoteOn(int(key), int(vel))
	case msg.GetNoteEnd(&ch, &key):
		if !r.accepts(ch) {
			return r.ignore()
		}
		err = r.mapper.NoteOff(int(key))
	case msg.GetPitchBend(&ch, &rel, &abs):
		if !r.accepts(ch) {
			return r.ignore()
		}
		err = r.mapper.PitchBend(int(rel))
	case msg.GetAfterTouch(&ch, &val):
		if !r.accepts(ch) {
			return r.ignore()
		}
		err = r.mapper.ChannelPressure(int(val))
	case msg.GetControlChange(&ch, &ctl, &val):
		if !r.accepts(ch) {
			return r.ignore()
		}
		err = r.control(ctl, val)
	default:
		return r.ignore()
	}
	if err == nil {
		r.handled++
	}
	return err
}

func (r *Receiver) control(ctl, val uint8) error {
	switch ctl {
	case CCModWheel:
		return r.mapper.ModWheel(int(val))
	case CCPortamentoTime:
		return r.mapper.SetGlideTicks(int(val) * r.maxGlide / 127)
	case CCVolume:
		return r.mapper.Volume(int(val))
	case CCSustain:
		r.mapper.SetSustain(val >= 64)
	case CCPortamentoSwitch:
		r.mapper.SetGlide(val >= 64)
	case CCCutoff:
		return r.mapper.Cutoff(int(val))
	case CCResonance:
		return r.mapper.Resonance(int(val))
	case CCResetControllers:
		r.mapper.ResetControllers()
	case CCAllNotesOff:
		r.mapper.AllNotesOff()
	default:
		r.ignored++
		return ErrIgnored
	}
	return nil
}

func (r *Receiver) accepts(ch uint8) bool {
	return r.channel == Omni || int(ch) == r.channel
}

func (r *Receiver) ignore() error {
	r.ignored++
	return ErrIgnored
}

// Channel returns the channel filter, or Omni.
func (r *Receiver) Channel() int { return r.channel }

// Stats returns how many messages were applied and how many were ignored.
func (r *Receiver) Stats() (handled, ignored uint64) {
	return r.handled, r.ignored
}

func (r *Receiver) Mapper() *cv.Mapper { return r.mapper }
