package modcv

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"

	intaudio "github.com/cbegin/modcv-go/internal/audio"
	"github.com/cbegin/modcv-go/internal/cverr"
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	left, right    Output
	fullScaleVolts float64
	unipolarVolts  float64
	logger         *slog.Logger
	frameTap       func(*Frame)
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		left:           OutputPitch,
		right:          OutputGate,
		fullScaleVolts: 10,
		unipolarVolts:  5,
		logger:         slog.New(slog.DiscardHandler),
	}
}

// WithOutputs routes two frame outputs to the left and right channels.
// The default is pitch on the left, gate on the right.
func WithOutputs(left, right Output) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.left, cfg.right = left, right
	}
}

// WithFullScale sets the voltage the interface produces at digital full
// scale. The default is 10 V.
func WithFullScale(volts float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.fullScaleVolts = volts
	}
}

// WithUnipolarVolts sets the voltage of an open gate and of normalized
// outputs at 1. The default is 5 V.
func WithUnipolarVolts(volts float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.unipolarVolts = volts
	}
}

// WithLogger sets the logger for rejected messages and playback changes.
func WithLogger(l *slog.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithFrameTap installs a callback invoked with every generated frame. It
// runs on the audio thread with the player locked; keep work brief.
func WithFrameTap(tap func(*Frame)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.frameTap = tap
	}
}

// Player drives a Voice from the audio device: one tick per output frame,
// so the voice's control rate is the device sample rate. MIDI may be sent
// from any goroutine.
type Player struct {
	mu       sync.Mutex
	voice    *Voice
	cfg      playerConfig
	rate     int
	frame    Frame
	audio    *intaudio.Player
	rejected uint64
}

func NewPlayer(v *Voice, opts ...PlayerOption) (*Player, error) {
	if v == nil {
		return nil, cverr.Config("voice", "must not be nil")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	rate := v.Clock().Rate()
	if rate != math.Trunc(rate) || rate < 8000 || rate > 192000 {
		return nil, cverr.Config("control rate", "live playback needs an integral audio rate of 8000..192000 Hz, got %g", rate)
	}
	if err := v.checkOutputs(cfg.left, cfg.right); err != nil {
		return nil, err
	}
	if !(cfg.unipolarVolts > 0) || math.IsInf(cfg.unipolarVolts, 0) {
		return nil, cverr.Config("unipolar volts", "must be positive, got %v", cfg.unipolarVolts)
	}
	return &Player{
		voice: v,
		cfg:   cfg,
		rate:  int(rate),
		frame: Frame{LFO: make([]float64, 0, len(v.lfos))},
	}, nil
}

// HandleMIDI applies msg to the voice before the next tick. Rejected
// messages are logged at debug level and returned.
func (p *Player) HandleMIDI(msg midi.Message) error {
	p.mu.Lock()
	err := p.voice.HandleMIDI(msg)
	if err != nil && !errors.Is(err, ErrIgnored) {
		p.rejected++
	}
	p.mu.Unlock()
	if err != nil {
		p.cfg.logger.Debug("midi message not applied", "msg", msg.String(), "err", err)
	}
	return err
}

// SetRibbon stores a ribbon reading for the next tick.
func (p *Player) SetRibbon(raw float64) {
	p.mu.Lock()
	p.voice.SetRibbon(raw)
	p.mu.Unlock()
}

// Fill renders len(left) ticks. It is called by the audio stream.
func (p *Player) Fill(left, right []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range left {
		p.voice.Tick(&p.frame)
		if p.cfg.frameTap != nil {
			p.cfg.frameTap(&p.frame)
		}
		left[i] = float32(p.frame.Volts(p.cfg.left, p.cfg.unipolarVolts))
		right[i] = float32(p.frame.Volts(p.cfg.right, p.cfg.unipolarVolts))
	}
}

// Start opens the audio device and begins streaming.
func (p *Player) Start() error {
	p.mu.Lock()
	running := p.audio != nil
	p.mu.Unlock()
	if running {
		return nil
	}
	backend, err := intaudio.NewPlayer(p.rate, p, p.cfg.fullScaleVolts)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.audio != nil {
		p.mu.Unlock()
		return backend.Stop()
	}
	p.audio = backend
	p.mu.Unlock()
	backend.Play()
	p.cfg.logger.Info("cv output started", "rate", p.rate, "left", p.cfg.left, "right", p.cfg.right, "full_scale", p.cfg.fullScaleVolts)
	return nil
}

func (p *Player) Pause() {
	if a := p.backend(); a != nil {
		a.Pause()
	}
}

func (p *Player) Resume() {
	if a := p.backend(); a != nil {
		a.Play()
	}
}

func (p *Player) backend() *intaudio.Player {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audio
}

// Stop closes the device stream and releases every note. The voice keeps
// its settings and can be started again.
func (p *Player) Stop() error {
	p.mu.Lock()
	a := p.audio
	p.audio = nil
	p.voice.Reset()
	p.mu.Unlock()
	if a == nil {
		return nil
	}
	clipped := a.Clipped()
	err := a.Stop()
	p.cfg.logger.Info("cv output stopped", "clipped_samples", clipped)
	return err
}

// Play schedules events against the wall clock, sending each through
// HandleMIDI at its offset from the call. It returns when the last event
// has been sent or ctx is done.
func (p *Player) Play(ctx context.Context, events []TimedMessage) error {
	start := time.Now()
	timer := time.NewTimer(time.Duration(math.MaxInt64))
	defer timer.Stop()
	for _, ev := range events {
		if wait := ev.At - time.Since(start); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		p.HandleMIDI(ev.Message)
	}
	return nil
}

// Rejected returns how many messages the voice refused, ignored ones
// excluded.
func (p *Player) Rejected() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejected
}

// Position returns the device output position, or 0 when stopped.
func (p *Player) Position() time.Duration {
	if a := p.backend(); a != nil {
		return a.Position()
	}
	return 0
}

// Peak returns the normalized peak of the last output buffer.
func (p *Player) Peak() float32 {
	if a := p.backend(); a != nil {
		return a.Peak()
	}
	return 0
}
