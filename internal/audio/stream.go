// Package audio streams control voltages to a DC-coupled audio interface.
// Each output channel carries one CV, scaled so the interface's full-scale
// voltage maps to ±1.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/viterin/vek/vek32"

	"github.com/cbegin/modcv-go/internal/cverr"
)

// FrameSource fills one buffer of CV frames, in volts. left and right have
// equal length, one element per frame.
type FrameSource interface {
	Fill(left, right []float32)
}

// FinishingSource is a FrameSource that can signal the end of its material.
// When Finished returns true, the stream returns io.EOF on the next Read.
type FinishingSource interface {
	FrameSource
	Finished() bool
}

// StreamReader renders a FrameSource as interleaved stereo float32 PCM.
type StreamReader struct {
	mu      sync.Mutex
	source  FrameSource
	scale   float32
	left    []float32
	right   []float32
	peak    float32
	clipped uint64
}

// NewStreamReader returns a reader that maps ±fullScaleVolts to ±1.
func NewStreamReader(source FrameSource, fullScaleVolts float64) (*StreamReader, error) {
	if source == nil {
		return nil, cverr.Config("source", "must not be nil")
	}
	if !(fullScaleVolts > 0) || math.IsInf(fullScaleVolts, 0) {
		return nil, cverr.Config("full scale", "must be a positive voltage, got %v", fullScaleVolts)
	}
	return &StreamReader{source: source, scale: float32(1 / fullScaleVolts)}, nil
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	if cap(r.left) < frames {
		r.left = make([]float32, frames)
		r.right = make([]float32, frames)
	}
	r.left = r.left[:frames]
	r.right = r.right[:frames]
	r.source.Fill(r.left, r.right)
	vek32.MulNumber_Inplace(r.left, r.scale)
	vek32.MulNumber_Inplace(r.right, r.scale)
	for i := 0; i < frames; i++ {
		l, rr := r.clip(r.left[i]), r.clip(r.right[i])
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(l))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(rr))
	}
	r.peak = peakOf(r.left, r.right)
	n := frames * 8
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

func (r *StreamReader) clip(v float32) float32 {
	switch {
	case v > 1:
		r.clipped++
		return 1
	case v < -1:
		r.clipped++
		return -1
	}
	return v
}

// peakOf returns the largest magnitude in the buffers, overwriting them
// with their absolute values.
func peakOf(left, right []float32) float32 {
	vek32.Abs_Inplace(left)
	vek32.Abs_Inplace(right)
	return max(vek32.Max(left), vek32.Max(right))
}

// Peak returns the largest normalized level of the last buffer, before
// clipping.
func (r *StreamReader) Peak() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

// Clipped returns how many samples exceeded full scale so far.
func (r *StreamReader) Clipped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clipped
}

func (r *StreamReader) Close() error { return nil }

type Player struct {
	player *ebitaudio.Player
	reader *StreamReader
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewPlayer opens the shared device context at sampleRate and prepares a
// stream of source. Only one sample rate can be used per process.
func NewPlayer(sampleRate int, source FrameSource, fullScaleVolts float64) (*Player, error) {
	reader, err := NewStreamReader(source, fullScaleVolts)
	if err != nil {
		return nil, err
	}
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	pl.SetBufferSize(20 * time.Millisecond)
	return &Player{player: pl, reader: reader}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }
func (p *Player) IsPlaying() bool {
	return p.player.IsPlaying()
}

// Position returns the current output position of the device.
func (p *Player) Position() time.Duration {
	return p.player.Position()
}

func (p *Player) Peak() float32   { return p.reader.Peak() }
func (p *Player) Clipped() uint64 { return p.reader.Clipped() }

func (p *Player) Stop() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return err
	}
	return p.reader.Close()
}
