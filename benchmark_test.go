package modcv

import (
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

func BenchmarkVoiceTick(b *testing.B) {
	v := newTestVoice(b, `
control_rate: 48000
glide: {time: 0.01}
lfos:
  - {waveform: sine, rate: 5, pitch_depth: 0.2}
  - {waveform: triangle, rate: 0.5}
  - {waveform: sample-hold, rate: 8, key_sync: true}
`)
	v.HandleMIDI(midi.NoteOn(0, 60, 100))
	f := Frame{LFO: make([]float64, 0, 3)}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.Tick(&f)
	}
}

func BenchmarkPlayerFill(b *testing.B) {
	v := newTestVoice(b, "control_rate: 48000")
	p, err := NewPlayer(v)
	if err != nil {
		b.Fatalf("new player: %v", err)
	}
	p.HandleMIDI(midi.NoteOn(0, 60, 100))
	left := make([]float32, 1024)
	right := make([]float32, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Fill(left, right)
	}
}
