package modcv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/modcv-go/internal/cv"
)

// A quarter note at the default 120 bpm is 500 ms.
const quarter = 960

type smfEvent struct {
	delta uint32
	msg   midi.Message
}

func buildSMF(t *testing.T, tracks ...[]smfEvent) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(quarter)
	for _, evs := range tracks {
		var tr smf.Track
		for _, ev := range evs {
			tr.Add(ev.delta, ev.msg)
		}
		tr.Close(0)
		if err := s.Add(tr); err != nil {
			t.Fatalf("add track: %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("write smf: %v", err)
	}
	return buf.Bytes()
}

func oneNoteSMF(t *testing.T) []byte {
	return buildSMF(t, []smfEvent{
		{0, midi.NoteOn(0, 60, 100)},
		{quarter, midi.NoteOff(0, 60)},
	})
}

func TestReadSMFMergesTracks(t *testing.T) {
	data := buildSMF(t,
		[]smfEvent{
			{0, midi.NoteOn(0, 60, 100)},
			{quarter, midi.NoteOff(0, 60)},
		},
		[]smfEvent{
			{quarter / 2, midi.ControlChange(0, 1, 64)},
		},
	)
	events, err := ReadSMF(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	want := []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond}
	for i, ev := range events {
		if ev.At != want[i] {
			t.Fatalf("event %d at %v, want %v", i, ev.At, want[i])
		}
	}
	var ch, ctl, val uint8
	if !events[1].Message.GetControlChange(&ch, &ctl, &val) || ctl != 1 || val != 64 {
		t.Fatalf("middle event = %v", events[1].Message)
	}
}

func TestReadSMFRejectsGarbage(t *testing.T) {
	if _, err := ReadSMF(strings.NewReader("not a midi file")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderSMF(t *testing.T) {
	v, err := NewVoice(nil)
	if err != nil {
		t.Fatalf("new voice: %v", err)
	}
	frames, err := RenderSMF(v, bytes.NewReader(oneNoteSMF(t)), RenderOptions{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// 500 ms of note plus the 200 tick release and one more tick
	if len(frames) != 701 {
		t.Fatalf("got %d frames, want 701", len(frames))
	}
	if !frames[0].Gate || frames[0].Tick != 1 {
		t.Fatalf("first frame = %+v", frames[0])
	}
	if !frames[495].Gate || frames[505].Gate {
		t.Fatalf("gate around note off: %v %v", frames[495].Gate, frames[505].Gate)
	}
	if math.Abs(frames[300].Envelope-0.7) > tol {
		t.Fatalf("sustain = %v", frames[300].Envelope)
	}
	if last := frames[len(frames)-1]; last.Envelope != 0 {
		t.Fatalf("envelope after tail = %v", last.Envelope)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Tick != frames[i-1].Tick+1 {
			t.Fatalf("tick %d follows %d", frames[i].Tick, frames[i-1].Tick)
		}
	}
}

func TestRenderOptions(t *testing.T) {
	events := []TimedMessage{
		{At: 0, Message: midi.NoteOn(0, 60, 100)},
		{At: 20 * time.Millisecond, Message: midi.ControlChange(0, 75, 10)},
		{At: 500 * time.Millisecond, Message: midi.NoteOff(0, 60)},
	}
	v, _ := NewVoice(nil)
	frames, err := v.Render(events, RenderOptions{MaxDuration: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(frames) != 100 {
		t.Fatalf("got %d frames, want 100", len(frames))
	}

	v, _ = NewVoice(nil)
	frames, err = v.Render(events, RenderOptions{Tail: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(frames) != 510 {
		t.Fatalf("got %d frames, want 510", len(frames))
	}
}

func TestRenderKeepsLFOFramesApart(t *testing.T) {
	v := newTestVoice(t, "lfos: [{waveform: saw, rate: 1}, {waveform: square, rate: 1}]")
	frames, err := v.Render(nil, RenderOptions{Tail: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(frames) != 5 {
		t.Fatalf("got %d frames", len(frames))
	}
	for i := range frames {
		if len(frames[i].LFO) != 2 {
			t.Fatalf("frame %d has %d lfo values", i, len(frames[i].LFO))
		}
		if i > 0 && !(frames[i].LFO[0] > frames[i-1].LFO[0]) {
			t.Fatalf("saw not rising at frame %d: %v", i, frames[i].LFO[0])
		}
	}
}

func TestRenderMIDIFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.mid")
	if err := os.WriteFile(path, oneNoteSMF(t), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	frames, v, err := RenderMIDIFile(path, nil, RenderOptions{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if v == nil || len(frames) != 701 {
		t.Fatalf("got voice %v and %d frames", v, len(frames))
	}
	if _, _, err := RenderMIDIFile(filepath.Join(t.TempDir(), "missing.mid"), nil, RenderOptions{}); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing file: %v", err)
	}
}

func TestSamplesAndPeak(t *testing.T) {
	frames := []Frame{
		{Pitch: -2, Gate: true},
		{Pitch: 0.5, Envelope: 0.5},
	}
	got := Samples(frames, []Output{OutputPitch, OutputGate, OutputEnvelope}, 5)
	want := []float32{-2, 5, 0, 0.5, 0, 2.5}
	if len(got) != len(want) {
		t.Fatalf("got %d samples", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if p := Peak(got); p != 5 {
		t.Fatalf("peak = %v, want 5", p)
	}
	if got[0] != -2 {
		t.Fatalf("Peak modified its input")
	}
	if p := Peak(nil); p != 0 {
		t.Fatalf("peak of nothing = %v", p)
	}
}

func TestEncodeWAVFloat32LE(t *testing.T) {
	samples := []float32{1.5, -3, 0.25, 10}
	wav := EncodeWAVFloat32LE(samples, 1000, 2)
	if len(wav) != 44+len(samples)*4 {
		t.Fatalf("wav length = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids")
	}
	le := binary.LittleEndian
	if f := le.Uint16(wav[20:]); f != 3 {
		t.Fatalf("format = %d, want float", f)
	}
	if ch := le.Uint16(wav[22:]); ch != 2 {
		t.Fatalf("channels = %d", ch)
	}
	if rate := le.Uint32(wav[24:]); rate != 1000 {
		t.Fatalf("rate = %d", rate)
	}
	if n := le.Uint32(wav[40:]); n != uint32(len(samples)*4) {
		t.Fatalf("data size = %d", n)
	}
	for i, want := range samples {
		if got := math.Float32frombits(le.Uint32(wav[44+i*4:])); got != want {
			t.Fatalf("sample %d = %v, want %v", i, got, want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	frames := []Frame{
		{Tick: 1, Pitch: 5, Note: 4.5, Gate: true, Envelope: 0.5, Velocity: 1, Cutoff: 0.25, LFO: []float64{0.25}},
		{Tick: 2, Pitch: -1, Note: -1, Ribbon: 0.5, Touch: true},
	}
	dac, err := cv.NewDAC(12, 0, 10)
	if err != nil {
		t.Fatalf("dac: %v", err)
	}
	var buf bytes.Buffer
	layout := CSVLayout{Period: 0.001, LFONames: []string{"wobble"}, Ribbon: true, DAC: &dac}
	if err := WriteCSV(&buf, frames, layout); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"tick,seconds,pitch,note,gate,envelope,velocity,pressure,aux,volume,cutoff,resonance,ribbon,touch,wobble,pitch_code",
		"1,0.001,5,4.5,1,0.5,1,0,0,0,0.25,0,0,0,0.25,2048",
		"2,0.002,-1,-1,0,0,0,0,0,0,0,0,0.5,1,NaN,0",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	buf.Reset()
	if err := WriteCSV(&buf, frames[:1], CSVLayout{Period: 0.001}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "tick,seconds,pitch,note,gate,envelope,velocity,pressure,aux,volume,cutoff,resonance\n") {
		t.Fatalf("header without options = %q", buf.String())
	}
}

func TestVoiceCSVLayout(t *testing.T) {
	v := newTestVoice(t, "ribbon: {}\nlfos: [{name: vib, waveform: sine, rate: 5}]\ndac: {bits: 16, min: -5, max: 5}")
	l := v.CSVLayout()
	if l.Period != 0.001 || !l.Ribbon || l.DAC == nil || len(l.LFONames) != 1 || l.LFONames[0] != "vib" {
		t.Fatalf("layout = %+v", l)
	}
	if l := newTestVoice(t, "").CSVLayout(); l.Ribbon || l.DAC != nil {
		t.Fatalf("default layout = %+v", l)
	}
}
