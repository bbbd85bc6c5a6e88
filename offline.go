package modcv

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/viterin/vek/vek32"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/modcv-go/internal/cv"
)

// TimedMessage is a MIDI message at an offset from the start of a file.
type TimedMessage struct {
	At      time.Duration
	Message midi.Message
}

// ReadSMF reads every playable channel message of a Standard MIDI File,
// merged across tracks and ordered by time. Tempo changes are applied.
func ReadSMF(r io.Reader) ([]TimedMessage, error) {
	var events []TimedMessage
	rd := smf.ReadTracksFrom(r).Do(func(te smf.TrackEvent) {
		if !te.Message.IsPlayable() {
			return
		}
		msg := make(midi.Message, len(te.Message))
		copy(msg, te.Message)
		events = append(events, TimedMessage{
			At:      time.Duration(te.AbsMicroSeconds) * time.Microsecond,
			Message: msg,
		})
	})
	if err := rd.Error(); err != nil {
		return nil, fmt.Errorf("read midi file: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })
	return events, nil
}

// RenderOptions bounds an offline render.
type RenderOptions struct {
	// Tail is rendered after the last event; 0 means the envelope's
	// release time plus one tick.
	Tail time.Duration
	// MaxDuration truncates the render; 0 means no limit.
	MaxDuration time.Duration
}

// Render plays events through v at its control rate and returns one Frame
// per tick. Events that fall between ticks apply before the next tick.
// Messages the voice ignores are skipped; any other rejection stops the
// render.
func (v *Voice) Render(events []TimedMessage, opts RenderOptions) ([]Frame, error) {
	var end time.Duration
	if len(events) > 0 {
		end = events[len(events)-1].At
	}
	tail := opts.Tail
	if tail <= 0 {
		ticks := v.env.Params().ReleaseTicks + 1
		tail = time.Duration(float64(ticks) * v.clock.Period() * float64(time.Second))
	}
	end += tail
	if opts.MaxDuration > 0 && end > opts.MaxDuration {
		end = opts.MaxDuration
	}
	total := v.clock.TicksFor(end.Seconds())

	nlfo := len(v.lfos)
	lfoBuf := make([]float64, total*nlfo)
	frames := make([]Frame, total)
	next := 0
	for i := range frames {
		due := time.Duration(float64(i) * v.clock.Period() * float64(time.Second))
		for next < len(events) && events[next].At <= due {
			if err := v.HandleMIDI(events[next].Message); err != nil && !errors.Is(err, ErrIgnored) {
				return nil, fmt.Errorf("event at %v (%v): %w", events[next].At, events[next].Message, err)
			}
			next++
		}
		frames[i].LFO = lfoBuf[i*nlfo : i*nlfo : (i+1)*nlfo]
		v.Tick(&frames[i])
	}
	return frames, nil
}

// RenderSMF reads a Standard MIDI File from r and renders it through v.
func RenderSMF(v *Voice, r io.Reader, opts RenderOptions) ([]Frame, error) {
	events, err := ReadSMF(r)
	if err != nil {
		return nil, err
	}
	return v.Render(events, opts)
}

// RenderMIDIFile builds a voice from patch (nil for the defaults) and
// renders the MIDI file at path through it.
func RenderMIDIFile(path string, patch *Patch, opts RenderOptions) ([]Frame, *Voice, error) {
	v, err := NewVoice(patch)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	frames, err := RenderSMF(v, bytes.NewReader(data), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return frames, v, nil
}

// Samples interleaves the selected outputs of frames as float32 volts.
func Samples(frames []Frame, outputs []Output, unipolar float64) []float32 {
	out := make([]float32, len(frames)*len(outputs))
	for i := range frames {
		for c, o := range outputs {
			out[i*len(outputs)+c] = float32(frames[i].Volts(o, unipolar))
		}
	}
	return out
}

// Peak returns the largest absolute voltage in samples.
func Peak(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	abs := append([]float32(nil), samples...)
	vek32.Abs_Inplace(abs)
	return vek32.Max(abs)
}

type wavHeader struct {
	Riff          [4]byte
	ChunkSize     uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

const wavFormatFloat = 3

// EncodeWAVFloat32LE writes interleaved samples as a 32-bit float WAV.
// Values are written as given; a CV file keeps volts unnormalized.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := uint32(len(samples) * 4)
	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		Format:        wavFormatFloat,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * 4),
		BlockAlign:    uint16(channels * 4),
		BitsPerSample: 32,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	var buf bytes.Buffer
	buf.Grow(44 + len(samples)*4)
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, h)
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// CSVLayout selects the optional columns of WriteCSV.
type CSVLayout struct {
	Period   float64 // seconds per tick
	LFONames []string
	Ribbon   bool    // ribbon and touch columns
	DAC      *cv.DAC // pitch_code column
}

// CSVLayout returns the columns v's frames carry.
func (v *Voice) CSVLayout() CSVLayout {
	return CSVLayout{
		Period:   v.clock.Period(),
		LFONames: v.names,
		Ribbon:   v.ribbon != nil,
		DAC:      v.dac,
	}
}

// WriteCSV writes one row per frame: tick, seconds, the fixed outputs and
// then the optional columns l names, ribbon first and pitch code last.
func WriteCSV(w io.Writer, frames []Frame, l CSVLayout) error {
	cw := csv.NewWriter(w)
	header := []string{
		"tick", "seconds", "pitch", "note", "gate", "envelope", "velocity",
		"pressure", "aux", "volume", "cutoff", "resonance",
	}
	if l.Ribbon {
		header = append(header, "ribbon", "touch")
	}
	header = append(header, l.LFONames...)
	if l.DAC != nil {
		header = append(header, "pitch_code")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, 0, len(header))
	for i := range frames {
		f := &frames[i]
		row = append(row[:0],
			strconv.FormatUint(f.Tick, 10),
			formatFloat(float64(f.Tick)*l.Period),
			formatFloat(f.Pitch),
			formatFloat(f.Note),
			formatBool(f.Gate),
			formatFloat(f.Envelope),
			formatFloat(f.Velocity),
			formatFloat(f.Pressure),
			formatFloat(f.Aux),
			formatFloat(f.Volume),
			formatFloat(f.Cutoff),
			formatFloat(f.Resonance),
		)
		if l.Ribbon {
			row = append(row, formatFloat(f.Ribbon), formatBool(f.Touch))
		}
		for j := range l.LFONames {
			x := math.NaN()
			if j < len(f.LFO) {
				x = f.LFO[j]
			}
			row = append(row, formatFloat(x))
		}
		if l.DAC != nil {
			row = append(row, strconv.FormatUint(uint64(l.DAC.Code(f.Pitch)), 10))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', 8, 64)
}
