package lfo

import (
	"errors"
	"math"
	"testing"

	"github.com/cbegin/modcv-go/internal/clock"
	"github.com/cbegin/modcv-go/internal/cverr"
)

func newTestLFO(t *testing.T, rateHz float64, p Params) *LFO {
	t.Helper()
	clk, err := clock.NewRate(rateHz)
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	l, err := New(clk, p)
	if err != nil {
		t.Fatalf("new lfo: %v", err)
	}
	return l
}

func TestLFOTriangleUnitPattern(t *testing.T) {
	// 100 Hz ticks, 25 Hz triangle: a 4-tick period.
	l := newTestLFO(t, 100, Params{Waveform: WaveTriangle, RateHz: 25, Amplitude: 1})
	want := []float64{0, 1, 0, -1, 0}
	for i, w := range want {
		if math.Abs(l.Value()-w) > 1e-9 {
			t.Errorf("tick %d: got %f, want %f", i, l.Value(), w)
		}
		l.Advance()
	}
}

func TestLFOTriangleBasicShape(t *testing.T) {
	l := newTestLFO(t, 100, Params{Waveform: WaveTriangle, RateHz: 1, Amplitude: 1})

	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = l.Value()
		l.Advance()
	}

	if math.Abs(samples[0]) > 0.05 {
		t.Errorf("triangle at phase 0: got %f, want 0", samples[0])
	}
	if math.Abs(samples[25]-1.0) > 0.05 {
		t.Errorf("triangle at phase 0.25: got %f, want 1.0", samples[25])
	}
	if math.Abs(samples[50]) > 0.05 {
		t.Errorf("triangle at phase 0.5: got %f, want ~0", samples[50])
	}
	if math.Abs(samples[75]-(-1.0)) > 0.05 {
		t.Errorf("triangle at phase 0.75: got %f, want -1.0", samples[75])
	}
}

func TestLFOSquareShapeAndDuty(t *testing.T) {
	l := newTestLFO(t, 100, Params{Waveform: WaveSquare, RateHz: 1, Amplitude: 2})
	if v := l.Value(); math.Abs(v-2.0) > 0.01 {
		t.Errorf("square first half: got %f, want 2.0", v)
	}
	for i := 0; i < 50; i++ {
		l.Advance()
	}
	if v := l.Value(); math.Abs(v-(-2.0)) > 0.01 {
		t.Errorf("square second half: got %f, want -2.0", v)
	}

	narrow := newTestLFO(t, 100, Params{Waveform: WaveSquare, RateHz: 1, Amplitude: 1, Duty: 0.25})
	high := 0
	for i := 0; i < 100; i++ {
		if narrow.Value() > 0 {
			high++
		}
		narrow.Advance()
	}
	if high != 25 {
		t.Errorf("25%% duty square high for %d of 100 ticks", high)
	}
}

func TestLFOSawShapes(t *testing.T) {
	up := newTestLFO(t, 100, Params{Waveform: WaveSaw, RateHz: 1, Amplitude: 1})
	down := newTestLFO(t, 100, Params{Waveform: WaveSawDown, RateHz: 1, Amplitude: 1})
	if math.Abs(up.Value()-(-1.0)) > 1e-9 {
		t.Errorf("saw at phase 0: got %f, want -1.0", up.Value())
	}
	if math.Abs(down.Value()-1.0) > 1e-9 {
		t.Errorf("saw-down at phase 0: got %f, want 1.0", down.Value())
	}
	for i := 0; i < 50; i++ {
		up.Advance()
		down.Advance()
	}
	if math.Abs(up.Value()) > 1e-6 || math.Abs(down.Value()) > 1e-6 {
		t.Errorf("saws at half cycle: up=%f down=%f", up.Value(), down.Value())
	}
}

func TestLFOSineQuarterPoints(t *testing.T) {
	l := newTestLFO(t, 1000, Params{Waveform: WaveSine, RateHz: 250, Amplitude: 1})
	want := []float64{0, 1, 0, -1}
	for i, w := range want {
		if math.Abs(l.Value()-w) > 1e-9 {
			t.Errorf("tick %d: got %f, want %f", i, l.Value(), w)
		}
		l.Advance()
	}
}

func TestLFOAmplitudeAndOffset(t *testing.T) {
	l := newTestLFO(t, 100, Params{Waveform: WaveTriangle, RateHz: 25, Amplitude: 0.5, Offset: 2})
	l.Advance()
	if math.Abs(l.Value()-2.5) > 1e-9 {
		t.Errorf("peak = %f, want 2.5", l.Value())
	}
	l.Advance()
	l.Advance()
	if math.Abs(l.Value()-1.5) > 1e-9 {
		t.Errorf("trough = %f, want 1.5", l.Value())
	}
}

func TestLFOPeriodReturnsToStart(t *testing.T) {
	for _, tc := range []struct {
		tickRate float64
		rate     float64
		period   int
	}{
		{1000, 1, 1000},
		{1000, 4, 250},
		{48000, 2, 24000},
		{100, 3, 0}, // period not an integer number of ticks
	} {
		for _, wf := range []Waveform{WaveSine, WaveTriangle, WaveSaw} {
			l := newTestLFO(t, tc.tickRate, Params{Waveform: wf, RateHz: tc.rate, Amplitude: 1})
			start := l.Value()
			ticks := tc.period
			if ticks == 0 {
				// 100/3 ticks per cycle: three cycles take exactly 100 ticks.
				ticks = 100
			}
			for i := 0; i < ticks; i++ {
				l.Advance()
			}
			if math.Abs(l.Value()-start) > 1e-6 {
				t.Errorf("%v at %v Hz/%v Hz: value after %d ticks = %f, start %f", wf, tc.rate, tc.tickRate, ticks, l.Value(), start)
			}
		}
	}
}

func TestLFOPhaseStaysInUnitInterval(t *testing.T) {
	l := newTestLFO(t, 100, Params{Waveform: WaveSaw, RateHz: 37.3, Amplitude: 1})
	for i := 0; i < 10000; i++ {
		l.Advance()
		if p := l.Phase(); p < 0 || p >= 1 {
			t.Fatalf("phase %f outside [0,1) at tick %d", p, i)
		}
	}

	// just under one cycle per tick puts the accumulator next to 2^64
	l = newTestLFO(t, 1, Params{Waveform: WaveSaw, RateHz: math.Nextafter(1, 0), Amplitude: 1})
	for i := 0; i < 3; i++ {
		l.Advance()
		if p := l.Phase(); p < 0 || p >= 1 {
			t.Fatalf("phase %v outside [0,1) at tick %d", p, i)
		}
		if v := l.Value(); v >= 1 {
			t.Fatalf("saw = %v at tick %d, want < 1", v, i)
		}
	}
}

func TestLFOZeroRateFreezesPhase(t *testing.T) {
	l := newTestLFO(t, 1000, Params{Waveform: WaveSine, RateHz: 5, Amplitude: 1})
	for i := 0; i < 30; i++ {
		l.Advance()
	}
	if err := l.SetFrequency(0); err != nil {
		t.Fatalf("SetFrequency(0): %v", err)
	}
	v := l.Value()
	for i := 0; i < 1000; i++ {
		l.Advance()
		if l.Value() != v {
			t.Fatalf("frozen LFO moved from %f to %f", v, l.Value())
		}
	}
	if l.Active() {
		t.Error("zero-rate LFO should not be active")
	}
}

func TestLFOSetFrequencyRejectsInvalid(t *testing.T) {
	l := newTestLFO(t, 1000, Params{Waveform: WaveSine, RateHz: 5, Amplitude: 1})
	for _, hz := range []float64{-1, math.NaN(), math.Inf(1)} {
		err := l.SetFrequency(hz)
		if !errors.Is(err, cverr.ErrValueOutOfRange) {
			t.Errorf("SetFrequency(%v) err = %v", hz, err)
		}
	}
	if l.Frequency() != 5 {
		t.Errorf("rejected call changed frequency to %v", l.Frequency())
	}
}

func TestLFOSampleHoldChangesOnlyAtWrap(t *testing.T) {
	// 10-tick cycle.
	l := newTestLFO(t, 1000, Params{Waveform: WaveSampleHold, RateHz: 100, Amplitude: 1, Seed: 42})
	prev := l.Value()
	changes := 0
	for i := 1; i <= 100; i++ {
		l.Advance()
		v := l.Value()
		if v < -1 || v >= 1 {
			t.Fatalf("sample-hold value %f out of range", v)
		}
		if v != prev {
			changes++
			if i%10 != 0 {
				t.Fatalf("value changed at tick %d, not on a wrap", i)
			}
		}
		prev = v
	}
	if changes < 9 {
		t.Fatalf("only %d changes over 10 wraps", changes)
	}
}

func TestLFOSampleHoldIsReproducible(t *testing.T) {
	run := func(seed uint64) []float64 {
		l := newTestLFO(t, 1000, Params{Waveform: WaveSampleHold, RateHz: 50, Amplitude: 1, Seed: seed})
		out := make([]float64, 0, 10)
		for i := 0; i < 200; i++ {
			l.Advance()
			if i%20 == 19 {
				out = append(out, l.Value())
			}
		}
		return out
	}
	a, b, c := run(7), run(7), run(8)
	same := true
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at %d: %f vs %f", i, a[i], b[i])
		}
		if a[i] != c[i] {
			same = false
		}
	}
	if same {
		t.Error("different seeds produced identical sequences")
	}
}

func TestLFOResetRestartsSequence(t *testing.T) {
	l := newTestLFO(t, 1000, Params{Waveform: WaveSampleHold, RateHz: 100, Amplitude: 1, Seed: 3})
	first := l.Value()
	for i := 0; i < 55; i++ {
		l.Advance()
	}
	l.Reset()
	if l.Phase() != 0 || l.Value() != first {
		t.Fatalf("after reset phase=%f value=%f, want 0 and %f", l.Phase(), l.Value(), first)
	}
}

func TestLFOSyncAndResetPhase(t *testing.T) {
	l := newTestLFO(t, 1000, Params{Waveform: WaveSampleHold, RateHz: 1, Amplitude: 1, Seed: 9})
	for i := 0; i < 300; i++ {
		l.Advance()
	}
	held := l.Value()
	l.ResetPhase()
	if l.Phase() != 0 || l.Value() != held {
		t.Fatalf("ResetPhase: phase=%f value=%f want held %f", l.Phase(), l.Value(), held)
	}
	l.Sync()
	if l.Phase() != 0 || l.Value() == held {
		t.Fatalf("Sync should restart the cycle and draw: phase=%f value=%f", l.Phase(), l.Value())
	}
}

func TestLFOSetPhase(t *testing.T) {
	l := newTestLFO(t, 1000, Params{Waveform: WaveSaw, RateHz: 1, Amplitude: 1})
	if err := l.SetPhase(0.75); err != nil {
		t.Fatalf("SetPhase: %v", err)
	}
	if math.Abs(l.Value()-0.5) > 1e-9 {
		t.Errorf("saw at 0.75 = %f, want 0.5", l.Value())
	}
	if err := l.SetPhase(1); !errors.Is(err, cverr.ErrValueOutOfRange) {
		t.Errorf("SetPhase(1) err = %v", err)
	}
}

func TestLFONewRejectsInvalidParams(t *testing.T) {
	clk, _ := clock.NewRate(1000)
	for name, p := range map[string]Params{
		"waveform":  {Waveform: Waveform(42), Amplitude: 1},
		"rate":      {RateHz: -1, Amplitude: 1},
		"duty":      {Waveform: WaveSquare, Duty: 1.5, Amplitude: 1},
		"amplitude": {Amplitude: math.Inf(1)},
		"offset":    {Offset: math.NaN()},
	} {
		if l, err := New(clk, p); l != nil || !errors.Is(err, cverr.ErrConfiguration) {
			t.Errorf("%s: got (%v, %v), want configuration error", name, l, err)
		}
	}
}

func TestLFOActive(t *testing.T) {
	clk, _ := clock.NewRate(1000)
	l, _ := New(clk, Params{RateHz: 5})
	if l.Active() {
		t.Error("zero-amplitude LFO should not be active")
	}
	l, _ = New(clk, Params{RateHz: 5, Amplitude: 1})
	if !l.Active() {
		t.Error("configured LFO should be active")
	}
}

func TestLFOAdvanceDoesNotAllocate(t *testing.T) {
	l := newTestLFO(t, 48000, Params{Waveform: WaveSampleHold, RateHz: 300, Amplitude: 1})
	allocs := testing.AllocsPerRun(1000, func() {
		l.Advance()
		_ = l.Value()
	})
	if allocs != 0 {
		t.Fatalf("allocs per tick = %v", allocs)
	}
}
