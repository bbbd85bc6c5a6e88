package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/cbegin/modcv-go"
	"github.com/cbegin/modcv-go/internal/config"
	"github.com/cbegin/modcv-go/internal/cv"
)

type options struct {
	patchPath  string
	outPath    string
	outputs    string
	unipolar   float64
	fullScale  float64
	tail       time.Duration
	maxLen     time.Duration
	quantize   string
	play       bool
	sampleRate int
	dumpPatch  bool
}

func main() {
	var (
		opts    options
		verbose bool
	)
	flag.StringVar(&opts.patchPath, "patch", "", "path to a YAML patch (default: built-in patch)")
	flag.StringVar(&opts.outPath, "out", "", "output file, .wav or .csv")
	flag.StringVar(&opts.outputs, "outputs", "pitch,gate,envelope", "comma separated outputs written to WAV or sent to the interface")
	flag.Float64Var(&opts.unipolar, "unipolar", 5, "volts for an open gate and normalized outputs at full level")
	flag.Float64Var(&opts.fullScale, "full-scale", 10, "volts the interface produces at digital full scale (-play)")
	flag.DurationVar(&opts.tail, "tail", 0, "time rendered after the last event (0 = release time)")
	flag.DurationVar(&opts.maxLen, "max", 0, "truncate the render (0 = no limit)")
	flag.StringVar(&opts.quantize, "quantize", "", "snap pitch to a scale: chromatic|major|minor|pentatonic")
	flag.BoolVar(&opts.play, "play", false, "play through the audio interface instead of rendering a file")
	flag.IntVar(&opts.sampleRate, "sample-rate", 48000, "interface sample rate for -play; replaces the patch control rate")
	flag.BoolVar(&opts.dumpPatch, "dump-patch", false, "print the effective patch as YAML and exit")
	flag.BoolVar(&verbose, "v", false, "log debug messages")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file.mid\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, opts, flag.Arg(0)); err != nil {
		logger.Error("midi2cv failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, opts options, midiPath string) error {
	patch := modcv.DefaultPatch()
	if opts.patchPath != "" {
		var err error
		if patch, err = modcv.LoadPatch(opts.patchPath); err != nil {
			return err
		}
	}
	if opts.play {
		patch.ControlRate = float64(opts.sampleRate)
	}
	if opts.dumpPatch {
		return config.Encode(os.Stdout, patch)
	}
	if midiPath == "" {
		flag.Usage()
		return fmt.Errorf("no MIDI file given")
	}
	outputs, err := parseOutputs(opts.outputs)
	if err != nil {
		return err
	}
	if opts.play {
		return play(logger, opts, patch, midiPath, outputs)
	}
	return render(logger, opts, patch, midiPath, outputs)
}

func render(logger *slog.Logger, opts options, patch *modcv.Patch, midiPath string, outputs []modcv.Output) error {
	if opts.outPath == "" {
		return fmt.Errorf("-out is required when rendering")
	}
	frames, v, err := modcv.RenderMIDIFile(midiPath, patch, modcv.RenderOptions{Tail: opts.tail, MaxDuration: opts.maxLen})
	if err != nil {
		return err
	}
	if opts.quantize != "" {
		scale, err := parseScale(opts.quantize)
		if err != nil {
			return err
		}
		q := cv.NewQuantizer(scale)
		cal := v.Mapper().Calibration()
		for i := range frames {
			frames[i].Pitch = q.Quantize(cal, frames[i].Pitch)
			frames[i].Note = q.Quantize(cal, frames[i].Note)
		}
	}

	out, err := os.Create(opts.outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	switch strings.ToLower(filepath.Ext(opts.outPath)) {
	case ".csv":
		err = modcv.WriteCSV(out, frames, v.CSVLayout())
	case ".wav":
		samples := modcv.Samples(frames, outputs, opts.unipolar)
		logger.Info("range", "peak_volts", modcv.Peak(samples))
		_, err = out.Write(modcv.EncodeWAVFloat32LE(samples, int(v.Clock().Rate()), len(outputs)))
	default:
		return fmt.Errorf("unsupported output %q (expected .wav or .csv)", opts.outPath)
	}
	if err != nil {
		return err
	}
	logger.Info("rendered", "file", opts.outPath, "frames", len(frames), "rate", v.Clock().Rate(), "voice", v.String())
	return out.Close()
}

func play(logger *slog.Logger, opts options, patch *modcv.Patch, midiPath string, outputs []modcv.Output) error {
	if len(outputs) != 2 {
		return fmt.Errorf("-play needs exactly two outputs, got %d", len(outputs))
	}
	f, err := os.Open(midiPath)
	if err != nil {
		return err
	}
	events, err := modcv.ReadSMF(f)
	f.Close()
	if err != nil {
		return err
	}
	v, err := modcv.NewVoice(patch)
	if err != nil {
		return err
	}
	p, err := modcv.NewPlayer(v,
		modcv.WithOutputs(outputs[0], outputs[1]),
		modcv.WithFullScale(opts.fullScale),
		modcv.WithUnipolarVolts(opts.unipolar),
		modcv.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	defer p.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := p.Play(ctx, events); err != nil {
		logger.Info("playback interrupted")
		return nil
	}
	tail := opts.tail
	if tail <= 0 {
		tail = time.Duration(patch.Envelope.Release * float64(time.Second))
	}
	select {
	case <-ctx.Done():
	case <-time.After(tail):
	}
	logger.Info("playback finished", "events", len(events), "rejected", p.Rejected(), "peak", p.Peak())
	return nil
}

func parseOutputs(s string) ([]modcv.Output, error) {
	var outs []modcv.Output
	for _, name := range strings.Split(s, ",") {
		o, err := modcv.ParseOutput(name)
		if err != nil {
			return nil, err
		}
		outs = append(outs, o)
	}
	return outs, nil
}

func parseScale(name string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "chromatic":
		return cv.ScaleChromatic, nil
	case "major":
		return cv.ScaleMajor, nil
	case "minor":
		return cv.ScaleMinor, nil
	case "pentatonic":
		return cv.ScalePentatonic, nil
	default:
		return 0, fmt.Errorf("invalid -quantize %q (expected chromatic|major|minor|pentatonic)", name)
	}
}
