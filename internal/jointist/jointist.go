// Package jointist composes an instrument-detection stage and a
// transcription stage into a single inference unit.
//
// A Jointist is Ready once constructed and runs exactly one prediction:
// detection yields per-class presence probabilities, the task selects the
// present instruments, and the transcription stage, conditioned on each
// instrument, yields that instrument's notes. Any stage error fails the
// whole prediction.
package jointist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/chaz8081/jointist-go/internal/audio"
	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/features"
	"github.com/chaz8081/jointist-go/internal/model"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

// Conditioning modes (transcription.conditioning).
const (
	// ConditionDetected transcribes only the detected instruments.
	ConditionDetected = "condition"
	// ConditionMask transcribes every class and keeps the detected ones.
	ConditionMask = "mask"
)

// Catalog is the closed set of conditioning modes.
func Catalog() config.Catalog {
	return config.Catalog{
		Path: "transcription.conditioning",
		Kind: errs.ErrConfiguration,
		Tags: []string{ConditionDetected, ConditionMask},
	}
}

// Stage runs one loaded network.
type Stage interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// State is the lifecycle position of a Jointist.
type State int

const (
	Constructed State = iota
	Ready
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrNotReady is returned by Predict while another prediction is in flight
// or after the single prediction has completed.
var ErrNotReady = errors.New("jointist: not ready")

// Options configure a Jointist. They are copied at construction.
type Options struct {
	Instruments  []Instrument
	Task         model.Task
	Conditioning string
	Decoder      Decoder
	// DetectionFeatures, if set, computes the detection input from the
	// waveform instead of reusing the shared spectrogram.
	DetectionFeatures *features.Extractor
}

// NewOptions reads the coordinator options from the tree. det is the built
// detection model; when its feature front end differs from the global one
// the detection stage gets its own extractor.
func NewOptions(tree *config.Tree, det *model.Detection) (Options, error) {
	opts := Options{Instruments: Instruments(), Task: det.Task}
	var err error
	if opts.Conditioning, err = tree.String("transcription.conditioning"); err != nil {
		return Options{}, err
	}
	frame, err := tree.Float("transcription.frame_threshold")
	if err != nil {
		return Options{}, err
	}
	onset, err := tree.Float("transcription.onset_threshold")
	if err != nil {
		return Options{}, err
	}
	minFrames, err := tree.Int("transcription.min_frames")
	if err != nil {
		return Options{}, err
	}
	opts.Decoder = RollDecoder{FrameThreshold: float32(frame), OnsetThreshold: float32(onset), MinFrames: minFrames}

	var global features.Config
	if err := tree.Decode("feature", &global); err != nil {
		return Options{}, err
	}
	if det.Feature != global {
		if opts.DetectionFeatures, err = features.NewExtractor(det.Feature); err != nil {
			return Options{}, errs.Wrap(errs.ErrConfiguration, "detection.feature", err)
		}
	}
	return opts, nil
}

func (o Options) validate() error {
	switch {
	case len(o.Instruments) == 0:
		return errs.New(errs.ErrConfiguration, "instruments", "instrument map is empty")
	case o.Task == nil:
		return errs.New(errs.ErrConfiguration, "detection.task", "no detection task")
	case o.Decoder == nil:
		return errs.New(errs.ErrConfiguration, "transcription", "no note decoder")
	case !slices.Contains(Catalog().Tags, o.Conditioning):
		return errs.New(errs.ErrConfiguration, o.Conditioning, "unknown transcription.conditioning")
	}
	return nil
}

// Track is the transcription of one detected instrument.
type Track struct {
	Instrument  Instrument
	Probability float32
	Notes       []Note
}

// Result is the outcome of one prediction.
type Result struct {
	// Probabilities holds the presence probability of every class.
	Probabilities []float32
	// Tracks holds the detected instruments in class order.
	Tracks   []Track
	Duration float64
}

// NoteCount returns the number of notes across all tracks.
func (r *Result) NoteCount() int {
	n := 0
	for _, t := range r.Tracks {
		n += len(t.Notes)
	}
	return n
}

// Jointist is the two-stage inference unit.
type Jointist struct {
	det, trans Stage
	opts       Options

	mu    sync.Mutex
	state State
}

// New composes the two stages. The returned Jointist is Ready.
func New(det, trans Stage, opts Options) (*Jointist, error) {
	j := &Jointist{det: det, trans: trans, state: Constructed}
	if det == nil || trans == nil {
		return nil, errs.New(errs.ErrConfiguration, "checkpoint", "both stages are required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.Instruments = slices.Clone(opts.Instruments)
	j.opts = opts
	j.state = Ready
	return j, nil
}

// State returns the current lifecycle state.
func (j *Jointist) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Predict runs detection then transcription on one clip. It may be called
// once; a call while another is running, or after one has finished, fails
// with ErrNotReady. Stage failures are reported as ErrInferenceFailure and
// no partial result is returned.
func (j *Jointist) Predict(ctx context.Context, f *features.Features) (*Result, error) {
	j.mu.Lock()
	if j.state != Ready {
		s := j.state
		j.mu.Unlock()
		return nil, fmt.Errorf("%w: state is %s", ErrNotReady, s)
	}
	j.state = Running
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.state = Done
		j.mu.Unlock()
	}()

	res, err := j.predict(ctx, f)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInferenceFailure, "", err)
	}
	return res, nil
}

func (j *Jointist) predict(ctx context.Context, f *features.Features) (*Result, error) {
	if f == nil || f.Spectrogram == nil {
		return nil, fmt.Errorf("no input features")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probs, err := j.detect(f)
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}
	selected := j.opts.Task.Select(probs)

	res := &Result{Probabilities: probs, Duration: float64(f.Frames()) / f.FrameRate}
	var names []string
	for _, c := range selected {
		names = append(names, j.opts.Instruments[c].Name)
	}
	slog.Info("instruments detected", "task", j.opts.Task.Name(), "count", len(selected), "instruments", names)

	targets := selected
	if j.opts.Conditioning == ConditionMask {
		targets = make([]int, len(j.opts.Instruments))
		for i := range targets {
			targets[i] = i
		}
	}

	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		notes, err := j.transcribe(f, c)
		if err != nil {
			return nil, fmt.Errorf("transcription of %s: %w", j.opts.Instruments[c].Name, err)
		}
		if !slices.Contains(selected, c) {
			continue
		}
		res.Tracks = append(res.Tracks, Track{Instrument: j.opts.Instruments[c], Probability: probs[c], Notes: notes})
		slog.Debug("instrument transcribed", "instrument", j.opts.Instruments[c].Name, "notes", len(notes))
	}
	slog.Info("transcription complete", "tracks", len(res.Tracks), "notes", res.NoteCount())
	return res, nil
}

func (j *Jointist) detect(f *features.Features) ([]float32, error) {
	spec := f.Spectrogram
	if ext := j.opts.DetectionFeatures; ext != nil {
		wave := audio.Resample(f.Waveform, f.SampleRate, ext.Config().SampleRate)
		var err error
		if spec, err = ext.Spectrogram(wave); err != nil {
			return nil, err
		}
	}
	logits, err := j.det.Forward(spec)
	if err != nil {
		return nil, err
	}
	if !logits.SameShape([]int{1, len(j.opts.Instruments)}) {
		return nil, fmt.Errorf("want logits [1 %d], got %v", len(j.opts.Instruments), logits.Shape())
	}
	probs := make([]float32, logits.Len())
	for i, v := range logits.Data() {
		probs[i] = tensor.Sigmoid(v)
	}
	return probs, nil
}

func (j *Jointist) transcribe(f *features.Features, class int) ([]Note, error) {
	cond := make([]float32, len(j.opts.Instruments))
	cond[class] = 1
	in, err := model.TranscriptionInput(f.Spectrogram, cond)
	if err != nil {
		return nil, err
	}
	out, err := j.trans.Forward(in)
	if err != nil {
		return nil, err
	}
	heads, err := model.SplitHeads(out)
	if err != nil {
		return nil, err
	}
	if heads.Frame.Dim(0) != f.Frames() {
		return nil, fmt.Errorf("roll has %d frames, input has %d", heads.Frame.Dim(0), f.Frames())
	}
	return j.opts.Decoder.Decode(heads, f.FrameRate), nil
}
