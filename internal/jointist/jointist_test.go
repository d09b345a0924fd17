package jointist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/features"
	"github.com/chaz8081/jointist-go/internal/model"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

const (
	testMels   = 4
	testFrames = 8
)

// mockDetection returns fixed logits.
type mockDetection struct {
	logits  []float32
	err     error
	entered chan struct{}
	release chan struct{}
}

func (m *mockDetection) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if m.entered != nil {
		close(m.entered)
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return tensor.FromData(slices.Clone(m.logits), 1, len(m.logits))
}

// mockTranscription lights one pitch per class for a range of frames.
type mockTranscription struct {
	mu    sync.Mutex
	calls []int
	err   error
	rolls map[int]struct{ pitch, from, to int }
}

func (m *mockTranscription) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if m.err != nil {
		return nil, m.err
	}
	class := -1
	for c, v := range x.Row(0)[testMels:] {
		if v == 1 {
			class = c
		}
	}
	m.mu.Lock()
	m.calls = append(m.calls, class)
	m.mu.Unlock()

	out := tensor.New(x.Dim(0), model.Pitches)
	for i := range out.Data() {
		out.Data()[i] = -10
	}
	if r, ok := m.rolls[class]; ok {
		for t := r.from; t < r.to; t++ {
			out.Set(t, r.pitch, 10)
		}
	}
	return out, nil
}

type fixedTask struct{ threshold float32 }

func (fixedTask) Name() string { return "fixed" }

func (f fixedTask) Select(probs []float32) []int {
	var out []int
	for i, p := range probs {
		if p >= f.threshold {
			out = append(out, i)
		}
	}
	return out
}

func testFeatures() *features.Features {
	return &features.Features{
		Spectrogram: tensor.New(testFrames, testMels),
		FrameRate:   10,
		SampleRate:  16000,
	}
}

func testOptions(conditioning string) Options {
	return Options{
		Instruments:  Instruments()[:3],
		Task:         fixedTask{threshold: 0.5},
		Conditioning: conditioning,
		Decoder:      RollDecoder{FrameThreshold: 0.5, OnsetThreshold: 0.5, MinFrames: 2},
	}
}

func newMocks() (*mockDetection, *mockTranscription) {
	det := &mockDetection{logits: []float32{3, -3, 2}}
	trans := &mockTranscription{rolls: map[int]struct{ pitch, from, to int }{
		0: {pitch: 39, from: 2, to: 6}, // MIDI 60
		1: {pitch: 40, from: 0, to: 8},
		2: {pitch: 43, from: 0, to: 4}, // MIDI 64
	}}
	return det, trans
}

func TestPredict(t *testing.T) {
	tests := []struct {
		conditioning string
		calls        []int
	}{
		{ConditionDetected, []int{0, 2}},
		{ConditionMask, []int{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.conditioning, func(t *testing.T) {
			det, trans := newMocks()
			j, err := New(det, trans, testOptions(tt.conditioning))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if j.State() != Ready {
				t.Fatalf("State() = %s, want ready", j.State())
			}

			res, err := j.Predict(context.Background(), testFeatures())
			if err != nil {
				t.Fatalf("Predict() error = %v", err)
			}
			if !slices.Equal(trans.calls, tt.calls) {
				t.Errorf("transcribed classes = %v, want %v", trans.calls, tt.calls)
			}
			if len(res.Probabilities) != 3 || res.Probabilities[1] > 0.5 {
				t.Errorf("Probabilities = %v", res.Probabilities)
			}
			if len(res.Tracks) != 2 {
				t.Fatalf("got %d tracks, want 2", len(res.Tracks))
			}
			want := []struct {
				name  string
				notes []Note
			}{
				{"acoustic_piano", []Note{{Onset: 0.2, Offset: 0.6, Pitch: 60, Velocity: defaultVelocity}}},
				{"chromatic_percussion", []Note{{Onset: 0, Offset: 0.4, Pitch: 64, Velocity: defaultVelocity}}},
			}
			for i, w := range want {
				tr := res.Tracks[i]
				if tr.Instrument.Name != w.name {
					t.Errorf("track %d = %s, want %s", i, tr.Instrument.Name, w.name)
				}
				if !slices.Equal(tr.Notes, w.notes) {
					t.Errorf("track %d notes = %+v, want %+v", i, tr.Notes, w.notes)
				}
			}
			if res.NoteCount() != 2 {
				t.Errorf("NoteCount() = %d", res.NoteCount())
			}
			if res.Duration != 0.8 {
				t.Errorf("Duration = %g, want 0.8", res.Duration)
			}
			if j.State() != Done {
				t.Errorf("State() = %s, want done", j.State())
			}
		})
	}
}

func TestPredictOnce(t *testing.T) {
	det, trans := newMocks()
	j, err := New(det, trans, testOptions(ConditionDetected))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Predict(context.Background(), testFeatures()); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Predict(context.Background(), testFeatures()); !errors.Is(err, ErrNotReady) {
		t.Errorf("second Predict err = %v, want ErrNotReady", err)
	}
}

func TestPredictConcurrent(t *testing.T) {
	det, trans := newMocks()
	det.entered = make(chan struct{})
	det.release = make(chan struct{})
	j, err := New(det, trans, testOptions(ConditionDetected))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := j.Predict(context.Background(), testFeatures())
		done <- err
	}()
	<-det.entered
	if j.State() != Running {
		t.Errorf("State() = %s, want running", j.State())
	}
	if _, err := j.Predict(context.Background(), testFeatures()); !errors.Is(err, ErrNotReady) {
		t.Errorf("concurrent Predict err = %v, want ErrNotReady", err)
	}
	close(det.release)
	if err := <-done; err != nil {
		t.Errorf("first Predict error = %v", err)
	}
}

func TestPredictFailures(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		setup func(*mockDetection, *mockTranscription)
		ctx   context.Context
		cause error
	}{
		{"detection error", func(d *mockDetection, _ *mockTranscription) { d.err = fmt.Errorf("boom") }, context.Background(), nil},
		{"transcription error", func(_ *mockDetection, tr *mockTranscription) { tr.err = fmt.Errorf("boom") }, context.Background(), nil},
		{"wrong logit width", func(d *mockDetection, _ *mockTranscription) { d.logits = []float32{1, 2} }, context.Background(), nil},
		{"canceled", func(*mockDetection, *mockTranscription) {}, canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, trans := newMocks()
			tt.setup(det, trans)
			j, err := New(det, trans, testOptions(ConditionDetected))
			if err != nil {
				t.Fatal(err)
			}
			res, err := j.Predict(tt.ctx, testFeatures())
			if !errors.Is(err, errs.ErrInferenceFailure) {
				t.Fatalf("err = %v, want ErrInferenceFailure", err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("err = %v, want cause %v", err, tt.cause)
			}
			if res != nil {
				t.Error("no partial result should be returned")
			}
			if j.State() != Done {
				t.Errorf("State() = %s, want done", j.State())
			}
		})
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	det, trans := newMocks()
	tests := map[string]func(*Options){
		"conditioning": func(o *Options) { o.Conditioning = "film" },
		"no task":      func(o *Options) { o.Task = nil },
		"no decoder":   func(o *Options) { o.Decoder = nil },
		"no classes":   func(o *Options) { o.Instruments = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(ConditionDetected)
			mutate(&opts)
			if _, err := New(det, trans, opts); !errors.Is(err, errs.ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
		})
	}
	if _, err := New(nil, trans, testOptions(ConditionDetected)); err == nil {
		t.Error("New should require a detection stage")
	}
}

func TestOptionsCopied(t *testing.T) {
	det, trans := newMocks()
	opts := testOptions(ConditionDetected)
	j, err := New(det, trans, opts)
	if err != nil {
		t.Fatal(err)
	}
	opts.Instruments[0].Name = "kazoo"
	res, err := j.Predict(context.Background(), testFeatures())
	if err != nil {
		t.Fatal(err)
	}
	if res.Tracks[0].Instrument.Name != "acoustic_piano" {
		t.Errorf("caller mutation leaked into the coordinator: %s", res.Tracks[0].Instrument.Name)
	}
}
