package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chaz8081/jointist-go/internal/audio"
	"github.com/chaz8081/jointist-go/internal/checkpoint"
	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/midiout"
)

// small keeps the graphs and the spectrogram cheap.
var small = []string{
	"feature.n_mels=16",
	"feature.n_fft=256",
	"detection.feature.n_mels=16",
	"detection.feature.n_fft=256",
	"detection.type=Original",
	"transcription.model.args.hidden=8",
	"transcription.model.args.conv_channels=8",
}

func writeClip(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "clip.wav")
	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = float32(0.4 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	if err := audio.WriteWAV(path, samples, 16000); err != nil {
		t.Fatalf("writing clip: %v", err)
	}
	return path
}

func resolve(t *testing.T, dir string, overrides ...string) *config.Tree {
	t.Helper()
	args := append([]string{"audio_path=" + writeClip(t, dir)}, small...)
	parsed, err := config.ParseOverrides(append(args, overrides...))
	if err != nil {
		t.Fatal(err)
	}
	tree, err := config.Resolver{BaseDir: dir}.Resolve("", parsed)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

// fixture resolves a tree and writes seeded checkpoints for it.
func fixture(t *testing.T, overrides ...string) *config.Tree {
	t.Helper()
	tree := resolve(t, t.TempDir(), overrides...)
	if err := InitCheckpoints(tree); err != nil {
		t.Fatalf("InitCheckpoints: %v", err)
	}
	return tree
}

func TestRunDeterministic(t *testing.T) {
	tree := fixture(t)

	var results [2][]byte
	var first any
	for i := range results {
		r, err := Build(context.Background(), tree)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		res, err := r.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(res.Probabilities) != 39 {
			t.Fatalf("got %d class probabilities", len(res.Probabilities))
		}
		if i == 0 {
			first = res
		} else if !reflect.DeepEqual(first, res) {
			t.Error("two runs with the same input and checkpoints differ")
		}
		var buf bytes.Buffer
		if err := midiout.Encode(&buf, res); err != nil {
			t.Fatal(err)
		}
		results[i] = buf.Bytes()
	}
	if !bytes.Equal(results[0], results[1]) {
		t.Error("MIDI output differs between runs")
	}
}

func TestRunOnce(t *testing.T) {
	r, err := Build(context.Background(), fixture(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run err = %v, want ErrAlreadyRun", err)
	}
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name    string
		tree    func(t *testing.T) *config.Tree
		kind    error
		subject string
	}{
		{
			name: "unknown dataset type",
			tree: func(t *testing.T) *config.Tree { return fixture(t, "datamodule.type=MSD") },
			kind: errs.ErrUnsupportedDatasetShape, subject: "MSD",
		},
		{
			name: "dataset without item source",
			tree: func(t *testing.T) *config.Tree { return fixture(t, "datamodule.type=H5Dataset") },
			kind: errs.ErrUnsupportedDatasetShape, subject: "H5Dataset",
		},
		{
			name: "unknown detection type",
			tree: func(t *testing.T) *config.Tree { return resolve(t, t.TempDir(), "detection.type=CombinedModel_Z") },
			kind: errs.ErrUnrecognizedVariant, subject: "CombinedModel_Z",
		},
		{
			name: "checkpoint for another graph",
			tree: func(t *testing.T) *config.Tree {
				dir := t.TempDir()
				// checkpoints written for a FrameOnly graph lack the onset head
				if err := InitCheckpoints(resolve(t, dir, "transcription.model.type=FrameOnly")); err != nil {
					t.Fatal(err)
				}
				return resolve(t, dir)
			},
			kind: errs.ErrCheckpointShapeMismatch, subject: "frame_head.weight",
		},
		{
			name: "missing checkpoint",
			tree: func(t *testing.T) *config.Tree { return resolve(t, t.TempDir()) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Build(context.Background(), tt.tree(t))
			if err == nil {
				t.Fatal("Build should fail")
			}
			if r != nil {
				t.Error("no runner should be returned")
			}
			if tt.kind != nil && !errors.Is(err, tt.kind) {
				t.Errorf("err = %v, want %v", err, tt.kind)
			}
			if tt.subject != "" && errs.SubjectOf(err) != tt.subject {
				t.Errorf("subject = %q, want %q", errs.SubjectOf(err), tt.subject)
			}
		})
	}
}

func TestBuildReturnsLoaderErrorUnchanged(t *testing.T) {
	tree := resolve(t, t.TempDir())
	path, err := tree.String("checkpoint.detection")
	if err != nil {
		t.Fatal(err)
	}
	_, want := checkpoint.Read(path)
	if want == nil {
		t.Fatal("reading a missing checkpoint should fail")
	}

	_, err = Build(context.Background(), tree)
	if err == nil || err.Error() != want.Error() {
		t.Errorf("Build() error = %v, want %v", err, want)
	}
}

func TestBuildRequiresAudioPath(t *testing.T) {
	parsed, err := config.ParseOverrides(small)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := config.Resolver{BaseDir: t.TempDir()}.Resolve("", parsed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(context.Background(), tree); !errors.Is(err, errs.ErrMissingOption) {
		t.Errorf("err = %v, want ErrMissingOption", err)
	}
}

func TestRunCanceled(t *testing.T) {
	r, err := Build(context.Background(), fixture(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
