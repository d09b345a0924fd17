package jointist

import (
	"errors"
	"testing"

	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/model"
)

func resolve(t *testing.T, overrides ...string) *config.Tree {
	t.Helper()
	parsed, err := config.ParseOverrides(append([]string{"audio_path=clip.wav"}, overrides...))
	if err != nil {
		t.Fatal(err)
	}
	tree, err := config.Resolver{BaseDir: t.TempDir()}.Resolve("", parsed)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestNewOptions(t *testing.T) {
	tree := resolve(t, "transcription.frame_threshold=0.3", "transcription.min_frames=4")
	det, err := model.BuildDetection(tree, MIDIClasses)
	if err != nil {
		t.Fatal(err)
	}
	opts, err := NewOptions(tree, det)
	if err != nil {
		t.Fatalf("NewOptions() error = %v", err)
	}
	if opts.Conditioning != ConditionDetected {
		t.Errorf("Conditioning = %q", opts.Conditioning)
	}
	want := RollDecoder{FrameThreshold: 0.3, OnsetThreshold: 0.5, MinFrames: 4}
	if opts.Decoder != want {
		t.Errorf("Decoder = %+v, want %+v", opts.Decoder, want)
	}
	if opts.DetectionFeatures != nil {
		t.Error("detection shares the global features; no separate extractor expected")
	}
	if len(opts.Instruments) != MIDIClasses {
		t.Errorf("%d instruments", len(opts.Instruments))
	}
}

func TestNewOptionsSeparateDetectionFeatures(t *testing.T) {
	tree := resolve(t,
		"detection.type=CombinedModel_NewCLS",
		"detection.transformer.type=GRU",
		"detection.feature.n_mels=32",
	)
	det, err := model.BuildDetection(tree, MIDIClasses)
	if err != nil {
		t.Fatal(err)
	}
	opts, err := NewOptions(tree, det)
	if err != nil {
		t.Fatal(err)
	}
	if opts.DetectionFeatures == nil || opts.DetectionFeatures.Config().NMels != 32 {
		t.Error("NewCLS with its own feature section should get its own extractor")
	}
}

func TestConditioningCatalog(t *testing.T) {
	if err := resolve(t).Validate(Catalog()); err != nil {
		t.Errorf("template should validate: %v", err)
	}
	err := resolve(t, "transcription.conditioning=film").Validate(Catalog())
	if !errors.Is(err, errs.ErrConfiguration) || errs.SubjectOf(err) != "film" {
		t.Errorf("err = %v, want ErrConfiguration about film", err)
	}
}
