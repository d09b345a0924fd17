package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chaz8081/jointist-go/internal/audio"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/features"
)

// populate creates a.wav, b.WAV, notes.txt and sub/c.wav under a temp root.
func populate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.wav", "b.WAV", "notes.txt", filepath.Join("sub", "c.wav")} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestNewListsSources(t *testing.T) {
	root := populate(t)
	manifest := filepath.Join(root, "list.txt")
	if err := os.WriteFile(manifest, []byte("# clips\na.wav\n\n/abs/d.wav\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	args := Args{Root: root, Manifest: manifest}

	tests := []struct {
		typ  string
		want int
	}{
		{TypeWild, 2},
		{TypeFolder, 3},
		{TypeLazyList, 2},
		{TypeManifest, 2},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			ds, err := New(tt.typ, args, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := ds.Len(); got != tt.want {
				t.Errorf("Len() = %d, want %d", got, tt.want)
			}
		})
	}

	ds, err := New(TypeManifest, args, nil)
	if err != nil {
		t.Fatal(err)
	}
	it, err := ds.Item(0)
	if err != nil {
		t.Fatal(err)
	}
	if it.Path != filepath.Join(root, "a.wav") {
		t.Errorf("relative manifest entry resolved to %q", it.Path)
	}
}

func TestAdaptYieldsExactlyTheInput(t *testing.T) {
	root := populate(t)
	input := "/some where/My Clip (take 2).WAV"
	for _, typ := range []string{TypeWild, TypeFolder, TypeLazyList, TypeManifest} {
		t.Run(typ, func(t *testing.T) {
			ds, err := Adapt(typ, Args{Root: root}, input, nil)
			if err != nil {
				t.Fatalf("Adapt: %v", err)
			}
			if ds.Len() != 1 {
				t.Fatalf("Len() = %d, want 1", ds.Len())
			}
			it, err := ds.Item(0)
			if err != nil {
				t.Fatalf("Item(0): %v", err)
			}
			if it.Path != input {
				t.Errorf("Path = %q, want %q", it.Path, input)
			}
			if _, err := ds.Item(1); err == nil {
				t.Error("Item(1) should be out of range")
			}
		})
	}
}

func TestAdaptDisablesLazyRescan(t *testing.T) {
	root := populate(t)
	ds, err := Adapt(TypeLazyList, Args{Root: root}, "/in.wav", nil)
	if err != nil {
		t.Fatal(err)
	}
	// New files appearing after adaptation must not be picked up.
	if err := os.WriteFile(filepath.Join(root, "late.wav"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if ds.Len() != 1 {
			t.Fatalf("Len() = %d after rescan opportunity, want 1", ds.Len())
		}
	}
}

func TestAdaptToleratesMissingRoot(t *testing.T) {
	args := Args{Root: filepath.Join(t.TempDir(), "missing"), Manifest: "/no/such/manifest"}
	for _, typ := range []string{TypeWild, TypeFolder, TypeLazyList, TypeManifest} {
		t.Run(typ, func(t *testing.T) {
			ds, err := Adapt(typ, args, "/in.wav", nil)
			if err != nil {
				t.Fatalf("Adapt: %v", err)
			}
			if ds.Len() != 1 {
				t.Errorf("Len() = %d, want 1", ds.Len())
			}
		})
	}
}

func TestAdaptUnsupported(t *testing.T) {
	tests := []struct {
		name string
		typ  string
	}{
		{"packed archive", TypeH5},
		{"unknown type", "MSD"},
		{"near miss", "WildDatasetV2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := Adapt(tt.typ, Args{}, "/in.wav", nil)
			if !errors.Is(err, errs.ErrUnsupportedDatasetShape) {
				t.Fatalf("err = %v, want ErrUnsupportedDatasetShape", err)
			}
			if ds != nil {
				t.Error("no dataset should be returned on error")
			}
			if got := errs.SubjectOf(err); got != tt.typ {
				t.Errorf("subject = %q, want %q", got, tt.typ)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	c := Catalog()
	if c.Path != "datamodule.type" || !errors.Is(c.Kind, errs.ErrUnsupportedDatasetShape) {
		t.Errorf("unexpected catalog %+v", c)
	}
	for _, typ := range c.Tags {
		if _, err := New(typ, Args{}, nil); err != nil {
			t.Errorf("catalog tag %q is not constructible: %v", typ, err)
		}
	}
}

func TestItemFeaturesCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(i%40)/40 - 0.5
	}
	if err := audio.WriteWAV(path, samples, 16000); err != nil {
		t.Fatal(err)
	}
	ext, err := features.NewExtractor(features.Config{
		SampleRate: 16000, NFFT: 256, HopLength: 160, NMels: 8, FMin: 0, FMax: 8000,
	})
	if err != nil {
		t.Fatal(err)
	}

	ds, err := Adapt(TypeWild, Args{}, path, ext)
	if err != nil {
		t.Fatal(err)
	}
	it, err := ds.Item(0)
	if err != nil {
		t.Fatal(err)
	}
	f1, err := it.Features(context.Background())
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	f2, err := it.Features(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Error("features should be extracted once and cached")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := it.Features(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context: err = %v", err)
	}
}
