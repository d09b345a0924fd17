package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/nn"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

func testNet(hidden int) nn.Module {
	return nn.NewSequential(
		nn.NewLinear(4, hidden),
		nn.NewBatchNorm1d(hidden),
		nn.NewReLU(),
		nn.NewDropout(0.5),
		nn.NewLinear(hidden, 3),
	)
}

// paramList writes an arbitrary set of parameters.
type paramList []nn.Param

func (p paramList) Params() []nn.Param { return p }
func (paramList) SetMode(nn.Mode)      {}
func (paramList) Mode() nn.Mode        { return nn.Eval }

func saveSeeded(t *testing.T, net nn.Parameterized, seed uint64) string {
	t.Helper()
	nn.Init(net, seed)
	path := filepath.Join(t.TempDir(), "stage.ckpt")
	if err := Save(path, net); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func input() *tensor.Tensor {
	x := tensor.New(6, 4)
	for i := range x.Data() {
		x.Data()[i] = float32(i%5) - 2
	}
	return x
}

func TestSaveRead(t *testing.T) {
	net := testNet(8)
	path := saveSeeded(t, net, 7)

	w, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(w.Digest) != 64 {
		t.Errorf("digest %q is not hex BLAKE2b-256", w.Digest)
	}
	var names []string
	for _, p := range net.Params() {
		names = append(names, p.Name)
		if !w.Tensors[p.Name].Equal(p.Value) {
			t.Errorf("%s does not round trip", p.Name)
		}
	}
	if !slices.Equal(w.Names, names) {
		t.Errorf("Names = %v, want %v", w.Names, names)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestLoadIdenticalOutputs(t *testing.T) {
	path := saveSeeded(t, testNet(8), 42)

	a, err := Load(path, testNet(8))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := Load(path, testNet(8))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.Digest() != b.Digest() || a.Path() != path {
		t.Errorf("stage metadata differs: %s %s %s", a.Path(), a.Digest(), b.Digest())
	}

	ya, err := a.Forward(input())
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	yb, err := b.Forward(input())
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !ya.Equal(yb) {
		t.Error("two graphs loaded from one checkpoint disagree")
	}
	again, _ := a.Forward(input())
	if !ya.Equal(again) {
		t.Error("repeated forward passes disagree; dropout still active?")
	}
}

func TestLoadMismatch(t *testing.T) {
	full := testNet(8)
	nn.Init(full, 1)

	without := func(name string) paramList {
		var out paramList
		for _, p := range full.Params() {
			if p.Name != name {
				out = append(out, p)
			}
		}
		return out
	}
	extra := append(paramList(full.Params()), nn.Param{Name: "extra.weight", Value: tensor.New(2, 2)})

	tests := []struct {
		name    string
		saved   nn.Parameterized
		net     nn.Module
		subject string
	}{
		{"missing parameter", without("1.running_var"), testNet(8), "1.running_var"},
		{"unexpected parameter", extra, testNet(8), "extra.weight"},
		{"shape mismatch", full, testNet(6), "0.bias"},
		{"several missing", without("4.weight")[:2], testNet(8), "1.bias"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.ckpt")
			if err := Save(path, tt.saved); err != nil {
				t.Fatal(err)
			}
			nn.Init(tt.net, 99)
			before := tt.net.Params()[0].Value.Clone()

			stage, err := Load(path, tt.net)
			if !errors.Is(err, errs.ErrCheckpointShapeMismatch) {
				t.Fatalf("err = %v, want ErrCheckpointShapeMismatch", err)
			}
			if stage != nil {
				t.Error("no stage should be returned")
			}
			if got := errs.SubjectOf(err); got != tt.subject {
				t.Errorf("subject = %q, want %q", got, tt.subject)
			}
			if !tt.net.Params()[0].Value.Equal(before) {
				t.Error("network was modified by a failed load")
			}
		})
	}
}

func TestReadCorrupt(t *testing.T) {
	path := saveSeeded(t, testNet(4), 3)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	flipped := slices.Clone(raw)
	flipped[len(flipped)-1] ^= 0xff
	badMagic := slices.Clone(raw)
	copy(badMagic, "NOTCKPT!")

	tests := map[string][]byte{
		"payload digest": flipped,
		"magic":          badMagic,
		"truncated":      raw[:10],
		"empty":          nil,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "x.ckpt")
			if err := os.WriteFile(p, data, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(p, testNet(4)); !errors.Is(err, ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}

	if _, err := Read(filepath.Join(t.TempDir(), "absent.ckpt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v", err)
	}
}

func TestForwardRequiresEval(t *testing.T) {
	path := saveSeeded(t, testNet(4), 9)
	stage, err := Load(path, testNet(4))
	if err != nil {
		t.Fatal(err)
	}
	if stage.Net().Mode() != nn.Eval {
		t.Fatalf("loaded stage is in %s mode", stage.Net().Mode())
	}
	stage.Net().SetMode(nn.Train)
	if _, err := stage.Forward(input()); err == nil {
		t.Error("Forward should refuse a network in train mode")
	}
}

func TestSaveDuplicateName(t *testing.T) {
	p := nn.Param{Name: "w", Value: tensor.New(1)}
	if err := Save(filepath.Join(t.TempDir(), "d.ckpt"), paramList{p, p}); err == nil {
		t.Error("Save should reject duplicate parameter names")
	}
}
