package checkpoint

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/nn"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

// Stage is a constructed network with checkpoint weights attached, fixed in
// inference mode.
type Stage struct {
	net    nn.Module
	path   string
	digest string
}

// Load attaches the checkpoint at path to net. Every checkpoint variable must
// name a parameter of net with the same shape and every parameter of net must
// be present in the checkpoint. On any mismatch the error names the first
// offending parameter in sorted order and net is left untouched.
func Load(path string, net nn.Module) (*Stage, error) {
	w, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Attach(net, w); err != nil {
		return nil, err
	}
	net.SetMode(nn.Eval)
	slog.Info("checkpoint loaded", "path", path, "digest", w.Digest[:12], "params", nn.CountParams(net))
	return &Stage{net: net, path: path, digest: w.Digest}, nil
}

// Attach copies w into the parameters of net after checking that both sides
// hold exactly the same names and shapes.
func Attach(net nn.Parameterized, w *Weights) error {
	params := make(map[string]nn.Param)
	for _, p := range net.Params() {
		params[p.Name] = p
	}

	var bad []string
	reasons := make(map[string]string)
	for name, t := range w.Tensors {
		p, ok := params[name]
		switch {
		case !ok:
			bad = append(bad, name)
			reasons[name] = "not a parameter of the network"
		case !p.Value.SameShape(t.Shape()):
			bad = append(bad, name)
			reasons[name] = fmt.Sprintf("checkpoint shape %v, network shape %v", t.Shape(), p.Value.Shape())
		}
	}
	for name := range params {
		if _, ok := w.Tensors[name]; !ok {
			bad = append(bad, name)
			reasons[name] = "missing from checkpoint"
		}
	}
	if len(bad) > 0 {
		slices.Sort(bad)
		return errs.New(errs.ErrCheckpointShapeMismatch, bad[0], "%s (%d mismatched parameters)", reasons[bad[0]], len(bad))
	}

	for name, p := range params {
		copy(p.Value.Data(), w.Tensors[name].Data())
	}
	return nil
}

// Forward runs the network. It refuses to run a network that has been
// switched out of inference mode.
func (s *Stage) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if m := s.net.Mode(); m != nn.Eval {
		return nil, fmt.Errorf("checkpoint: stage %s is in %s mode", s.path, m)
	}
	return s.net.Forward(x)
}

// Path returns the checkpoint file the stage was loaded from.
func (s *Stage) Path() string { return s.path }

// Digest returns the hex payload digest of the loaded checkpoint.
func (s *Stage) Digest() string { return s.digest }

// Net returns the underlying network.
func (s *Stage) Net() nn.Module { return s.net }
