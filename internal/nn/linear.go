package nn

import (
	"fmt"

	"github.com/chaz8081/jointist-go/internal/tensor"
)

// Linear is y = x W^T + b over rows of a [T, In] input.
type Linear struct {
	Container
	In, Out int
	Weight  *tensor.Tensor // [Out, In]
	Bias    *tensor.Tensor // [Out]
}

func NewLinear(in, out int) *Linear {
	l := &Linear{In: in, Out: out}
	l.Weight = l.AddParam("weight", tensor.New(out, in), InitUniform)
	l.Bias = l.AddParam("bias", tensor.New(out), InitUniform)
	return l
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 2 || x.Dim(1) != l.In {
		return nil, fmt.Errorf("linear: want [T %d], got %v", l.In, x.Shape())
	}
	y, err := tensor.MatMulT(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("linear: %w", err)
	}
	if err := tensor.AddRow(y, l.Bias.Data()); err != nil {
		return nil, fmt.Errorf("linear: %w", err)
	}
	return y, nil
}

// Activation applies an element-wise function. It has no parameters.
type Activation struct {
	Container
	fn func(float32) float32
}

func NewReLU() *Activation { return &Activation{fn: tensor.ReLU} }
func NewGELU() *Activation { return &Activation{fn: tensor.GELU} }

func (a *Activation) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y := x.Clone()
	tensor.Apply(y, a.fn)
	return y, nil
}

// Sequential runs its children in order.
type Sequential struct {
	Container
	layers []Module
}

// NewSequential registers layers under their index ("0", "1", ...).
func NewSequential(layers ...Module) *Sequential {
	s := &Sequential{layers: layers}
	for i, l := range layers {
		s.Add(fmt.Sprint(i), l)
	}
	return s
}

func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, l := range s.layers {
		if x, err = l.Forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}
