package nn

import (
	"fmt"

	"github.com/chaz8081/jointist-go/internal/tensor"
)

// GRU is a single-layer gated recurrent unit over a [T, In] sequence. When
// Bidirectional is set the output is [T, 2*Hidden] with the forward pass in
// the first half.
type GRU struct {
	Container
	In, Hidden    int
	Bidirectional bool
	dirs          []*gruDirection
}

type gruDirection struct {
	wih, whh, bih, bhh *tensor.Tensor
}

func NewGRU(in, hidden int, bidirectional bool) *GRU {
	g := &GRU{In: in, Hidden: hidden, Bidirectional: bidirectional}
	suffixes := []string{""}
	if bidirectional {
		suffixes = append(suffixes, "_reverse")
	}
	for _, sfx := range suffixes {
		d := &gruDirection{
			wih: g.AddParam("weight_ih_l0"+sfx, tensor.New(3*hidden, in), InitUniform),
			whh: g.AddParam("weight_hh_l0"+sfx, tensor.New(3*hidden, hidden), InitUniform),
			bih: g.AddParam("bias_ih_l0"+sfx, tensor.New(3*hidden), InitUniform),
			bhh: g.AddParam("bias_hh_l0"+sfx, tensor.New(3*hidden), InitUniform),
		}
		g.dirs = append(g.dirs, d)
	}
	return g
}

// OutWidth is the width of each output row.
func (g *GRU) OutWidth() int { return g.Hidden * len(g.dirs) }

func (g *GRU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 2 || x.Dim(1) != g.In {
		return nil, fmt.Errorf("gru: want [T %d], got %v", g.In, x.Shape())
	}
	outs := make([]*tensor.Tensor, 0, len(g.dirs))
	for i, d := range g.dirs {
		y, err := g.run(d, x, i == 1)
		if err != nil {
			return nil, fmt.Errorf("gru: %w", err)
		}
		outs = append(outs, y)
	}
	if len(outs) == 1 {
		return outs[0], nil
	}
	return tensor.ConcatCols(outs...)
}

func (g *GRU) run(d *gruDirection, x *tensor.Tensor, reverse bool) (*tensor.Tensor, error) {
	T, H := x.Dim(0), g.Hidden
	gi, err := tensor.MatMulT(x, d.wih)
	if err != nil {
		return nil, err
	}
	if err := tensor.AddRow(gi, d.bih.Data()); err != nil {
		return nil, err
	}

	out := tensor.New(T, H)
	h := make([]float32, H)
	gh := make([]float32, 3*H)
	whh, bhh := d.whh, d.bhh.Data()
	for step := 0; step < T; step++ {
		t := step
		if reverse {
			t = T - 1 - step
		}
		for j := 0; j < 3*H; j++ {
			s := bhh[j]
			w := whh.Row(j)
			for k, hv := range h {
				s += w[k] * hv
			}
			gh[j] = s
		}
		in := gi.Row(t)
		for j := 0; j < H; j++ {
			r := tensor.Sigmoid(in[j] + gh[j])
			z := tensor.Sigmoid(in[H+j] + gh[H+j])
			n := tensor.Tanh(in[2*H+j] + r*gh[2*H+j])
			h[j] = (1-z)*n + z*h[j]
		}
		copy(out.Row(t), h)
	}
	return out, nil
}
