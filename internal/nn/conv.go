package nn

import (
	"fmt"

	"github.com/chaz8081/jointist-go/internal/tensor"
)

// Conv1d convolves along time over a [T, InCh] input with "same" zero
// padding and stride 1, producing [T, OutCh].
type Conv1d struct {
	Container
	InCh, OutCh, Kernel int
	Weight              *tensor.Tensor // [OutCh, InCh*Kernel]
	Bias                *tensor.Tensor // [OutCh]
}

func NewConv1d(inCh, outCh, kernel int) *Conv1d {
	c := &Conv1d{InCh: inCh, OutCh: outCh, Kernel: kernel}
	c.Weight = c.AddParam("weight", tensor.New(outCh, inCh*kernel), InitUniform)
	c.Bias = c.AddParam("bias", tensor.New(outCh), InitUniform)
	return c
}

func (c *Conv1d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 2 || x.Dim(1) != c.InCh {
		return nil, fmt.Errorf("conv1d: want [T %d], got %v", c.InCh, x.Shape())
	}
	T := x.Dim(0)
	pad := c.Kernel / 2

	// im2col: row t holds the InCh*Kernel window centred on t, kernel-major.
	cols := tensor.New(T, c.InCh*c.Kernel)
	for t := 0; t < T; t++ {
		row := cols.Row(t)
		for k := 0; k < c.Kernel; k++ {
			src := t + k - pad
			if src < 0 || src >= T {
				continue
			}
			copy(row[k*c.InCh:(k+1)*c.InCh], x.Row(src))
		}
	}
	y, err := tensor.MatMulT(cols, c.Weight)
	if err != nil {
		return nil, fmt.Errorf("conv1d: %w", err)
	}
	if err := tensor.AddRow(y, c.Bias.Data()); err != nil {
		return nil, fmt.Errorf("conv1d: %w", err)
	}
	return y, nil
}
