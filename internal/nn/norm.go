package nn

import (
	"fmt"
	"math"

	"github.com/chaz8081/jointist-go/internal/tensor"
)

const normEps = 1e-5

// BatchNorm1d normalises each channel of a [T, C] input. In Train mode it
// uses the statistics of the input and updates the running estimates; in
// Eval mode it only reads the running estimates.
type BatchNorm1d struct {
	Container
	C           int
	Momentum    float32
	Weight      *tensor.Tensor
	Bias        *tensor.Tensor
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor
}

func NewBatchNorm1d(c int) *BatchNorm1d {
	b := &BatchNorm1d{C: c, Momentum: 0.1}
	b.Weight = b.AddParam("weight", tensor.New(c), InitOnes)
	b.Bias = b.AddParam("bias", tensor.New(c), InitZeros)
	b.RunningMean = b.AddParam("running_mean", tensor.New(c), InitZeros)
	b.RunningVar = b.AddParam("running_var", tensor.New(c), InitOnes)
	return b
}

func (b *BatchNorm1d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 2 || x.Dim(1) != b.C {
		return nil, fmt.Errorf("batchnorm: want [T %d], got %v", b.C, x.Shape())
	}
	mean, variance := b.RunningMean.Data(), b.RunningVar.Data()
	if b.Mode() == Train && x.Dim(0) > 1 {
		mean, variance = channelStats(x)
		rm, rv := b.RunningMean.Data(), b.RunningVar.Data()
		for j := range rm {
			rm[j] = (1-b.Momentum)*rm[j] + b.Momentum*mean[j]
			rv[j] = (1-b.Momentum)*rv[j] + b.Momentum*variance[j]
		}
	}
	y := x.Clone()
	w, bias := b.Weight.Data(), b.Bias.Data()
	for t := 0; t < y.Dim(0); t++ {
		row := y.Row(t)
		for j := range row {
			row[j] = (row[j]-mean[j])/float32(math.Sqrt(float64(variance[j])+normEps))*w[j] + bias[j]
		}
	}
	return y, nil
}

func channelStats(x *tensor.Tensor) (mean, variance []float32) {
	T, C := x.Dim(0), x.Dim(1)
	mean = make([]float32, C)
	variance = make([]float32, C)
	for t := 0; t < T; t++ {
		for j, v := range x.Row(t) {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float32(T)
	}
	for t := 0; t < T; t++ {
		for j, v := range x.Row(t) {
			d := v - mean[j]
			variance[j] += d * d
		}
	}
	for j := range variance {
		variance[j] /= float32(T)
	}
	return mean, variance
}

// LayerNorm normalises each row of a [T, C] input.
type LayerNorm struct {
	Container
	C      int
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

func NewLayerNorm(c int) *LayerNorm {
	l := &LayerNorm{C: c}
	l.Weight = l.AddParam("weight", tensor.New(c), InitOnes)
	l.Bias = l.AddParam("bias", tensor.New(c), InitZeros)
	return l
}

func (l *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 2 || x.Dim(1) != l.C {
		return nil, fmt.Errorf("layernorm: want [T %d], got %v", l.C, x.Shape())
	}
	y := x.Clone()
	w, b := l.Weight.Data(), l.Bias.Data()
	for t := 0; t < y.Dim(0); t++ {
		row := y.Row(t)
		var mean, sq float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(len(row))
		for _, v := range row {
			d := float64(v) - mean
			sq += d * d
		}
		inv := 1 / math.Sqrt(sq/float64(len(row))+normEps)
		for j, v := range row {
			row[j] = float32((float64(v)-mean)*inv)*w[j] + b[j]
		}
	}
	return y, nil
}
