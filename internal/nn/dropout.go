package nn

import (
	"math/rand/v2"

	"github.com/chaz8081/jointist-go/internal/tensor"
)

// Dropout zeroes elements with probability P in Train mode and is the
// identity in Eval mode.
type Dropout struct {
	Container
	P   float64
	rng *rand.Rand
}

func NewDropout(p float64) *Dropout {
	return &Dropout{P: p, rng: rand.New(rand.NewPCG(0, 0))}
}

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if d.Mode() == Eval || d.P <= 0 {
		return x, nil
	}
	y := x.Clone()
	scale := float32(1 / (1 - d.P))
	data := y.Data()
	for i := range data {
		if d.rng.Float64() < d.P {
			data[i] = 0
		} else {
			data[i] *= scale
		}
	}
	return y, nil
}
