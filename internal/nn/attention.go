package nn

import (
	"fmt"
	"math"

	"github.com/chaz8081/jointist-go/internal/tensor"
)

// MultiHeadAttention is scaled dot-product attention with Heads heads over a
// model width of D.
type MultiHeadAttention struct {
	Container
	D, Heads   int
	Q, K, V, O *Linear
}

func NewMultiHeadAttention(d, heads int) (*MultiHeadAttention, error) {
	if heads <= 0 || d%heads != 0 {
		return nil, fmt.Errorf("attention: width %d not divisible by %d heads", d, heads)
	}
	a := &MultiHeadAttention{
		D: d, Heads: heads,
		Q: NewLinear(d, d), K: NewLinear(d, d), V: NewLinear(d, d), O: NewLinear(d, d),
	}
	a.Add("q_proj", a.Q)
	a.Add("k_proj", a.K)
	a.Add("v_proj", a.V)
	a.Add("out_proj", a.O)
	return a, nil
}

// Attend lets each row of query [T, D] attend over memory [S, D].
func (a *MultiHeadAttention) Attend(query, memory *tensor.Tensor) (*tensor.Tensor, error) {
	q, err := a.Q.Forward(query)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}
	k, err := a.K.Forward(memory)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}
	v, err := a.V.Forward(memory)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}

	T, S, dh := q.Dim(0), k.Dim(0), a.D/a.Heads
	scale := float32(1 / math.Sqrt(float64(dh)))
	ctx := tensor.New(T, a.D)
	scores := tensor.New(1, S)
	for h := 0; h < a.Heads; h++ {
		off := h * dh
		for t := 0; t < T; t++ {
			qrow := q.Row(t)[off : off+dh]
			srow := scores.Row(0)
			for s := 0; s < S; s++ {
				krow := k.Row(s)[off : off+dh]
				var dot float32
				for i := range qrow {
					dot += qrow[i] * krow[i]
				}
				srow[s] = dot * scale
			}
			if err := tensor.SoftmaxRows(scores); err != nil {
				return nil, err
			}
			crow := ctx.Row(t)[off : off+dh]
			for s, w := range srow {
				vrow := v.Row(s)[off : off+dh]
				for i := range crow {
					crow[i] += w * vrow[i]
				}
			}
		}
	}
	return a.O.Forward(ctx)
}
