package tensor

import (
	"fmt"
	"math"
)

// MatMul computes a[n,k] x b[k,m].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if err := expectRank2("matmul", a, b); err != nil {
		return nil, err
	}
	n, k, m := a.shape[0], a.shape[1], b.shape[1]
	if b.shape[0] != k {
		return nil, fmt.Errorf("tensor: matmul: inner dims %v x %v", a.shape, b.shape)
	}
	out := New(n, m)
	for i := 0; i < n; i++ {
		arow := a.data[i*k : (i+1)*k]
		orow := out.data[i*m : (i+1)*m]
		for p, av := range arow {
			if av == 0 {
				continue
			}
			brow := b.data[p*m : (p+1)*m]
			for j, bv := range brow {
				orow[j] += av * bv
			}
		}
	}
	return out, nil
}

// MatMulT computes a[n,k] x b[m,k]^T, the layout used for weight matrices.
func MatMulT(a, b *Tensor) (*Tensor, error) {
	if err := expectRank2("matmulT", a, b); err != nil {
		return nil, err
	}
	n, k, m := a.shape[0], a.shape[1], b.shape[0]
	if b.shape[1] != k {
		return nil, fmt.Errorf("tensor: matmulT: inner dims %v x %v^T", a.shape, b.shape)
	}
	out := New(n, m)
	for i := 0; i < n; i++ {
		arow := a.data[i*k : (i+1)*k]
		for j := 0; j < m; j++ {
			brow := b.data[j*k : (j+1)*k]
			var s float32
			for p := range arow {
				s += arow[p] * brow[p]
			}
			out.data[i*m+j] = s
		}
	}
	return out, nil
}

// Transpose swaps the two axes of a rank-2 tensor.
func Transpose(a *Tensor) (*Tensor, error) {
	if err := expectRank2("transpose", a); err != nil {
		return nil, err
	}
	r, c := a.shape[0], a.shape[1]
	out := New(c, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[j*r+i] = a.data[i*c+j]
		}
	}
	return out, nil
}

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if !a.SameShape(b.shape) {
		return nil, fmt.Errorf("tensor: add: shapes %v and %v", a.shape, b.shape)
	}
	out := a.Clone()
	for i, v := range b.data {
		out.data[i] += v
	}
	return out, nil
}

// AddRow adds vector v to every row of a rank-2 tensor, in place.
func AddRow(a *Tensor, v []float32) error {
	if err := expectRank2("addRow", a); err != nil {
		return err
	}
	c := a.shape[1]
	if len(v) != c {
		return fmt.Errorf("tensor: addRow: row width %d, vector %d", c, len(v))
	}
	for i := 0; i < a.shape[0]; i++ {
		row := a.data[i*c : (i+1)*c]
		for j := range row {
			row[j] += v[j]
		}
	}
	return nil
}

// Apply replaces every element x of a with f(x), in place.
func Apply(a *Tensor, f func(float32) float32) {
	for i, v := range a.data {
		a.data[i] = f(v)
	}
}

// ReLU is max(0, x).
func ReLU(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Sigmoid is the logistic function.
func Sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Tanh is the hyperbolic tangent.
func Tanh(x float32) float32 { return float32(math.Tanh(float64(x))) }

// GELU uses the tanh approximation.
func GELU(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(v+0.044715*v*v*v))))
}

// SoftmaxRows normalises every row of a rank-2 tensor in place.
func SoftmaxRows(a *Tensor) error {
	if err := expectRank2("softmax", a); err != nil {
		return err
	}
	c := a.shape[1]
	for i := 0; i < a.shape[0]; i++ {
		row := a.data[i*c : (i+1)*c]
		maxV := float32(math.Inf(-1))
		for _, v := range row {
			maxV = max(maxV, v)
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - maxV))
			row[j] = float32(e)
			sum += e
		}
		for j := range row {
			row[j] = float32(float64(row[j]) / sum)
		}
	}
	return nil
}

// ConcatRows stacks rank-2 tensors with equal widths along axis 0.
func ConcatRows(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: concatRows: no inputs")
	}
	if err := expectRank2("concatRows", ts...); err != nil {
		return nil, err
	}
	c := ts[0].shape[1]
	rows := 0
	for _, t := range ts {
		if t.shape[1] != c {
			return nil, fmt.Errorf("tensor: concatRows: widths %d and %d", c, t.shape[1])
		}
		rows += t.shape[0]
	}
	out := New(rows, c)
	off := 0
	for _, t := range ts {
		off += copy(out.data[off:], t.data)
	}
	return out, nil
}

// ConcatCols joins rank-2 tensors with equal heights along axis 1.
func ConcatCols(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: concatCols: no inputs")
	}
	if err := expectRank2("concatCols", ts...); err != nil {
		return nil, err
	}
	r := ts[0].shape[0]
	cols := 0
	for _, t := range ts {
		if t.shape[0] != r {
			return nil, fmt.Errorf("tensor: concatCols: heights %d and %d", r, t.shape[0])
		}
		cols += t.shape[1]
	}
	out := New(r, cols)
	for i := 0; i < r; i++ {
		off := i * cols
		for _, t := range ts {
			off += copy(out.data[off:], t.Row(i))
		}
	}
	return out, nil
}

// MeanRows averages a rank-2 tensor over axis 0, returning shape [1, C].
func MeanRows(a *Tensor) (*Tensor, error) {
	if err := expectRank2("meanRows", a); err != nil {
		return nil, err
	}
	r, c := a.shape[0], a.shape[1]
	out := New(1, c)
	if r == 0 {
		return out, nil
	}
	for i := 0; i < r; i++ {
		for j, v := range a.Row(i) {
			out.data[j] += v
		}
	}
	for j := range out.data {
		out.data[j] /= float32(r)
	}
	return out, nil
}

// AdaptiveMeanRows pools a [T, C] tensor to exactly n rows by averaging
// contiguous segments. Segments for n > T repeat source rows.
func AdaptiveMeanRows(a *Tensor, n int) (*Tensor, error) {
	if err := expectRank2("adaptiveMeanRows", a); err != nil {
		return nil, err
	}
	r, c := a.shape[0], a.shape[1]
	if r == 0 || n <= 0 {
		return nil, fmt.Errorf("tensor: adaptiveMeanRows: pool %d rows to %d", r, n)
	}
	out := New(n, c)
	for i := 0; i < n; i++ {
		start := i * r / n
		end := ((i+1)*r + n - 1) / n
		if end <= start {
			end = start + 1
		}
		orow := out.Row(i)
		for k := start; k < end; k++ {
			for j, v := range a.Row(k) {
				orow[j] += v
			}
		}
		for j := range orow {
			orow[j] /= float32(end - start)
		}
	}
	return out, nil
}
