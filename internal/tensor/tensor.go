// Package tensor provides the dense float32 tensor exchanged between layers.
//
// Data is stored row-major. Layers in this repository mostly work on rank-2
// tensors shaped [time, channels].
package tensor

import (
	"fmt"
	"math"
	"slices"
)

// Tensor is a dense row-major float32 array.
type Tensor struct {
	shape []int
	data  []float32
}

// New returns a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{shape: slices.Clone(shape), data: make([]float32, numel(shape))}
}

// FromData wraps data (not copied) in a tensor of the given shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if n := numel(shape); n != len(data) {
		return nil, fmt.Errorf("tensor: shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &Tensor{shape: slices.Clone(shape), data: data}, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data returns the backing slice.
func (t *Tensor) Data() []float32 { return t.data }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// SameShape reports whether t has exactly the given shape.
func (t *Tensor) SameShape(shape []int) bool { return slices.Equal(t.shape, shape) }

// Equal reports whether t and o have the same shape and bit-identical values.
func (t *Tensor) Equal(o *Tensor) bool {
	if !slices.Equal(t.shape, o.shape) {
		return false
	}
	for i := range t.data {
		if math.Float32bits(t.data[i]) != math.Float32bits(o.data[i]) {
			return false
		}
	}
	return true
}

// Row returns row i of a rank-2 tensor as a sub-slice of the backing data.
func (t *Tensor) Row(i int) []float32 {
	c := t.shape[1]
	return t.data[i*c : (i+1)*c]
}

// At returns element (i, j) of a rank-2 tensor.
func (t *Tensor) At(i, j int) float32 { return t.data[i*t.shape[1]+j] }

// Set sets element (i, j) of a rank-2 tensor.
func (t *Tensor) Set(i, j int, v float32) { t.data[i*t.shape[1]+j] = v }

// Reshape returns a view of t with a new shape holding the same elements.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return FromData(t.data, shape...)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

func expectRank2(op string, ts ...*Tensor) error {
	for _, t := range ts {
		if t.Rank() != 2 {
			return fmt.Errorf("tensor: %s: want rank 2, got shape %v", op, t.shape)
		}
	}
	return nil
}
