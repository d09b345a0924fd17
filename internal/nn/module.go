// Package nn provides the layers the model factory assembles into detection
// and transcription graphs.
//
// Every layer exposes its weights as named parameters so a checkpoint can be
// matched against the graph by name and shape. Names are hierarchical and
// dot-separated ("backbone.conv0.weight"), mirroring the order children are
// registered in, so the same configuration always yields the same names.
package nn

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/chaz8081/jointist-go/internal/tensor"
)

// Mode selects training or inference behaviour for dropout and normalisation.
type Mode int

const (
	Train Mode = iota
	Eval
)

func (m Mode) String() string {
	if m == Eval {
		return "eval"
	}
	return "train"
}

// InitKind tells Init how to fill a parameter.
type InitKind int

const (
	InitUniform InitKind = iota // U(-1/sqrt(fanIn), 1/sqrt(fanIn))
	InitZeros
	InitOnes
)

// Param is one named tensor owned by a layer.
type Param struct {
	Name  string
	Value *tensor.Tensor
	Init  InitKind
}

// Parameterized is anything that owns parameters and has a mode.
type Parameterized interface {
	Params() []Param
	SetMode(Mode)
	Mode() Mode
}

// Module maps one tensor to another.
type Module interface {
	Parameterized
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// SequenceTransformer maps a source sequence [S, D] and a target sequence
// [T, D] to [T, D]. Both the library transformer and custom transformers
// implement it so the surrounding graph does not care which one it holds.
type SequenceTransformer interface {
	Parameterized
	Transform(src, tgt *tensor.Tensor) (*tensor.Tensor, error)
}

// Container collects a module's own parameters and its named children.
type Container struct {
	own      []Param
	children []child
	mode     Mode
}

type child struct {
	name string
	m    Parameterized
}

// AddParam registers a parameter owned directly by the container.
func (c *Container) AddParam(name string, value *tensor.Tensor, init InitKind) *tensor.Tensor {
	c.own = append(c.own, Param{Name: name, Value: value, Init: init})
	return value
}

// Add registers a child under name.
func (c *Container) Add(name string, m Parameterized) {
	c.children = append(c.children, child{name: name, m: m})
}

// Params returns own parameters followed by each child's, prefixed.
func (c *Container) Params() []Param {
	out := append([]Param(nil), c.own...)
	for _, ch := range c.children {
		for _, p := range ch.m.Params() {
			p.Name = ch.name + "." + p.Name
			out = append(out, p)
		}
	}
	return out
}

// SetMode propagates the mode to every child.
func (c *Container) SetMode(m Mode) {
	c.mode = m
	for _, ch := range c.children {
		ch.m.SetMode(m)
	}
}

// Mode returns the container's current mode.
func (c *Container) Mode() Mode { return c.mode }

// CountParams returns the number of scalar values across all parameters.
func CountParams(m Parameterized) int {
	n := 0
	for _, p := range m.Params() {
		n += p.Value.Len()
	}
	return n
}

// Init fills every parameter deterministically from seed. Each parameter gets
// its own generator keyed by its name, so adding a layer does not shift the
// values of the others.
func Init(m Parameterized, seed uint64) {
	for _, p := range m.Params() {
		data := p.Value.Data()
		switch p.Init {
		case InitZeros:
			clear(data)
		case InitOnes:
			for i := range data {
				data[i] = 1
			}
		default:
			h := fnv.New64a()
			_, _ = h.Write([]byte(p.Name))
			rng := rand.New(rand.NewPCG(seed, h.Sum64()))
			fanIn := 1
			if p.Value.Rank() > 1 {
				fanIn = p.Value.Len() / p.Value.Dim(0)
			}
			bound := 1 / math.Sqrt(float64(fanIn))
			for i := range data {
				data[i] = float32((rng.Float64()*2 - 1) * bound)
			}
		}
	}
}
