package nn

import (
	"fmt"

	"github.com/chaz8081/jointist-go/internal/tensor"
)

// TransformerArgs are the constructor arguments of the generic Transformer,
// named after the keyword arguments detection configs pass to it.
type TransformerArgs struct {
	DModel           int     `koanf:"d_model"`
	NHead            int     `koanf:"nhead"`
	NumEncoderLayers int     `koanf:"num_encoder_layers"`
	NumDecoderLayers int     `koanf:"num_decoder_layers"`
	DimFeedforward   int     `koanf:"dim_feedforward"`
	Dropout          float64 `koanf:"dropout"`
	Activation       string  `koanf:"activation"`
	NormFirst        bool    `koanf:"norm_first"`
	BatchFirst       bool    `koanf:"batch_first"` // accepted for config compatibility; inputs are always [T, D]
}

func (a TransformerArgs) validate() error {
	switch {
	case a.DModel <= 0:
		return fmt.Errorf("transformer: d_model must be > 0")
	case a.NHead <= 0:
		return fmt.Errorf("transformer: nhead must be > 0")
	case a.DimFeedforward <= 0:
		return fmt.Errorf("transformer: dim_feedforward must be > 0")
	case a.NumEncoderLayers < 0 || a.NumDecoderLayers < 0:
		return fmt.Errorf("transformer: layer counts must be >= 0")
	}
	switch a.Activation {
	case "", "relu", "gelu":
	default:
		return fmt.Errorf("transformer: activation must be relu or gelu, got %q", a.Activation)
	}
	return nil
}

func activation(name string) *Activation {
	if name == "gelu" {
		return NewGELU()
	}
	return NewReLU()
}

// EncoderLayer is one transformer encoder block.
type EncoderLayer struct {
	Container
	self         *MultiHeadAttention
	ff1, ff2     *Linear
	act          *Activation
	norm1, norm2 *LayerNorm
	drop         *Dropout
	normFirst    bool
}

func NewEncoderLayer(d, heads, ff int, dropout float64, act string, normFirst bool) (*EncoderLayer, error) {
	self, err := NewMultiHeadAttention(d, heads)
	if err != nil {
		return nil, err
	}
	l := &EncoderLayer{
		self: self, ff1: NewLinear(d, ff), ff2: NewLinear(ff, d), act: activation(act),
		norm1: NewLayerNorm(d), norm2: NewLayerNorm(d), drop: NewDropout(dropout),
		normFirst: normFirst,
	}
	l.Add("self_attn", l.self)
	l.Add("linear1", l.ff1)
	l.Add("linear2", l.ff2)
	l.Add("norm1", l.norm1)
	l.Add("norm2", l.norm2)
	l.Add("dropout", l.drop)
	return l, nil
}

func (l *EncoderLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := residual(x, l.norm1, l.normFirst, func(h *tensor.Tensor) (*tensor.Tensor, error) {
		a, err := l.self.Attend(h, h)
		if err != nil {
			return nil, err
		}
		return l.drop.Forward(a)
	})
	if err != nil {
		return nil, fmt.Errorf("encoder layer: %w", err)
	}
	x, err = residual(x, l.norm2, l.normFirst, l.feedForward)
	if err != nil {
		return nil, fmt.Errorf("encoder layer: %w", err)
	}
	return x, nil
}

func (l *EncoderLayer) feedForward(h *tensor.Tensor) (*tensor.Tensor, error) {
	return NewSequentialView(l.ff1, l.act, l.drop, l.ff2).Forward(h)
}

// DecoderLayer is one transformer decoder block with cross-attention.
type DecoderLayer struct {
	Container
	self, cross         *MultiHeadAttention
	ff1, ff2            *Linear
	act                 *Activation
	norm1, norm2, norm3 *LayerNorm
	drop                *Dropout
	normFirst           bool
}

func NewDecoderLayer(d, heads, ff int, dropout float64, act string, normFirst bool) (*DecoderLayer, error) {
	self, err := NewMultiHeadAttention(d, heads)
	if err != nil {
		return nil, err
	}
	cross, err := NewMultiHeadAttention(d, heads)
	if err != nil {
		return nil, err
	}
	l := &DecoderLayer{
		self: self, cross: cross, ff1: NewLinear(d, ff), ff2: NewLinear(ff, d), act: activation(act),
		norm1: NewLayerNorm(d), norm2: NewLayerNorm(d), norm3: NewLayerNorm(d),
		drop: NewDropout(dropout), normFirst: normFirst,
	}
	l.Add("self_attn", l.self)
	l.Add("multihead_attn", l.cross)
	l.Add("linear1", l.ff1)
	l.Add("linear2", l.ff2)
	l.Add("norm1", l.norm1)
	l.Add("norm2", l.norm2)
	l.Add("norm3", l.norm3)
	l.Add("dropout", l.drop)
	return l, nil
}

// Decode runs the block on tgt [T, D] attending over memory [S, D].
func (l *DecoderLayer) Decode(tgt, memory *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := residual(tgt, l.norm1, l.normFirst, func(h *tensor.Tensor) (*tensor.Tensor, error) {
		return l.self.Attend(h, h)
	})
	if err != nil {
		return nil, fmt.Errorf("decoder layer: %w", err)
	}
	x, err = residual(x, l.norm2, l.normFirst, func(h *tensor.Tensor) (*tensor.Tensor, error) {
		return l.cross.Attend(h, memory)
	})
	if err != nil {
		return nil, fmt.Errorf("decoder layer: %w", err)
	}
	x, err = residual(x, l.norm3, l.normFirst, func(h *tensor.Tensor) (*tensor.Tensor, error) {
		return NewSequentialView(l.ff1, l.act, l.drop, l.ff2).Forward(h)
	})
	if err != nil {
		return nil, fmt.Errorf("decoder layer: %w", err)
	}
	return x, nil
}

// residual computes norm(x + f(x)) (post-norm) or x + f(norm(x)) (pre-norm).
func residual(x *tensor.Tensor, norm *LayerNorm, normFirst bool, f func(*tensor.Tensor) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	in := x
	if normFirst {
		var err error
		if in, err = norm.Forward(x); err != nil {
			return nil, err
		}
	}
	h, err := f(in)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Add(x, h)
	if err != nil {
		return nil, err
	}
	if normFirst {
		return sum, nil
	}
	return norm.Forward(sum)
}

// NewSequentialView chains layers without registering them as children. The
// layers must already be owned by another container.
func NewSequentialView(layers ...Module) *Sequential {
	return &Sequential{layers: layers}
}

// Transformer is the generic encoder-decoder transformer building block.
type Transformer struct {
	Container
	args    TransformerArgs
	encoder []*EncoderLayer
	decoder []*DecoderLayer
	encNorm *LayerNorm
	decNorm *LayerNorm
}

// NewTransformer builds the generic transformer from its keyword arguments.
// A zero nhead or dim_feedforward takes the conventional default (8, 2048).
func NewTransformer(args TransformerArgs) (*Transformer, error) {
	if args.NHead == 0 {
		args.NHead = 8
	}
	if args.DimFeedforward == 0 {
		args.DimFeedforward = 2048
	}
	if err := args.validate(); err != nil {
		return nil, err
	}
	t := &Transformer{args: args, encNorm: NewLayerNorm(args.DModel), decNorm: NewLayerNorm(args.DModel)}
	for i := 0; i < args.NumEncoderLayers; i++ {
		l, err := NewEncoderLayer(args.DModel, args.NHead, args.DimFeedforward, args.Dropout, args.Activation, args.NormFirst)
		if err != nil {
			return nil, err
		}
		t.encoder = append(t.encoder, l)
		t.Add(fmt.Sprintf("encoder.layers.%d", i), l)
	}
	t.Add("encoder.norm", t.encNorm)
	for i := 0; i < args.NumDecoderLayers; i++ {
		l, err := NewDecoderLayer(args.DModel, args.NHead, args.DimFeedforward, args.Dropout, args.Activation, args.NormFirst)
		if err != nil {
			return nil, err
		}
		t.decoder = append(t.decoder, l)
		t.Add(fmt.Sprintf("decoder.layers.%d", i), l)
	}
	t.Add("decoder.norm", t.decNorm)
	return t, nil
}

// DModel returns the model width.
func (t *Transformer) DModel() int { return t.args.DModel }

// Transform encodes src and decodes tgt against it.
func (t *Transformer) Transform(src, tgt *tensor.Tensor) (*tensor.Tensor, error) {
	mem := src
	var err error
	for i, l := range t.encoder {
		if mem, err = l.Forward(mem); err != nil {
			return nil, fmt.Errorf("transformer: encoder %d: %w", i, err)
		}
	}
	if mem, err = t.encNorm.Forward(mem); err != nil {
		return nil, fmt.Errorf("transformer: %w", err)
	}
	out := tgt
	for i, l := range t.decoder {
		if out, err = l.Decode(out, mem); err != nil {
			return nil, fmt.Errorf("transformer: decoder %d: %w", i, err)
		}
	}
	return t.decNorm.Forward(out)
}
