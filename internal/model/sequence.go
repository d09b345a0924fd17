package model

import (
	"fmt"

	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/nn"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

func transformerArgs(tree *config.Tree) (nn.TransformerArgs, error) {
	var args nn.TransformerArgs
	if err := tree.Decode("detection.transformer.args", &args); err != nil {
		return args, err
	}
	return args, nil
}

// newEncoder builds the sequence encoder [T, D] -> [T, D] used by the CLS
// variants.
func newEncoder(tree *config.Tree) (nn.Module, int, error) {
	typ, err := tree.String("detection.transformer.type")
	if err != nil {
		return nil, 0, err
	}
	args, err := transformerArgs(tree)
	if err != nil {
		return nil, 0, err
	}

	var enc nn.Module
	switch typ {
	case EncoderTransformer:
		enc, err = newTransformerEncoder(args)
	case EncoderGRU:
		enc, err = newGRUEncoder(args)
	default:
		return nil, 0, unrecognized("detection.transformer.type", typ, encoders)
	}
	if err != nil {
		return nil, 0, errs.Wrap(errs.ErrConfiguration, "detection.transformer.args", err)
	}
	return enc, args.DModel, nil
}

// newSequenceTransformer builds the transformer the query variants decode
// with. library forces the library transformer regardless of the tag.
func newSequenceTransformer(tree *config.Tree, library bool) (nn.SequenceTransformer, int, error) {
	typ := TransformerLibrary
	if !library {
		var err error
		if typ, err = tree.String("detection.transformer.type"); err != nil {
			return nil, 0, err
		}
	}
	args, err := transformerArgs(tree)
	if err != nil {
		return nil, 0, err
	}

	var tr nn.SequenceTransformer
	switch typ {
	case TransformerLibrary:
		tr, err = nn.NewTransformer(args)
	case TransformerCustom:
		tr, err = newCustomTransformer(args)
	default:
		return nil, 0, unrecognized("detection.transformer.type", typ, transformers)
	}
	if err != nil {
		return nil, 0, errs.Wrap(errs.ErrConfiguration, "detection.transformer.args", err)
	}
	return tr, args.DModel, nil
}

// transformerEncoder is a stack of encoder layers with a final LayerNorm.
type transformerEncoder struct {
	nn.Container
	layers []*nn.EncoderLayer
	norm   *nn.LayerNorm
}

func newTransformerEncoder(args nn.TransformerArgs) (*transformerEncoder, error) {
	if args.DModel <= 0 || args.NumEncoderLayers <= 0 {
		return nil, fmt.Errorf("d_model and num_encoder_layers must be > 0")
	}
	if args.DimFeedforward <= 0 {
		return nil, fmt.Errorf("dim_feedforward must be > 0")
	}
	if args.NHead == 0 {
		args.NHead = 8
	}
	e := &transformerEncoder{norm: nn.NewLayerNorm(args.DModel)}
	for i := 0; i < args.NumEncoderLayers; i++ {
		l, err := nn.NewEncoderLayer(args.DModel, args.NHead, args.DimFeedforward, args.Dropout, args.Activation, args.NormFirst)
		if err != nil {
			return nil, err
		}
		e.layers = append(e.layers, l)
		e.Add(fmt.Sprintf("layers.%d", i), l)
	}
	e.Add("norm", e.norm)
	return e, nil
}

func (e *transformerEncoder) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, l := range e.layers {
		if x, err = l.Forward(x); err != nil {
			return nil, fmt.Errorf("encoder layer %d: %w", i, err)
		}
	}
	return e.norm.Forward(x)
}

// gruEncoder stacks bidirectional GRUs whose halves add up to d_model.
type gruEncoder struct {
	nn.Container
	layers []*nn.GRU
}

func newGRUEncoder(args nn.TransformerArgs) (*gruEncoder, error) {
	if args.DModel <= 0 || args.DModel%2 != 0 {
		return nil, fmt.Errorf("gru encoder needs an even d_model, got %d", args.DModel)
	}
	n := max(args.NumEncoderLayers, 1)
	g := &gruEncoder{}
	for i := 0; i < n; i++ {
		l := nn.NewGRU(args.DModel, args.DModel/2, true)
		g.layers = append(g.layers, l)
		g.Add(fmt.Sprintf("layers.%d", i), l)
	}
	return g, nil
}

func (g *gruEncoder) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, l := range g.layers {
		if x, err = l.Forward(x); err != nil {
			return nil, fmt.Errorf("gru layer %d: %w", i, err)
		}
	}
	return x, nil
}

// customTransformer encodes the source with encoder layers and lets the
// target queries read it through cross-attention only; queries do not attend
// to each other.
type customTransformer struct {
	nn.Container
	encoder *transformerEncoder
	blocks  []*queryBlock
}

type queryBlock struct {
	nn.Container
	cross    *nn.MultiHeadAttention
	norm1    *nn.LayerNorm
	norm2    *nn.LayerNorm
	ff1, ff2 *nn.Linear
	act      *nn.Activation
}

func newCustomTransformer(args nn.TransformerArgs) (*customTransformer, error) {
	if args.NHead == 0 {
		args.NHead = 8
	}
	enc, err := newTransformerEncoder(args)
	if err != nil {
		return nil, err
	}
	t := &customTransformer{encoder: enc}
	t.Add("encoder", enc)
	for i := 0; i < max(args.NumDecoderLayers, 1); i++ {
		cross, err := nn.NewMultiHeadAttention(args.DModel, args.NHead)
		if err != nil {
			return nil, err
		}
		b := &queryBlock{
			cross: cross,
			norm1: nn.NewLayerNorm(args.DModel), norm2: nn.NewLayerNorm(args.DModel),
			ff1: nn.NewLinear(args.DModel, args.DimFeedforward), ff2: nn.NewLinear(args.DimFeedforward, args.DModel),
			act: nn.NewReLU(),
		}
		if args.Activation == "gelu" {
			b.act = nn.NewGELU()
		}
		b.Add("cross_attn", b.cross)
		b.Add("norm1", b.norm1)
		b.Add("norm2", b.norm2)
		b.Add("linear1", b.ff1)
		b.Add("linear2", b.ff2)
		t.blocks = append(t.blocks, b)
		t.Add(fmt.Sprintf("decoder.%d", i), b)
	}
	return t, nil
}

func (t *customTransformer) Transform(src, tgt *tensor.Tensor) (*tensor.Tensor, error) {
	mem, err := t.encoder.Forward(src)
	if err != nil {
		return nil, fmt.Errorf("custom transformer: %w", err)
	}
	out := tgt
	for i, b := range t.blocks {
		if out, err = b.decode(out, mem); err != nil {
			return nil, fmt.Errorf("custom transformer: block %d: %w", i, err)
		}
	}
	return out, nil
}

func (b *queryBlock) decode(q, mem *tensor.Tensor) (*tensor.Tensor, error) {
	a, err := b.cross.Attend(q, mem)
	if err != nil {
		return nil, err
	}
	if a, err = tensor.Add(q, a); err != nil {
		return nil, err
	}
	if q, err = b.norm1.Forward(a); err != nil {
		return nil, err
	}
	h, err := nn.NewSequentialView(b.ff1, b.act, b.ff2).Forward(q)
	if err != nil {
		return nil, err
	}
	if h, err = tensor.Add(q, h); err != nil {
		return nil, err
	}
	return b.norm2.Forward(h)
}
