package model

import (
	"fmt"
	"slices"

	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/nn"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

// LinearPoolSteps is the number of pooled time steps CombinedModel_Linear
// flattens before its projection (15 steps of 3).
const LinearPoolSteps = 15 * 3

// OpenMicArgs are the detection.model.args options of OpenMicBaseline.
type OpenMicArgs struct {
	Hidden int `koanf:"hidden"`
}

func newCombiner(typ string, tree *config.Tree, in, classes int) (nn.Module, error) {
	if typ == DetectionOpenMic {
		var args OpenMicArgs
		if err := tree.Decode("detection.model.args", &args); err != nil {
			return nil, err
		}
		if args.Hidden <= 0 {
			return nil, errs.New(errs.ErrConfiguration, "detection.model.args.hidden", "must be > 0")
		}
		return newOpenMic(in, args.Hidden, classes), nil
	}
	if !slices.Contains(detectionTypes, typ) {
		return nil, unrecognized("detection.type", typ, detectionTypes)
	}

	backbone, width, err := newBackbone(tree, in)
	if err != nil {
		return nil, err
	}

	switch typ {
	case DetectionOriginal:
		return newPooled(backbone, width, classes), nil

	case DetectionLinear:
		hidden, err := tree.Int("detection.transformer.hidden_dim")
		if err != nil {
			return nil, err
		}
		if hidden != width {
			return nil, widthMismatch("detection.transformer.hidden_dim", hidden, width)
		}
		return newLinearCombiner(backbone, width, classes), nil

	case DetectionCLS, DetectionNewCLS:
		enc, d, err := newEncoder(tree)
		if err != nil {
			return nil, err
		}
		if d != width {
			return nil, widthMismatch("detection.transformer.args.d_model", d, width)
		}
		return newCLSCombiner(backbone, enc, width, classes), nil

	case DetectionA, DetectionQ, DetectionNewQ:
		tr, d, err := newSequenceTransformer(tree, typ == DetectionA)
		if err != nil {
			return nil, err
		}
		if d != width {
			return nil, widthMismatch("detection.transformer.args.d_model", d, width)
		}
		if typ == DetectionA {
			return newQueryCombiner(backbone, tr, width, classes, false, false), nil
		}
		return newQueryCombiner(backbone, tr, width, classes, true, typ == DetectionNewQ), nil
	}
	return nil, unrecognized("detection.type", typ, detectionTypes)
}

func widthMismatch(path string, got, backbone int) error {
	return errs.New(errs.ErrConfiguration, path, "is %d but the backbone produces width %d", got, backbone)
}

// pooled averages backbone frames and classifies the mean.
type pooled struct {
	nn.Container
	backbone   nn.Module
	classifier *nn.Linear
}

func newPooled(backbone nn.Module, width, classes int) *pooled {
	p := &pooled{backbone: backbone, classifier: nn.NewLinear(width, classes)}
	p.Add("backbone", backbone)
	p.Add("classifier", p.classifier)
	return p
}

func (p *pooled) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := p.backbone.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	if h, err = tensor.MeanRows(h); err != nil {
		return nil, err
	}
	return p.classifier.Forward(h)
}

// linearCombiner pools backbone frames to a fixed number of steps, flattens
// them and projects back to the model width before classifying.
type linearCombiner struct {
	nn.Container
	backbone   nn.Module
	linear     *nn.Linear
	classifier *nn.Linear
}

func newLinearCombiner(backbone nn.Module, width, classes int) *linearCombiner {
	c := &linearCombiner{
		backbone:   backbone,
		linear:     nn.NewLinear(width*LinearPoolSteps, width),
		classifier: nn.NewLinear(width, classes),
	}
	c.Add("backbone", backbone)
	c.Add("linear", c.linear)
	c.Add("classifier", c.classifier)
	return c
}

func (c *linearCombiner) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := c.backbone.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	if h, err = tensor.AdaptiveMeanRows(h, LinearPoolSteps); err != nil {
		return nil, err
	}
	if h, err = h.Reshape(1, h.Len()); err != nil {
		return nil, err
	}
	if h, err = c.linear.Forward(h); err != nil {
		return nil, err
	}
	tensor.Apply(h, tensor.ReLU)
	return c.classifier.Forward(h)
}

// clsCombiner prepends a learned CLS frame, encodes the sequence and
// classifies the CLS output.
type clsCombiner struct {
	nn.Container
	backbone   nn.Module
	encoder    nn.Module
	cls        *tensor.Tensor
	classifier *nn.Linear
}

func newCLSCombiner(backbone, encoder nn.Module, width, classes int) *clsCombiner {
	c := &clsCombiner{backbone: backbone, encoder: encoder, classifier: nn.NewLinear(width, classes)}
	c.cls = c.AddParam("cls", tensor.New(1, width), nn.InitUniform)
	c.Add("backbone", backbone)
	c.Add("encoder", encoder)
	c.Add("classifier", c.classifier)
	return c
}

func (c *clsCombiner) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := c.backbone.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	if h, err = tensor.ConcatRows(c.cls, h); err != nil {
		return nil, err
	}
	if h, err = c.encoder.Forward(h); err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	first, err := tensor.FromData(h.Row(0), 1, h.Dim(1))
	if err != nil {
		return nil, err
	}
	return c.classifier.Forward(first)
}

// queryCombiner decodes learned queries against the backbone frames. With
// perClass each class has its own query and a shared one-logit head;
// otherwise a single query feeds a full classifier.
type queryCombiner struct {
	nn.Container
	backbone    nn.Module
	transformer nn.SequenceTransformer
	queries     *tensor.Tensor
	norm        *nn.LayerNorm
	head        *nn.Linear
	perClass    bool
}

func newQueryCombiner(backbone nn.Module, tr nn.SequenceTransformer, width, classes int, perClass, norm bool) *queryCombiner {
	c := &queryCombiner{backbone: backbone, transformer: tr, perClass: perClass}
	n, out := 1, classes
	if perClass {
		n, out = classes, 1
	}
	c.queries = c.AddParam("queries", tensor.New(n, width), nn.InitUniform)
	c.Add("backbone", backbone)
	c.Add("transformer", tr)
	if norm {
		c.norm = nn.NewLayerNorm(width)
		c.Add("norm", c.norm)
	}
	c.head = nn.NewLinear(width, out)
	c.Add("head", c.head)
	return c
}

func (c *queryCombiner) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := c.backbone.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	q, err := c.transformer.Transform(h, c.queries)
	if err != nil {
		return nil, fmt.Errorf("transformer: %w", err)
	}
	if c.norm != nil {
		if q, err = c.norm.Forward(q); err != nil {
			return nil, err
		}
	}
	logits, err := c.head.Forward(q)
	if err != nil {
		return nil, err
	}
	if c.perClass {
		// [classes, 1] -> [1, classes]
		return logits.Reshape(1, logits.Len())
	}
	return logits, nil
}

// openMic is decision-level single attention: frame-wise class scores
// weighted by a softmax over time.
type openMic struct {
	nn.Container
	embed     *nn.Linear
	attention *nn.Linear
	classify  *nn.Linear
}

func newOpenMic(in, hidden, classes int) *openMic {
	m := &openMic{
		embed:     nn.NewLinear(in, hidden),
		attention: nn.NewLinear(hidden, classes),
		classify:  nn.NewLinear(hidden, classes),
	}
	m.Add("embed", m.embed)
	m.Add("attention", m.attention)
	m.Add("classifier", m.classify)
	return m
}

func (m *openMic) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := m.embed.Forward(x)
	if err != nil {
		return nil, err
	}
	tensor.Apply(h, tensor.ReLU)
	att, err := m.attention.Forward(h)
	if err != nil {
		return nil, err
	}
	cla, err := m.classify.Forward(h)
	if err != nil {
		return nil, err
	}

	// softmax over time for each class
	attT, err := tensor.Transpose(att)
	if err != nil {
		return nil, err
	}
	if err := tensor.SoftmaxRows(attT); err != nil {
		return nil, err
	}
	claT, err := tensor.Transpose(cla)
	if err != nil {
		return nil, err
	}
	out := tensor.New(1, attT.Dim(0))
	for c := 0; c < attT.Dim(0); c++ {
		var s float32
		w, v := attT.Row(c), claT.Row(c)
		for t := range w {
			s += w[t] * v[t]
		}
		out.Set(0, c, s)
	}
	return out, nil
}
