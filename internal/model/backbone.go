package model

import (
	"fmt"

	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/nn"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

// BackboneArgs are the detection.backbone.args options. FrameMLP ignores
// Kernel.
type BackboneArgs struct {
	Layers   int `koanf:"layers"`
	Channels int `koanf:"channels"`
	Kernel   int `koanf:"kernel"`
	OutDim   int `koanf:"out_dim"`
}

func (a BackboneArgs) validate() error {
	if a.Layers <= 0 || a.Channels <= 0 || a.OutDim <= 0 {
		return fmt.Errorf("layers, channels and out_dim must be > 0")
	}
	return nil
}

// newBackbone builds the frame encoder [T, in] -> [T, out_dim].
func newBackbone(tree *config.Tree, in int) (nn.Module, int, error) {
	typ, err := tree.String("detection.backbone.type")
	if err != nil {
		return nil, 0, err
	}
	var args BackboneArgs
	if err := tree.Decode("detection.backbone.args", &args); err != nil {
		return nil, 0, err
	}
	if err := args.validate(); err != nil {
		return nil, 0, errs.Wrap(errs.ErrConfiguration, "detection.backbone.args", err)
	}

	switch typ {
	case BackboneCNN8:
		if args.Kernel <= 0 || args.Kernel%2 == 0 {
			return nil, 0, errs.New(errs.ErrConfiguration, "detection.backbone.args.kernel", "must be odd and > 0, got %d", args.Kernel)
		}
		return newCNN(in, args), args.OutDim, nil
	case BackboneFrameMLP:
		return newFrameMLP(in, args), args.OutDim, nil
	default:
		return nil, 0, unrecognized("detection.backbone.type", typ, backbones)
	}
}

// cnn is a stack of Conv1d -> BatchNorm -> ReLU blocks followed by a
// projection to out_dim.
type cnn struct {
	nn.Container
	convs []*nn.Conv1d
	norms []*nn.BatchNorm1d
	fc    *nn.Linear
}

func newCNN(in int, args BackboneArgs) *cnn {
	c := &cnn{}
	ch := in
	for i := 0; i < args.Layers; i++ {
		conv := nn.NewConv1d(ch, args.Channels, args.Kernel)
		bn := nn.NewBatchNorm1d(args.Channels)
		c.Add(fmt.Sprintf("conv%d", i), conv)
		c.Add(fmt.Sprintf("bn%d", i), bn)
		c.convs = append(c.convs, conv)
		c.norms = append(c.norms, bn)
		ch = args.Channels
	}
	c.fc = nn.NewLinear(ch, args.OutDim)
	c.Add("fc", c.fc)
	return c
}

func (c *cnn) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, conv := range c.convs {
		if x, err = conv.Forward(x); err != nil {
			return nil, fmt.Errorf("cnn block %d: %w", i, err)
		}
		if x, err = c.norms[i].Forward(x); err != nil {
			return nil, fmt.Errorf("cnn block %d: %w", i, err)
		}
		tensor.Apply(x, tensor.ReLU)
	}
	return c.fc.Forward(x)
}

// newFrameMLP applies the same MLP to every frame independently.
func newFrameMLP(in int, args BackboneArgs) *nn.Sequential {
	var layers []nn.Module
	width := in
	for i := 0; i < args.Layers; i++ {
		layers = append(layers, nn.NewLinear(width, args.Channels), nn.NewReLU())
		width = args.Channels
	}
	layers = append(layers, nn.NewLinear(width, args.OutDim))
	return nn.NewSequential(layers...)
}
