package model

import (
	"fmt"

	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/nn"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

// Piano-roll layout of the transcription heads.
const (
	Pitches     = 88
	LowestPitch = 21 // MIDI note of the first roll row (A0)
)

// TranscriptionArgs are the transcription.model.args options.
type TranscriptionArgs struct {
	ConvChannels int `koanf:"conv_channels"`
	Hidden       int `koanf:"hidden"`
}

func newTranscriptionNet(typ string, args TranscriptionArgs, nMels, classes int) (nn.Module, error) {
	if args.ConvChannels <= 0 || args.Hidden <= 0 {
		return nil, errs.New(errs.ErrConfiguration, "transcription.model.args", "conv_channels and hidden must be > 0")
	}
	switch typ {
	case TranscriptionOriginal:
		return newConditionedNet(nMels, classes, args, true), nil
	case TranscriptionFrameOnly:
		return newConditionedNet(nMels, classes, args, false), nil
	default:
		return nil, unrecognized("transcription.model.type", typ, transcriptionTypes)
	}
}

// conditionedNet is a two-block CNN over the spectrogram whose features are
// shifted by a projection of the instrument condition, followed by either a
// BiGRU with frame, onset and velocity heads or a single frame head.
type conditionedNet struct {
	nn.Container
	nMels, classes int
	convs          []*nn.Conv1d
	norms          []*nn.BatchNorm1d
	film           *nn.Linear
	gru            *nn.GRU
	frame          *nn.Linear
	onset          *nn.Linear
	velocity       *nn.Linear
}

func newConditionedNet(nMels, classes int, args TranscriptionArgs, full bool) *conditionedNet {
	n := &conditionedNet{nMels: nMels, classes: classes}
	in := nMels
	for i := 0; i < 2; i++ {
		conv := nn.NewConv1d(in, args.ConvChannels, 3)
		bn := nn.NewBatchNorm1d(args.ConvChannels)
		n.Add(fmt.Sprintf("conv%d", i), conv)
		n.Add(fmt.Sprintf("bn%d", i), bn)
		n.convs = append(n.convs, conv)
		n.norms = append(n.norms, bn)
		in = args.ConvChannels
	}
	n.film = nn.NewLinear(classes, args.ConvChannels)
	n.Add("condition", n.film)

	if !full {
		n.frame = nn.NewLinear(args.ConvChannels, Pitches)
		n.Add("frame_head", n.frame)
		return n
	}
	n.gru = nn.NewGRU(args.ConvChannels, args.Hidden, true)
	n.Add("gru", n.gru)
	w := n.gru.OutWidth()
	n.frame = nn.NewLinear(w, Pitches)
	n.onset = nn.NewLinear(w, Pitches)
	n.velocity = nn.NewLinear(w, Pitches)
	n.Add("frame_head", n.frame)
	n.Add("onset_head", n.onset)
	n.Add("velocity_head", n.velocity)
	return n
}

func (n *conditionedNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 2 || x.Dim(1) != n.nMels+n.classes {
		return nil, fmt.Errorf("transcription: want [T %d], got %v", n.nMels+n.classes, x.Shape())
	}
	T := x.Dim(0)
	spec, cond := tensor.New(T, n.nMels), tensor.New(T, n.classes)
	for t := 0; t < T; t++ {
		row := x.Row(t)
		copy(spec.Row(t), row[:n.nMels])
		copy(cond.Row(t), row[n.nMels:])
	}

	h := spec
	var err error
	for i, conv := range n.convs {
		if h, err = conv.Forward(h); err != nil {
			return nil, fmt.Errorf("transcription block %d: %w", i, err)
		}
		if h, err = n.norms[i].Forward(h); err != nil {
			return nil, fmt.Errorf("transcription block %d: %w", i, err)
		}
		tensor.Apply(h, tensor.ReLU)
	}
	shift, err := n.film.Forward(cond)
	if err != nil {
		return nil, fmt.Errorf("transcription condition: %w", err)
	}
	if h, err = tensor.Add(h, shift); err != nil {
		return nil, err
	}

	if n.gru == nil {
		return n.frame.Forward(h)
	}
	if h, err = n.gru.Forward(h); err != nil {
		return nil, fmt.Errorf("transcription: %w", err)
	}
	var outs []*tensor.Tensor
	for _, head := range []*nn.Linear{n.frame, n.onset, n.velocity} {
		o, err := head.Forward(h)
		if err != nil {
			return nil, err
		}
		outs = append(outs, o)
	}
	return tensor.ConcatCols(outs...)
}

// TranscriptionInput places the instrument condition next to every frame of
// the spectrogram, giving the [T, n_mels + classes] input transcription
// graphs expect.
func TranscriptionInput(spec *tensor.Tensor, condition []float32) (*tensor.Tensor, error) {
	if spec.Rank() != 2 {
		return nil, fmt.Errorf("transcription input: want a rank-2 spectrogram, got %v", spec.Shape())
	}
	cond := tensor.New(spec.Dim(0), len(condition))
	for t := 0; t < spec.Dim(0); t++ {
		copy(cond.Row(t), condition)
	}
	return tensor.ConcatCols(spec, cond)
}

// Heads are the per-frame probabilities [T, Pitches] of a transcription
// output. Onset and Velocity are nil for frame-only graphs.
type Heads struct {
	Frame    *tensor.Tensor
	Onset    *tensor.Tensor
	Velocity *tensor.Tensor
}

// SplitHeads separates a transcription output into its heads and applies a
// sigmoid to each.
func SplitHeads(out *tensor.Tensor) (*Heads, error) {
	if out.Rank() != 2 {
		return nil, fmt.Errorf("transcription output: want rank 2, got %v", out.Shape())
	}
	var n int
	switch out.Dim(1) {
	case Pitches:
		n = 1
	case 3 * Pitches:
		n = 3
	default:
		return nil, fmt.Errorf("transcription output: width %d is not 1 or 3 heads of %d pitches", out.Dim(1), Pitches)
	}
	parts := make([]*tensor.Tensor, n)
	T := out.Dim(0)
	for i := range parts {
		p := tensor.New(T, Pitches)
		for t := 0; t < T; t++ {
			copy(p.Row(t), out.Row(t)[i*Pitches:(i+1)*Pitches])
		}
		tensor.Apply(p, tensor.Sigmoid)
		parts[i] = p
	}
	h := &Heads{Frame: parts[0]}
	if n == 3 {
		h.Onset, h.Velocity = parts[1], parts[2]
	}
	return h, nil
}
