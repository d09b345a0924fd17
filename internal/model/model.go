// Package model builds detection and transcription graphs from configuration.
//
// Every variant is keyed by an exact tag. The tags each builder accepts are
// the same ones Catalogs reports, so an unknown tag is rejected when the
// configuration is validated and again, with the same error, if a builder is
// called directly.
package model

import (
	"log/slog"
	"slices"

	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/features"
	"github.com/chaz8081/jointist-go/internal/nn"
)

// Backbone tags (detection.backbone.type).
const (
	BackboneCNN8     = "CNN8"
	BackboneFrameMLP = "FrameMLP"
)

// Sequence encoder tags (detection.transformer.type for the CLS variants).
const (
	EncoderTransformer = "TransformerEncoder"
	EncoderGRU         = "GRU"
)

// Transformer tags (detection.transformer.type for the query variants).
const (
	TransformerLibrary = "torch_Transformer_API"
	TransformerCustom  = "Transformer"
)

// Detection combiner tags (detection.type).
const (
	DetectionOriginal = "Original"
	DetectionLinear   = "CombinedModel_Linear"
	DetectionCLS      = "CombinedModel_CLS"
	DetectionNewCLS   = "CombinedModel_NewCLS"
	DetectionA        = "CombinedModel_A"
	DetectionQ        = "CombinedModel_Q"
	DetectionNewQ     = "CombinedModel_NewQ"
	DetectionOpenMic  = "OpenMicBaseline"
)

// Detection task tags (detection.task).
const (
	TaskThreshold = "InstrumentDetection"
	TaskTopK      = "InstrumentDetectionTopK"
)

// Transcription tags (transcription.model.type).
const (
	TranscriptionOriginal  = "Original"
	TranscriptionFrameOnly = "FrameOnly"
)

var (
	backbones          = []string{BackboneCNN8, BackboneFrameMLP}
	encoders           = []string{EncoderTransformer, EncoderGRU}
	transformers       = []string{TransformerLibrary, TransformerCustom}
	detectionTypes     = []string{DetectionOriginal, DetectionLinear, DetectionCLS, DetectionNewCLS, DetectionA, DetectionQ, DetectionNewQ, DetectionOpenMic}
	tasks              = []string{TaskThreshold, TaskTopK}
	transcriptionTypes = []string{TranscriptionOriginal, TranscriptionFrameOnly}
)

func detectionTypeIn(types ...string) func(*config.Tree) bool {
	return func(t *config.Tree) bool {
		typ, err := t.String("detection.type")
		return err == nil && slices.Contains(types, typ)
	}
}

// Catalogs returns the closed tag sets the factory dispatches on.
func Catalogs() []config.Catalog {
	return []config.Catalog{
		{Path: "detection.task", Kind: errs.ErrUnrecognizedVariant, Tags: tasks},
		{Path: "detection.type", Kind: errs.ErrUnrecognizedVariant, Tags: detectionTypes},
		{
			Path: "detection.backbone.type", Kind: errs.ErrUnrecognizedVariant, Tags: backbones,
			When: func(t *config.Tree) bool { return !detectionTypeIn(DetectionOpenMic)(t) },
		},
		{
			Path: "detection.transformer.type", Kind: errs.ErrUnrecognizedVariant, Tags: encoders,
			When: detectionTypeIn(DetectionCLS, DetectionNewCLS),
		},
		{
			Path: "detection.transformer.type", Kind: errs.ErrUnrecognizedVariant, Tags: transformers,
			When: detectionTypeIn(DetectionQ, DetectionNewQ),
		},
		{Path: "transcription.model.type", Kind: errs.ErrUnrecognizedVariant, Tags: transcriptionTypes},
	}
}

// Detection is a constructed instrument-detection graph. Net maps a
// spectrogram [T, Feature.NMels] to logits [1, classes].
type Detection struct {
	Type    string
	Net     nn.Module
	Task    Task
	Feature features.Config
}

// BuildDetection constructs the detection graph described by the tree.
func BuildDetection(tree *config.Tree, classes int) (*Detection, error) {
	typ, err := tree.String("detection.type")
	if err != nil {
		return nil, err
	}
	featurePath := "feature"
	if typ == DetectionNewCLS {
		featurePath = "detection.feature"
	}
	var feat features.Config
	if err := tree.Decode(featurePath, &feat); err != nil {
		return nil, err
	}
	if err := feat.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrConfiguration, featurePath, err)
	}

	task, err := newTask(tree, classes)
	if err != nil {
		return nil, err
	}
	net, err := newCombiner(typ, tree, feat.NMels, classes)
	if err != nil {
		return nil, err
	}
	slog.Info("detection model built", "type", typ, "params", nn.CountParams(net))
	return &Detection{Type: typ, Net: net, Task: task, Feature: feat}, nil
}

// Transcription is a constructed transcription graph. Net maps
// [T, n_mels + classes] (spectrogram next to the broadcast instrument
// condition) to head outputs, see SplitHeads.
type Transcription struct {
	Type    string
	Net     nn.Module
	Feature features.Config
	Classes int
}

// BuildTranscription constructs the transcription graph described by the tree.
func BuildTranscription(tree *config.Tree, classes int) (*Transcription, error) {
	typ, err := tree.String("transcription.model.type")
	if err != nil {
		return nil, err
	}
	var feat features.Config
	if err := tree.Decode("feature", &feat); err != nil {
		return nil, err
	}
	if err := feat.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrConfiguration, "feature", err)
	}
	var args TranscriptionArgs
	if err := tree.Decode("transcription.model.args", &args); err != nil {
		return nil, err
	}

	net, err := newTranscriptionNet(typ, args, feat.NMels, classes)
	if err != nil {
		return nil, err
	}
	slog.Info("transcription model built", "type", typ, "params", nn.CountParams(net))
	return &Transcription{Type: typ, Net: net, Feature: feat, Classes: classes}, nil
}

func unrecognized(path, tag string, known []string) error {
	return errs.New(errs.ErrUnrecognizedVariant, tag, "unknown %s (known: %v)", path, known)
}
