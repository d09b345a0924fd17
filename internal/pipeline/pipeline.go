// Package pipeline assembles a prediction run from a resolved configuration
// and drives its single inference pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/jointist-go/internal/checkpoint"
	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/dataset"
	"github.com/chaz8081/jointist-go/internal/features"
	"github.com/chaz8081/jointist-go/internal/jointist"
	"github.com/chaz8081/jointist-go/internal/model"
	"github.com/chaz8081/jointist-go/internal/nn"
)

// ErrAlreadyRun is returned by a second call to Runner.Run.
var ErrAlreadyRun = errors.New("pipeline: runner already used")

// Catalogs returns every closed tag set a configuration is validated against.
func Catalogs() []config.Catalog {
	return append(model.Catalogs(), dataset.Catalog(), jointist.Catalog())
}

// Runner iterates a one-item dataset through the coordinator.
type Runner struct {
	data dataset.Dataset
	unit *jointist.Jointist

	mu   sync.Mutex
	used bool
}

// Build validates tree, constructs and loads both stages, composes them and
// adapts the dataset to audio_path. Any failure returns no runner.
func Build(ctx context.Context, tree *config.Tree) (*Runner, error) {
	if err := tree.Validate(Catalogs()...); err != nil {
		return nil, err
	}
	ext, err := extractor(tree)
	if err != nil {
		return nil, err
	}
	ds, err := adapt(tree, ext)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	det, err := model.BuildDetection(tree, jointist.MIDIClasses)
	if err != nil {
		return nil, err
	}
	trans, err := model.BuildTranscription(tree, jointist.MIDIClasses)
	if err != nil {
		return nil, err
	}

	detStage, err := load(tree, "checkpoint.detection", det.Net)
	if err != nil {
		return nil, err
	}
	transStage, err := load(tree, "checkpoint.transcription", trans.Net)
	if err != nil {
		return nil, err
	}

	opts, err := jointist.NewOptions(tree, det)
	if err != nil {
		return nil, err
	}
	unit, err := jointist.New(detStage, transStage, opts)
	if err != nil {
		return nil, err
	}
	return &Runner{data: ds, unit: unit}, nil
}

func extractor(tree *config.Tree) (*features.Extractor, error) {
	var cfg features.Config
	if err := tree.Decode("feature", &cfg); err != nil {
		return nil, err
	}
	return features.NewExtractor(cfg)
}

func adapt(tree *config.Tree, ext *features.Extractor) (dataset.Dataset, error) {
	typ, err := tree.String("datamodule.type")
	if err != nil {
		return nil, err
	}
	var args dataset.Args
	if err := tree.Decode("datamodule.args", &args); err != nil {
		return nil, err
	}
	if args.AudioExt, err = tree.String("audio_ext"); err != nil {
		return nil, err
	}
	input, err := tree.String("audio_path")
	if err != nil {
		return nil, err
	}
	return dataset.Adapt(typ, args, input, ext)
}

func load(tree *config.Tree, key string, net nn.Module) (*checkpoint.Stage, error) {
	path, err := tree.String(key)
	if err != nil {
		return nil, err
	}
	return checkpoint.Load(path, net)
}

// Run performs the single inference pass and returns the raw result.
func (r *Runner) Run(ctx context.Context) (*jointist.Result, error) {
	r.mu.Lock()
	if r.used {
		r.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	r.used = true
	r.mu.Unlock()

	if n := r.data.Len(); n != 1 {
		return nil, fmt.Errorf("pipeline: dataset has %d items, want exactly 1", n)
	}
	item, err := r.data.Item(0)
	if err != nil {
		return nil, err
	}
	slog.Debug("running inference", "path", item.Path)
	f, err := item.Features(ctx)
	if err != nil {
		return nil, err
	}
	return r.unit.Predict(ctx, f)
}

// InitCheckpoints writes deterministic checkpoints for the configured graphs,
// filled from the seed option, to the configured checkpoint paths.
func InitCheckpoints(tree *config.Tree) error {
	seed, err := tree.Int("seed")
	if err != nil {
		return err
	}
	det, err := model.BuildDetection(tree, jointist.MIDIClasses)
	if err != nil {
		return err
	}
	trans, err := model.BuildTranscription(tree, jointist.MIDIClasses)
	if err != nil {
		return err
	}
	for _, s := range []struct {
		key string
		net nn.Module
	}{
		{"checkpoint.detection", det.Net},
		{"checkpoint.transcription", trans.Net},
	} {
		path, err := tree.String(s.key)
		if err != nil {
			return err
		}
		nn.Init(s.net, uint64(seed))
		if err := checkpoint.Save(path, s.net); err != nil {
			return err
		}
		slog.Info("checkpoint initialised", "path", path, "params", nn.CountParams(s.net))
	}
	return nil
}
