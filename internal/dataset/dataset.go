// Package dataset instantiates input datasets by type name and narrows them
// to the single file a prediction run is asked to transcribe.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
	"github.com/chaz8081/jointist-go/internal/features"
)

// Dataset type tags.
const (
	TypeWild     = "WildDataset"
	TypeFolder   = "AudioFolder"
	TypeLazyList = "LazyAudioList"
	TypeManifest = "ManifestDataset"
	TypeH5       = "H5Dataset"
)

// Types lists every constructible dataset type.
var Types = []string{TypeWild, TypeFolder, TypeLazyList, TypeManifest, TypeH5}

// Catalog is the closed set of datamodule.type values.
func Catalog() config.Catalog {
	return config.Catalog{Path: "datamodule.type", Kind: errs.ErrUnsupportedDatasetShape, Tags: Types}
}

// Args are the datamodule.args options. AudioExt is filled from the
// top-level audio_ext option.
type Args struct {
	Root     string `koanf:"root"`
	Manifest string `koanf:"manifest"`
	H5Path   string `koanf:"h5_path"`
	AudioExt string `koanf:"audio_ext"`
}

// Dataset is an ordered list of input items.
type Dataset interface {
	Len() int
	Item(i int) (*Item, error)
}

// SingleSource is implemented by datasets whose item source can be replaced
// by exactly one path.
type SingleSource interface {
	UseSingleItem(path string)
}

// Item is one input file. Its features are extracted on first use and cached.
type Item struct {
	Path string

	ext   *features.Extractor
	once  sync.Once
	feats *features.Features
	err   error
}

func newItem(path string, ext *features.Extractor) *Item {
	return &Item{Path: path, ext: ext}
}

// Features loads the item's audio and extracts its features.
func (it *Item) Features(ctx context.Context) (*features.Features, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it.once.Do(func() {
		if it.ext == nil {
			it.err = fmt.Errorf("dataset: no feature extractor for %q", it.Path)
			return
		}
		it.feats, it.err = it.ext.Load(it.Path)
	})
	return it.feats, it.err
}

// New instantiates the dataset registered under typ.
func New(typ string, args Args, ext *features.Extractor) (Dataset, error) {
	if args.AudioExt == "" {
		args.AudioExt = "wav"
	}
	switch typ {
	case TypeWild:
		return newWildDataset(args, ext)
	case TypeFolder:
		return newAudioFolder(args, ext)
	case TypeLazyList:
		return newLazyAudioList(args, ext), nil
	case TypeManifest:
		return newManifestDataset(args, ext)
	case TypeH5:
		return &h5Dataset{path: args.H5Path}, nil
	default:
		return nil, errs.New(errs.ErrUnsupportedDatasetShape, typ, "unknown dataset type")
	}
}

// Adapt instantiates typ and replaces its item source with path, so the
// result has exactly one item whose Path is path.
func Adapt(typ string, args Args, path string, ext *features.Extractor) (Dataset, error) {
	ds, err := New(typ, args, ext)
	if err != nil {
		return nil, err
	}
	src, ok := ds.(SingleSource)
	if !ok {
		return nil, errs.New(errs.ErrUnsupportedDatasetShape, typ, "dataset has no replaceable item source")
	}
	src.UseSingleItem(path)
	if n := ds.Len(); n != 1 {
		return nil, errs.New(errs.ErrUnsupportedDatasetShape, typ, "adapted dataset has %d items, want 1", n)
	}
	slog.Info("dataset adapted", "type", typ, "path", path)
	return ds, nil
}

func itemAt(paths []string, i int, ext *features.Extractor) (*Item, error) {
	if i < 0 || i >= len(paths) {
		return nil, fmt.Errorf("dataset: index %d out of range [0, %d)", i, len(paths))
	}
	return newItem(paths[i], ext), nil
}
