// Package config resolves a named base template plus run-time overrides into
// one immutable option tree.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/jointist-go/internal/errs"
)

// DefaultTemplate is the template used when none is named.
const DefaultTemplate = "jointist_inference"

// DefaultOutputDir is where outputs go when no output path is configured.
const DefaultOutputDir = "MIDI_output"

// PathOptions are made absolute by the resolver.
var PathOptions = []string{
	"audio_path",
	"output",
	"checkpoint.detection",
	"checkpoint.transcription",
	"datamodule.args.root",
	"datamodule.args.manifest",
	"datamodule.args.h5_path",
}

// Tree is a resolved, read-only configuration. Every getter fails with
// errs.ErrMissingOption naming the path when the option is absent.
type Tree struct {
	k      *koanf.Koanf
	source string
}

func newTree(k *koanf.Koanf) *Tree { return &Tree{k: k} }

// Source is the template file the tree was resolved from, or "built-in".
// It is empty for sub-trees returned by Cut.
func (t *Tree) Source() string { return t.source }

// Exists reports whether path names a value or a section.
func (t *Tree) Exists(path string) bool { return t.k.Exists(path) }

func (t *Tree) get(path string) (any, error) {
	if !t.k.Exists(path) {
		return nil, errs.New(errs.ErrMissingOption, path, "option is not set")
	}
	v := t.k.Get(path)
	if v == nil {
		return nil, errs.New(errs.ErrMissingOption, path, "option is null")
	}
	return v, nil
}

// String returns the string at path.
func (t *Tree) String(path string) (string, error) {
	v, err := t.get(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.New(errs.ErrConfiguration, path, "want a string, got %T", v)
	}
	return s, nil
}

// Int returns the integer at path.
func (t *Tree) Int(path string) (int, error) {
	v, err := t.get(path)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	}
	return 0, errs.New(errs.ErrConfiguration, path, "want an integer, got %v", v)
}

// Float returns the number at path.
func (t *Tree) Float(path string) (float64, error) {
	v, err := t.get(path)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, errs.New(errs.ErrConfiguration, path, "want a number, got %v", v)
}

// Bool returns the boolean at path.
func (t *Tree) Bool(path string) (bool, error) {
	v, err := t.get(path)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errs.New(errs.ErrConfiguration, path, "want a boolean, got %v", v)
	}
	return b, nil
}

// Cut returns the section at path as its own tree. A missing section yields
// an empty tree.
func (t *Tree) Cut(path string) *Tree { return newTree(t.k.Cut(path)) }

// Keys returns every leaf path in sorted order.
func (t *Tree) Keys() []string {
	keys := t.k.Keys()
	slices.Sort(keys)
	return keys
}

// Raw returns a deep copy of the nested option map.
func (t *Tree) Raw() map[string]any { return t.k.Raw() }

// Decode decodes the section at path (the whole tree for "") into dst, which
// must be a pointer to a struct with koanf tags. Options dst does not declare
// are an error.
func (t *Tree) Decode(path string, dst any) error {
	var src map[string]any
	if path == "" {
		src = t.k.Raw()
	} else {
		v, err := t.get(path)
		if err != nil {
			return err
		}
		if _, ok := v.(map[string]any); !ok {
			return errs.New(errs.ErrConfiguration, path, "want a section, got %v", v)
		}
		src = t.k.Cut(path).Raw()
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "koanf",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return fmt.Errorf("config: decoder for %q: %w", path, err)
	}
	if err := dec.Decode(src); err != nil {
		return errs.Wrap(errs.ErrConfiguration, path, err)
	}
	return nil
}

// WriteYAML writes the tree as YAML.
func (t *Tree) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t.k.Raw()); err != nil {
		return fmt.Errorf("config: encoding yaml: %w", err)
	}
	return enc.Close()
}

// Catalog is a closed set of tags an option must take. Kind is the error
// returned for any other value. When, if set, limits the check to trees it
// returns true for.
type Catalog struct {
	Path string
	Kind error
	Tags []string
	When func(*Tree) bool
}

func (c Catalog) check(t *Tree) error {
	if c.When != nil && !c.When(t) {
		return nil
	}
	v, err := t.String(c.Path)
	if err != nil {
		return err
	}
	if !slices.Contains(c.Tags, v) {
		return errs.New(c.Kind, v, "%s must be one of %s", c.Path, strings.Join(c.Tags, ", "))
	}
	return nil
}

// Validate checks the options every run needs, then each catalog.
func (t *Tree) Validate(catalogs ...Catalog) error {
	audioPath, err := t.String("audio_path")
	if err != nil {
		return err
	}
	if audioPath == "" {
		return errs.New(errs.ErrMissingOption, "audio_path", "please provide your audio path before continuing")
	}

	if t.Exists("log_level") {
		level, err := t.String("log_level")
		if err != nil {
			return err
		}
		switch level {
		case "debug", "info", "warn", "error":
		default:
			return errs.New(errs.ErrConfiguration, "log_level", "must be debug, info, warn, or error, got %q", level)
		}
	}

	for _, c := range catalogs {
		if err := c.check(t); err != nil {
			return err
		}
	}
	return nil
}

// ParseLogLevel converts a log level string to slog.Level.
// Unknown values default to Info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultOutputPath returns MIDI_output/<base name of input>.mid, keeping the
// input's extension in the name ("clip.wav" -> "MIDI_output/clip.wav.mid").
func DefaultOutputPath(input string) string {
	return filepath.Join(DefaultOutputDir, filepath.Base(input)+".mid")
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
