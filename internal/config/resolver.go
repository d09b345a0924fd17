package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/jointist-go/internal/errs"
)

//go:embed templates/*.yaml
var templates embed.FS

// Override sets one option. Append allows a path the template does not
// define (written "+path=value").
type Override struct {
	Path   string
	Value  any
	Append bool
}

// ParseOverride parses "path=value" or "+path=value". The value is read as a
// YAML literal, so "3", "0.5", "true" and "[a, b]" become typed values.
func ParseOverride(s string) (Override, error) {
	body, appendKey := strings.CutPrefix(strings.TrimSpace(s), "+")
	path, raw, ok := strings.Cut(body, "=")
	path = strings.TrimSpace(path)
	if !ok || path == "" || strings.ContainsAny(path, " \t") ||
		strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return Override{}, errs.New(errs.ErrMalformedOverride, s, "want path=value")
	}
	v, err := parseLiteral(raw)
	if err != nil {
		return Override{}, errs.Wrap(errs.ErrMalformedOverride, s, err)
	}
	return Override{Path: path, Value: v, Append: appendKey}, nil
}

// ParseOverrides parses each argument with ParseOverride.
func ParseOverrides(args []string) ([]Override, error) {
	out := make([]Override, 0, len(args))
	for _, a := range args {
		o, err := ParseOverride(a)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func parseLiteral(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Resolver builds trees from a template and overrides.
type Resolver struct {
	// TemplateDir is searched for <name>.yaml, <name>.yml and <name>.toml
	// before the built-in templates.
	TemplateDir string
	// BaseDir anchors relative path options. Empty means the working directory.
	BaseDir string
	// EnvPrefix enables the environment layer: PREFIX_A__B=v sets a.b.
	EnvPrefix string
}

// Resolve loads the template, applies environment then explicit overrides in
// order (later ones win), fills the default output path and makes every path
// option absolute. Paths are not required to exist.
func (r Resolver) Resolve(template string, overrides []Override) (*Tree, error) {
	if template == "" {
		template = DefaultTemplate
	}
	k := koanf.New(".")
	source, err := r.loadTemplate(k, template)
	if err != nil {
		return nil, err
	}

	var all []Override
	if r.EnvPrefix != "" {
		envOverrides, err := r.envOverrides()
		if err != nil {
			return nil, err
		}
		all = append(all, envOverrides...)
	}
	all = append(all, overrides...)
	for _, o := range all {
		if err := apply(k, o); err != nil {
			return nil, err
		}
	}

	base := r.BaseDir
	if base == "" {
		if base, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("config: working directory: %w", err)
		}
	}
	if base, err = filepath.Abs(base); err != nil {
		return nil, fmt.Errorf("config: base directory: %w", err)
	}
	if err := resolvePaths(k, base); err != nil {
		return nil, err
	}

	tree := newTree(k)
	tree.source = source
	return tree, nil
}

func (r Resolver) loadTemplate(k *koanf.Koanf, name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		return "", errs.New(errs.ErrMissingTemplate, name, "template names cannot contain path separators")
	}
	if r.TemplateDir != "" {
		for _, ext := range []string{".yaml", ".yml", ".toml"} {
			path := filepath.Join(r.TemplateDir, name+ext)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if ext == ".toml" {
				return path, loadTOML(k, path)
			}
			if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
				return "", errs.Wrap(errs.ErrConfiguration, path, err)
			}
			return path, nil
		}
	}

	data, err := templates.ReadFile("templates/" + name + ".yaml")
	if err != nil {
		return "", errs.New(errs.ErrMissingTemplate, name, "not found in %q or the built-in templates", r.TemplateDir)
	}
	m, err := kyaml.Parser().Unmarshal(data)
	if err != nil {
		return "", errs.Wrap(errs.ErrConfiguration, name, err)
	}
	if err := k.Load(confmap.Provider(m, ""), nil); err != nil {
		return "", fmt.Errorf("config: loading template %q: %w", name, err)
	}
	return "built-in", nil
}

func loadTOML(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return errs.Wrap(errs.ErrConfiguration, path, err)
	}
	if err := k.Load(confmap.Provider(m, ""), nil); err != nil {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	return nil
}

// envOverrides turns PREFIX_DETECTION__THRESHOLD=0.7 into detection.threshold=0.7.
func (r Resolver) envOverrides() ([]Override, error) {
	prefix := r.EnvPrefix
	ek := koanf.New(".")
	err := ek.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	keys := ek.Keys()
	slices.Sort(keys)
	out := make([]Override, 0, len(keys))
	for _, key := range keys {
		v, err := parseLiteral(ek.String(key))
		if err != nil {
			return nil, errs.Wrap(errs.ErrMalformedOverride, key, err)
		}
		out = append(out, Override{Path: key, Value: v})
	}
	return out, nil
}

func apply(k *koanf.Koanf, o Override) error {
	exists := k.Exists(o.Path)
	switch {
	case !o.Append && !exists:
		return errs.New(errs.ErrMalformedOverride, o.Path, "not defined by the template; use +%s=... to add it", o.Path)
	case o.Append && exists:
		return errs.New(errs.ErrMalformedOverride, o.Path, "already defined; drop the + to override it")
	}
	if err := k.Load(confmap.Provider(map[string]any{o.Path: o.Value}, "."), nil); err != nil {
		return fmt.Errorf("config: applying %s: %w", o.Path, err)
	}
	return nil
}

func resolvePaths(k *koanf.Koanf, base string) error {
	updates := map[string]any{}
	if out, _ := k.Get("output").(string); out == "" {
		if in, _ := k.Get("audio_path").(string); in != "" {
			updates["output"] = DefaultOutputPath(in)
		}
	}
	for _, p := range PathOptions {
		v, ok := updates[p].(string)
		if !ok {
			v, _ = k.Get(p).(string)
		}
		if v == "" {
			continue
		}
		v = expandTilde(v)
		if !filepath.IsAbs(v) {
			v = filepath.Join(base, v)
		}
		updates[p] = filepath.Clean(v)
	}
	if len(updates) == 0 {
		return nil
	}
	if err := k.Load(confmap.Provider(updates, "."), nil); err != nil {
		return fmt.Errorf("config: resolving paths: %w", err)
	}
	return nil
}
