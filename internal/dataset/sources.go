package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chaz8081/jointist-go/internal/features"
)

func hasExt(name, ext string) bool {
	return strings.EqualFold(strings.TrimPrefix(filepath.Ext(name), "."), ext)
}

// wildDataset lists the audio files directly under root.
type wildDataset struct {
	files []string
	ext   *features.Extractor
}

func newWildDataset(args Args, ext *features.Extractor) (*wildDataset, error) {
	d := &wildDataset{ext: ext}
	entries, err := os.ReadDir(args.Root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dataset: listing %s: %w", args.Root, err)
	}
	for _, e := range entries {
		if !e.IsDir() && hasExt(e.Name(), args.AudioExt) {
			d.files = append(d.files, filepath.Join(args.Root, e.Name()))
		}
	}
	return d, nil
}

func (d *wildDataset) Len() int                  { return len(d.files) }
func (d *wildDataset) Item(i int) (*Item, error) { return itemAt(d.files, i, d.ext) }
func (d *wildDataset) UseSingleItem(path string) { d.files = []string{path} }

// audioFolder lists audio files anywhere below root.
type audioFolder struct {
	audioPaths []string
	ext        *features.Extractor
}

func newAudioFolder(args Args, ext *features.Extractor) (*audioFolder, error) {
	d := &audioFolder{ext: ext}
	err := filepath.WalkDir(args.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if path == args.Root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !e.IsDir() && hasExt(path, args.AudioExt) {
			d.audioPaths = append(d.audioPaths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dataset: walking %s: %w", args.Root, err)
	}
	return d, nil
}

func (d *audioFolder) Len() int                  { return len(d.audioPaths) }
func (d *audioFolder) Item(i int) (*Item, error) { return itemAt(d.audioPaths, i, d.ext) }
func (d *audioFolder) UseSingleItem(path string) { d.audioPaths = []string{path} }

// lazyAudioList fills audioNames from its rescan hook on first access.
type lazyAudioList struct {
	audioNames []string
	rescan     func() []string
	ext        *features.Extractor
}

func newLazyAudioList(args Args, ext *features.Extractor) *lazyAudioList {
	d := &lazyAudioList{ext: ext}
	d.rescan = func() []string {
		w, err := newWildDataset(args, ext)
		if err != nil {
			return nil
		}
		return w.files
	}
	return d
}

func (d *lazyAudioList) load() {
	if d.rescan != nil {
		d.audioNames = d.rescan()
		d.rescan = nil
	}
}

func (d *lazyAudioList) Len() int {
	d.load()
	return len(d.audioNames)
}

func (d *lazyAudioList) Item(i int) (*Item, error) {
	d.load()
	return itemAt(d.audioNames, i, d.ext)
}

// UseSingleItem also disables the rescan hook so the listing is never
// reloaded over the replacement.
func (d *lazyAudioList) UseSingleItem(path string) {
	d.audioNames = []string{path}
	d.rescan = nil
}

// manifestDataset reads one path per line from a manifest file. Blank lines
// and lines starting with # are skipped; relative paths are relative to the
// manifest.
type manifestDataset struct {
	pathList []string
	ext      *features.Extractor
}

func newManifestDataset(args Args, ext *features.Extractor) (*manifestDataset, error) {
	d := &manifestDataset{ext: ext}
	if args.Manifest == "" {
		return d, nil
	}
	f, err := os.Open(args.Manifest)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: opening manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	dir := filepath.Dir(args.Manifest)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(dir, line)
		}
		d.pathList = append(d.pathList, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: reading manifest: %w", err)
	}
	return d, nil
}

func (d *manifestDataset) Len() int                  { return len(d.pathList) }
func (d *manifestDataset) Item(i int) (*Item, error) { return itemAt(d.pathList, i, d.ext) }
func (d *manifestDataset) UseSingleItem(path string) { d.pathList = []string{path} }

// h5Dataset reads clips packed into one archive. Its items are addressed by
// archive offset, not by path, so it cannot be narrowed to a single file.
type h5Dataset struct {
	path string
}

func (d *h5Dataset) Len() int { return 0 }

func (d *h5Dataset) Item(i int) (*Item, error) {
	return nil, fmt.Errorf("dataset: packed archive %s cannot be read during inference", d.path)
}

var (
	_ SingleSource = (*wildDataset)(nil)
	_ SingleSource = (*audioFolder)(nil)
	_ SingleSource = (*lazyAudioList)(nil)
	_ SingleSource = (*manifestDataset)(nil)
)

