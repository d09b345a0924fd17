// Package models fetches pretrained checkpoints into their configured paths.
package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/chaz8081/jointist-go/internal/config"
)

// Stages pairs each checkpoint path option with the option holding its URL.
var Stages = []struct {
	Name, PathKey, URLKey string
}{
	{"detection", "checkpoint.detection", "checkpoint.detection_url"},
	{"transcription", "checkpoint.transcription", "checkpoint.transcription_url"},
}

// EnsureCheckpoints downloads every stage checkpoint whose file is missing.
// Progress is written to out.
func EnsureCheckpoints(ctx context.Context, tree *config.Tree, out io.Writer) error {
	for i, s := range Stages {
		dest, err := tree.String(s.PathKey)
		if err != nil {
			return err
		}
		src, err := tree.String(s.URLKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "[%d/%d] %s checkpoint:\n", i+1, len(Stages), s.Name)
		if err := Fetch(ctx, src, dest, out); err != nil {
			return fmt.Errorf("%s checkpoint: %w", s.Name, err)
		}
	}
	return nil
}

// Fetch places the checkpoint at src into dest unless dest already holds a
// non-empty file. src is an http(s) URL, a file:// URL or a local path. The
// data is written to a temp file first and renamed into place.
func Fetch(ctx context.Context, src, dest string, out io.Writer) error {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		fmt.Fprintf(out, "  Checkpoint already exists: %s (%.1f MB)\n", dest, float64(info.Size())/(1024*1024))
		return nil
	}
	if dest == "" {
		return fmt.Errorf("no destination path configured")
	}
	if src == "" {
		return fmt.Errorf("%s is missing and no download URL is configured", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	u, err := url.Parse(src)
	if err != nil {
		return fmt.Errorf("parsing checkpoint URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return download(ctx, src, dest, out)
	case "file":
		return copyFile(u.Path, dest)
	case "":
		return copyFile(src, dest)
	default:
		return fmt.Errorf("unsupported checkpoint URL scheme %q", u.Scheme)
	}
}

func download(ctx context.Context, src, dest string, out io.Writer) error {
	fmt.Fprintf(out, "  Downloading checkpoint...\n")
	fmt.Fprintf(out, "  URL: %s\n", src)
	fmt.Fprintf(out, "  Destination: %s\n", dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading checkpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	tmpPath := dest + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	pr := &progressWriter{
		writer: f,
		out:    out,
		total:  resp.ContentLength,
		label:  filepath.Base(dest),
	}

	written, err := io.Copy(pr, resp.Body)
	f.Close()
	if err == nil && resp.ContentLength > 0 && written != resp.ContentLength {
		err = fmt.Errorf("short body: %d of %d bytes", written, resp.ContentLength)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing checkpoint file: %w", err)
	}

	fmt.Fprintf(out, "\n  Downloaded %.1f MB\n", float64(written)/(1024*1024))

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving checkpoint file: %w", err)
	}
	return nil
}

// copyFile copies a local checkpoint through a temp file next to dst.
func copyFile(src, dst string) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("empty source path")
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dst)
}

// progressWriter wraps an io.Writer and prints download progress to out.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}
