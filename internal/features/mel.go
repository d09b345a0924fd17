// Package features turns waveforms into the log-mel spectrograms both model
// stages consume.
package features

import (
	"fmt"
	"math"

	"github.com/chaz8081/jointist-go/internal/audio"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

// Config describes the spectrogram front end.
type Config struct {
	SampleRate int     `koanf:"sample_rate"`
	NFFT       int     `koanf:"n_fft"`
	HopLength  int     `koanf:"hop_length"`
	NMels      int     `koanf:"n_mels"`
	FMin       float64 `koanf:"fmin"`
	FMax       float64 `koanf:"fmax"`
}

// Validate checks the config for invalid values.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("sample_rate must be > 0")
	case c.NFFT <= 0:
		return fmt.Errorf("n_fft must be > 0")
	case c.HopLength <= 0:
		return fmt.Errorf("hop_length must be > 0")
	case c.NMels <= 0:
		return fmt.Errorf("n_mels must be > 0")
	case c.FMin < 0 || c.FMax <= c.FMin:
		return fmt.Errorf("need 0 <= fmin < fmax, got fmin=%g fmax=%g", c.FMin, c.FMax)
	case c.FMax > float64(c.SampleRate)/2:
		return fmt.Errorf("fmax %g is above the Nyquist frequency %d", c.FMax, c.SampleRate/2)
	}
	return nil
}

// FrameRate is the number of spectrogram frames per second.
func (c Config) FrameRate() float64 {
	return float64(c.SampleRate) / float64(c.HopLength)
}

// Features holds one clip's waveform and its log-mel spectrogram [T, n_mels].
type Features struct {
	Waveform    []float32
	SampleRate  int
	Spectrogram *tensor.Tensor
	FrameRate   float64
}

// Frames returns the number of spectrogram frames.
func (f *Features) Frames() int { return f.Spectrogram.Dim(0) }

// Extractor computes log-mel spectrograms. It is safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64
	cos     []float64 // cos(2*pi*i/NFFT)
	sin     []float64
	filters [][]float64 // [n_mels][n_fft/2+1]
}

func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	n := cfg.NFFT
	e := &Extractor{
		cfg:    cfg,
		window: make([]float64, n),
		cos:    make([]float64, n),
		sin:    make([]float64, n),
	}
	for i := 0; i < n; i++ {
		// periodic Hann
		e.window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
		e.cos[i] = math.Cos(2 * math.Pi * float64(i) / float64(n))
		e.sin[i] = math.Sin(2 * math.Pi * float64(i) / float64(n))
	}
	e.filters = melFilterbank(cfg)
	return e, nil
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Load reads a WAV file at the extractor's sample rate and extracts features.
func (e *Extractor) Load(path string) (*Features, error) {
	clip, err := audio.LoadWAV(path, e.cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	return e.Extract(clip.Samples)
}

// Extract computes the features of a mono waveform at the configured rate.
func (e *Extractor) Extract(waveform []float32) (*Features, error) {
	spec, err := e.Spectrogram(waveform)
	if err != nil {
		return nil, err
	}
	return &Features{Waveform: waveform, SampleRate: e.cfg.SampleRate, Spectrogram: spec, FrameRate: e.cfg.FrameRate()}, nil
}

// Spectrogram returns the log-mel spectrogram [T, n_mels] with
// T = len(waveform)/hop + 1. Frames are centred with zero padding.
func (e *Extractor) Spectrogram(waveform []float32) (*tensor.Tensor, error) {
	if len(waveform) == 0 {
		return nil, fmt.Errorf("features: empty waveform")
	}
	n, hop := e.cfg.NFFT, e.cfg.HopLength
	bins := n/2 + 1
	frames := len(waveform)/hop + 1
	out := tensor.New(frames, e.cfg.NMels)

	frame := make([]float64, n)
	power := make([]float64, bins)
	for t := 0; t < frames; t++ {
		start := t*hop - n/2
		for i := range frame {
			j := start + i
			if j < 0 || j >= len(waveform) {
				frame[i] = 0
				continue
			}
			frame[i] = float64(waveform[j]) * e.window[i]
		}
		e.powerSpectrum(frame, power)

		row := out.Row(t)
		for m, filt := range e.filters {
			var s float64
			for k, w := range filt {
				if w != 0 {
					s += w * power[k]
				}
			}
			row[m] = float32(math.Log(s + 1e-6))
		}
	}
	return out, nil
}

// powerSpectrum writes |DFT(frame)|^2 for the non-negative frequencies.
func (e *Extractor) powerSpectrum(frame, power []float64) {
	n := len(frame)
	for k := range power {
		var re, im float64
		idx := 0
		for _, x := range frame {
			if x != 0 {
				re += x * e.cos[idx]
				im -= x * e.sin[idx]
			}
			idx += k
			if idx >= n {
				idx -= n
			}
		}
		power[k] = re*re + im*im
	}
}

func hzToMel(f float64) float64 { return 2595 * math.Log10(1+f/700) }
func melToHz(m float64) float64 { return 700 * (math.Pow(10, m/2595) - 1) }

// melFilterbank builds triangular filters evenly spaced on the HTK mel scale.
func melFilterbank(cfg Config) [][]float64 {
	bins := cfg.NFFT/2 + 1
	lo, hi := hzToMel(cfg.FMin), hzToMel(cfg.FMax)
	edges := make([]float64, cfg.NMels+2)
	for i := range edges {
		edges[i] = melToHz(lo + (hi-lo)*float64(i)/float64(cfg.NMels+1))
	}
	binHz := float64(cfg.SampleRate) / float64(cfg.NFFT)

	filters := make([][]float64, cfg.NMels)
	for m := range filters {
		f := make([]float64, bins)
		left, centre, right := edges[m], edges[m+1], edges[m+2]
		for k := range f {
			hz := float64(k) * binHz
			switch {
			case hz > left && hz <= centre:
				f[k] = (hz - left) / (centre - left)
			case hz > centre && hz < right:
				f[k] = (right - hz) / (right - centre)
			}
		}
		filters[m] = f
	}
	return filters
}
