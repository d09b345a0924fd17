package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sine(n, rate int, freq float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return s
}

func TestWriteAndLoadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := WriteWAV(path, sine(16000, 16000, 440), 16000); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}

	clip, err := LoadWAV(path, 0)
	if err != nil {
		t.Fatalf("LoadWAV: %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", clip.SampleRate)
	}
	if len(clip.Samples) != 16000 {
		t.Errorf("got %d samples, want 16000", len(clip.Samples))
	}
	for i, s := range clip.Samples {
		if s < -1.0 || s > 1.0 {
			t.Fatalf("sample[%d] = %f, out of [-1.0, 1.0] range", i, s)
		}
	}
	if d := clip.Duration(); math.Abs(d-1) > 1e-9 {
		t.Errorf("Duration() = %f, want 1", d)
	}
}

func TestLoadWAVResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := WriteWAV(path, sine(8000, 8000, 220), 8000); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}

	clip, err := LoadWAV(path, 16000)
	if err != nil {
		t.Fatalf("LoadWAV: %v", err)
	}
	if clip.SampleRate != 16000 || len(clip.Samples) != 16000 {
		t.Errorf("got %d samples at %d Hz, want 16000 at 16000 Hz", len(clip.Samples), clip.SampleRate)
	}
}

func TestLoadWAVRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not audio at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWAV(path, 0); err == nil {
		t.Fatal("LoadWAV should reject a non-WAV file")
	}
}

func TestLoadWAVMissing(t *testing.T) {
	if _, err := LoadWAV("/nonexistent/clip.wav", 0); err == nil {
		t.Fatal("LoadWAV should fail for a missing file")
	}
}

func TestDownmix(t *testing.T) {
	// Two stereo frames at 16 bits: (16384, -16384) and (32767, 32767).
	got := downmix([]int{16384, -16384, 32767, 32767}, 2, 16)
	if len(got) != 2 {
		t.Fatalf("downmix returned %d samples, want 2", len(got))
	}
	if got[0] != 0 {
		t.Errorf("samples[0] = %f, want 0", got[0])
	}
	if math.Abs(float64(got[1])-32767.0/32768.0) > 1e-6 {
		t.Errorf("samples[1] = %f", got[1])
	}
}

func TestResampleIdentity(t *testing.T) {
	in := []float32{1, 2, 3}
	if out := Resample(in, 16000, 16000); &out[0] != &in[0] {
		t.Error("Resample with equal rates should return the input slice")
	}
}
