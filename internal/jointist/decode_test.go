package jointist

import (
	"slices"
	"testing"

	"github.com/chaz8081/jointist-go/internal/model"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

// roll builds a [frames, Pitches] head with the given (frame, pitch) cells set
// to v and everything else zero.
func roll(frames int, v float32, cells ...[2]int) *tensor.Tensor {
	r := tensor.New(frames, model.Pitches)
	for _, c := range cells {
		r.Set(c[0], c[1], v)
	}
	return r
}

func span(pitch, from, to int) [][2]int {
	var out [][2]int
	for t := from; t < to; t++ {
		out = append(out, [2]int{t, pitch})
	}
	return out
}

func TestRollDecoder(t *testing.T) {
	d := RollDecoder{FrameThreshold: 0.5, OnsetThreshold: 0.5, MinFrames: 2}

	tests := []struct {
		name  string
		heads *model.Heads
		want  []Note
	}{
		{
			name:  "frame only",
			heads: &model.Heads{Frame: roll(10, 0.9, span(0, 1, 4)...)},
			want:  []Note{{Onset: 1, Offset: 4, Pitch: 21, Velocity: defaultVelocity}},
		},
		{
			name:  "short note dropped",
			heads: &model.Heads{Frame: roll(10, 0.9, append(span(5, 0, 1), span(6, 3, 5)...)...)},
			want:  []Note{{Onset: 3, Offset: 5, Pitch: 27, Velocity: defaultVelocity}},
		},
		{
			name:  "held to the end",
			heads: &model.Heads{Frame: roll(6, 0.9, span(10, 2, 6)...)},
			want:  []Note{{Onset: 2, Offset: 6, Pitch: 31, Velocity: defaultVelocity}},
		},
		{
			name: "onset restrikes a held note",
			heads: &model.Heads{
				Frame:    roll(8, 0.9, span(2, 0, 8)...),
				Onset:    roll(8, 0.9, [2]int{0, 2}, [2]int{4, 2}),
				Velocity: roll(8, 0.5, span(2, 0, 8)...),
			},
			want: []Note{
				{Onset: 0, Offset: 4, Pitch: 23, Velocity: 64},
				{Onset: 4, Offset: 8, Pitch: 23, Velocity: 64},
			},
		},
		{
			name:  "sorted by onset then pitch",
			heads: &model.Heads{Frame: roll(6, 0.9, append(append(span(7, 2, 5), span(3, 2, 4)...), span(50, 0, 3)...)...)},
			want: []Note{
				{Onset: 0, Offset: 3, Pitch: 71, Velocity: defaultVelocity},
				{Onset: 2, Offset: 4, Pitch: 24, Velocity: defaultVelocity},
				{Onset: 2, Offset: 5, Pitch: 28, Velocity: defaultVelocity},
			},
		},
		{
			name:  "below threshold",
			heads: &model.Heads{Frame: roll(6, 0.4, span(7, 0, 6)...)},
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Decode(tt.heads, 1)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRollDecoderVelocityClamped(t *testing.T) {
	d := RollDecoder{FrameThreshold: 0.5, OnsetThreshold: 0.5, MinFrames: 1}
	h := &model.Heads{
		Frame:    roll(2, 0.9, [2]int{0, 0}, [2]int{0, 1}),
		Onset:    roll(2, 0.9, [2]int{0, 0}, [2]int{0, 1}),
		Velocity: roll(2, 1, [2]int{0, 1}), // pitch 0 has velocity 0
	}
	got := d.Decode(h, 100)
	if len(got) != 2 {
		t.Fatalf("got %d notes, want 2", len(got))
	}
	if got[0].Velocity != 1 || got[1].Velocity != 127 {
		t.Errorf("velocities = %d, %d, want 1, 127", got[0].Velocity, got[1].Velocity)
	}
	if got[0].Offset != 0.01 {
		t.Errorf("Offset = %g, want 0.01", got[0].Offset)
	}
}

func TestInstruments(t *testing.T) {
	all := Instruments()
	if len(all) != MIDIClasses {
		t.Fatalf("len = %d, want %d", len(all), MIDIClasses)
	}
	seen := make(map[string]bool)
	for i, inst := range all {
		if inst.Index != i {
			t.Errorf("%s has index %d, want %d", inst.Name, inst.Index, i)
		}
		if seen[inst.Name] {
			t.Errorf("duplicate instrument %s", inst.Name)
		}
		seen[inst.Name] = true
		if inst.Program > 127 {
			t.Errorf("%s has program %d", inst.Name, inst.Program)
		}
		if inst.Drums != (i == MIDIClasses-1) {
			t.Errorf("%s drum flag = %v", inst.Name, inst.Drums)
		}
	}

	bass, ok := InstrumentByName("electric_bass")
	if !ok || bass.Program != 33 {
		t.Errorf("InstrumentByName(electric_bass) = %+v, %v", bass, ok)
	}
	if _, ok := InstrumentByName("theremin"); ok {
		t.Error("unknown instrument found")
	}

	tests := map[string]string{
		"electric_bass":    "Electric Bass",
		"soprano_alto_sax": "Soprano Alto Sax",
		"drums":            "Drums",
	}
	for name, want := range tests {
		inst, _ := InstrumentByName(name)
		if got := inst.DisplayName(); got != want {
			t.Errorf("DisplayName(%s) = %q, want %q", name, got, want)
		}
	}
}
