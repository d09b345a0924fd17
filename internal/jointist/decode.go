package jointist

import (
	"cmp"
	"math"
	"slices"

	"github.com/chaz8081/jointist-go/internal/model"
)

// Note is one decoded note event. Times are in seconds.
type Note struct {
	Onset    float64
	Offset   float64
	Pitch    int // MIDI note number
	Velocity int // 1..127
}

// defaultVelocity is used when the graph has no velocity head.
const defaultVelocity = 100

// Decoder turns transcription head probabilities into notes.
type Decoder interface {
	Decode(h *model.Heads, frameRate float64) []Note
}

// RollDecoder thresholds the frame roll into notes. A note starts where the
// frame probability rises to FrameThreshold, or inside a held region where
// the onset head rises to OnsetThreshold, and ends where the frame probability
// falls below FrameThreshold. Notes shorter than MinFrames are dropped.
type RollDecoder struct {
	FrameThreshold float32
	OnsetThreshold float32
	MinFrames      int
}

func (d RollDecoder) Decode(h *model.Heads, frameRate float64) []Note {
	frames := h.Frame.Dim(0)
	var notes []Note
	for p := 0; p < model.Pitches; p++ {
		start := -1
		emit := func(end int) {
			if start >= 0 && end-start >= max(d.MinFrames, 1) {
				notes = append(notes, Note{
					Onset:    float64(start) / frameRate,
					Offset:   float64(end) / frameRate,
					Pitch:    model.LowestPitch + p,
					Velocity: d.velocity(h, p, start, end),
				})
			}
			start = -1
		}
		for t := 0; t < frames; t++ {
			on := h.Frame.At(t, p) >= d.FrameThreshold
			switch {
			case !on:
				emit(t)
			case start < 0:
				start = t
			case d.restrike(h, p, t):
				emit(t)
				start = t
			}
		}
		emit(frames)
	}
	SortNotes(notes)
	return notes
}

func (d RollDecoder) restrike(h *model.Heads, p, t int) bool {
	if h.Onset == nil || t == 0 {
		return false
	}
	return h.Onset.At(t, p) >= d.OnsetThreshold && h.Onset.At(t-1, p) < d.OnsetThreshold
}

func (d RollDecoder) velocity(h *model.Heads, p, start, end int) int {
	if h.Velocity == nil {
		return defaultVelocity
	}
	var s float64
	for t := start; t < end; t++ {
		s += float64(h.Velocity.At(t, p))
	}
	v := int(math.Round(s / float64(end-start) * 127))
	return min(max(v, 1), 127)
}

// SortNotes orders notes by onset, then pitch.
func SortNotes(notes []Note) {
	slices.SortStableFunc(notes, func(a, b Note) int {
		if c := cmp.Compare(a.Onset, b.Onset); c != 0 {
			return c
		}
		return cmp.Compare(a.Pitch, b.Pitch)
	})
}
