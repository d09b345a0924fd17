// Package midiout writes prediction results as Standard MIDI Files.
package midiout

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/gofrs/flock"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/chaz8081/jointist-go/internal/jointist"
)

const (
	TicksPerQuarter = 480
	Tempo           = 120.0 // BPM
	DrumChannel     = 9     // MIDI channel 10

	ticksPerSecond = TicksPerQuarter * Tempo / 60
)

// ErrLocked is returned when another process is writing the same output.
var ErrLocked = errors.New("midiout: output is locked by another writer")

// Encode serializes res as a format 1 SMF: a conductor track with tempo and
// meter, then one track per instrument with its program change and notes.
func Encode(w io.Writer, res *jointist.Result) error {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var conductor smf.Track
	conductor.Add(0, smf.MetaMeter(4, 4))
	conductor.Add(0, smf.MetaTempo(Tempo))
	conductor.Close(0)
	if err := s.Add(conductor); err != nil {
		return fmt.Errorf("midiout: conductor track: %w", err)
	}

	melodic := 0
	for _, tr := range res.Tracks {
		ch := uint8(DrumChannel)
		if !tr.Instrument.Drums {
			ch = channelFor(melodic)
			melodic++
		}
		if err := s.Add(instrumentTrack(tr, ch)); err != nil {
			return fmt.Errorf("midiout: track %s: %w", tr.Instrument.Name, err)
		}
	}

	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("midiout: encoding: %w", err)
	}
	return nil
}

// channelFor assigns melodic tracks to channels 0-15, skipping the drum
// channel. Past 15 melodic tracks channels are shared.
func channelFor(i int) uint8 {
	ch := uint8(i % 15)
	if ch >= DrumChannel {
		ch++
	}
	return ch
}

type event struct {
	tick uint32
	on   bool
	key  uint8
	vel  uint8
}

func instrumentTrack(tr jointist.Track, ch uint8) smf.Track {
	var t smf.Track
	t.Add(0, smf.MetaTrackSequenceName(tr.Instrument.DisplayName()))
	if !tr.Instrument.Drums {
		t.Add(0, midi.ProgramChange(ch, tr.Instrument.Program))
	}

	events := make([]event, 0, 2*len(tr.Notes))
	for _, n := range tr.Notes {
		key := uint8(min(max(n.Pitch, 0), 127))
		on, off := toTicks(n.Onset), toTicks(n.Offset)
		if off <= on {
			off = on + 1
		}
		events = append(events,
			event{tick: on, on: true, key: key, vel: uint8(min(max(n.Velocity, 1), 127))},
			event{tick: off, key: key},
		)
	}
	// note-offs go first at equal ticks so a restruck key is not cut short
	slices.SortStableFunc(events, func(a, b event) int {
		if c := cmp.Compare(a.tick, b.tick); c != 0 {
			return c
		}
		if a.on != b.on {
			if a.on {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.key, b.key)
	})

	var last uint32
	for _, e := range events {
		delta := e.tick - last
		last = e.tick
		if e.on {
			t.Add(delta, midi.NoteOn(ch, e.key, e.vel))
		} else {
			t.Add(delta, midi.NoteOff(ch, e.key))
		}
	}
	t.Close(0)
	return t
}

func toTicks(seconds float64) uint32 {
	if seconds <= 0 {
		return 0
	}
	return uint32(math.Round(seconds * ticksPerSecond))
}

// Write encodes res to path. The file is written next to path under a
// temporary name and renamed into place, so a failed write leaves nothing
// behind. An exclusive lock on path+".lock" is held for the duration; the
// lock file itself is left in place.
func Write(path string, res *jointist.Result) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("midiout: creating output dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("midiout: acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, path)
	}
	// The lock file stays on disk; removing it would let two writers hold
	// locks on different inodes.
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release output lock", "path", lock.Path(), "error", err)
		}
	}()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("midiout: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := Encode(tmp, res); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("midiout: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("midiout: renaming temp file: %w", err)
	}
	slog.Info("midi written", "path", path, "tracks", len(res.Tracks), "notes", res.NoteCount())
	return nil
}
