package jointist

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Instrument is one detection class.
type Instrument struct {
	Index   int
	Name    string // e.g. "electric_bass"
	Program uint8  // General MIDI program, 0-based
	Drums   bool
}

// DisplayName returns the name in title case ("Electric Bass").
func (i Instrument) DisplayName() string {
	return cases.Title(language.English).String(strings.ReplaceAll(i.Name, "_", " "))
}

// MIDIClasses is the number of instrument classes the models predict.
const MIDIClasses = 39

var classes = [MIDIClasses]struct {
	name    string
	program uint8
}{
	{"acoustic_piano", 0},
	{"electric_piano", 4},
	{"chromatic_percussion", 8},
	{"organ", 16},
	{"acoustic_guitar", 24},
	{"clean_electric_guitar", 27},
	{"distorted_electric_guitar", 30},
	{"acoustic_bass", 32},
	{"electric_bass", 33},
	{"violin", 40},
	{"viola", 41},
	{"cello", 42},
	{"contrabass", 43},
	{"orchestral_harp", 46},
	{"timpani", 47},
	{"string_ensemble", 48},
	{"synth_strings", 50},
	{"choir_and_voice", 52},
	{"orchestral_hit", 55},
	{"trumpet", 56},
	{"trombone", 57},
	{"tuba", 58},
	{"french_horn", 60},
	{"brass_section", 61},
	{"soprano_alto_sax", 65},
	{"tenor_sax", 66},
	{"baritone_sax", 67},
	{"oboe", 68},
	{"english_horn", 69},
	{"bassoon", 70},
	{"clarinet", 71},
	{"pipe", 73},
	{"synth_lead", 80},
	{"synth_pad", 88},
	{"synth_effects", 96},
	{"ethnic", 104},
	{"percussive", 112},
	{"sound_effects", 120},
	{"drums", 0},
}

// Instruments returns the instrument map in class-index order. The last
// class is the drum kit.
func Instruments() []Instrument {
	out := make([]Instrument, MIDIClasses)
	for i, c := range classes {
		out[i] = Instrument{Index: i, Name: c.name, Program: c.program, Drums: c.name == "drums"}
	}
	return out
}

// InstrumentByName looks up a class by its name.
func InstrumentByName(name string) (Instrument, bool) {
	for _, inst := range Instruments() {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instrument{}, false
}
