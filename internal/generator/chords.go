package generator

import (
	"fmt"
	"regexp"
	"strings"
)

// chordPattern accepts symbols like C, F#m7, Bbmaj7, Dsus4, Am/E
var chordPattern = regexp.MustCompile(`^[A-G][#b]?(maj7|min7|maj|min|m|dim|aug|sus2|sus4|add9|add11|add13|7|9|11|13)*(/[A-G][#b]?)?$`)

var noteOffsets = map[string]int{
	"C":  0,
	"C#": 1, "Db": 1,
	"D":  2,
	"D#": 3, "Eb": 3,
	"E":  4,
	"F":  5,
	"F#": 6, "Gb": 6,
	"G":  7,
	"G#": 8, "Ab": 8,
	"A":  9,
	"A#": 10, "Bb": 10,
	"B": 11,
}

// IsChordSymbol reports whether a token reads as a chord symbol.
func IsChordSymbol(token string) bool {
	return chordPattern.MatchString(token)
}

// ChordToMIDI converts a chord symbol to MIDI note numbers, lowest first.
// A slash bass is placed one octave below the chord root. C4 = 60.
func ChordToMIDI(chordSymbol string, octave int) ([]int, error) {
	baseChord := chordSymbol
	bassNote := ""
	if parts := strings.Split(chordSymbol, "/"); len(parts) == 2 {
		baseChord = strings.TrimSpace(parts[0])
		bassNote = strings.TrimSpace(parts[1])
	}

	root, err := parseRootNote(baseChord)
	if err != nil {
		return nil, fmt.Errorf("invalid chord root: %w", err)
	}
	rootMIDI := noteToMIDI(root, octave)

	intervals := buildChordIntervals(parseChordQuality(baseChord), parseExtensions(baseChord))

	notes := make([]int, 0, len(intervals)+1)
	for _, interval := range intervals {
		midiNote := rootMIDI + interval
		if midiNote < 0 || midiNote > 127 {
			continue
		}
		notes = append(notes, midiNote)
	}

	if bassNote != "" {
		if bassRoot, err := parseRootNote(bassNote); err == nil {
			bassMIDI := noteToMIDI(bassRoot, octave-1)
			if bassMIDI >= 0 && bassMIDI <= 127 {
				notes = append([]int{bassMIDI}, notes...)
			}
		}
	}

	if len(notes) == 0 {
		return nil, fmt.Errorf("no valid MIDI notes generated for chord: %s", chordSymbol)
	}
	return notes, nil
}

// NoteNameToMIDI converts a note name like "E1", "C4", "F#3", "Bb2" to a MIDI
// note number, clamped to 0-127. C-1 = 0, C4 = 60.
func NoteNameToMIDI(noteName string) (int, error) {
	if len(noteName) < 2 {
		return 0, fmt.Errorf("note name too short: %s", noteName)
	}

	letter := strings.ToUpper(noteName[:1])
	semitone, ok := noteOffsets[letter]
	if !ok {
		return 0, fmt.Errorf("invalid note letter: %s", letter)
	}

	idx := 1
	switch noteName[idx] {
	case '#':
		semitone++
		idx++
	case 'b':
		semitone--
		idx++
	}
	if idx >= len(noteName) {
		return 0, fmt.Errorf("missing octave in note name: %s", noteName)
	}

	var octave int
	if _, err := fmt.Sscanf(noteName[idx:], "%d", &octave); err != nil {
		return 0, fmt.Errorf("invalid octave in note name %s: %w", noteName, err)
	}

	return clamp((octave+1)*12+semitone, 0, 127), nil
}

func parseRootNote(chordSymbol string) (string, error) {
	if chordSymbol == "" {
		return "", fmt.Errorf("empty chord symbol")
	}
	root := chordSymbol[:1]
	if len(chordSymbol) > 1 && (chordSymbol[1] == '#' || chordSymbol[1] == 'b') {
		root = chordSymbol[:2]
	}
	if _, ok := noteOffsets[root]; !ok {
		return "", fmt.Errorf("invalid root note: %s", root)
	}
	return root, nil
}

func stripRoot(chordSymbol string) string {
	if len(chordSymbol) > 1 && (chordSymbol[1] == '#' || chordSymbol[1] == 'b') {
		return chordSymbol[2:]
	}
	if chordSymbol != "" {
		return chordSymbol[1:]
	}
	return chordSymbol
}

func parseChordQuality(chordSymbol string) string {
	rest := stripRoot(chordSymbol)
	switch {
	case strings.HasPrefix(rest, "min"):
		return "minor"
	case strings.HasPrefix(rest, "m") && !strings.HasPrefix(rest, "maj"):
		return "minor"
	case strings.HasPrefix(rest, "dim"):
		return "diminished"
	case strings.HasPrefix(rest, "aug"):
		return "augmented"
	case strings.HasPrefix(rest, "sus2"):
		return "sus2"
	case strings.HasPrefix(rest, "sus4"):
		return "sus4"
	}
	return "major"
}

func parseExtensions(chordSymbol string) []string {
	rest := stripRoot(chordSymbol)
	extensions := []string{}

	// maj7/min7 first so "maj7" is not read as a minor quality followed by "aj7"
	if strings.Contains(rest, "maj7") {
		extensions = append(extensions, "maj7")
		rest = strings.ReplaceAll(rest, "maj7", "")
	}
	if strings.Contains(rest, "min7") {
		extensions = append(extensions, "min7")
		rest = strings.ReplaceAll(rest, "min7", "")
	}

	for _, prefix := range []string{"maj", "min", "m", "dim", "aug", "sus2", "sus4"} {
		rest = strings.TrimPrefix(rest, prefix)
	}

	for _, add := range []string{"add9", "add11", "add13"} {
		if strings.Contains(rest, add) {
			extensions = append(extensions, add)
			rest = strings.ReplaceAll(rest, add, "")
		}
	}
	if strings.Contains(rest, "13") {
		extensions = append(extensions, "13")
		rest = strings.ReplaceAll(rest, "13", "")
	}
	if strings.Contains(rest, "11") {
		extensions = append(extensions, "11")
		rest = strings.ReplaceAll(rest, "11", "")
	}
	if strings.Contains(rest, "9") {
		extensions = append(extensions, "9")
		rest = strings.ReplaceAll(rest, "9", "")
	}
	if strings.Contains(rest, "7") {
		extensions = append(extensions, "7")
	}
	return extensions
}

func buildChordIntervals(quality string, extensions []string) []int {
	var intervals []int
	switch quality {
	case "minor":
		intervals = []int{0, 3, 7}
	case "diminished":
		intervals = []int{0, 3, 6}
	case "augmented":
		intervals = []int{0, 4, 8}
	case "sus2":
		intervals = []int{0, 2, 7}
	case "sus4":
		intervals = []int{0, 5, 7}
	default:
		intervals = []int{0, 4, 7}
	}

	for _, ext := range extensions {
		switch ext {
		case "7", "min7":
			intervals = append(intervals, 10)
		case "maj7":
			intervals = append(intervals, 11)
		case "9", "add9":
			intervals = append(intervals, 14)
		case "11", "add11":
			intervals = append(intervals, 17)
		case "13", "add13":
			intervals = append(intervals, 21)
		}
	}
	return intervals
}

func noteToMIDI(note string, octave int) int {
	offset, ok := noteOffsets[note]
	if !ok {
		return 60
	}
	return (octave+1)*12 + offset
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
