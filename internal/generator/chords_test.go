package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChordToMIDI(t *testing.T) {
	tests := []struct {
		chord   string
		octave  int
		want    []int
		wantErr bool
	}{
		{chord: "C", octave: 4, want: []int{60, 64, 67}},
		{chord: "Am", octave: 4, want: []int{69, 72, 76}},
		{chord: "Cmaj7", octave: 4, want: []int{60, 64, 67, 71}},
		{chord: "Cmin7", octave: 4, want: []int{60, 63, 67, 70}},
		{chord: "Dm7", octave: 4, want: []int{62, 65, 69, 72}},
		{chord: "G7", octave: 3, want: []int{55, 59, 62, 65}},
		{chord: "Bdim", octave: 3, want: []int{59, 62, 65}},
		{chord: "Caug", octave: 4, want: []int{60, 64, 68}},
		{chord: "Dsus4", octave: 4, want: []int{62, 67, 69}},
		{chord: "Esus2", octave: 4, want: []int{64, 66, 71}},
		{chord: "Cadd9", octave: 4, want: []int{60, 64, 67, 74}},
		{chord: "F#m", octave: 4, want: []int{66, 69, 73}},
		{chord: "Bb", octave: 3, want: []int{58, 62, 65}},
		{chord: "C/G", octave: 4, want: []int{55, 60, 64, 67}},
		{chord: "H", octave: 4, wantErr: true},
		{chord: "", octave: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.chord, func(t *testing.T) {
			got, err := ChordToMIDI(tt.chord, tt.octave)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNoteNameToMIDI(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{name: "C4", want: 60},
		{name: "A4", want: 69},
		{name: "E1", want: 28},
		{name: "F#3", want: 54},
		{name: "Bb2", want: 46},
		{name: "C-1", want: 0},
		{name: "G9", want: 127},
		{name: "X4", wantErr: true},
		{name: "C", wantErr: true},
		{name: "C#", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NoteNameToMIDI(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsChordSymbol(t *testing.T) {
	for _, tok := range []string{"C", "Am", "F#m7", "Bbmaj7", "Dsus4", "Am/E", "G13"} {
		assert.True(t, IsChordSymbol(tok), tok)
	}
	for _, tok := range []string{"a", "Bass", "Add", "swing", "Cx", "C/", "am"} {
		assert.False(t, IsChordSymbol(tok), tok)
	}
}

func TestRhythmTemplateHits(t *testing.T) {
	tmpl, ok := GetRhythmTemplate("half")
	require.True(t, ok)
	hits := tmpl.hits(4)
	require.Len(t, hits, 2)
	assert.Equal(t, 0.0, hits[0].Offset)
	assert.Equal(t, 2.0, hits[1].Offset)
	assert.InDelta(t, 2.0, hits[0].Duration, 1e-9)
	assert.InDelta(t, 0.9, hits[1].Accent, 1e-9)

	// 3/4 bars scale the template down
	hits = tmpl.hits(3)
	require.Len(t, hits, 2)
	assert.InDelta(t, 1.5, hits[1].Offset, 1e-9)

	legato, _ := GetRhythmTemplate("legato")
	for _, h := range legato.hits(4) {
		assert.LessOrEqual(t, h.Duration, 1.0+1e-9, "legato notes are capped at the next onset")
	}

	assert.Contains(t, RhythmTemplateNames(), "alberti")
	_, ok = GetRhythmTemplate("polka")
	assert.False(t, ok)
}
