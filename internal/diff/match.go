// Package diff turns a before/after pair of region contents into note changes
// and groups them into reviewable phrases.
package diff

import (
	"math"
	"sort"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/google/uuid"
)

// DefaultToleranceBeats is one sixteenth note in 4/4.
const DefaultToleranceBeats = 0.25

const epsilon = 1e-9

type candidate struct {
	after, before int
	dStart        float64
	dPitch        int
}

// MatchNotes pairs after-notes with before-notes and returns the resulting changes.
//
// Same-pitch pairs within tolerance are matched first, nearest start first. The
// remaining notes are then matched across pitches by start distance and then
// pitch distance. Added and modified changes follow after order; removed changes
// come last in before order.
func MatchNotes(before []models.Note, after []models.NoteSnapshot, tolerance float64) []models.NoteChange {
	if tolerance < 0 {
		tolerance = 0
	}

	afterMatch := make([]int, len(after))
	for i := range afterMatch {
		afterMatch[i] = -1
	}
	beforeUsed := make([]bool, len(before))

	assign := func(samePitch bool) {
		var cands []candidate
		for ai, a := range after {
			if afterMatch[ai] >= 0 {
				continue
			}
			for bi, b := range before {
				if beforeUsed[bi] {
					continue
				}
				if samePitch != (a.Pitch == b.Pitch) {
					continue
				}
				d := math.Abs(a.StartBeat - b.StartBeat)
				if d > tolerance+epsilon {
					continue
				}
				cands = append(cands, candidate{
					after:  ai,
					before: bi,
					dStart: d,
					dPitch: absInt(a.Pitch - b.Pitch),
				})
			}
		}

		sort.SliceStable(cands, func(i, j int) bool {
			ci, cj := cands[i], cands[j]
			if ci.dStart != cj.dStart {
				return ci.dStart < cj.dStart
			}
			if ci.dPitch != cj.dPitch {
				return ci.dPitch < cj.dPitch
			}
			if ci.after != cj.after {
				return ci.after < cj.after
			}
			return ci.before < cj.before
		})

		for _, c := range cands {
			if afterMatch[c.after] >= 0 || beforeUsed[c.before] {
				continue
			}
			afterMatch[c.after] = c.before
			beforeUsed[c.before] = true
		}
	}

	assign(true)
	assign(false)

	changes := make([]models.NoteChange, 0, len(after))
	for ai, a := range after {
		next := a
		bi := afterMatch[ai]
		if bi < 0 {
			changes = append(changes, models.NoteChange{
				NoteID:     uuid.New().String(),
				ChangeType: models.ChangeAdded,
				After:      &next,
			})
			continue
		}
		prev := before[bi].NoteSnapshot
		if prev.Equal(next) {
			continue
		}
		changes = append(changes, models.NoteChange{
			NoteID:     before[bi].ID,
			ChangeType: models.ChangeModified,
			Before:     &prev,
			After:      &next,
		})
	}

	for bi, b := range before {
		if beforeUsed[bi] {
			continue
		}
		prev := b.NoteSnapshot
		changes = append(changes, models.NoteChange{
			NoteID:     b.ID,
			ChangeType: models.ChangeRemoved,
			Before:     &prev,
		})
	}

	return changes
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
