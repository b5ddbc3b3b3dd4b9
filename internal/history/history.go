// Package history derives the trouble-spot profile a performer reviews
// between practice runs. The profile is a pure function of the attempt log:
// nothing is cached or stored, so it always reflects the latest attempts and
// spots that stopped recurring age out as the window slides.
package history

import (
	"sort"

	"github.com/offbookhq/offbook/internal/assess"
)

// DefaultWindow is the number of most recent attempts considered when
// scoring recurring trouble spots.
const DefaultWindow = 3

// WeakSpot is one recurring trouble location in a performer's recent
// attempts.
type WeakSpot struct {
	// Line and Word are 0-based reference coordinates.
	Line int `json:"line"`
	Word int `json:"word"`

	// WordText is the reference word at this position, taken from the most
	// recent attempt that flagged it.
	WordText string `json:"word_text"`

	// Occurrences is the number of considered attempts that confirmed a spot
	// here.
	Occurrences int `json:"occurrences"`

	// DominantKind is the most frequent spot kind at this position across the
	// considered attempts.
	DominantKind assess.SpotKind `json:"dominant_kind"`

	// Severity is Occurrences divided by the number of attempts considered:
	// a spot flagged in every recent attempt scores 1.0.
	Severity float64 `json:"severity"`
}

// Profile summarises a performer's recent history with one passage.
type Profile struct {
	// TotalAttempts is the number of attempts retained in the log.
	TotalAttempts int `json:"total_attempts"`

	// AttemptsConsidered is the number of attempts inside the scoring window,
	// min(TotalAttempts, window).
	AttemptsConsidered int `json:"attempts_considered"`

	// WeakSpots are the recurring trouble locations, sorted by severity
	// descending, then by ascending position. Empty for an empty log.
	WeakSpots []WeakSpot `json:"weak_spots"`
}

// Aggregate computes the profile over the window most recent attempts.
// attempts must be in chronological order, oldest first, as returned by the
// attempt store. A window of zero or less falls back to [DefaultWindow].
//
// A position counts once per attempt no matter how many confirmed spots an
// attempt reported there, so severity stays in (0, 1].
func Aggregate(attempts []*assess.Result, window int) *Profile {
	if window <= 0 {
		window = DefaultWindow
	}

	p := &Profile{TotalAttempts: len(attempts)}
	if len(attempts) == 0 {
		return p
	}

	considered := attempts
	if len(considered) > window {
		considered = considered[len(considered)-window:]
	}
	p.AttemptsConsidered = len(considered)

	type position struct{ line, word int }
	type tally struct {
		occurrences int
		kinds       map[assess.SpotKind]int
		wordText    string
	}

	tallies := make(map[position]*tally)
	var order []position
	// Oldest to newest, so the last write to wordText wins and the most
	// recent attempt's view of the reference word is the one reported.
	for _, att := range considered {
		seen := make(map[position]bool)
		for _, s := range att.Spots {
			pos := position{line: s.Line, word: s.Word}
			t := tallies[pos]
			if t == nil {
				t = &tally{kinds: make(map[assess.SpotKind]int)}
				tallies[pos] = t
				order = append(order, pos)
			}
			if !seen[pos] {
				seen[pos] = true
				t.occurrences++
			}
			t.kinds[s.Kind]++
			t.wordText = s.Expected
		}
	}

	for _, pos := range order {
		t := tallies[pos]
		p.WeakSpots = append(p.WeakSpots, WeakSpot{
			Line:         pos.line,
			Word:         pos.word,
			WordText:     t.wordText,
			Occurrences:  t.occurrences,
			DominantKind: dominantKind(t.kinds),
			Severity:     float64(t.occurrences) / float64(p.AttemptsConsidered),
		})
	}

	sort.Slice(p.WeakSpots, func(i, j int) bool {
		a, b := p.WeakSpots[i], p.WeakSpots[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Word < b.Word
	})
	return p
}

// dominantKind picks the most frequent kind, breaking count ties by kind
// name so the result is stable across map iteration orders.
func dominantKind(kinds map[assess.SpotKind]int) assess.SpotKind {
	var best assess.SpotKind
	for k, n := range kinds {
		if best == "" || n > kinds[best] || (n == kinds[best] && k < best) {
			best = k
		}
	}
	return best
}
