// Consensus. Judge claims are fused by position-keyed quorum voting: a spot
// is confirmed only when enough distinct judges independently flagged the
// same (line, word) coordinate. The whole pass is deterministic — the same
// set of judge results always produces the same confirmed list.

package assess

import (
	"sort"

	"github.com/offbookhq/offbook/internal/passage"
)

// Quorum returns the minimum number of agreeing judges required to confirm a
// spot when consulted judges returned usable verdicts. With three or more
// verdicts a single claim is not enough; with one or two, every surviving
// verdict counts.
func Quorum(consulted int) int {
	if consulted >= 3 {
		return 2
	}
	return 1
}

// position keys claims by reference coordinates (0-based).
type position struct {
	line int
	word int
}

// claim is one judge's vote at one position, tagged with the judge's index
// in consult order for deterministic tie-breaking.
type claim struct {
	judgeIdx int
	spot     CandidateSpot
}

// BuildConsensus fuses the panel's results into the confirmed spot list.
// Failed judges are skipped; claims whose coordinates do not address a real
// reference word are discarded. A judge claiming the same position more than
// once still counts as a single vote there.
func BuildConsensus(results []JudgeResult, ref *passage.Reference) []ConfirmedSpot {
	consulted := 0
	for _, r := range results {
		if r.Err == nil {
			consulted++
		}
	}
	if consulted == 0 {
		return nil
	}
	quorum := Quorum(consulted)

	claims := make(map[position][]claim)
	var order []position
	for ji, r := range results {
		if r.Err != nil {
			continue
		}
		seen := make(map[position]bool)
		for _, s := range r.Finding.Spots {
			pos := position{line: s.Line - 1, word: s.Word - 1}
			if !ref.InBounds(pos.line, pos.word) {
				continue
			}
			if seen[pos] {
				continue
			}
			seen[pos] = true
			if len(claims[pos]) == 0 {
				order = append(order, pos)
			}
			claims[pos] = append(claims[pos], claim{judgeIdx: ji, spot: s})
		}
	}

	var spots []ConfirmedSpot
	for _, pos := range order {
		votes := claims[pos]
		if len(votes) < quorum {
			continue
		}
		spot := mergeVotes(pos, votes, consulted, ref)
		if spot.Kind == KindSubstitution && spot.Heard != "" && phoneticallyIdentical(spot.Heard, spot.Expected) {
			continue
		}
		spots = append(spots, spot)
	}

	sort.Slice(spots, func(i, j int) bool {
		if spots[i].Line != spots[j].Line {
			return spots[i].Line < spots[j].Line
		}
		return spots[i].Word < spots[j].Word
	})
	return spots
}

// mergeVotes collapses the agreeing claims at one position into a confirmed
// spot: majority kind with consult order breaking ties, maximum severity and
// gap, and the first non-empty heard/note in consult order.
func mergeVotes(pos position, votes []claim, consulted int, ref *passage.Reference) ConfirmedSpot {
	kindCount := make(map[SpotKind]int)
	kindFirst := make(map[SpotKind]int)
	for _, v := range votes {
		kindCount[v.spot.Kind]++
		if _, ok := kindFirst[v.spot.Kind]; !ok {
			kindFirst[v.spot.Kind] = v.judgeIdx
		}
	}
	var kind SpotKind
	for k, n := range kindCount {
		if kind == "" || n > kindCount[kind] ||
			(n == kindCount[kind] && kindFirst[k] < kindFirst[kind]) {
			kind = k
		}
	}

	expected, _ := ref.WordAt(pos.line, pos.word)

	spot := ConfirmedSpot{
		Line:       pos.line,
		Word:       pos.word,
		Kind:       kind,
		Expected:   expected,
		Confidence: float64(len(votes)) / float64(consulted),
	}
	for _, v := range votes {
		if v.spot.Severity > spot.Severity {
			spot.Severity = v.spot.Severity
		}
		if v.spot.GapSeconds > spot.GapSeconds {
			spot.GapSeconds = v.spot.GapSeconds
		}
		if spot.Heard == "" {
			spot.Heard = v.spot.Heard
		}
		if spot.Note == "" {
			spot.Note = v.spot.Note
		}
	}
	return spot
}

// buildStats derives the per-kind tally for one confirmed spot list.
func buildStats(spots []ConfirmedSpot, ref *passage.Reference) Stats {
	st := Stats{
		TotalWords: ref.TotalWords(),
		ByKind:     make(map[SpotKind]int),
	}
	for _, s := range spots {
		st.ByKind[s.Kind]++
	}
	return st
}
