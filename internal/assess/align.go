// Local alignment of the transcript against the reference. This runs
// in-process before any judge is consulted and serves two purposes:
//
//  1. Hints: each reference word is graded exact / near / mismatch /
//     unspoken, and the non-exact grades are rendered into the judge
//     payload so the models reason from concrete positions instead of
//     re-deriving the diff themselves.
//  2. Noise suppression: a confirmed substitution whose heard and expected
//     words are phonetically identical is almost always an STT artefact
//     ("colour" vs "color"), not a recitation error, and is dropped during
//     consensus.

package assess

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/offbookhq/offbook/internal/passage"
	"github.com/offbookhq/offbook/pkg/provider/stt"
)

// MatchGrade classifies how one reference word aligned against the
// transcript.
type MatchGrade string

const (
	// GradeExact — the transcript contains the word at the aligned position.
	GradeExact MatchGrade = "exact"

	// GradeNear — the aligned transcript word differs in spelling but is
	// phonetically close (likely an STT spelling variant, not a misquote).
	GradeNear MatchGrade = "near"

	// GradeMismatch — the aligned transcript word is a different word.
	GradeMismatch MatchGrade = "mismatch"

	// GradeUnspoken — no transcript word aligns here; the recitation ended
	// or skipped past this position.
	GradeUnspoken MatchGrade = "unspoken"
)

// WordHint is the alignment grade for one reference word.
type WordHint struct {
	// Line and Word are 0-based reference coordinates.
	Line int
	Word int

	// Expected is the literal reference word.
	Expected string

	// Heard is the aligned transcript word, empty for GradeUnspoken.
	Heard string

	// Grade classifies the alignment.
	Grade MatchGrade
}

// jaroNearThreshold is the Jaro-Winkler score above which two phonetically
// overlapping words are graded near rather than mismatch.
const jaroNearThreshold = 0.85

// phoneticIdentityThreshold is the stricter bar used for substitution noise
// suppression during consensus.
const phoneticIdentityThreshold = 0.92

// Align grades every reference word against the transcript word stream.
// The result always has exactly ref.TotalWords() entries in reference order.
//
// Alignment anchors on the longest common subsequence of normalised words;
// the gaps between anchors are paired positionally and graded phonetically.
// Reference words past the last transcript word are GradeUnspoken — the
// performer never reached them.
func Align(ref *passage.Reference, words []stt.Word) []WordHint {
	type coord struct{ line, word int }

	// Flatten the reference with coordinates.
	var (
		refWords  []string
		refCoords []coord
	)
	for li := 0; li < ref.LineCount(); li++ {
		for wi, w := range ref.Words(li) {
			refWords = append(refWords, w)
			refCoords = append(refCoords, coord{li, wi})
		}
	}

	spoken := make([]string, len(words))
	for i, w := range words {
		spoken[i] = w.Text
	}

	refNorm := normalizeAll(refWords)
	spokenNorm := normalizeAll(spoken)

	anchors := tokenLCS(refNorm, spokenNorm)

	hints := make([]WordHint, len(refWords))
	for i := range hints {
		hints[i] = WordHint{
			Line:     refCoords[i].line,
			Word:     refCoords[i].word,
			Expected: refWords[i],
			Grade:    GradeUnspoken,
		}
	}

	ri, si := 0, 0
	grade := func(refFrom, refTo, spokenFrom, spokenTo int) {
		// Pair leftover reference and transcript words positionally.
		n := refTo - refFrom
		m := spokenTo - spokenFrom
		for k := 0; k < n; k++ {
			h := &hints[refFrom+k]
			if k < m {
				h.Heard = spoken[spokenFrom+k]
				if phoneticallyNear(refNorm[refFrom+k], spokenNorm[spokenFrom+k], jaroNearThreshold) {
					h.Grade = GradeNear
				} else {
					h.Grade = GradeMismatch
				}
			}
			// Unpaired reference words keep GradeUnspoken only when the
			// transcript has ended; mid-stream they were skipped.
			if k >= m && spokenTo < len(spoken) {
				h.Grade = GradeMismatch
			}
		}
	}

	for _, a := range anchors {
		if ri < a.origIdx || si < a.corrIdx {
			grade(ri, a.origIdx, si, a.corrIdx)
		}
		hints[a.origIdx].Heard = spoken[a.corrIdx]
		hints[a.origIdx].Grade = GradeExact
		ri = a.origIdx + 1
		si = a.corrIdx + 1
	}
	if ri < len(refWords) && si < len(spoken) {
		grade(ri, len(refWords), si, len(spoken))
	}

	return hints
}

// RenderHints formats the non-exact hints for inclusion in a judge payload.
// Coordinates are rendered 1-based to match the numbered reference. Returns
// the empty string when every word aligned exactly.
func RenderHints(hints []WordHint) string {
	var sb strings.Builder
	for _, h := range hints {
		if h.Grade == GradeExact {
			continue
		}
		switch h.Grade {
		case GradeUnspoken:
			fmt.Fprintf(&sb, "line %d word %d: %q not spoken\n", h.Line+1, h.Word+1, h.Expected)
		case GradeNear:
			fmt.Fprintf(&sb, "line %d word %d: expected %q, heard %q (phonetically close)\n", h.Line+1, h.Word+1, h.Expected, h.Heard)
		default:
			if h.Heard == "" {
				fmt.Fprintf(&sb, "line %d word %d: %q skipped\n", h.Line+1, h.Word+1, h.Expected)
			} else {
				fmt.Fprintf(&sb, "line %d word %d: expected %q, heard %q\n", h.Line+1, h.Word+1, h.Expected, h.Heard)
			}
		}
	}
	return sb.String()
}

// phoneticallyIdentical reports whether heard and expected are close enough
// that a substitution claim between them is treated as transcription noise.
// Requires both a Double Metaphone code overlap and a high Jaro-Winkler
// score, so genuinely different words sharing a code ("night"/"knight" vs
// "night"/"note") are not suppressed lightly.
func phoneticallyIdentical(a, b string) bool {
	return phoneticallyNear(normalizeWord(a), normalizeWord(b), phoneticIdentityThreshold)
}

// phoneticallyNear reports whether two normalised words share a Double
// Metaphone code and score at least threshold on Jaro-Winkler.
func phoneticallyNear(a, b string, threshold float64) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	overlap := (ap != "" && (ap == bp || ap == bs)) ||
		(as != "" && (as == bp || as == bs))
	if !overlap {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= threshold
}

// normalizeWord lowercases w and strips surrounding punctuation so that
// "Question:" and "question" compare equal.
func normalizeWord(w string) string {
	return strings.Trim(strings.ToLower(w), ".,;:!?\"'()[]—–-…")
}

func normalizeAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = normalizeWord(w)
	}
	return out
}

// indexPair maps a token index in the reference sequence to the
// corresponding index in the transcript sequence.
type indexPair struct {
	origIdx int
	corrIdx int
}

// tokenLCS computes the longest common subsequence of two token slices and
// returns anchor pairs (indices into a and b) representing common tokens in
// order. Standard O(m×n) DP — passages are at most a few hundred words.
func tokenLCS(a, b []string) []indexPair {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	lcsLen := dp[m][n]
	if lcsLen == 0 {
		return nil
	}

	anchors := make([]indexPair, lcsLen)
	i, j, k := m, n, lcsLen-1
	for i > 0 && j > 0 {
		if a[i-1] == b[j-1] {
			anchors[k] = indexPair{origIdx: i - 1, corrIdx: j - 1}
			i--
			j--
			k--
		} else if dp[i-1][j] >= dp[i][j-1] {
			i--
		} else {
			j--
		}
	}
	return anchors
}
