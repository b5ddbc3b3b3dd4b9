// Package assess implements Offbook's recitation assessment engine: it turns
// one audio submission into a confidence-scored list of trouble spots by
// transcribing the audio, fanning the transcript out to a panel of
// independent LLM judges, and fusing their claims with position-keyed quorum
// voting.
//
// The engine tolerates partial judge failure by design: any subset of judges
// may fail or return garbage, and the assessment still succeeds with a lower
// evidence bar. Only a transcription failure or the loss of every judge is
// fatal.
package assess

import (
	"context"
	"time"
)

// SpotKind classifies a single trouble spot.
type SpotKind string

const (
	// KindSubstitution — the performer said a different word.
	KindSubstitution SpotKind = "substitution"

	// KindOmission — the performer skipped the word.
	KindOmission SpotKind = "omission"

	// KindAddition — the performer inserted a word not in the reference.
	KindAddition SpotKind = "addition"

	// KindHesitation — an unnaturally long pause before the word.
	KindHesitation SpotKind = "hesitation"

	// KindStumble — a false start or repeated fragment at the word.
	KindStumble SpotKind = "stumble"

	// KindFiller — a filler sound ("um", "uh") at the word.
	KindFiller SpotKind = "filler"
)

// IsValid reports whether k is a recognised spot kind.
func (k SpotKind) IsValid() bool {
	switch k {
	case KindSubstitution, KindOmission, KindAddition, KindHesitation, KindStumble, KindFiller:
		return true
	}
	return false
}

// CandidateSpot is one judge's claim about one location. Coordinates are
// 1-based as reported by the judge; they are normalised to 0-based during
// consensus. Candidates exist only for the duration of one assessment.
type CandidateSpot struct {
	// Line is the 1-based line index as reported by the judge.
	Line int `json:"line"`

	// Word is the 1-based word index within the line.
	Word int `json:"word"`

	// Kind classifies the claimed problem.
	Kind SpotKind `json:"kind"`

	// Expected is the reference word at the claimed position, as the judge
	// saw it.
	Expected string `json:"expected"`

	// Heard is what the judge believes was actually said. Empty when nothing
	// was heard (omissions, hesitations).
	Heard string `json:"heard,omitempty"`

	// Severity is the judge's assessment of how damaging the problem is, in
	// [0, 1].
	Severity float64 `json:"severity"`

	// GapSeconds is the measured pause length for timing-related kinds.
	GapSeconds float64 `json:"gap_seconds,omitempty"`

	// Note is an optional free-text explanation.
	Note string `json:"note,omitempty"`
}

// GoodPause is a non-penalised pause annotation from the interpretive judge:
// a silence that scans as a deliberate performance choice rather than a
// lapse.
type GoodPause struct {
	Line       int     `json:"line"`
	Word       int     `json:"word"`
	GapSeconds float64 `json:"gap_seconds"`
	Note       string  `json:"note,omitempty"`
}

// ConfirmedSpot is a trouble spot that met quorum. Coordinates are 0-based.
type ConfirmedSpot struct {
	// Line is the 0-based line index into the reference.
	Line int `json:"line"`

	// Word is the 0-based word index within the line.
	Word int `json:"word"`

	// Kind is the majority-voted classification.
	Kind SpotKind `json:"kind"`

	// Expected is the literal reference word at this position.
	Expected string `json:"expected"`

	// Heard is the first non-empty heard value among agreeing judges.
	Heard string `json:"heard,omitempty"`

	// Severity is the maximum severity reported by any agreeing judge.
	Severity float64 `json:"severity"`

	// Confidence is agreeingJudges / judgesConsulted. The denominator counts
	// only judges that actually returned a usable verdict, so confidence
	// stays meaningful when part of the panel fails.
	Confidence float64 `json:"confidence"`

	// GapSeconds is the largest measured pause among agreeing judges, when
	// any reported one.
	GapSeconds float64 `json:"gap_seconds,omitempty"`

	// Note is the first non-empty note among agreeing judges.
	Note string `json:"note,omitempty"`
}

// Stats summarises one assessment.
type Stats struct {
	// TotalWords is the reference's total word count.
	TotalWords int `json:"total_words"`

	// ByKind counts confirmed spots per kind.
	ByKind map[SpotKind]int `json:"by_kind"`
}

// Result is the full outcome of assessing one submission. It is immutable
// once created and is the unit stored in the attempt log.
type Result struct {
	// Timestamp is when the assessment completed.
	Timestamp time.Time `json:"timestamp"`

	// DurationSeconds is the length of the submitted recording.
	DurationSeconds float64 `json:"duration_seconds"`

	// Transcript is the full transcribed text.
	Transcript string `json:"transcript"`

	// Spots are the confirmed trouble spots in ascending (line, word) order.
	Spots []ConfirmedSpot `json:"spots"`

	// Stats summarises the assessment.
	Stats Stats `json:"stats"`

	// JudgeSummaries maps judge name to its free-text summary. Judges that
	// failed have no entry.
	JudgeSummaries map[string]string `json:"judge_summaries"`

	// JudgesConsulted is the number of judges whose verdicts entered
	// consensus. Callers can use this to see how thin the evidence was.
	JudgesConsulted int `json:"judges_consulted"`

	// GoodPauses are the interpretive judge's non-penalised pause
	// annotations.
	GoodPauses []GoodPause `json:"good_pauses,omitempty"`
}

// AttemptSink is where finished assessments are appended. Implemented by the
// attempt store; defined here so the engine does not depend on a concrete
// storage backend.
type AttemptSink interface {
	// Append adds res to the bounded attempt log for (userID, passageRef).
	Append(ctx context.Context, userID, passageRef string, res *Result) error
}
