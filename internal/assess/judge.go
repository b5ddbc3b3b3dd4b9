// Judges. Each judge wraps one LLM provider with a role-specific system
// prompt and a strict JSON response contract. Judges are independent: they
// never see each other's output, and a judge that returns malformed JSON or
// an unknown kind is treated as failed for that assessment.

package assess

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/offbookhq/offbook/internal/passage"
	"github.com/offbookhq/offbook/pkg/provider/llm"
	"github.com/offbookhq/offbook/pkg/provider/stt"
)

// Judge roles, in consult order. The order is load-bearing: consensus breaks
// kind ties in favour of the earlier judge.
const (
	RoleAccuracy     = "accuracy"
	RoleFluency      = "fluency"
	RoleInterpretive = "interpretive"
)

// Finding is one judge's complete verdict for one assessment.
type Finding struct {
	// Spots are the judge's candidate claims, coordinates 1-based.
	Spots []CandidateSpot `json:"spots"`

	// GoodPauses are non-penalised pause annotations. Only the interpretive
	// judge is prompted to report them; entries from other judges are kept
	// but in practice stay empty.
	GoodPauses []GoodPause `json:"good_pauses,omitempty"`

	// Summary is a short free-text overall impression.
	Summary string `json:"summary"`
}

// Judge evaluates one transcript against one reference.
type Judge struct {
	name         string
	systemPrompt string
	provider     llm.Provider
	temperature  float64
}

// JudgeOption configures a Judge.
type JudgeOption func(*Judge)

// WithTemperature sets the sampling temperature. Default 0.2; judges should
// be near-deterministic.
func WithTemperature(t float64) JudgeOption {
	return func(j *Judge) {
		j.temperature = t
	}
}

// NewJudge creates a judge with the named role. Unknown roles get a generic
// accuracy-style prompt.
func NewJudge(role string, provider llm.Provider, opts ...JudgeOption) *Judge {
	j := &Judge{
		name:         role,
		systemPrompt: promptForRole(role),
		provider:     provider,
		temperature:  0.2,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Name returns the judge's role name.
func (j *Judge) Name() string { return j.name }

// Evaluate sends the assessment payload to the judge's model and parses its
// verdict. An unparseable response or a spot with an unknown kind fails the
// whole judge; consensus treats a failed judge as absent rather than
// guessing at partial output.
func (j *Judge) Evaluate(ctx context.Context, ref *passage.Reference, tr *stt.Transcription, hints string) (*Finding, error) {
	resp, err := j.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: j.systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildPayload(ref, tr, hints)},
		},
		Temperature: j.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("assess: judge %s: %w", j.name, err)
	}

	var finding Finding
	if err := json.Unmarshal([]byte(stripMarkdown(resp.Content)), &finding); err != nil {
		return nil, fmt.Errorf("assess: judge %s: parse verdict: %w", j.name, err)
	}
	for _, s := range finding.Spots {
		if !s.Kind.IsValid() {
			return nil, fmt.Errorf("assess: judge %s: unknown spot kind %q", j.name, s.Kind)
		}
	}
	return &finding, nil
}

// buildPayload assembles the user message: the numbered reference, the raw
// transcript, per-word timings, and the local alignment hints.
func buildPayload(ref *passage.Reference, tr *stt.Transcription, hints string) string {
	var sb strings.Builder

	sb.WriteString("REFERENCE (line and word numbers in brackets):\n")
	sb.WriteString(ref.Numbered())

	sb.WriteString("\nTRANSCRIPT:\n")
	sb.WriteString(tr.Text)
	sb.WriteString("\n")

	if len(tr.Words) > 0 {
		sb.WriteString("\nWORD TIMINGS (word start-end in seconds):\n")
		for _, w := range tr.Words {
			fmt.Fprintf(&sb, "%s %.2f-%.2f\n", w.Text, w.Start, w.End)
		}
	}

	if hints != "" {
		sb.WriteString("\nALIGNMENT HINTS (mechanical pre-check, verify before trusting):\n")
		sb.WriteString(hints)
	}

	fmt.Fprintf(&sb, "\nRECORDING LENGTH: %.2f seconds\n", tr.Duration)
	return sb.String()
}

// responseContract is the JSON schema fragment shared by all role prompts.
const responseContract = `Respond with JSON only, no prose, no markdown fences:
{
  "spots": [
    {"line": <1-based line>, "word": <1-based word>, "kind": "<kind>",
     "expected": "<reference word>", "heard": "<what was said, or empty>",
     "severity": <0.0-1.0>, "gap_seconds": <pause length, timing kinds only>,
     "note": "<short explanation, optional>"}
  ],
  "good_pauses": [
    {"line": <1-based>, "word": <1-based>, "gap_seconds": <length>, "note": "<why it works>"}
  ],
  "summary": "<one or two sentences>"
}
Valid kinds: substitution, omission, addition, hesitation, stumble, filler.
Report nothing you are not confident about. An empty spots list is a valid answer.`

func promptForRole(role string) string {
	switch role {
	case RoleFluency:
		return fluencyPrompt
	case RoleInterpretive:
		return interpretivePrompt
	default:
		return accuracyPrompt
	}
}

const accuracyPrompt = `You are a line-accuracy checker for actors memorising text.
You receive a numbered reference text and a speech-to-text transcript of one
recitation attempt. Find every place the spoken words diverge from the
reference: substitutions (wrong word), omissions (word skipped), and
additions (word inserted that is not in the reference).

Rules:
- Address every spot by the reference coordinates given in brackets.
- For additions, use the coordinates of the reference word the insertion
  precedes.
- If the transcript ends before the reference does, the performer stopped
  early. Do NOT report the entire untouched tail as omissions; report at most
  the first unspoken word with a note that the attempt ended there.
- Transcription is imperfect. Homophones and spelling variants of the correct
  word are not substitutions.

` + responseContract

const fluencyPrompt = `You are a fluency checker for actors memorising text.
You receive a numbered reference text, a transcript of one recitation
attempt, and per-word timings. Find delivery problems: hesitations (long
silent gap before a word), stumbles (false starts, repeated fragments), and
fillers ("um", "uh", "er" and similar sounds).

Rules:
- Use the word timings. A gap under 0.4 seconds is normal speech. A gap of
  0.4-1.5 seconds between words mid-phrase may be a hesitation if it breaks
  the sense of the line. A gap over 1.5 seconds is a hesitation unless it
  falls on obvious punctuation; over 3 seconds it is a hesitation regardless.
- Report gap_seconds for every hesitation.
- Address spots by the reference coordinates of the word the problem occurs
  before (hesitations) or at (stumbles, fillers).
- Do not report wording errors; another reviewer handles those.

` + responseContract

const interpretivePrompt = `You are a performance coach reviewing a recitation attempt.
You receive a numbered reference text, a transcript, and per-word timings.
Your job is to separate artistic choices from memory failures.

Rules:
- A pause at a natural beat (end of thought, punctuation, a dramatic moment)
  is a performance choice. Report it under good_pauses, never as a spot.
- Report a spot only where the delivery betrays lost memory: a pause
  mid-phrase that breaks the sense, groping repetitions, trailing off. Use
  kinds hesitation or stumble for these.
- Be conservative. When a silence could plausibly be deliberate, treat it as
  deliberate.

` + responseContract

// stripMarkdown removes a markdown code fence wrapper from an LLM response,
// if present. Models wrap JSON in fences despite instructions often enough
// that tolerating it is cheaper than retrying.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
