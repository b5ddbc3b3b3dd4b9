package assess_test

import (
	"strings"
	"testing"

	"github.com/offbookhq/offbook/internal/assess"
	"github.com/offbookhq/offbook/internal/passage"
	"github.com/offbookhq/offbook/pkg/provider/stt"
)

func reference(t *testing.T, lines ...string) *passage.Reference {
	t.Helper()
	p := &passage.Passage{Ref: "test"}
	for _, l := range lines {
		p.Lines = append(p.Lines, passage.Line{Back: l})
	}
	return passage.BuildReference(p)
}

func spokenWords(text string) []stt.Word {
	var words []stt.Word
	for i, w := range strings.Fields(text) {
		words = append(words, stt.Word{Text: w, Start: float64(i), End: float64(i) + 0.5})
	}
	return words
}

func TestAlign_PerfectRecitation(t *testing.T) {
	t.Parallel()

	ref := reference(t, "To be, or not to be,", "that is the question:")
	hints := assess.Align(ref, spokenWords("to be or not to be that is the question"))

	if len(hints) != ref.TotalWords() {
		t.Fatalf("len(hints) = %d, want %d", len(hints), ref.TotalWords())
	}
	for _, h := range hints {
		if h.Grade != assess.GradeExact {
			t.Errorf("word (%d,%d) %q graded %s, want exact", h.Line, h.Word, h.Expected, h.Grade)
		}
	}
	if got := assess.RenderHints(hints); got != "" {
		t.Errorf("RenderHints() = %q, want empty for a perfect recitation", got)
	}
}

func TestAlign_Substitution(t *testing.T) {
	t.Parallel()

	ref := reference(t, "that is the question:")
	hints := assess.Align(ref, spokenWords("that is the problem"))

	h := hints[3]
	if h.Grade != assess.GradeMismatch {
		t.Fatalf("grade = %s, want mismatch", h.Grade)
	}
	if h.Heard != "problem" {
		t.Errorf("Heard = %q, want %q", h.Heard, "problem")
	}
}

func TestAlign_TrailingWordsUnspoken(t *testing.T) {
	t.Parallel()

	ref := reference(t, "to be or not to be")
	hints := assess.Align(ref, spokenWords("to be or"))

	for _, h := range hints[3:] {
		if h.Grade != assess.GradeUnspoken {
			t.Errorf("word (%d,%d) graded %s, want unspoken", h.Line, h.Word, h.Grade)
		}
	}
}

func TestAlign_PunctuationAndCaseIgnored(t *testing.T) {
	t.Parallel()

	ref := reference(t, "To be, or not to be, that is the question:")
	hints := assess.Align(ref, spokenWords("TO BE OR NOT TO BE THAT IS THE QUESTION"))

	for _, h := range hints {
		if h.Grade != assess.GradeExact {
			t.Errorf("word %q graded %s, want exact", h.Expected, h.Grade)
		}
	}
}

func TestAlign_PhoneticVariantGradedNear(t *testing.T) {
	t.Parallel()

	ref := reference(t, "the colour of the sky")
	hints := assess.Align(ref, spokenWords("the color of the sky"))

	h := hints[1]
	if h.Grade != assess.GradeNear {
		t.Fatalf("grade for colour/color = %s, want near", h.Grade)
	}

	rendered := assess.RenderHints(hints)
	if !strings.Contains(rendered, "phonetically close") {
		t.Errorf("RenderHints() = %q, want a phonetically-close note", rendered)
	}
}

func TestAlign_EmptyTranscript(t *testing.T) {
	t.Parallel()

	ref := reference(t, "to be or not")
	hints := assess.Align(ref, nil)

	if len(hints) != 4 {
		t.Fatalf("len(hints) = %d, want 4", len(hints))
	}
	for _, h := range hints {
		if h.Grade != assess.GradeUnspoken {
			t.Errorf("grade = %s, want unspoken", h.Grade)
		}
	}
}

func TestRenderHints_Coordinates(t *testing.T) {
	t.Parallel()

	ref := reference(t, "to be", "or not")
	hints := assess.Align(ref, spokenWords("to be or knot"))

	rendered := assess.RenderHints(hints)
	if !strings.Contains(rendered, "line 2 word 2") {
		t.Errorf("RenderHints() = %q, want 1-based line 2 word 2", rendered)
	}
}
