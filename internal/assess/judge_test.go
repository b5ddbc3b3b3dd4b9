package assess_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/offbookhq/offbook/internal/assess"
	"github.com/offbookhq/offbook/pkg/provider/llm"
	llmmock "github.com/offbookhq/offbook/pkg/provider/llm/mock"
	"github.com/offbookhq/offbook/pkg/provider/stt"
)

const sampleVerdict = `{
  "spots": [
    {"line": 1, "word": 3, "kind": "omission", "expected": "or", "severity": 0.5, "note": "skipped"}
  ],
  "summary": "One word dropped."
}`

func sampleTranscription() *stt.Transcription {
	return &stt.Transcription{
		Text:     "to be not to be",
		Words:    spokenWords("to be not to be"),
		Duration: 3.2,
	}
}

func TestJudge_Evaluate(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: sampleVerdict},
	}
	j := assess.NewJudge(assess.RoleAccuracy, provider)

	ref := reference(t, "to be or not to be")
	finding, err := j.Evaluate(context.Background(), ref, sampleTranscription(), "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(finding.Spots) != 1 {
		t.Fatalf("len(Spots) = %d, want 1", len(finding.Spots))
	}
	if finding.Spots[0].Kind != assess.KindOmission {
		t.Errorf("Kind = %s, want omission", finding.Spots[0].Kind)
	}
	if finding.Summary != "One word dropped." {
		t.Errorf("Summary = %q", finding.Summary)
	}
}

func TestJudge_EvaluatePayload(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"spots":[],"summary":"clean"}`},
	}
	j := assess.NewJudge(assess.RoleFluency, provider)

	ref := reference(t, "to be or not to be")
	if _, err := j.Evaluate(context.Background(), ref, sampleTranscription(), "line 1 word 3: \"or\" skipped\n"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt == "" {
		t.Error("system prompt is empty")
	}
	payload := req.Messages[len(req.Messages)-1].Content
	for _, want := range []string{
		"line 1: to[1] be[2] or[3] not[4] to[5] be[6]",
		"to be not to be",
		"WORD TIMINGS",
		"ALIGNMENT HINTS",
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestJudge_EvaluateStripsMarkdownFences(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n" + sampleVerdict + "\n```",
		},
	}
	j := assess.NewJudge(assess.RoleAccuracy, provider)

	ref := reference(t, "to be or not to be")
	finding, err := j.Evaluate(context.Background(), ref, sampleTranscription(), "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(finding.Spots) != 1 {
		t.Errorf("len(Spots) = %d, want 1", len(finding.Spots))
	}
}

func TestJudge_EvaluateRejectsGarbage(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "I think the recitation went well overall!"},
	}
	j := assess.NewJudge(assess.RoleAccuracy, provider)

	ref := reference(t, "to be")
	if _, err := j.Evaluate(context.Background(), ref, sampleTranscription(), ""); err == nil {
		t.Fatal("expected parse error for non-JSON verdict, got nil")
	}
}

func TestJudge_EvaluateRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"spots":[{"line":1,"word":1,"kind":"mumble","severity":0.5}],"summary":""}`,
		},
	}
	j := assess.NewJudge(assess.RoleAccuracy, provider)

	ref := reference(t, "to be")
	if _, err := j.Evaluate(context.Background(), ref, sampleTranscription(), ""); err == nil {
		t.Fatal("expected error for unknown spot kind, got nil")
	}
}

func TestJudge_EvaluatePropagatesProviderError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("rate limited")
	provider := &llmmock.Provider{CompleteErr: wantErr}
	j := assess.NewJudge(assess.RoleInterpretive, provider)

	ref := reference(t, "to be")
	_, err := j.Evaluate(context.Background(), ref, sampleTranscription(), "")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestJudge_RolePrompts(t *testing.T) {
	t.Parallel()

	probe := func(role string) string {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: `{"spots":[],"summary":""}`},
		}
		j := assess.NewJudge(role, provider)
		ref := reference(t, "to be")
		if _, err := j.Evaluate(context.Background(), ref, sampleTranscription(), ""); err != nil {
			t.Fatalf("Evaluate(%s): %v", role, err)
		}
		return provider.Calls()[0].Req.SystemPrompt
	}

	if p := probe(assess.RoleAccuracy); !strings.Contains(p, "substitutions") {
		t.Error("accuracy prompt does not mention substitutions")
	}
	if p := probe(assess.RoleFluency); !strings.Contains(p, "hesitation") {
		t.Error("fluency prompt does not mention hesitations")
	}
	if p := probe(assess.RoleInterpretive); !strings.Contains(p, "good_pauses") {
		t.Error("interpretive prompt does not mention good_pauses")
	}
}
