package assess_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/offbookhq/offbook/internal/assess"
	"github.com/offbookhq/offbook/pkg/provider/llm"
	llmmock "github.com/offbookhq/offbook/pkg/provider/llm/mock"
)

func okProvider() *llmmock.Provider {
	return &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"spots":[],"summary":"fine"}`},
	}
}

func failingProvider() *llmmock.Provider {
	return &llmmock.Provider{CompleteErr: errors.New("backend down")}
}

func TestPanel_AllJudgesSucceed(t *testing.T) {
	t.Parallel()

	panel := assess.NewPanel([]*assess.Judge{
		assess.NewJudge(assess.RoleAccuracy, okProvider()),
		assess.NewJudge(assess.RoleFluency, okProvider()),
		assess.NewJudge(assess.RoleInterpretive, okProvider()),
	})
	if panel.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", panel.Size())
	}

	ref := reference(t, "to be or not to be")
	results, err := panel.Evaluate(context.Background(), ref, sampleTranscription(), "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	wantOrder := []string{assess.RoleAccuracy, assess.RoleFluency, assess.RoleInterpretive}
	for i, r := range results {
		if r.Judge != wantOrder[i] {
			t.Errorf("results[%d].Judge = %q, want %q", i, r.Judge, wantOrder[i])
		}
		if r.Err != nil || r.Finding == nil {
			t.Errorf("results[%d] = %+v, want a finding", i, r)
		}
	}
}

func TestPanel_PartialFailureIsNotAnError(t *testing.T) {
	t.Parallel()

	panel := assess.NewPanel([]*assess.Judge{
		assess.NewJudge(assess.RoleAccuracy, okProvider()),
		assess.NewJudge(assess.RoleFluency, failingProvider()),
		assess.NewJudge(assess.RoleInterpretive, okProvider()),
	})

	ref := reference(t, "to be")
	results, err := panel.Evaluate(context.Background(), ref, sampleTranscription(), "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if results[1].Err == nil {
		t.Error("failing judge slot has no error")
	}
	if results[0].Finding == nil || results[2].Finding == nil {
		t.Error("surviving judges have no findings")
	}
}

func TestPanel_AllFailed(t *testing.T) {
	t.Parallel()

	panel := assess.NewPanel([]*assess.Judge{
		assess.NewJudge(assess.RoleAccuracy, failingProvider()),
		assess.NewJudge(assess.RoleFluency, failingProvider()),
	})

	ref := reference(t, "to be")
	results, err := panel.Evaluate(context.Background(), ref, sampleTranscription(), "")
	if !errors.Is(err, assess.ErrAllJudgesFailed) {
		t.Fatalf("err = %v, want ErrAllJudgesFailed", err)
	}
	// Per-judge causes are still reported alongside the sentinel.
	if len(results) != 2 || results[0].Err == nil || results[1].Err == nil {
		t.Errorf("results = %+v, want per-judge errors", results)
	}
}

func TestPanel_SlowJudgeDoesNotCancelPeers(t *testing.T) {
	t.Parallel()

	slow := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	panel := assess.NewPanel([]*assess.Judge{
		assess.NewJudge(assess.RoleAccuracy, slow),
		assess.NewJudge(assess.RoleFluency, okProvider()),
	}, assess.WithJudgeTimeout(50*time.Millisecond))

	ref := reference(t, "to be")
	results, err := panel.Evaluate(context.Background(), ref, sampleTranscription(), "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("slow judge err = %v, want deadline exceeded", results[0].Err)
	}
	if results[1].Finding == nil {
		t.Error("fast judge was cancelled by the slow one")
	}
}
