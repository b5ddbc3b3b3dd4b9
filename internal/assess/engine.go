// The assessment engine. One Assess call runs the full pipeline for one
// submission: catalog lookup, transcription, local alignment, panel fan-out,
// consensus, and the append to the attempt log. Nothing is written to the
// log until consensus has fully succeeded, so a failed assessment leaves no
// partial state behind.

package assess

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/offbookhq/offbook/internal/observe"
	"github.com/offbookhq/offbook/internal/passage"
	"github.com/offbookhq/offbook/pkg/provider/stt"
)

// Assessor orchestrates the assessment pipeline. Safe for concurrent use;
// two submissions for the same (user, passage) are serialised by the attempt
// sink, not here.
type Assessor struct {
	catalog     *passage.Catalog
	transcriber stt.Transcriber
	panel       *Panel
	sink        AttemptSink
	metrics     *observe.Metrics

	transcribeTimeout time.Duration
}

// AssessorOption configures an Assessor.
type AssessorOption func(*Assessor)

// WithTranscribeTimeout bounds the transcription call. Default 120s — long
// recordings against a local model can be slow.
func WithTranscribeTimeout(d time.Duration) AssessorOption {
	return func(a *Assessor) {
		a.transcribeTimeout = d
	}
}

// WithMetrics overrides the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) AssessorOption {
	return func(a *Assessor) {
		a.metrics = m
	}
}

// NewAssessor wires the pipeline together. All dependencies are required.
func NewAssessor(catalog *passage.Catalog, transcriber stt.Transcriber, panel *Panel, sink AttemptSink, opts ...AssessorOption) *Assessor {
	a := &Assessor{
		catalog:           catalog,
		transcriber:       transcriber,
		panel:             panel,
		sink:              sink,
		metrics:           observe.DefaultMetrics(),
		transcribeTimeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assess runs the full pipeline for one submission and appends the result to
// the attempt log.
//
// Error contract: ErrUnknownPassage when the ref is not in the catalog; a
// *TranscriptionError when speech-to-text fails (never retried — the caller
// resubmits); ErrAllJudgesFailed when no judge delivered a verdict. A
// partial panel failure is not an error: the result is built from the judges
// that succeeded, with proportionally lower confidence ceilings.
func (a *Assessor) Assess(ctx context.Context, userID, passageRef string, audio []byte, mimeType string) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "assess.Assess",
		trace.WithAttributes(observe.Attr("passage", passageRef)),
	)
	defer span.End()

	start := time.Now()
	a.metrics.ActiveAssessments.Add(ctx, 1)
	defer a.metrics.ActiveAssessments.Add(ctx, -1)

	log := observe.Logger(ctx)

	_, ref, ok := a.catalog.Get(passageRef)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPassage, passageRef)
	}

	tr, err := a.transcribe(ctx, audio, mimeType)
	if err != nil {
		a.metrics.RecordAssessment(ctx, passageRef, "transcription_error")
		return nil, err
	}
	log.Info("transcription complete",
		"passage", passageRef,
		"words", len(tr.Words),
		"audio_seconds", tr.Duration,
	)

	hints := RenderHints(Align(ref, tr.Words))

	judgeStart := time.Now()
	results, err := a.panel.Evaluate(ctx, ref, tr, hints)
	a.metrics.JudgeDuration.Record(ctx, time.Since(judgeStart).Seconds())
	for _, r := range results {
		if r.Err != nil {
			a.metrics.RecordJudgeFailure(ctx, r.Judge)
			log.Warn("judge failed", "judge", r.Judge, "error", r.Err)
		}
	}
	if err != nil {
		a.metrics.RecordAssessment(ctx, passageRef, "all_judges_failed")
		return nil, err
	}

	spots := BuildConsensus(results, ref)

	res := &Result{
		Timestamp:       time.Now().UTC(),
		DurationSeconds: tr.Duration,
		Transcript:      tr.Text,
		Spots:           spots,
		Stats:           buildStats(spots, ref),
		JudgeSummaries:  make(map[string]string),
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		res.JudgesConsulted++
		if r.Finding.Summary != "" {
			res.JudgeSummaries[r.Judge] = r.Finding.Summary
		}
		res.GoodPauses = append(res.GoodPauses, r.Finding.GoodPauses...)
	}

	if err := a.sink.Append(ctx, userID, passageRef, res); err != nil {
		a.metrics.RecordAssessment(ctx, passageRef, "store_error")
		return nil, fmt.Errorf("assess: store attempt: %w", err)
	}

	if res.JudgesConsulted < a.panel.Size() {
		log.Warn("panel degraded, consensus built from surviving judges",
			"judges_consulted", res.JudgesConsulted,
			"panel_size", a.panel.Size(),
		)
	}

	a.metrics.AssessmentDuration.Record(ctx, time.Since(start).Seconds())
	a.metrics.RecordAssessment(ctx, passageRef, "ok")
	log.Info("assessment complete",
		"passage", passageRef,
		"spots", len(spots),
		"judges_consulted", res.JudgesConsulted,
		"duration", time.Since(start),
	)
	return res, nil
}

func (a *Assessor) transcribe(ctx context.Context, audio []byte, mimeType string) (*stt.Transcription, error) {
	tctx, cancel := context.WithTimeout(ctx, a.transcribeTimeout)
	defer cancel()

	start := time.Now()
	tr, err := a.transcriber.Transcribe(tctx, audio, mimeType)
	a.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", statusOf(err))),
	)
	if err != nil {
		a.metrics.RecordTranscriptionError(ctx, "stt")
		return nil, &TranscriptionError{Err: err}
	}
	return tr, nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
