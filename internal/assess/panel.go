// The analyst panel. All judges run concurrently against the same inputs and
// the panel always waits for every one of them to settle; a slow or failing
// judge never cancels its peers, because consensus quality depends on
// collecting every verdict that can still arrive.

package assess

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offbookhq/offbook/internal/passage"
	"github.com/offbookhq/offbook/pkg/provider/stt"
)

// ErrAllJudgesFailed is returned when not a single judge produced a usable
// verdict. With no evidence at all there is nothing to build consensus from.
var ErrAllJudgesFailed = errors.New("assess: all judges failed")

// JudgeResult is one judge's settled outcome: exactly one of Finding or Err
// is set.
type JudgeResult struct {
	// Judge is the judge's role name.
	Judge string

	// Finding is the parsed verdict, nil when the judge failed.
	Finding *Finding

	// Err is the failure, nil when the judge succeeded.
	Err error
}

// Panel fans an assessment out to a fixed, ordered set of judges.
type Panel struct {
	judges  []*Judge
	timeout time.Duration
}

// PanelOption configures a Panel.
type PanelOption func(*Panel)

// WithJudgeTimeout bounds each individual judge call. Default 90s.
func WithJudgeTimeout(d time.Duration) PanelOption {
	return func(p *Panel) {
		p.timeout = d
	}
}

// NewPanel creates a panel over the given judges. Judge order is preserved
// and consensus uses it to break ties, so callers should pass judges in
// priority order.
func NewPanel(judges []*Judge, opts ...PanelOption) *Panel {
	p := &Panel{judges: judges, timeout: 90 * time.Second}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of judges on the panel.
func (p *Panel) Size() int { return len(p.judges) }

// Evaluate runs every judge concurrently and returns their results in judge
// order once all have settled. Individual failures are recorded in the
// corresponding slot; the only error returned is ErrAllJudgesFailed, and
// even then the per-judge results are returned so callers can log the
// individual causes.
func (p *Panel) Evaluate(ctx context.Context, ref *passage.Reference, tr *stt.Transcription, hints string) ([]JudgeResult, error) {
	results := make([]JudgeResult, len(p.judges))

	g := new(errgroup.Group)
	for i, j := range p.judges {
		results[i].Judge = j.Name()
		g.Go(func() error {
			jctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			finding, err := j.Evaluate(jctx, ref, tr, hints)
			if err != nil {
				// Record and swallow: the group is only a barrier here.
				results[i].Err = err
				return nil
			}
			results[i].Finding = finding
			return nil
		})
	}
	_ = g.Wait()

	for i := range results {
		if results[i].Err == nil {
			return results, nil
		}
	}
	return results, ErrAllJudgesFailed
}
