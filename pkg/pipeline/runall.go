package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logflow/seqmine/internal/model"
	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// ErrorPolicy determines how a failing series affects the others.
type ErrorPolicy int

const (
	// ErrorPolicyStrict cancels the remaining series on the first error.
	ErrorPolicyStrict ErrorPolicy = iota
	// ErrorPolicySkip records the failure and keeps mining other series.
	ErrorPolicySkip
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicyStrict:
		return "strict"
	case ErrorPolicySkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy parses a string into an ErrorPolicy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ErrorPolicyStrict, nil
	case "skip":
		return ErrorPolicySkip, nil
	default:
		return ErrorPolicyStrict, seqerr.Newf(seqerr.CodeMalformedInput, "unknown error policy %q", s)
	}
}

// Failure is a series that could not be mined under ErrorPolicySkip.
type Failure struct {
	Series string
	Err    error
}

// Report aggregates a RunAll.
type Report struct {
	Results  []*Result
	Failures []Failure
	Start    time.Time
	End      time.Time
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.End.IsZero() {
		return time.Since(r.Start)
	}
	return r.End.Sub(r.Start)
}

// Samples returns the number of samples mined successfully.
func (r *Report) Samples() int {
	n := 0
	for _, res := range r.Results {
		n += res.Samples
	}
	return n
}

// Summary returns a human-readable summary.
func (r *Report) Summary() string {
	return fmt.Sprintf("Mined %d series (%d samples, %d failed) in %s",
		len(r.Results), r.Samples(), len(r.Failures), r.Duration().Round(time.Millisecond))
}

// RunAll mines independent series in parallel, at most Options.Workers at a
// time. Results keep the input order. Under ErrorPolicyStrict the first
// error cancels the rest and is returned; under ErrorPolicySkip failures are
// listed in the report and only cancellation of ctx is returned.
func (r *Runner) RunAll(ctx context.Context, series []model.Series) (*Report, error) {
	rep := &Report{Start: time.Now()}
	results := make([]*Result, len(series))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if r.opts.Workers > 0 {
		g.SetLimit(r.opts.Workers)
	}
	for i, s := range series {
		g.Go(func() error {
			res, err := r.safeRun(gctx, s)
			if err == nil {
				results[i] = res
				return nil
			}
			if r.opts.Policy == ErrorPolicySkip && !seqerr.IsCode(err, seqerr.CodeContextCanceled) {
				r.logger.Printf("series %q failed: %v", s.Key, err)
				mu.Lock()
				rep.Failures = append(rep.Failures, Failure{Series: s.Key, Err: err})
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	rep.End = time.Now()
	if err != nil {
		return rep, err
	}
	if err := canceled(ctx, "run"); err != nil {
		return rep, err
	}
	for _, res := range results {
		if res != nil {
			rep.Results = append(rep.Results, res)
		}
	}
	r.logger.Print(rep.Summary())
	return rep, nil
}

// safeRun converts a panic inside one series into an error.
func (r *Runner) safeRun(ctx context.Context, s model.Series) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = seqerr.Newf(seqerr.CodeUnknown, "panic while mining series %q: %v", s.Key, p)
		}
	}()
	return r.Run(ctx, s)
}
