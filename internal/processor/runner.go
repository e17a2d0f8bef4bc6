package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mikeyg42/hypersight/internal/config"
	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// Failure is one processor error within a run
type Failure struct {
	ProcessorID int64
	Kind        storage.ProcessorKind
	Err         error
}

// RunError reports the processors that failed. Aborted is set when the
// abort policy stopped the remaining processors.
type RunError struct {
	Failures []Failure
	Aborted  bool
}

func (e *RunError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("processor %d (%s): %v", f.ProcessorID, f.Kind, f.Err))
	}
	msg := strings.Join(parts, "; ")
	if e.Aborted {
		return "aborted after " + msg
	}
	return msg
}

func (e *RunError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// Runner invokes processors synchronously in configured order
type Runner struct {
	abort    bool
	previews *Previewer
	metrics  *metrics.Collector
	logger   watchlog.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithPreviews uploads annotated previews for processors that ask for them.
func WithPreviews(p *Previewer) RunnerOption { return func(r *Runner) { r.previews = p } }

// WithMetrics counts processor failures.
func WithMetrics(c *metrics.Collector) RunnerOption { return func(r *Runner) { r.metrics = c } }

// NewRunner builds a Runner for policy config.PolicyIsolate or
// config.PolicyAbort. Anything else is rejected.
func NewRunner(policy string, logger watchlog.Logger, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{logger: logger}
	switch policy {
	case config.PolicyIsolate, "":
	case config.PolicyAbort:
		r.abort = true
	default:
		return nil, fmt.Errorf("unknown processor failure policy %q", policy)
	}
	if r.logger == nil {
		r.logger = watchlog.L()
	}
	r.logger = r.logger.Named("runner")
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run passes fs to every processor. Under the isolate policy a failing
// processor is logged and the rest still run; under abort the first failure
// stops the run. Cancellation is returned as the context error.
func (r *Runner) Run(ctx context.Context, procs []Processor, fs []*frames.Frame) error {
	var runErr *RunError
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.Process(ctx, fs)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return ctxErr
			}
			r.metrics.ProcessorFailed(string(p.Kind()))
			r.logger.Error("Processor failed",
				watchlog.Int64("processor_id", p.ID()),
				watchlog.String("kind", string(p.Kind())),
				watchlog.Bool("abort", r.abort),
				watchlog.Error(err))

			if runErr == nil {
				runErr = &RunError{}
			}
			runErr.Failures = append(runErr.Failures, Failure{ProcessorID: p.ID(), Kind: p.Kind(), Err: err})
			if r.abort {
				runErr.Aborted = true
				return runErr
			}
			continue
		}

		if cfg := p.Config(); cfg.Preview && r.previews != nil && len(fs) > 0 {
			r.previews.Publish(ctx, cfg, fs[len(fs)-1])
		}
	}
	if runErr != nil {
		return runErr
	}
	return nil
}
