package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nixblitz/installer-engine/pkg/errors"
)

// Default retry policy.
const (
	DefaultMaxRetries     = 2
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// RetryPolicy bounds re-attempts of retryable steps.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// Hooks observe a run while steps execute. All fields are optional.
type Hooks struct {
	// OnStart is called before every attempt of a step.
	OnStart func(step Step, attempt int)
	// OnOutput receives each streamed line.
	OnOutput func(step Step, attempt int, line string)
	// OnRetry is called when a failed attempt will be retried.
	OnRetry func(step Step, attempt int, err error)
}

// Pipeline runs steps in ordinal order against an Executor.
type Pipeline struct {
	steps  []Step
	exec   Executor
	policy RetryPolicy
}

// New creates a pipeline over steps.
func New(steps []Step, exec Executor, policy RetryPolicy) *Pipeline {
	return &Pipeline{steps: steps, exec: exec, policy: policy}
}

// Steps returns the step descriptors.
func (p *Pipeline) Steps() []Step {
	return p.steps
}

// Run lazily executes steps starting at ordinal from and yields one final
// result per step. The sequence ends after the first failed step, after the
// last step, or when the consumer stops iterating. Once ctx is done no
// further step reaches the executor: the next step is reported as a
// cancelled failure instead.
func (p *Pipeline) Run(ctx context.Context, job *Job, from int, hooks Hooks) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		for i := from; i < len(p.steps); i++ {
			if err := ctx.Err(); err != nil {
				yield(cancelledResult(p.steps[i], err))
				return
			}
			res := p.runStep(ctx, p.steps[i], job, hooks)
			if !yield(res) {
				return
			}
			if res.Outcome == OutcomeFailed {
				return
			}
		}
	}
}

func (p *Pipeline) newBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.policy.InitialBackoff
	eb.MaxInterval = p.policy.MaxBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := p.policy.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

func (p *Pipeline) runStep(ctx context.Context, step Step, job *Job, hooks Hooks) Result {
	res := Result{
		StepID:    step.ID,
		Ordinal:   step.Ordinal,
		Kind:      step.Kind,
		StartedAt: time.Now(),
	}

	var mu sync.Mutex
	attempt := 0
	out := func(line string) {
		mu.Lock()
		res.Output = append(res.Output, line)
		n := attempt
		mu.Unlock()
		if hooks.OnOutput != nil {
			hooks.OnOutput(step, n, line)
		}
	}

	slog.Info("step_start", "step", step.ID, "ordinal", step.Ordinal)

	op := func() error {
		mu.Lock()
		attempt++
		n := attempt
		mu.Unlock()
		if hooks.OnStart != nil {
			hooks.OnStart(step, n)
		}

		err := p.attempt(ctx, step, job, out)
		if err == nil {
			return nil
		}
		if !step.Retryable || errors.Is(err, ErrSkipped) || isCancelled(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		mu.Lock()
		n := attempt
		mu.Unlock()
		slog.Warn("step_retry", "step", step.ID, "attempt", n, "wait", wait, "error", err)
		out(fmt.Sprintf("attempt %d failed: %v (retrying in %s)", n, err, wait.Round(time.Millisecond)))
		if hooks.OnRetry != nil {
			hooks.OnRetry(step, n+1, err)
		}
	}

	err := backoff.RetryNotify(op, p.newBackOff(ctx), notify)
	if err != nil && ctx.Err() != nil && !isCancelled(err) {
		// cancelled while waiting between attempts
		err = &StepError{Kind: Cancelled, Step: step.Kind, Err: ctx.Err()}
	}

	mu.Lock()
	defer mu.Unlock()
	res.Attempts = attempt
	res.FinishedAt = time.Now()

	switch {
	case err == nil:
		res.Outcome = OutcomeSucceeded
		slog.Info("step_succeeded", "step", step.ID, "attempts", attempt, "duration", res.FinishedAt.Sub(res.StartedAt))
	case errors.Is(err, ErrSkipped):
		res.Outcome = OutcomeSkipped
		slog.Info("step_skipped", "step", step.ID)
	default:
		res.Outcome = OutcomeFailed
		res.Error = Describe(err)
		slog.Error("step_failed", "step", step.ID, "attempts", attempt, "error", err)
	}
	return res
}

// attempt runs the executor once under the step timeout and classifies the error.
func (p *Pipeline) attempt(ctx context.Context, step Step, job *Job, out func(string)) error {
	sctx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	err := p.exec.Execute(sctx, step, job, out)
	switch {
	case ctx.Err() != nil && !errors.Is(err, ErrSkipped):
		// a tool that ignored cancellation does not count as success
		if err == nil {
			err = ctx.Err()
		}
		return &StepError{Kind: Cancelled, Step: step.Kind, Err: err}
	case err == nil:
		return nil
	case errors.Is(err, ErrSkipped):
		return err
	case sctx.Err() == context.DeadlineExceeded:
		return &StepError{Kind: Timeout, Step: step.Kind, Err: fmt.Errorf("exceeded %s: %w", step.Timeout, err)}
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return err
	}
	info := Describe(err)
	if info.Kind != ErrorKindStep {
		return err
	}
	return &StepError{Kind: ExternalToolFailed, Step: step.Kind, Log: info.Log, Err: err}
}

func cancelledResult(step Step, cause error) Result {
	now := time.Now()
	slog.Info("step_not_started", "step", step.ID, "reason", cause)
	return Result{
		StepID:     step.ID,
		Ordinal:    step.Ordinal,
		Kind:       step.Kind,
		Outcome:    OutcomeFailed,
		Error:      Describe(&StepError{Kind: Cancelled, Step: step.Kind, Err: cause}),
		StartedAt:  now,
		FinishedAt: now,
	}
}

func isCancelled(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr) && stepErr.Kind == Cancelled
}
