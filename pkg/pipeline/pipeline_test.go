package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

var fastRetry = RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

// scriptedExecutor returns queued errors per step kind, then nil.
type scriptedExecutor struct {
	mu     sync.Mutex
	errs   map[Kind][]error
	calls  []Kind
	block  Kind
	output map[Kind]string
}

func (s *scriptedExecutor) Probe(context.Context) (*Probe, error) {
	return &Probe{}, nil
}

func (s *scriptedExecutor) Execute(ctx context.Context, step Step, _ *Job, out process.LineFunc) error {
	s.mu.Lock()
	s.calls = append(s.calls, step.Kind)
	var err error
	if q := s.errs[step.Kind]; len(q) > 0 {
		err = q[0]
		s.errs[step.Kind] = q[1:]
	}
	line := s.output[step.Kind]
	s.mu.Unlock()

	if line != "" {
		out(line)
	}
	if step.Kind == s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func collect(seq func(func(Result) bool)) []Result {
	var results []Result
	for r := range seq {
		results = append(results, r)
	}
	return results
}

func TestDefaultSteps(t *testing.T) {
	steps := DefaultSteps()
	require.Len(t, steps, 7)
	for i, s := range steps {
		assert.Equal(t, i, s.Ordinal)
		assert.Positive(t, s.Timeout)
	}
	assert.Equal(t, 2, IndexOf(steps, KindPartitionDisk))
	assert.False(t, steps[2].Retryable)
	assert.True(t, steps[1].Retryable)
	assert.True(t, KindMountFilesystems.TouchesDisk())
	assert.False(t, KindBuildSystem.TouchesDisk())
}

func TestRun_AllSucceed(t *testing.T) {
	exec := &scriptedExecutor{output: map[Kind]string{KindBuildSystem: "building"}}
	p := New(DefaultSteps(), exec, fastRetry)

	results := collect(p.Run(context.Background(), &Job{}, 0, Hooks{}))
	require.Len(t, results, 7)
	for i, r := range results {
		assert.Equal(t, i, r.Ordinal)
		assert.Equal(t, OutcomeSucceeded, r.Outcome)
		assert.Equal(t, 1, r.Attempts)
		assert.False(t, r.Partial)
	}
	assert.Equal(t, []string{"building"}, results[1].Output)
}

func TestRun_StopsAfterNonRetryableFailure(t *testing.T) {
	exec := &scriptedExecutor{errs: map[Kind][]error{
		KindPartitionDisk: {&disk.PartitionError{Kind: disk.DeviceBusy, Device: "/dev/sda"}},
	}}
	p := New(DefaultSteps(), exec, fastRetry)

	results := collect(p.Run(context.Background(), &Job{}, 0, Hooks{}))
	require.Len(t, results, 3)
	last := results[2]
	assert.Equal(t, OutcomeFailed, last.Outcome)
	assert.Equal(t, 1, last.Attempts)
	require.NotNil(t, last.Error)
	assert.Equal(t, ErrorKindPartition, last.Error.Kind)
	assert.Equal(t, string(disk.DeviceBusy), last.Error.Code)
	assert.NotContains(t, exec.calls, KindMountFilesystems)
}

func TestRun_RetriesRetryableStep(t *testing.T) {
	exec := &scriptedExecutor{errs: map[Kind][]error{
		KindBuildSystem: {errors.New("substituter unreachable")},
	}}
	p := New(DefaultSteps()[:2], exec, fastRetry)

	var retried []int
	results := collect(p.Run(context.Background(), &Job{}, 0, Hooks{
		OnRetry: func(_ Step, attempt int, _ error) { retried = append(retried, attempt) },
	}))
	require.Len(t, results, 2)
	assert.Equal(t, OutcomeSucceeded, results[1].Outcome)
	assert.Equal(t, 2, results[1].Attempts)
	assert.Equal(t, []int{2}, retried)
	require.NotEmpty(t, results[1].Output)
	assert.Contains(t, results[1].Output[0], "attempt 1 failed")
}

func TestRun_RetriesExhausted(t *testing.T) {
	fail := errors.New("still broken")
	exec := &scriptedExecutor{errs: map[Kind][]error{KindCheckDependencies: {fail, fail, fail, fail}}}
	p := New(DefaultSteps(), exec, fastRetry)

	results := collect(p.Run(context.Background(), &Job{}, 0, Hooks{}))
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, string(ExternalToolFailed), results[0].Error.Code)
}

func TestRun_Timeout(t *testing.T) {
	steps := []Step{{ID: "mount", Kind: KindMountFilesystems, Timeout: 20 * time.Millisecond}}
	exec := &scriptedExecutor{block: KindMountFilesystems}
	p := New(steps, exec, fastRetry)

	results := collect(p.Run(context.Background(), &Job{}, 0, Hooks{}))
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Equal(t, string(Timeout), results[0].Error.Code)
}

func TestRun_CancelNotRetried(t *testing.T) {
	steps := []Step{{ID: "build", Kind: KindBuildSystem, Timeout: time.Minute, Retryable: true}}
	exec := &scriptedExecutor{block: KindBuildSystem}
	p := New(steps, exec, fastRetry)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	results := collect(p.Run(ctx, &Job{}, 0, Hooks{}))
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, string(Cancelled), results[0].Error.Code)
}

func TestRun_CancelledContextRunsNothing(t *testing.T) {
	exec := &scriptedExecutor{}
	p := New(DefaultSteps(), exec, fastRetry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := collect(p.Run(ctx, &Job{}, 0, Hooks{}))
	require.Len(t, results, 1)
	assert.Empty(t, exec.calls)
	assert.Equal(t, 0, results[0].Ordinal)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, string(Cancelled), results[0].Error.Code)
}

// stubbornExecutor cancels the run from inside a step and still reports success.
type stubbornExecutor struct {
	scriptedExecutor
	cancelAt Kind
	cancel   context.CancelFunc
}

func (s *stubbornExecutor) Execute(ctx context.Context, step Step, job *Job, out process.LineFunc) error {
	if step.Kind == s.cancelAt {
		s.cancel()
	}
	return s.scriptedExecutor.Execute(ctx, step, job, out)
}

func TestRun_SuccessAfterCancelIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &stubbornExecutor{cancelAt: KindBuildSystem, cancel: cancel}
	p := New(DefaultSteps(), exec, fastRetry)

	results := collect(p.Run(ctx, &Job{}, 0, Hooks{}))
	require.Len(t, results, 2)
	assert.Equal(t, OutcomeSucceeded, results[0].Outcome)
	assert.Equal(t, OutcomeFailed, results[1].Outcome)
	assert.Equal(t, 1, results[1].Attempts)
	assert.Equal(t, string(Cancelled), results[1].Error.Code)
	assert.Equal(t, []Kind{KindCheckDependencies, KindBuildSystem}, exec.calls)
}

func TestRun_Skipped(t *testing.T) {
	exec := &scriptedExecutor{errs: map[Kind][]error{KindCheckDependencies: {ErrSkipped}}}
	p := New(DefaultSteps()[:2], exec, fastRetry)

	results := collect(p.Run(context.Background(), &Job{}, 0, Hooks{}))
	require.Len(t, results, 2)
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.Equal(t, OutcomeSucceeded, results[1].Outcome)
}

func TestRun_ConsumerStops(t *testing.T) {
	exec := &scriptedExecutor{}
	p := New(DefaultSteps(), exec, fastRetry)

	n := 0
	for range p.Run(context.Background(), &Job{}, 0, Hooks{}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Len(t, exec.calls, 2)
}

func TestRun_FromOffset(t *testing.T) {
	exec := &scriptedExecutor{}
	p := New(DefaultSteps(), exec, fastRetry)

	results := collect(p.Run(context.Background(), &Job{}, 5, Hooks{}))
	require.Len(t, results, 2)
	assert.Equal(t, 5, results[0].Ordinal)
	assert.Equal(t, 6, results[1].Ordinal)
}

func TestSimulatedExecutor_InjectedPartitionFailure(t *testing.T) {
	sim := NewSimulatedExecutor(0)
	sim.FailAt = KindPartitionDisk
	p := New(DefaultSteps(), sim, fastRetry)

	results := collect(p.Run(context.Background(), &Job{}, 0, Hooks{}))
	require.Len(t, results, 3)
	assert.Equal(t, OutcomeFailed, results[2].Outcome)
	assert.Equal(t, ErrorKindPartition, results[2].Error.Kind)
}

func TestSimulatedExecutor_Probe(t *testing.T) {
	probe, err := NewSimulatedExecutor(0).Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, probe.Candidates, 2)
	assert.Equal(t, uint64(500_000_000_000), probe.Candidates[0].SizeBytes)
	assert.Equal(t, uint64(2_000_000_000_000), probe.Candidates[1].SizeBytes)
	assert.True(t, probe.Report.IsCompatible)
}

func TestDurationFactor(t *testing.T) {
	assert.Equal(t, 4, durationFactor(KindBuildSystem))
	assert.Equal(t, 3, durationFactor(KindCopySystem))
	assert.Equal(t, 1, durationFactor(KindPartitionDisk))
}
