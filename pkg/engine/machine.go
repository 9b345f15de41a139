// Package engine owns the installation state and turns client commands into
// transitions and pipeline runs.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/events"
	"github.com/nixblitz/installer-engine/pkg/install"
	"github.com/nixblitz/installer-engine/pkg/metrics"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

// DefaultProbeTimeout bounds a system check.
const DefaultProbeTimeout = 2 * time.Minute

// Options configures a Machine. Real and Hub are required.
type Options struct {
	Steps             []pipeline.Step
	Real              pipeline.Executor
	Demo              pipeline.Executor
	Hub               *events.Hub
	Retry             pipeline.RetryPolicy
	Recorder          Recorder
	Metrics           *metrics.Metrics
	TargetRoot        string
	Hostname          string
	ProbeTimeout      time.Duration
	AllowIncompatible bool
	DemoMode          bool
}

// task is one running goroutine of an attempt: a probe or an install.
type task struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
	startedAt time.Time
	results   []pipeline.Result
}

// Machine is the single owner of the installation state. Every mutation
// happens under mu and publishes its event before the lock is released, so
// hub order equals mutation order.
type Machine struct {
	opts  Options
	steps []pipeline.Step
	hub   *events.Hub

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	state     install.State
	demo      bool
	log       []pipeline.Result
	version   uint64
	attemptID string
	startedAt time.Time
	selected  disk.Candidate
	task      *task
	// tasks holds every started task whose goroutine has not returned,
	// including cancelled ones that are still draining.
	tasks []*task
}

// New creates a machine in Idle and publishes the initial state.
func New(opts Options) *Machine {
	if len(opts.Steps) == 0 {
		opts.Steps = pipeline.DefaultSteps()
	}
	if opts.Demo == nil {
		opts.Demo = pipeline.NewSimulatedExecutor(pipeline.DefaultSimulatedInterval)
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(events.DefaultCapacity, opts.Metrics)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.TargetRoot == "" {
		opts.TargetRoot = disk.DefaultTargetRoot
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		opts:       opts,
		steps:      opts.Steps,
		hub:        opts.Hub,
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      install.Idle{},
		demo:       opts.DemoMode,
	}

	m.mu.Lock()
	m.publishStateLocked()
	m.mu.Unlock()
	return m
}

// Hub returns the event hub the machine publishes to.
func (m *Machine) Hub() *events.Hub {
	return m.hub
}

// Steps returns the step descriptors of every attempt.
func (m *Machine) Steps() []pipeline.Step {
	return m.steps
}

// CurrentState returns an immutable snapshot. It never waits for pipeline work.
func (m *Machine) CurrentState() install.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// SystemSummary describes the host using the executor of the current mode.
// It does not touch the installation state.
func (m *Machine) SystemSummary(ctx context.Context) (bridge.SystemSummary, error) {
	m.mu.Lock()
	exec := m.executorLocked()
	m.mu.Unlock()

	reporter, ok := exec.(pipeline.SummaryReporter)
	if !ok {
		return bridge.SystemSummary{}, errors.New("executor cannot describe the host")
	}
	return reporter.SystemSummary(ctx)
}

// Subscribe registers an observer; the first event is the current state.
func (m *Machine) Subscribe() *events.Subscription {
	return m.hub.Subscribe()
}

// HandleCommand validates cmd against the current state and applies it.
// Rejected commands return a *install.CommandError and change nothing.
func (m *Machine) HandleCommand(ctx context.Context, cmd install.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.applyLocked(cmd)
	result := "ok"
	if err != nil {
		var ce *install.CommandError
		if errors.As(err, &ce) {
			result = string(ce.Code)
		}
		slog.Warn("command_rejected", "type", cmd.Type, "phase", m.state.Phase(), "error", err)
	} else {
		slog.Info("command_accepted", "type", cmd.Type, "phase", m.state.Phase())
	}
	m.opts.Metrics.CommandHandled(string(cmd.Type), result)
	return err
}

func (m *Machine) applyLocked(cmd install.Command) error {
	switch cmd.Type {
	case install.CmdReset:
		m.resetLocked()
		return nil

	case install.CmdEnableDemoMode:
		if _, ok := m.state.(install.Idle); !ok {
			return install.NotAllowed(cmd.Type, m.state.Phase())
		}
		m.demo = true
		m.publishStateLocked()
		return nil

	case install.CmdRunSystemCheck:
		if _, ok := m.state.(install.Idle); !ok {
			return install.NotAllowed(cmd.Type, m.state.Phase())
		}
		m.attemptID = uuid.NewString()
		m.startedAt = time.Now()
		m.log = nil
		m.state = install.CheckingSystem{}
		t := m.startTaskLocked()
		m.publishStateLocked()
		go m.runProbe(t, m.executorLocked(), m.attemptID)
		return nil

	case install.CmdSelectDisk:
		sel, ok := m.state.(install.AwaitingDiskSelection)
		if !ok {
			return install.NotAllowed(cmd.Type, m.state.Phase())
		}
		if cmd.DevicePath == "" {
			return install.Malformed(cmd.Type, "device_path is required")
		}
		candidate, found := sel.FindCandidate(cmd.DevicePath)
		if !found {
			return &install.CommandError{Code: install.InvalidForState, Command: cmd.Type, Message: "unknown disk " + cmd.DevicePath}
		}
		if candidate.IsLiveSystem {
			return &install.CommandError{Code: install.InvalidForState, Command: cmd.Type, Message: cmd.DevicePath + " holds the running live system"}
		}
		m.selected = candidate
		m.state = install.AwaitingConfirmation{SelectedDisk: candidate}
		m.publishStateLocked()
		return nil

	case install.CmdConfirmAndInstall:
		conf, ok := m.state.(install.AwaitingConfirmation)
		if !ok {
			return install.NotAllowed(cmd.Type, m.state.Phase())
		}
		if m.stillDrainingLocked() {
			return &install.CommandError{Code: install.InvalidForState, Command: cmd.Type, Message: "previous attempt is still stopping"}
		}
		job := &pipeline.Job{
			Selection: bridge.Selection{DevicePath: conf.SelectedDisk.DevicePath, Hostname: m.opts.Hostname},
			Disk:      conf.SelectedDisk,
			Root:      m.opts.TargetRoot,
		}
		m.startedAt = time.Now()
		m.state = install.Installing{
			StepIndex:  0,
			TotalSteps: len(m.steps),
			StepStatus: install.StepStatus{Step: m.steps[0]},
		}
		t := m.startTaskLocked()
		m.publishStateLocked()
		go m.runInstall(t, m.executorLocked(), job, m.attemptID)
		return nil
	}

	return install.Malformed(cmd.Type, "unknown command %q", cmd.Type)
}

// resetLocked cancels any running task and returns to Idle, discarding the
// log and the selection.
func (m *Machine) resetLocked() {
	if m.task != nil {
		slog.Info("attempt_cancel", "attempt_id", m.attemptID, "phase", m.state.Phase())
		m.task.cancelled = true
		m.task.cancel()
		m.task = nil
	}
	m.state = install.Idle{}
	m.log = nil
	m.attemptID = ""
	m.selected = disk.Candidate{}
	m.publishStateLocked()
}

// stillDrainingLocked reports whether any cancelled task is still running.
func (m *Machine) stillDrainingLocked() bool {
	m.pruneTasksLocked()
	for _, t := range m.tasks {
		if t.cancelled {
			return true
		}
	}
	return false
}

func (m *Machine) pruneTasksLocked() {
	live := m.tasks[:0]
	for _, t := range m.tasks {
		select {
		case <-t.done:
		default:
			live = append(live, t)
		}
	}
	clear(m.tasks[len(live):])
	m.tasks = live
}

func (m *Machine) startTaskLocked() *task {
	ctx, cancel := context.WithCancel(m.baseCtx)
	t := &task{ctx: ctx, cancel: cancel, done: make(chan struct{}), startedAt: m.startedAt}
	m.pruneTasksLocked()
	m.tasks = append(m.tasks, t)
	m.task = t
	return t
}

func (m *Machine) executorLocked() pipeline.Executor {
	if m.demo {
		return m.opts.Demo
	}
	return m.opts.Real
}

func (m *Machine) snapshotLocked() install.Snapshot {
	log := make([]pipeline.Result, len(m.log))
	copy(log, m.log)
	return install.Snapshot{
		State:     m.state,
		AttemptID: m.attemptID,
		Demo:      m.demo,
		Log:       log,
		Version:   m.version,
	}
}

func (m *Machine) publishStateLocked() {
	m.version++
	m.hub.Publish(install.StateChanged(m.snapshotLocked()))
	m.opts.Metrics.Transition(string(m.state.Phase()))
}

// Shutdown cancels every running task and waits until each has stopped and
// handed its attempt to the recorder.
func (m *Machine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.pruneTasksLocked()
	waits := make([]chan struct{}, 0, len(m.tasks))
	for _, t := range m.tasks {
		t.cancelled = true
		waits = append(waits, t.done)
	}
	m.mu.Unlock()

	m.baseCancel()
	for _, w := range waits {
		select {
		case <-w:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "attempt did not stop in time")
		}
	}
	return nil
}

func issuesMessage(report bridge.SystemCheckReport) string {
	return strings.Join(report.Issues, " ")
}
