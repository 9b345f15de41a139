package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/nixblitz/installer-engine/pkg/install"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

// tailLines is how many streamed output lines of the running step are shown.
const tailLines = 8

// Model is the Bubble Tea model of the installer client. It renders whatever
// state the engine publishes and never changes state on its own.
type Model struct {
	conn     Conn
	keys     KeyMap
	styles   Styles
	spinner  spinner.Model
	progress progress.Model

	snapshot  *install.Snapshot
	log       []pipeline.Result
	tail      []string
	gap       bool
	cursor    int
	lastError string
	connected bool
	width     int
	quitting  bool
}

// NewModel creates a model reading from and writing to conn.
func NewModel(conn Conn) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = DefaultStyles().Title

	return Model{
		conn:      conn,
		keys:      DefaultKeyMap(),
		styles:    DefaultStyles(),
		spinner:   s,
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		connected: true,
		width:     80,
	}
}

// Init starts listening for engine frames.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.conn.Listen(), m.spinner.Tick)
}

// Phase returns the phase of the last received state, or idle.
func (m Model) Phase() install.Phase {
	if m.snapshot == nil || m.snapshot.State == nil {
		return install.PhaseIdle
	}
	return m.snapshot.State.Phase()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		m.applyEvent(msg.Event)
		return m, m.conn.Listen()

	case AckMsg:
		m.lastError = ""
		return m, m.conn.Listen()

	case CommandErrorMsg:
		m.lastError = msg.Err.Message
		return m, m.conn.Listen()

	case DisconnectedMsg:
		m.connected = false
		if msg.Err != nil {
			m.lastError = msg.Err.Error()
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) applyEvent(ev install.Event) {
	if ev.Gap {
		m.gap = true
	}

	switch ev.Kind {
	case install.EventStateChanged:
		if ev.State == nil {
			return
		}
		prev := m.Phase()
		m.snapshot = ev.State
		m.log = ev.State.Log
		if m.Phase() != prev {
			m.cursor = 0
			m.tail = nil
			m.gap = ev.Gap
		}
	case install.EventLogAppended:
		if ev.Log == nil {
			return
		}
		if ev.Log.Partial {
			m.tail = append(m.tail, ev.Log.Output...)
			if len(m.tail) > tailLines {
				m.tail = m.tail[len(m.tail)-tailLines:]
			}
			return
		}
		m.log = append(m.log, *ev.Log)
		m.tail = nil
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if !m.connected {
		return m, nil
	}

	switch state := m.currentState().(type) {
	case install.Idle:
		switch {
		case key.Matches(msg, m.keys.Check):
			return m, m.send(install.Command{Type: install.CmdRunSystemCheck})
		case key.Matches(msg, m.keys.Demo):
			return m, m.send(install.Command{Type: install.CmdEnableDemoMode})
		}

	case install.AwaitingDiskSelection:
		switch {
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(state.Candidates)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Select):
			if m.cursor < len(state.Candidates) {
				dev := state.Candidates[m.cursor].DevicePath
				return m, m.send(install.Command{Type: install.CmdSelectDisk, DevicePath: dev})
			}
		case key.Matches(msg, m.keys.Reset):
			return m, m.send(install.Command{Type: install.CmdReset})
		}

	case install.AwaitingConfirmation:
		switch {
		case key.Matches(msg, m.keys.Confirm):
			return m, m.send(install.Command{Type: install.CmdConfirmAndInstall})
		case key.Matches(msg, m.keys.Cancel), key.Matches(msg, m.keys.Reset):
			return m, m.send(install.Command{Type: install.CmdReset})
		}

	default:
		if key.Matches(msg, m.keys.Reset) {
			return m, m.send(install.Command{Type: install.CmdReset})
		}
	}
	return m, nil
}

func (m Model) currentState() install.State {
	if m.snapshot == nil || m.snapshot.State == nil {
		return install.Idle{}
	}
	return m.snapshot.State
}

func (m Model) send(cmd install.Command) tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		if err := conn.Send(cmd); err != nil {
			return DisconnectedMsg{Err: err}
		}
		return nil
	}
}

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := "NixBlitz installer"
	if m.snapshot != nil && m.snapshot.Demo {
		title += " (demo)"
	}
	b.WriteString(m.styles.Title.Render(title))
	b.WriteString("\n\n")

	switch state := m.currentState().(type) {
	case install.Idle:
		b.WriteString("Ready. Press enter to check this system, d for demo mode.\n")

	case install.CheckingSystem:
		b.WriteString(m.spinner.View() + " Checking system...\n")

	case install.AwaitingDiskSelection:
		m.viewReport(&b, state)
		b.WriteString(m.styles.Phase.Render("Select the target disk") + "\n")
		for i, c := range state.Candidates {
			line := fmt.Sprintf("%s  %s  %s", c.DevicePath, humanize.Bytes(c.SizeBytes), c.Model)
			if c.IsLiveSystem {
				line += m.styles.Warning.Render("  (live system)")
			}
			if i == m.cursor {
				b.WriteString(m.styles.Selected.Render("> "+line) + "\n")
			} else {
				b.WriteString("  " + line + "\n")
			}
		}

	case install.AwaitingConfirmation:
		d := state.SelectedDisk
		b.WriteString(m.styles.Warning.Render(fmt.Sprintf("All data on %s (%s, %s) will be erased.", d.DevicePath, humanize.Bytes(d.SizeBytes), d.Model)))
		b.WriteString("\nPress y to install, n to go back.\n")

	case install.Installing:
		pct := 0.0
		if state.TotalSteps > 0 {
			pct = float64(state.StepIndex) / float64(state.TotalSteps)
		}
		b.WriteString(m.progress.ViewAs(pct) + "\n\n")
		m.viewSteps(&b)
		status := fmt.Sprintf("%s %s (step %d/%d)", m.spinner.View(), state.StepStatus.Step.DisplayName, state.StepIndex+1, state.TotalSteps)
		if state.StepStatus.Retrying {
			status += m.styles.Warning.Render(fmt.Sprintf(" retry %d", state.StepStatus.Attempt))
		}
		b.WriteString(status + "\n")
		m.viewTail(&b)

	case install.Succeeded:
		m.viewSteps(&b)
		s := state.Summary
		b.WriteString(m.styles.Success.Render(fmt.Sprintf("Installed on %s in %s.", s.Disk.DevicePath, s.Duration.Round(time.Second))))
		b.WriteString("\n")
		if !s.ServicesHealthy {
			b.WriteString(m.styles.Warning.Render("Some services failed to start: "+strings.Join(s.FailedUnits, ", ")) + "\n")
		}

	case install.Failed:
		m.viewSteps(&b)
		b.WriteString(m.styles.Error.Render(fmt.Sprintf("Installation failed: %s", state.Error.Message)))
		b.WriteString("\n")
		if state.DiskTouched {
			b.WriteString(m.styles.Warning.Render("The disk was modified and may not be bootable.") + "\n")
		}
		for _, line := range state.PartialLog {
			b.WriteString(m.styles.Log.Render(line) + "\n")
		}
		b.WriteString("Press r to start over.\n")
	}

	if m.gap {
		b.WriteString(m.styles.Muted.Render("(some output was skipped)") + "\n")
	}
	if m.lastError != "" {
		b.WriteString("\n" + m.styles.Error.Render(m.lastError) + "\n")
	}
	if !m.connected {
		b.WriteString("\n" + m.styles.Error.Render("Disconnected from the installer engine.") + "\n")
	}

	b.WriteString("\n" + m.styles.Muted.Render("q to quit"))
	return b.String()
}

func (m Model) viewReport(b *strings.Builder, state install.AwaitingDiskSelection) {
	r := state.Report
	b.WriteString(m.styles.Muted.Render(fmt.Sprintf("%d cores, %d MB RAM", r.Summary.CPUCores, r.Summary.TotalMemoryMB)))
	b.WriteString("\n")
	for _, issue := range r.Issues {
		b.WriteString(m.styles.Warning.Render("! "+issue) + "\n")
	}
	b.WriteString("\n")
}

func (m Model) viewSteps(b *strings.Builder) {
	for _, r := range m.log {
		var mark string
		switch r.Outcome {
		case pipeline.OutcomeSucceeded:
			mark = m.styles.Success.Render("✓")
		case pipeline.OutcomeFailed:
			mark = m.styles.Error.Render("✗")
		default:
			mark = m.styles.Muted.Render("-")
		}
		b.WriteString(fmt.Sprintf("%s %d. %s\n", mark, r.Ordinal+1, r.StepID))
	}
}

func (m Model) viewTail(b *strings.Builder) {
	for _, line := range m.tail {
		b.WriteString(m.styles.Log.Render(line) + "\n")
	}
}
