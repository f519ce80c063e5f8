// Package tui is a thin reference UI host for a dap-session registry: it
// consumes the debug-status/program-output/program-error event fan-out
// (spec.md §6) for one active session at a time and lets an operator drive
// the same command surface the mcp package exposes, using bubbletea.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wayfind-dbg/dap-session/dapsession"
)

// Tab indices.
const (
	DashboardTab ViewTab = iota
	OutputTab
	CommandsTab
)

type ViewTab int

// keyMap defines the key bindings for the TUI.
type keyMap struct {
	Quit    key.Binding
	Tab     key.Binding
	Enter   key.Binding
	Help    key.Binding
	Refresh key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit, k.Tab}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Enter},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "switch tabs"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "run command"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
}

// logLine is one entry in the output viewport.
type logLine struct {
	at   time.Time
	tag  string
	text string
}

// Model is the bubbletea model for the reference UI host.
type Model struct {
	registry *dapsession.Registry

	width, height int
	ready         bool
	quitting      bool

	tabs      []string
	activeTab int
	help      help.Model
	keys      keyMap

	sessionID string
	session   *dapsession.Session
	status    dapsession.Status
	threadID  *int
	file      string
	line      int

	output   viewport.Model
	logs     []logLine
	cmdInput textinput.Model
	lastResp string
}

// New creates a reference TUI model bound to registry. No session exists
// until the operator runs a `launch` command.
func New(registry *dapsession.Registry) *Model {
	cmdInput := textinput.New()
	cmdInput.Placeholder = `launch python ./script.py | break <file> <line> | continue | step_in | step_over | step_out | eval <expr> | terminate`
	cmdInput.CharLimit = 500
	cmdInput.Width = 80

	return &Model{
		registry:  registry,
		tabs:      []string{"Dashboard", "Output", "Commands"},
		help:      help.New(),
		keys:      keys,
		status:    dapsession.StatusInitializing,
		output:    viewport.New(80, 15),
		cmdInput:  cmdInput,
	}
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// eventMsg wraps one event read off the active session's sink.
type eventMsg dapsession.Event

func waitForEvent(sink dapsession.Sink) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-sink
		if !ok {
			return nil
		}
		return eventMsg(evt)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.output.Width = msg.Width - 4
		m.output.Height = msg.Height - 15
		m.cmdInput.Width = msg.Width - 20
		m.ready = true

	case tea.KeyMsg:
		if m.quitting {
			return m, tea.Quit
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.activeTab = (m.activeTab + 1) % len(m.tabs)
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}

		if ViewTab(m.activeTab) == CommandsTab {
			if !m.cmdInput.Focused() {
				m.cmdInput.Focus()
			}
			if key.Matches(msg, m.keys.Enter) && m.cmdInput.Value() != "" {
				line := m.cmdInput.Value()
				m.cmdInput.SetValue("")
				cmds = append(cmds, m.runCommand(line))
			} else {
				m.cmdInput, cmd = m.cmdInput.Update(msg)
				cmds = append(cmds, cmd)
			}
		} else if m.cmdInput.Focused() {
			m.cmdInput.Blur()
		}

	case eventMsg:
		m.handleEvent(dapsession.Event(msg))
		if m.session != nil {
			cmds = append(cmds, waitForEvent(m.session.Events()))
		}

	case commandResultMsg:
		m.lastResp = string(msg)
		m.appendLog("cmd", m.lastResp)
		if m.session != nil {
			cmds = append(cmds, waitForEvent(m.session.Events()))
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleEvent(evt dapsession.Event) {
	switch evt.Name {
	case dapsession.EventDebugStatus:
		m.status = evt.Status.Status
		m.threadID = evt.Status.ThreadID
		if evt.Status.File != "" {
			m.file, m.line = evt.Status.File, evt.Status.Line
		}
		m.appendLog("status", fmt.Sprintf("%s (seq %d)", evt.Status.Status, evt.Status.Seq))
	case dapsession.EventDebugLocation:
		m.file, m.line = evt.Location.File, evt.Location.Line
		m.appendLog("location", fmt.Sprintf("%s:%d", evt.Location.File, evt.Location.Line))
	case dapsession.EventProgramOutput:
		m.appendLog("stdout", evt.Line)
	case dapsession.EventProgramError:
		m.appendLog("stderr", evt.Line)
	}
}

func (m *Model) appendLog(tag, text string) {
	m.logs = append(m.logs, logLine{at: time.Now(), tag: tag, text: text})
	if len(m.logs) > 500 {
		m.logs = m.logs[len(m.logs)-500:]
	}
	m.refreshOutput()
}

func (m *Model) refreshOutput() {
	var b strings.Builder
	start := 0
	if len(m.logs) > 200 {
		start = len(m.logs) - 200
	}
	for _, l := range m.logs[start:] {
		fmt.Fprintf(&b, "[%s] %-7s %s\n", l.at.Format("15:04:05"), l.tag, l.text)
	}
	m.output.SetContent(b.String())
	m.output.GotoBottom()
}

type commandResultMsg string

// runCommand parses one line of operator input into a Registry/Session
// call. It mirrors the command surface mcp.MCPDebugServer exposes
// (spec.md §6), so the TUI and the MCP tools drive the exact same
// session methods.
func (m *Model) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		switch fields[0] {
		case "launch":
			if len(fields) != 3 {
				return commandResultMsg("usage: launch <python|rust> <script_path>")
			}
			session, err := m.registry.Create(ctx, dapsession.LaunchSessionRequest{
				Engine:     dapsession.DebugEngine(fields[1]),
				ScriptPath: fields[2],
			})
			if err != nil {
				return commandResultMsg(fmt.Sprintf("launch failed: %v", err))
			}
			m.session = session
			m.sessionID = session.ID
			return commandResultMsg(fmt.Sprintf("session %s launched", session.ID))

		case "break":
			if len(fields) != 3 {
				return commandResultMsg("usage: break <file> <line>")
			}
			s, err := m.currentSession()
			if err != nil {
				return commandResultMsg(err.Error())
			}
			lineNo, err := strconv.Atoi(fields[2])
			if err != nil {
				return commandResultMsg("invalid line number: " + fields[2])
			}
			verified, err := s.SetBreakpoints(ctx, fields[1], []dapsession.BreakpointRequest{{Line: lineNo}})
			if err != nil {
				return commandResultMsg(fmt.Sprintf("set_breakpoints failed: %v", err))
			}
			return commandResultMsg(fmt.Sprintf("breakpoints: %+v", verified))

		case "configure":
			s, err := m.currentSession()
			if err != nil {
				return commandResultMsg(err.Error())
			}
			if err := s.ConfigurationDone(ctx); err != nil {
				return commandResultMsg(fmt.Sprintf("configuration_done failed: %v", err))
			}
			return commandResultMsg("configuration done")

		case "continue":
			s, err := m.currentSession()
			if err != nil {
				return commandResultMsg(err.Error())
			}
			if err := s.Continue(ctx, 0); err != nil {
				return commandResultMsg(fmt.Sprintf("continue failed: %v", err))
			}
			return commandResultMsg("continuing")

		case "step_in", "step_over", "step_out":
			s, err := m.currentSession()
			if err != nil {
				return commandResultMsg(err.Error())
			}
			var stepErr error
			switch fields[0] {
			case "step_in":
				stepErr = s.StepIn(ctx, 0, "")
			case "step_over":
				stepErr = s.StepOver(ctx, 0, "")
			case "step_out":
				stepErr = s.StepOut(ctx, 0, "")
			}
			if stepErr != nil {
				return commandResultMsg(fmt.Sprintf("%s failed: %v", fields[0], stepErr))
			}
			return commandResultMsg(fields[0])

		case "eval":
			s, err := m.currentSession()
			if err != nil {
				return commandResultMsg(err.Error())
			}
			expr := strings.Join(fields[1:], " ")
			result, err := s.Evaluate(ctx, expr, 0)
			if err != nil {
				return commandResultMsg(fmt.Sprintf("evaluate failed: %v", err))
			}
			return commandResultMsg(result.Result)

		case "stack":
			s, err := m.currentSession()
			if err != nil {
				return commandResultMsg(err.Error())
			}
			frames, err := s.GetCallStack(ctx, 0)
			if err != nil {
				return commandResultMsg(fmt.Sprintf("get_call_stack failed: %v", err))
			}
			return commandResultMsg(fmt.Sprintf("%+v", frames))

		case "terminate":
			s, err := m.currentSession()
			if err != nil {
				return commandResultMsg(err.Error())
			}
			if err := s.Terminate(ctx); err != nil {
				return commandResultMsg(fmt.Sprintf("terminate failed: %v", err))
			}
			m.registry.Remove(m.sessionID)
			return commandResultMsg("terminated")

		default:
			return commandResultMsg("unknown command: " + fields[0])
		}
	}
}

func (m *Model) currentSession() (*dapsession.Session, error) {
	if m.session == nil {
		return nil, fmt.Errorf("no active session: run `launch <engine> <script_path>` first")
	}
	return m.session, nil
}

func (m *Model) View() string {
	if !m.ready {
		return "\n  Initializing dap-session console...\n"
	}
	if m.quitting {
		return "\n  Goodbye!\n"
	}

	var content strings.Builder

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5A67D8")).
		Padding(0, 1).
		Width(m.width).
		Render("dap-session console")
	content.WriteString(header)
	content.WriteString("\n\n")

	status := fmt.Sprintf("Session: %s | Status: %s | Location: %s", m.sessionLabel(), m.status, m.locationLabel())
	statusBar := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#718096")).
		Background(lipgloss.Color("#F7FAFC")).
		Padding(0, 1).
		Width(m.width).
		Render(status)
	content.WriteString(statusBar)
	content.WriteString("\n\n")

	content.WriteString(m.renderTabs())
	content.WriteString("\n\n")
	content.WriteString(m.renderCurrentView())
	content.WriteString("\n")
	content.WriteString(m.help.View(m.keys))

	return content.String()
}

func (m *Model) sessionLabel() string {
	if m.sessionID == "" {
		return "(none)"
	}
	return m.sessionID
}

func (m *Model) locationLabel() string {
	if m.file == "" {
		return "-"
	}
	return fmt.Sprintf("%s:%d", m.file, m.line)
}

func (m *Model) renderTabs() string {
	var rendered []string
	for i, name := range m.tabs {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("#718096")).Background(lipgloss.Color("#EDF2F7")).Padding(0, 2)
		if i == m.activeTab {
			style = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#5A67D8")).Padding(0, 2)
		}
		rendered = append(rendered, style.Render(name))
	}
	return strings.Join(rendered, " ")
}

func (m *Model) renderCurrentView() string {
	switch ViewTab(m.activeTab) {
	case DashboardTab:
		return m.renderDashboard()
	case OutputTab:
		return m.output.View()
	case CommandsTab:
		return m.renderCommands()
	default:
		return "unknown view"
	}
}

func (m *Model) renderDashboard() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session:   %s\n", m.sessionLabel())
	fmt.Fprintf(&b, "Status:    %s\n", m.status)
	if m.threadID != nil {
		fmt.Fprintf(&b, "Thread:    %d\n", *m.threadID)
	}
	fmt.Fprintf(&b, "Location:  %s\n", m.locationLabel())
	b.WriteString("\nUse Tab to switch views, Commands tab to drive a session.\n")
	return b.String()
}

func (m *Model) renderCommands() string {
	var b strings.Builder
	b.WriteString("Command:\n")
	b.WriteString(m.cmdInput.View())
	b.WriteString("\n\n")
	if m.lastResp != "" {
		box := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#718096")).
			Padding(1).
			Width(m.width - 8).
			Render(m.lastResp)
		b.WriteString(box)
	}
	return b.String()
}

// Run starts the bubbletea program for this model.
func Run(registry *dapsession.Registry) error {
	m := New(registry)
	program := tea.NewProgram(m, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
