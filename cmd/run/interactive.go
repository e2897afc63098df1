package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/script-host/service"
	"github.com/wippyai/script-host/trap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	deliveredStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	trapStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// logLimit bounds the dispatch history kept on screen.
const logLimit = 12

type consoleModel struct {
	err       error
	svc       *service.Service
	filename  string
	memLimit  uint64
	memReport uint64

	inputs   []textinput.Model
	focusIdx int
	log      []string
	notices  chan string
}

type actorReadyMsg struct {
	err error
	svc *service.Service
}

type dispatchedMsg struct {
	outcome service.Outcome
	err     error
	msg     service.Message
}

type noticeMsg string

func newConsoleModel(filename string, memLimit, memReport uint64) *consoleModel {
	labels := []struct{ prompt, placeholder string }{
		{"sender: ", "1"},
		{"session: ", "0"},
		{"kind: ", "0"},
		{"payload: ", "bytes passed to the handler"},
	}

	inputs := make([]textinput.Model, len(labels))
	for i, l := range labels {
		ti := textinput.New()
		ti.Prompt = l.prompt
		ti.Placeholder = l.placeholder
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		inputs[i] = ti
	}

	return &consoleModel{
		filename:  filename,
		memLimit:  memLimit,
		memReport: memReport,
		inputs:    inputs,
		notices:   make(chan string, 8),
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(m.startActor, m.nextNotice)
}

func (m *consoleModel) startActor() tea.Msg {
	code, err := os.ReadFile(m.filename)
	if err != nil {
		return actorReadyMsg{err: err}
	}

	svc, err := service.New(service.Config{
		Script:            code,
		MemoryLimitBytes:  m.memLimit,
		MemoryReportBytes: m.memReport,
		OnMemoryThreshold: func(current uint64, above bool) {
			dir := "fell below"
			if above {
				dir = "crossed"
			}
			select {
			case m.notices <- fmt.Sprintf("memory threshold %s: %d bytes live", dir, current):
			default:
			}
		},
	})
	if err != nil {
		return actorReadyMsg{err: err}
	}

	if err := svc.Init(context.Background()); err != nil {
		return actorReadyMsg{err: err}
	}
	return actorReadyMsg{svc: svc}
}

// nextNotice forwards threshold notifications raised on the actor's thread
// into the bubbletea event loop.
func (m *consoleModel) nextNotice() tea.Msg {
	return noticeMsg(<-m.notices)
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.svc != nil {
				m.svc.Close(context.Background())
			}
			return m, tea.Quit

		case "tab":
			m.inputs[m.focusIdx].Blur()
			m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
			m.inputs[m.focusIdx].Focus()
			return m, nil

		case "enter":
			if m.svc != nil {
				return m, m.dispatch
			}
			return m, nil

		case "ctrl+t":
			if m.svc != nil {
				m.toggleTrap(trap.Interrupt)
			}
			return m, nil

		case "ctrl+g":
			if m.svc != nil {
				m.toggleTrap(trap.Reclaim)
			}
			return m, nil
		}

	case actorReadyMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.svc = msg.svc
		m.push(deliveredStyle.Render(fmt.Sprintf("actor ready, %d bytes live", m.svc.MemoryUsed())))
		return m, nil

	case dispatchedMsg:
		m.push(m.formatOutcome(msg))
		return m, nil

	case noticeMsg:
		m.push(trapStyle.Render(string(msg)))
		return m, m.nextNotice
	}

	var cmds []tea.Cmd
	for i := range m.inputs {
		var cmd tea.Cmd
		m.inputs[i], cmd = m.inputs[i].Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// toggleTrap flips the signal between Normal and the requested state so the
// same key arms and disarms it.
func (m *consoleModel) toggleTrap(s trap.State) {
	sig := m.svc.Trap()
	if sig.Clear(s) {
		m.push(trapStyle.Render("trap cleared: " + s.String()))
		return
	}
	sig.Set(s)
	m.push(trapStyle.Render("trap set: " + s.String()))
}

func (m *consoleModel) dispatch() tea.Msg {
	sender, _ := strconv.ParseInt(m.inputs[0].Value(), 10, 64)
	session, _ := strconv.ParseInt(m.inputs[1].Value(), 10, 64)
	kind, _ := strconv.ParseUint(m.inputs[2].Value(), 10, 32)

	msg := service.Message{
		Sender:  sender,
		Session: session,
		Kind:    uint32(kind),
		Payload: []byte(m.inputs[3].Value()),
	}

	outcome, err := m.svc.Dispatch(context.Background(), msg)
	return dispatchedMsg{outcome: outcome, err: err, msg: msg}
}

func (m *consoleModel) push(line string) {
	m.log = append(m.log, line)
	if len(m.log) > logLimit {
		m.log = m.log[len(m.log)-logLimit:]
	}
}

func (m *consoleModel) formatOutcome(d dispatchedMsg) string {
	head := fmt.Sprintf("sender=%d session=%d kind=%d → ", d.msg.Sender, d.msg.Session, d.msg.Kind)
	switch d.outcome {
	case service.Delivered:
		return head + deliveredStyle.Render(d.outcome.String())
	case service.Interrupted:
		return head + trapStyle.Render(d.outcome.String())
	default:
		out := head + errorStyle.Render(d.outcome.String())
		if d.err != nil {
			out += helpStyle.Render("  " + d.err.Error())
		}
		return out
	}
}

func (m *consoleModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Script Host"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	if m.svc == nil {
		b.WriteString("Starting actor...\n")
		return b.String()
	}

	b.WriteString(labelStyle.Render("state: "))
	b.WriteString(m.svc.State())
	b.WriteString("  ")
	b.WriteString(labelStyle.Render("memory: "))
	b.WriteString(fmt.Sprintf("%d bytes", m.svc.MemoryUsed()))
	b.WriteString("  ")
	b.WriteString(labelStyle.Render("trap: "))
	b.WriteString(m.svc.Trap().Load().String())
	b.WriteString("\n\n")

	for _, input := range m.inputs {
		b.WriteString(input.View())
		b.WriteString("\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		for _, line := range m.log {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("tab next field • enter dispatch • ctrl+t interrupt • ctrl+g reclaim • esc quit"))

	return b.String()
}

func runInteractive(filename string, memLimit, memReport uint64) error {
	p := tea.NewProgram(newConsoleModel(filename, memLimit, memReport), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
