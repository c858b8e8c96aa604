package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hkuds/shellbox/internal/bus"
)

// Exchange sends one line to the relay and waits for its reply.
type Exchange func(ctx context.Context, line string) (bus.OutboundMessage, error)

// maxScrollback bounds the lines the shell keeps on screen.
const maxScrollback = 500

// Styles for the shell.
var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))
)

// shellModel is the Bubble Tea model for the interactive sandbox shell.
type shellModel struct {
	ctx        context.Context
	exchange   Exchange
	input      textinput.Model
	spinner    spinner.Model
	scrollback []string
	busy       bool
	quitting   bool
}

// replyMsg carries the relay's answer to one line.
type replyMsg struct {
	reply bus.OutboundMessage
	err   error
}

func newShellModel(ctx context.Context, exchange Exchange) shellModel {
	ti := textinput.New()
	ti.Prompt = "$ "
	ti.PromptStyle = promptStyle
	ti.Placeholder = "shell command, or /help"
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return shellModel{
		ctx:      ctx,
		exchange: exchange,
		input:    ti,
		spinner:  s,
	}
}

func (m shellModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			if line == "exit" || line == "quit" {
				m.quitting = true
				return m, tea.Quit
			}
			m.input.Reset()
			m.appendLines(promptStyle.Render("$ ") + line)
			m.busy = true
			return m, tea.Batch(m.spinner.Tick, m.send(line))
		}

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case replyMsg:
		m.busy = false
		m.appendLines(renderReply(msg)...)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m shellModel) send(line string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.exchange(m.ctx, line)
		return replyMsg{reply: reply, err: err}
	}
}

func (m *shellModel) appendLines(lines ...string) {
	m.scrollback = append(m.scrollback, lines...)
	if over := len(m.scrollback) - maxScrollback; over > 0 {
		m.scrollback = m.scrollback[over:]
	}
}

func renderReply(msg replyMsg) []string {
	if msg.err != nil {
		return []string{errorStyle.Render(fmt.Sprintf("error: %v", msg.err))}
	}

	r := msg.reply
	switch r.Kind {
	case bus.KindOutput:
		out := strings.TrimRight(r.Content, "\n")
		if strings.TrimSpace(out) == "" {
			return []string{dimStyle.Render("(no output)")}
		}
		return strings.Split(outputStyle.Render(out), "\n")
	case bus.KindError:
		return []string{errorStyle.Render(r.Content)}
	default:
		return strings.Split(r.Content, "\n")
	}
}

func (m shellModel) View() string {
	if m.quitting {
		return dimStyle.Render("bye") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Shellbox"))
	sb.WriteString("\n")
	for _, line := range m.scrollback {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if m.busy {
		sb.WriteString(m.spinner.View() + " running...")
	} else {
		sb.WriteString(m.input.View())
	}
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("/new start  /status  /end terminate  esc quit"))
	return sb.String()
}

// RunShell runs the interactive shell until the user quits.
func RunShell(ctx context.Context, exchange Exchange) error {
	p := tea.NewProgram(newShellModel(ctx, exchange), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
