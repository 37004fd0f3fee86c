package app

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/anthropic-agentcli/agentcli-go/claude"
)

var (
	youStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	agentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "start an interactive multi-turn chat session",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}

	ctx := context.Background()
	client := claude.NewClient(opts...)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("agentcli: connect: %w", err)
	}
	defer client.Disconnect()

	_, err = tea.NewProgram(newChatModel(ctx, client)).Run()
	return err
}

// eventMsg and the two sentinel messages below drive the chatModel's
// Update loop: sendResultMsg reports whether the turn was accepted,
// agentEventMsg carries one streamed Event, and streamClosedMsg marks the
// end of the current turn's response channel.
type agentEventMsg claude.Event
type streamClosedMsg struct{}

type sendResultMsg struct {
	events <-chan claude.Event
	err    error
}

type chatModel struct {
	ctx    context.Context
	client *claude.Client

	input   string
	history []string
	pending string // partial assistant text accumulated this turn
	waiting bool
	events  <-chan claude.Event
	err     error
}

func newChatModel(ctx context.Context, client *claude.Client) *chatModel {
	return &chatModel{ctx: ctx, client: client}
}

func (*chatModel) Init() tea.Cmd { return nil }

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case sendResultMsg:
		if msg.err != nil {
			m.err = msg.err
			m.waiting = false
			return m, nil
		}
		m.events = msg.events
		return m, waitForEvent(m.events)
	case agentEventMsg:
		return m.handleEvent(claude.Event(msg))
	case streamClosedMsg:
		m.waiting = false
		return m, nil
	}
	return m, nil
}

func (m *chatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "enter":
		prompt := strings.TrimSpace(m.input)
		if m.waiting || prompt == "" {
			return m, nil
		}
		m.history = append(m.history, youStyle.Render("You: ")+prompt)
		m.input = ""
		m.waiting = true
		m.pending = ""
		return m, m.send(prompt)
	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	default:
		m.input += msg.String()
	}
	return m, nil
}

func (m *chatModel) handleEvent(ev claude.Event) (tea.Model, tea.Cmd) {
	if ev.Err != nil {
		m.err = ev.Err
		m.waiting = false
		return m, nil
	}
	switch ev.Type {
	case claude.TypeAssistant:
		if ev.Assistant != nil {
			m.pending += ev.Assistant.Text()
		}
	case claude.TypeResult:
		m.history = append(m.history, agentStyle.Render("Claude: ")+m.pending)
		m.pending = ""
		m.waiting = false
		return m, nil
	case claude.TypeSystem:
		if ev.System != nil && ev.System.Subtype == "error" {
			m.err = fmt.Errorf("agent reported a system error")
		}
	}
	return m, waitForEvent(m.events)
}

func (m *chatModel) send(prompt string) tea.Cmd {
	client, ctx := m.client, m.ctx
	return func() tea.Msg {
		if err := client.SendMessage(ctx, prompt); err != nil {
			return sendResultMsg{err: err}
		}
		events, err := client.ReceiveResponse(ctx)
		if err != nil {
			return sendResultMsg{err: err}
		}
		return sendResultMsg{events: events}
	}
}

func waitForEvent(events <-chan claude.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return agentEventMsg(ev)
	}
}

func (m *chatModel) View() string {
	var b strings.Builder
	for _, line := range m.history {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.pending != "" {
		b.WriteString(agentStyle.Render("Claude: ") + m.pending + "\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(youStyle.Render("You: ") + m.input)
	if m.waiting {
		b.WriteString(hintStyle.Render(" (waiting...)"))
	}
	b.WriteString("\n" + hintStyle.Render("enter to send, esc or ctrl+c to quit") + "\n")
	return b.String()
}
