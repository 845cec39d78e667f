// Package tui renders live link status in the terminal.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mavwatch/pkg/link"
	"mavwatch/pkg/mavlink"
)

const historyLen = 10

type eventMsg link.Event

type closedMsg struct{}

type tickMsg time.Time

// Model is a bubbletea model fed by a hub subscription.
type Model struct {
	title     string
	sub       <-chan link.Event
	now       func() time.Time
	connected bool
	transport bool
	identity  mavlink.VehicleIdentity
	hasID     bool
	since     time.Time
	history   []link.Event
	closed    bool
}

type Option func(*Model)

func WithTitle(title string) Option {
	return func(m *Model) {
		if title != "" {
			m.title = title
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		if now != nil {
			m.now = now
		}
	}
}

func New(sub <-chan link.Event, opts ...Option) Model {
	m := Model{
		title: "mavwatch",
		sub:   sub,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.sub), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case eventMsg:
		m = m.apply(link.Event(msg))
		return m, waitForEvent(m.sub)
	case closedMsg:
		m.closed = true
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m Model) apply(ev link.Event) Model {
	if ev.Time.IsZero() {
		ev.Time = m.now()
	}
	switch ev.Kind {
	case link.EventTransportOpened:
		m.transport = true
	case link.EventConnectionEstablished:
		m.transport = true
		m.connected = true
		m.identity = ev.Identity
		m.hasID = ev.HasIdentity
		m.since = ev.Time
	case link.EventHeartbeatLost:
		m.connected = false
		m.since = ev.Time
	case link.EventDisconnected:
		m.transport = false
		m.connected = false
		m.hasID = false
		m.since = ev.Time
	}
	m.history = append(m.history, ev)
	if len(m.history) > historyLen {
		m.history = append([]link.Event(nil), m.history[len(m.history)-historyLen:]...)
	}
	return m
}

func (m Model) Connected() bool {
	return m.connected
}

func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", m.title)

	status := "DISCONNECTED"
	switch {
	case m.connected:
		status = "CONNECTED"
	case m.transport:
		status = "WAITING FOR HEARTBEAT"
	}
	fmt.Fprintf(&b, "status:    %s", status)
	if !m.since.IsZero() {
		fmt.Fprintf(&b, " (%s)", m.now().Sub(m.since).Truncate(time.Second))
	}
	b.WriteString("\n")
	if m.hasID {
		fmt.Fprintf(&b, "vehicle:   %s\n", m.identity)
	}

	b.WriteString("\nrecent events:\n")
	if len(m.history) == 0 {
		b.WriteString("  (none)\n")
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		ev := m.history[i]
		fmt.Fprintf(&b, "  %s  %s\n", ev.Time.Format("15:04:05.000"), ev.Kind)
	}
	if m.closed {
		b.WriteString("\nevent stream closed\n")
	}
	b.WriteString("\npress q to quit\n")
	return b.String()
}

func waitForEvent(sub <-chan link.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run drives the model until the user quits, ctx ends or the subscription
// closes.
func Run(ctx context.Context, sub <-chan link.Event, in io.Reader, out io.Writer, opts ...Option) error {
	progOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(out)}
	if in != nil {
		progOpts = append(progOpts, tea.WithInput(in))
	}
	_, err := tea.NewProgram(New(sub, opts...), progOpts...).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
