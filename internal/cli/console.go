package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/connection"
	"github.com/roach88/chatsync/internal/engine"
)

// errQuit ends the console without an error.
var errQuit = errors.New("quit")

var (
	accentColor = lipgloss.Color("#7C3AED")
	ownColor    = lipgloss.Color("#10B981")
	mutedColor  = lipgloss.Color("#9CA3AF")
	errorColor  = lipgloss.Color("#EF4444")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(mutedColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(mutedColor).
			Padding(0, 1)

	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(errorColor)
	ownStyle    = lipgloss.NewStyle().Foreground(ownColor).Bold(true)
	peerStyle   = lipgloss.NewStyle().Foreground(accentColor)
)

// chrome is the number of lines drawn around the timeline: the header and
// its border, then the footer border, typing line, status line and input.
const chrome = 6

// Session signals, delivered to the program as messages.
type (
	timelineMsg struct {
		room     string
		timeline []chat.Message
	}
	typingMsg struct {
		room  string
		peers []string
	}
	connMsg       connection.Snapshot
	sendFailedMsg struct {
		msg chat.Message
		err error
	}
	offlineMsg    struct{ err error }
	terminatedMsg struct{ err error }
)

// Console is the terminal front end of a session: a scrolling timeline
// above a compose field.
//
// Signals arrive on engine goroutines and are queued as tea messages; all
// other state is owned by the program's update loop.
type Console struct {
	session *engine.Session
	userID  string
	ctx     context.Context

	signals chan tea.Msg
	done    chan struct{}
	stop    sync.Once

	input     textinput.Model
	view      viewport.Model
	width     int
	timeline  []chat.Message
	typing    []string
	conn      connection.Snapshot
	status    string
	statusErr bool
	err       error
}

// NewConsole creates a console for userID. Attach must be called before
// Handle or Run.
func NewConsole(userID string) *Console {
	in := textinput.New()
	in.Placeholder = "Type a message, or /help"
	in.CharLimit = 4000
	in.Width = 74
	in.Focus()

	return &Console{
		userID:  userID,
		ctx:     context.Background(),
		signals: make(chan tea.Msg, 256),
		done:    make(chan struct{}),
		input:   in,
		view:    viewport.New(80, 20),
		width:   80,
		conn:    connection.Snapshot{State: chat.ConnDisconnected},
	}
}

// Attach binds the console to its session.
func (c *Console) Attach(s *engine.Session) {
	c.session = s
}

// Signals returns the callbacks that feed session notifications into the
// program.
func (c *Console) Signals() engine.Signals {
	return engine.Signals{
		TimelineChanged: func(roomID string, tl []chat.Message) {
			c.post(timelineMsg{room: roomID, timeline: tl})
		},
		SendFailed: func(m chat.Message, err error) {
			c.post(sendFailedMsg{msg: m, err: err})
		},
		Offline: func(err error) {
			c.post(offlineMsg{err: err})
		},
		SessionTerminated: func(err error) {
			c.post(terminatedMsg{err: err})
		},
		ConnectionChanged: func(snap connection.Snapshot) {
			c.post(connMsg(snap))
		},
		TypingChanged: func(roomID string, peers []string) {
			c.post(typingMsg{room: roomID, peers: peers})
		},
	}
}

func (c *Console) post(msg tea.Msg) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.signals <- msg:
	case <-c.done:
	}
}

// waitForSignal blocks until the next session signal. It is re-armed after
// every signal the program handles.
func (c *Console) waitForSignal() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-c.signals:
			return msg
		case <-c.done:
			return nil
		}
	}
}

// Close stops signal delivery. Later signals are dropped.
func (c *Console) Close() {
	c.stop.Do(func() { close(c.done) })
}

// Run drives the console until /quit, Ctrl-C, ctx cancellation or session
// termination. The termination cause is returned.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	c.ctx = ctx
	defer c.Close()

	p := tea.NewProgram(c,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return c.err
}

func (c *Console) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, c.waitForSignal())
}

func (c *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return c.updateKey(msg)

	case tea.WindowSizeMsg:
		c.resize(msg.Width, msg.Height)
		return c, nil

	case timelineMsg:
		if msg.room == c.activeRoom() {
			c.timeline = msg.timeline
			c.refresh()
		}
	case typingMsg:
		if msg.room == c.activeRoom() {
			c.typing = msg.peers
		}
	case connMsg:
		c.conn = connection.Snapshot(msg)
	case sendFailedMsg:
		c.setError("send failed: %s (%v), /retry %s", msg.msg.ID, msg.err, msg.msg.ID)
	case offlineMsg:
		c.setError("offline: %v, /reconnect to retry", msg.err)
	case terminatedMsg:
		c.err = msg.err
		return c, tea.Quit

	default:
		var cmd tea.Cmd
		c.input, cmd = c.input.Update(msg)
		return c, cmd
	}
	return c, c.waitForSignal()
}

func (c *Console) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlD:
		return c, tea.Quit

	case tea.KeyEsc:
		if c.input.Focused() {
			c.input.Blur()
			c.session.Blur()
			return c, nil
		}
		return c, c.input.Focus()

	case tea.KeyEnter:
		if !c.input.Focused() {
			return c, c.input.Focus()
		}
		line := c.input.Value()
		c.input.Reset()
		err := c.Handle(c.ctx, line)
		c.session.Input("")
		switch {
		case errors.Is(err, errQuit):
			return c, tea.Quit
		case err != nil:
			c.setError("%v", err)
		}
		return c, nil

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		c.view, cmd = c.view.Update(msg)
		return c, cmd
	}

	if !c.input.Focused() {
		var cmd tea.Cmd
		c.view, cmd = c.view.Update(msg)
		return c, cmd
	}

	before := c.input.Value()
	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	if v := c.input.Value(); v != before && !strings.HasPrefix(v, "/") {
		c.session.Input(v)
	}
	return c, cmd
}

func (c *Console) resize(width, height int) {
	c.width = width
	c.view.Width = width
	c.view.Height = max(height-chrome, 1)
	c.input.Width = max(width-6, 10)
	c.refresh()
}

func (c *Console) activeRoom() string {
	if c.session == nil {
		return ""
	}
	return c.session.ActiveRoom()
}

func (c *Console) setStatus(format string, args ...any) {
	c.status = fmt.Sprintf(format, args...)
	c.statusErr = false
}

func (c *Console) setError(format string, args ...any) {
	c.status = fmt.Sprintf(format, args...)
	c.statusErr = true
}

// refresh re-renders the timeline and scrolls to the newest entry.
func (c *Console) refresh() {
	lines := make([]string, len(c.timeline))
	for i, m := range c.timeline {
		lines[i] = c.styleMessage(m)
	}
	c.view.SetContent(strings.Join(lines, "\n"))
	c.view.GotoBottom()
}

func (c *Console) styleMessage(m chat.Message) string {
	sender := peerStyle.Render(m.SenderID)
	if m.SenderID == c.userID {
		sender = ownStyle.Render(m.SenderID)
	}
	line := mutedStyle.Render(m.CreatedAt.Local().Format("15:04:05")) + " " + sender + ": " + messageBody(m)
	switch {
	case m.State == chat.StateFailed:
		line += " " + failedStyle.Render(fmt.Sprintf("(failed %s)", m.ID))
	case m.State != chat.StateConfirmed:
		line += " " + mutedStyle.Render(fmt.Sprintf("(%s %s)", strings.ToLower(string(m.State)), m.ID))
	case m.ReadCount > 0:
		line += " " + mutedStyle.Render(fmt.Sprintf("(read %d)", m.ReadCount))
	}
	return line
}

func (c *Console) View() string {
	header := headerStyle.Width(c.width).Render(c.headerText())

	typing := ""
	switch len(c.typing) {
	case 0:
	case 1:
		typing = c.typing[0] + " is typing…"
	default:
		typing = strings.Join(c.typing, ", ") + " are typing…"
	}
	status := mutedStyle.Render(c.status)
	if c.statusErr {
		status = errorStyle.Render(c.status)
	}
	footer := footerStyle.Width(c.width).Render(
		lipgloss.JoinVertical(lipgloss.Left, mutedStyle.Render(typing), status, c.input.View()),
	)

	return lipgloss.JoinVertical(lipgloss.Left, header, c.view.View(), footer)
}

func (c *Console) headerText() string {
	room := "no room"
	if r := c.activeRoom(); r != "" {
		room = "#" + r
	}
	state := strings.ToLower(string(c.conn.State))
	if c.conn.ReconnectAttempt > 0 {
		state += fmt.Sprintf(" (attempt %d)", c.conn.ReconnectAttempt)
	}
	parts := []string{room, state}
	if c.session != nil {
		if hb := c.session.Heartbeat(); hb.IsActive() {
			parts = append(parts, "heartbeat "+hb.Interval().String())
		}
	}
	return strings.Join(parts, " · ")
}

// messageBody prefixes media bodies with their kind.
func messageBody(m chat.Message) string {
	if m.Kind != chat.KindText {
		return fmt.Sprintf("[%s] %s", m.Kind, m.Body)
	}
	return m.Body
}

// renderMessage formats one entry as a plain line.
func renderMessage(m chat.Message) string {
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04:05"), m.SenderID, messageBody(m))
	switch {
	case m.State != chat.StateConfirmed:
		line += fmt.Sprintf("  (%s %s)", strings.ToLower(string(m.State)), m.ID)
	case m.ReadCount > 0:
		line += fmt.Sprintf("  (read %d)", m.ReadCount)
	}
	return line
}

// Handle applies one line from the compose field.
func (c *Console) Handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		room := c.session.ActiveRoom()
		if room == "" {
			return errors.New("no active room, /join <room> first")
		}
		_, err := c.session.SendText(room, line)
		return err
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "join":
		if arg == "" {
			return errors.New("usage: /join <room>")
		}
		if err := c.session.JoinRoom(arg); err != nil {
			return err
		}
		c.timeline = c.session.Timeline(arg)
		c.typing = nil
		c.refresh()
		c.setStatus("joined %s", arg)
		return nil

	case "leave":
		c.session.LeaveRoom()
		c.timeline = nil
		c.typing = nil
		c.refresh()
		c.setStatus("left room")
		return nil

	case "image", "media":
		if arg == "" {
			return fmt.Errorf("usage: /%s <path>", name)
		}
		room := c.session.ActiveRoom()
		if room == "" {
			return errors.New("no active room, /join <room> first")
		}
		kind, err := api.DetectKind(arg)
		if err != nil {
			return err
		}
		_, err = c.session.SendMedia(room, arg, kind)
		return err

	case "retry":
		if arg == "" {
			return errors.New("usage: /retry <id>")
		}
		_, err := c.session.Retry(c.session.ActiveRoom(), arg)
		return err

	case "typing":
		c.session.Input(arg)
		return nil

	case "blur":
		c.session.Blur()
		return nil

	case "fg":
		return c.session.Foreground(ctx)

	case "bg":
		c.session.Background()
		return nil

	case "reconnect":
		return c.session.Reconnect(ctx)

	case "show":
		room := c.session.ActiveRoom()
		if room == "" {
			return errors.New("no active room")
		}
		c.timeline = c.session.Timeline(room)
		c.refresh()
		c.setStatus("%d message(s) in %s", len(c.timeline), room)
		return nil

	case "help":
		c.setStatus("commands: /join /leave /image /retry /typing /blur /fg /bg /reconnect /show /quit")
		return nil

	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command /%s (try /help)", name)
}
