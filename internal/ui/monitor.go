package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

// Layout breakpoints. Below minimums we show a resize hint instead of
// clipping panes into garbage.
const (
	minTerminalWidth  = 40
	minTerminalHeight = 10

	// At or above this width the list and transcript sit side by side.
	layoutBreakpointDual = 80

	listPaneWidth = 34
)

// themeChangedMsg arrives when the OS appearance flips.
type themeChangedMsg struct {
	dark bool
}

// followupWriteMsg reports the local websocket write. The daemon's
// acknowledgement arrives separately as a feedAckMsg.
type followupWriteMsg struct {
	name string
	err  error
}

type statusKind int

const (
	statusNone statusKind = iota
	statusOK
	statusWarn
	statusErr
)

// Monitor is the terminal client: a conversation list, a transcript pane,
// and an input to send follow-ups through the daemon.
type Monitor struct {
	width  int
	height int

	serverURL string
	feed      *Feed
	feedCh    chan tea.Msg
	themes    *ThemeWatcher

	convs  []relay.Conversation
	cursor int

	transcript viewport.Model
	input      textinput.Model
	spin       spinner.Model

	focusInput bool
	synced     bool
	connected  bool
	connInfo   string

	status     string
	statusKind statusKind
}

// NewMonitor builds the model. serverURL is shown to the user while
// connecting; wsURL is what the feed dials.
func NewMonitor(serverURL, wsURL, token string) *Monitor {
	input := textinput.New()
	input.Placeholder = "Send a follow-up to the selected chat..."
	input.CharLimit = 4000
	input.Prompt = "> "

	sp := spinner.New()
	sp.Spinner = spinner.Points

	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = true

	m := &Monitor{
		serverURL:  serverURL,
		feed:       NewFeed(wsURL, token),
		feedCh:     make(chan tea.Msg, 64),
		transcript: vp,
		input:      input,
		spin:       sp,
	}
	m.restyle()
	return m
}

// SetThemeWatcher attaches an OS appearance watcher created by the caller.
// Call before the program starts.
func (m *Monitor) SetThemeWatcher(tw *ThemeWatcher) {
	m.themes = tw
}

func (m *Monitor) Init() tea.Cmd {
	go m.feed.Run(m.feedCh)
	cmds := []tea.Cmd{m.spin.Tick, waitFeedMsg(m.feedCh)}
	if m.themes != nil {
		cmds = append(cmds, listenForTheme(m.themes))
	}
	return tea.Batch(cmds...)
}

// listenForTheme waits for the next OS appearance change.
func listenForTheme(tw *ThemeWatcher) tea.Cmd {
	return func() tea.Msg {
		isDark, ok := <-tw.ChangeChannel()
		if !ok {
			return nil
		}
		return themeChangedMsg{dark: isDark}
	}
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		// The spinner only renders before the first sync; stop ticking after.
		if m.synced {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case feedConnectedMsg:
		m.connected = true
		m.connInfo = ""
		return m, waitFeedMsg(m.feedCh)

	case feedDownMsg:
		m.connected = false
		m.connInfo = msg.info
		return m, waitFeedMsg(m.feedCh)

	case feedSyncMsg:
		m.applySync(msg.rooms)
		return m, waitFeedMsg(m.feedCh)

	case feedAckMsg:
		m.applyAck(msg.ack)
		return m, waitFeedMsg(m.feedCh)

	case followupWriteMsg:
		if msg.err != nil {
			m.setStatus(statusErr, "send failed: "+msg.err.Error())
		}
		return m, nil

	case themeChangedMsg:
		if msg.dark {
			InitTheme("dark")
		} else {
			InitTheme("light")
		}
		m.restyle()
		return m, listenForTheme(m.themes)
	}

	if m.focusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, m.quit()
	}

	if m.focusInput {
		switch msg.Type {
		case tea.KeyEsc, tea.KeyTab:
			m.focusInput = false
			m.input.Blur()
			return m, nil
		case tea.KeyEnter:
			return m, m.submitFollowup()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, m.quit()
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "pgup", "b":
		m.transcript.HalfViewUp()
	case "pgdown", "f":
		m.transcript.HalfViewDown()
	case "G":
		m.transcript.GotoBottom()
	case "tab", "enter", "i":
		if m.synced {
			m.focusInput = true
			return m, m.input.Focus()
		}
	}
	return m, nil
}

func (m *Monitor) quit() tea.Cmd {
	m.feed.Close()
	if m.themes != nil {
		m.themes.Close()
	}
	return tea.Quit
}

func (m *Monitor) moveCursor(delta int) {
	if len(m.convs) == 0 {
		return
	}
	next := m.cursor + delta
	if next < 0 {
		next = 0
	}
	if next >= len(m.convs) {
		next = len(m.convs) - 1
	}
	if next == m.cursor {
		return
	}
	m.cursor = next
	m.transcript.SetContent(m.renderTranscript())
	m.transcript.GotoBottom()
}

func (m *Monitor) selected() *relay.Conversation {
	if m.cursor < 0 || m.cursor >= len(m.convs) {
		return nil
	}
	return &m.convs[m.cursor]
}

func (m *Monitor) submitFollowup() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	conv := m.selected()
	if conv == nil {
		m.setStatus(statusWarn, "no conversation selected")
		return nil
	}
	m.input.Reset()
	name := firstLine(conv.Name)
	m.setStatus(statusNone, fmt.Sprintf("sending to %q...", name))
	id := conv.ID
	feed := m.feed
	return func() tea.Msg {
		err := feed.SendFollowup(id, text)
		return followupWriteMsg{name: name, err: err}
	}
}

// applySync replaces the conversation list, keeping the selection pinned to
// the same conversation when it survives the refresh.
func (m *Monitor) applySync(rooms []relay.Conversation) {
	prevID := ""
	if c := m.selected(); c != nil {
		prevID = c.ID
	}
	m.convs = rooms
	m.synced = true
	m.cursor = 0
	if prevID != "" {
		for i := range m.convs {
			if m.convs[i].ID == prevID {
				m.cursor = i
				break
			}
		}
	}
	m.refreshTranscript()
}

func (m *Monitor) applyAck(ack ackFrame) {
	name := ack.ChatName
	if name == "" {
		name = ack.ComposerID
	}
	switch ack.Status {
	case "sent":
		m.setStatus(statusOK, fmt.Sprintf("✓ sent to %q", firstLine(name)))
	case "unavailable":
		info := ack.Message
		if info == "" {
			info = "Cursor is not available right now"
		}
		m.setStatus(statusWarn, info)
	default:
		info := ack.Message
		if info == "" {
			info = "follow-up failed"
		}
		m.setStatus(statusErr, info)
	}
}

func (m *Monitor) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.status = text
}

// restyle refreshes component styles after a theme change.
func (m *Monitor) restyle() {
	m.spin.Style = SpinnerStyle
	m.input.PromptStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	m.input.TextStyle = lipgloss.NewStyle().Foreground(ColorText)
	m.input.PlaceholderStyle = lipgloss.NewStyle().Foreground(ColorTextDim)
}

// layout recomputes pane sizes from the terminal dimensions.
func (m *Monitor) layout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	// Header and status bar take one row each; the input box takes three.
	contentH := max(4, m.height-2)
	transcriptW := m.width
	if m.width >= layoutBreakpointDual {
		transcriptW = m.width - listPaneWidth
	}
	transcriptH := contentH - 5
	if m.width < layoutBreakpointDual {
		transcriptH = contentH - m.listHeight() - 5
	}

	m.transcript.Width = max(10, transcriptW-2)
	m.transcript.Height = max(3, transcriptH)
	m.input.Width = max(10, transcriptW-6)
	m.refreshTranscript()
}

// listHeight is the stacked-layout list pane height, borders included.
func (m *Monitor) listHeight() int {
	h := (m.height - 2) / 3
	if h < 5 {
		h = 5
	}
	return h
}

func (m *Monitor) refreshTranscript() {
	atBottom := m.transcript.AtBottom()
	prev := m.transcript.YOffset
	m.transcript.SetContent(m.renderTranscript())
	if atBottom {
		m.transcript.GotoBottom()
	} else {
		m.transcript.SetYOffset(prev)
	}
}

func (m *Monitor) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	if m.width < minTerminalWidth || m.height < minTerminalHeight {
		return lipgloss.Place(
			m.width, m.height,
			lipgloss.Center, lipgloss.Center,
			StatusWarnStyle.Render(fmt.Sprintf(
				"Terminal too small (%dx%d)\nMinimum: %dx%d",
				m.width, m.height,
				minTerminalWidth, minTerminalHeight,
			)),
		)
	}

	if !m.synced {
		return m.renderSplash()
	}

	header := m.renderHeader()
	statusBar := m.renderStatusBar()

	contentH := max(4, m.height-2)
	var content string
	if m.width >= layoutBreakpointDual {
		list := m.renderListPane(listPaneWidth, contentH)
		right := lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderTranscriptPane(m.width-listPaneWidth, contentH-3),
			m.renderInputPane(m.width-listPaneWidth),
		)
		content = lipgloss.JoinHorizontal(lipgloss.Top, list, right)
	} else {
		listH := m.listHeight()
		content = lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderListPane(m.width, listH),
			m.renderTranscriptPane(m.width, contentH-listH-3),
			m.renderInputPane(m.width),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

func (m *Monitor) renderSplash() string {
	line := m.spin.View() + " waiting for first sync from " + m.serverURL
	if !m.connected {
		line = m.spin.View() + " connecting to " + m.serverURL
		if m.connInfo != "" {
			line += "\n" + DimStyle.Render(m.connInfo)
		}
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, line)
}

func (m *Monitor) renderHeader() string {
	title := TitleStyle.Render("cursor-relay")
	dot := ConnectedDotStyle.Render("●")
	state := "connected"
	if !m.connected {
		dot = DisconnectedDotStyle.Render("●")
		state = "reconnecting..."
	}
	meta := ListMetaStyle.Render(fmt.Sprintf("%d conversations", len(m.convs)))
	return HeaderBarStyle.Width(m.width).Render(
		title + " " + dot + " " + DimStyle.Render(state) + "  " + meta,
	)
}

// renderListPane renders the conversation list. w and h include the border.
func (m *Monitor) renderListPane(w, h int) string {
	innerW := max(10, w-2)
	innerH := max(1, h-3)

	var b strings.Builder
	b.WriteString(PaneTitleStyle.Render("Chats"))
	b.WriteString("\n")

	if len(m.convs) == 0 {
		b.WriteString(DimStyle.Render("no conversations yet"))
	} else {
		start := 0
		if m.cursor >= innerH {
			start = m.cursor - innerH + 1
		}
		for i := start; i < len(m.convs) && i-start < innerH; i++ {
			conv := m.convs[i]
			meta := fmt.Sprintf(" %s · %d", formatAge(conv.LastActivity), len(conv.Messages))
			nameW := innerW - runewidth.StringWidth(meta)
			if nameW < 8 {
				nameW = 8
			}
			name := runewidth.Truncate(firstLine(conv.Name), nameW, "...")
			if i == m.cursor {
				// Single style run so the highlight spans the full row.
				row := name + meta
				if pad := innerW - runewidth.StringWidth(row); pad > 0 {
					row += strings.Repeat(" ", pad)
				}
				b.WriteString(ListItemSelectedStyle.Render(row))
			} else {
				b.WriteString(ListItemStyle.Render(name + ListMetaStyle.Render(meta)))
			}
			if i-start < innerH-1 {
				b.WriteString("\n")
			}
		}
	}

	style := PaneStyle
	if !m.focusInput {
		style = PaneFocusedStyle
	}
	return style.Width(innerW).Height(h - 2).Render(b.String())
}

func (m *Monitor) renderTranscriptPane(w, h int) string {
	innerW := max(10, w-2)
	title := PaneTitleStyle.Render("Transcript")
	if conv := m.selected(); conv != nil {
		title = PaneTitleStyle.Render(runewidth.Truncate(firstLine(conv.Name), innerW, "..."))
	}
	body := lipgloss.JoinVertical(lipgloss.Left, title, m.transcript.View())
	return PaneStyle.Width(innerW).Height(max(3, h-2)).Render(body)
}

func (m *Monitor) renderInputPane(w int) string {
	style := PaneStyle
	if m.focusInput {
		style = PaneFocusedStyle
	}
	return style.Width(max(10, w-2)).Render(m.input.View())
}

func (m *Monitor) renderStatusBar() string {
	hints := []string{
		KeyHintStyle.Render("tab") + KeyDescStyle.Render(" input"),
		KeyHintStyle.Render("j/k") + KeyDescStyle.Render(" select"),
		KeyHintStyle.Render("q") + KeyDescStyle.Render(" quit"),
	}
	left := strings.Join(hints, "  ")

	status := m.status
	switch m.statusKind {
	case statusOK:
		status = StatusOKStyle.Render(status)
	case statusWarn:
		status = StatusWarnStyle.Render(status)
	case statusErr:
		status = StatusErrStyle.Render(status)
	default:
		status = DimStyle.Render(status)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(status) - 2
	if gap < 1 {
		gap = 1
	}
	return StatusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + status)
}

// renderTranscript builds the viewport content for the selected conversation.
func (m *Monitor) renderTranscript() string {
	conv := m.selected()
	if conv == nil {
		return DimStyle.Render("select a conversation")
	}
	if len(conv.Messages) == 0 {
		return DimStyle.Render("no messages")
	}

	w := max(10, m.transcript.Width)
	var b strings.Builder
	for i, msg := range conv.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		label := AssistantLabelStyle.Render("cursor")
		if msg.IsUser {
			label = UserLabelStyle.Render("you")
		}
		stamp := MessageTimeStyle.Render(time.UnixMilli(msg.CreatedAt).Format("15:04"))
		b.WriteString(label + " " + stamp + "\n")
		b.WriteString(MessageTextStyle.Width(w).Render(msg.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// firstLine collapses a multi-line conversation name to its first line.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// formatAge renders a millisecond timestamp as a compact age like 5m or 2h.
func formatAge(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	d := time.Since(time.UnixMilli(ts))
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
