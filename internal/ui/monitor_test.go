package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

func testConversations() []relay.Conversation {
	now := time.Now().UnixMilli()
	return []relay.Conversation{
		{
			ID:           "c1",
			Name:         "Fix parser",
			LastActivity: now,
			Messages: []relay.Message{
				{Text: "please fix the parser", IsUser: true, CreatedAt: now - 60_000},
				{Text: "hello from cursor", IsUser: false, CreatedAt: now},
			},
			Available: true,
		},
		{
			ID:           "c2",
			Name:         "Refactor storage",
			LastActivity: now - 120_000,
			Messages: []relay.Message{
				{Text: "start the refactor", IsUser: true, CreatedAt: now - 120_000},
			},
			Available: true,
		},
	}
}

func newTestMonitor() *Monitor {
	// Do not call Init here; these tests drive Update directly and must not
	// start the feed goroutine.
	return NewMonitor("http://127.0.0.1:8765", "ws://127.0.0.1:8765/ws", "")
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestNewMonitor(t *testing.T) {
	m := newTestMonitor()
	if m == nil {
		t.Fatal("NewMonitor returned nil")
	}
	if m.feed == nil {
		t.Error("feed should be initialized")
	}
	if m.feedCh == nil {
		t.Error("feed channel should be initialized")
	}
	if m.synced {
		t.Error("monitor should not start synced")
	}
}

func TestMonitorResize(t *testing.T) {
	m := newTestMonitor()

	model, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	got, ok := model.(*Monitor)
	if !ok {
		t.Fatal("Update should return *Monitor")
	}
	if got.width != 120 {
		t.Errorf("width = %d, want 120", got.width)
	}
	if got.height != 40 {
		t.Errorf("height = %d, want 40", got.height)
	}
}

func TestMonitorSyncPopulatesConversations(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	_, cmd := m.Update(feedSyncMsg{rooms: testConversations()})

	if !m.synced {
		t.Error("sync should mark the monitor synced")
	}
	if len(m.convs) != 2 {
		t.Errorf("conversations = %d, want 2", len(m.convs))
	}
	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0", m.cursor)
	}
	if cmd == nil {
		t.Error("sync should re-arm the feed listener")
	}
}

func TestMonitorSyncKeepsSelection(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(feedSyncMsg{rooms: testConversations()})

	m.Update(keyRune('j'))
	if m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", m.cursor)
	}

	// Resync with the selected conversation moved to the front.
	convs := testConversations()
	convs[0], convs[1] = convs[1], convs[0]
	m.Update(feedSyncMsg{rooms: convs})

	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0 (selection should follow c2)", m.cursor)
	}
	if got := m.convs[m.cursor].ID; got != "c2" {
		t.Errorf("selected = %q, want c2", got)
	}
}

func TestMonitorCursorBounds(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(feedSyncMsg{rooms: testConversations()})

	for i := 0; i < 5; i++ {
		m.Update(keyRune('j'))
	}
	if m.cursor != 1 {
		t.Errorf("cursor = %d, want 1 after moving past the end", m.cursor)
	}

	for i := 0; i < 5; i++ {
		m.Update(keyRune('k'))
	}
	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0 after moving past the start", m.cursor)
	}
}

func TestMonitorQuitKey(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	_, cmd := m.Update(keyRune('q'))
	if cmd == nil {
		t.Fatal("q should produce a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit the program")
	}
}

func TestMonitorTabTogglesInputFocus(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(feedSyncMsg{rooms: testConversations()})

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if !m.focusInput {
		t.Fatal("tab should focus the input")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.focusInput {
		t.Error("esc should return focus to the list")
	}
}

func TestMonitorInputIgnoredBeforeSync(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.focusInput {
		t.Error("input should not take focus before the first sync")
	}
}

func TestMonitorFollowupRequiresSelection(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(feedSyncMsg{rooms: nil})

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.input.SetValue("hello")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if cmd != nil {
		t.Error("enter without a selected conversation should not send")
	}
	if m.statusKind != statusWarn {
		t.Errorf("statusKind = %d, want warn", m.statusKind)
	}
}

func TestMonitorEmptyFollowupNotSent(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(feedSyncMsg{rooms: testConversations()})

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.input.SetValue("   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if cmd != nil {
		t.Error("blank input should not produce a send command")
	}
}

func TestMonitorAckRendering(t *testing.T) {
	tests := []struct {
		name     string
		ack      ackFrame
		wantKind statusKind
		contains string
	}{
		{
			name:     "sent",
			ack:      ackFrame{Status: "sent", ChatName: "Fix parser"},
			wantKind: statusOK,
			contains: `sent to "Fix parser"`,
		},
		{
			name:     "unavailable",
			ack:      ackFrame{Status: "unavailable", ChatName: "Fix parser", Message: "Cursor is not running"},
			wantKind: statusWarn,
			contains: "Cursor is not running",
		},
		{
			name:     "error",
			ack:      ackFrame{Status: "error", Message: "Chat not found in database"},
			wantKind: statusErr,
			contains: "Chat not found in database",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor()
			m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
			m.Update(feedSyncMsg{rooms: testConversations()})

			_, cmd := m.Update(feedAckMsg{ack: tt.ack})

			if m.statusKind != tt.wantKind {
				t.Errorf("statusKind = %d, want %d", m.statusKind, tt.wantKind)
			}
			if !strings.Contains(m.status, tt.contains) {
				t.Errorf("status = %q, want it to contain %q", m.status, tt.contains)
			}
			if cmd == nil {
				t.Error("ack should re-arm the feed listener")
			}
		})
	}
}

func TestMonitorConnectionState(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	view := m.View()
	if !strings.Contains(view, "connecting to http://127.0.0.1:8765") {
		t.Errorf("pre-connect view should show the dial target, got %q", view)
	}

	m.Update(feedConnectedMsg{})
	if !m.connected {
		t.Error("feedConnectedMsg should mark the monitor connected")
	}
	view = m.View()
	if !strings.Contains(view, "waiting for first sync") {
		t.Error("connected-but-unsynced view should show the sync wait")
	}

	m.Update(feedDownMsg{info: "connection lost"})
	if m.connected {
		t.Error("feedDownMsg should mark the monitor disconnected")
	}
	view = m.View()
	if !strings.Contains(view, "connection lost") {
		t.Error("down view should surface the failure info")
	}
}

func TestMonitorViewAfterSync(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(feedSyncMsg{rooms: testConversations()})

	view := m.View()
	if !strings.Contains(view, "Fix parser") {
		t.Error("view should list the first conversation")
	}
	if !strings.Contains(view, "Refactor storage") {
		t.Error("view should list the second conversation")
	}
	if !strings.Contains(view, "hello from cursor") {
		t.Error("view should render the selected transcript")
	}
	if !strings.Contains(view, "2 conversations") {
		t.Error("header should count conversations")
	}
}

func TestMonitorViewTruncatesMultilineName(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	now := time.Now().UnixMilli()
	m.Update(feedSyncMsg{rooms: []relay.Conversation{
		{
			ID:           "c1",
			Name:         "first line\nsecond line",
			LastActivity: now,
			Messages:     []relay.Message{{Text: "hi", IsUser: true, CreatedAt: now}},
			Available:    true,
		},
	}})

	view := m.View()
	if !strings.Contains(view, "first line") {
		t.Error("view should show the first line of the name")
	}
	if strings.Contains(view, "second line") {
		t.Error("view should drop lines past the first")
	}
}

func TestMonitorViewTooSmall(t *testing.T) {
	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 30, Height: 5})

	if !strings.Contains(m.View(), "Terminal too small") {
		t.Error("undersized terminal should show the resize hint")
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		ts   int64
		want string
	}{
		{"zero", 0, "-"},
		{"seconds", now.Add(-30 * time.Second).UnixMilli(), "now"},
		{"minutes", now.Add(-5 * time.Minute).UnixMilli(), "5m"},
		{"hours", now.Add(-3 * time.Hour).UnixMilli(), "3h"},
		{"days", now.Add(-49 * time.Hour).UnixMilli(), "2d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAge(tt.ts); got != tt.want {
				t.Errorf("formatAge = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one" {
		t.Errorf("firstLine = %q, want one", got)
	}
	if got := firstLine("  padded  "); got != "padded" {
		t.Errorf("firstLine = %q, want padded", got)
	}
	if got := firstLine(""); got != "" {
		t.Errorf("firstLine = %q, want empty", got)
	}
}

func TestThemeSwitchKeepsStyles(t *testing.T) {
	InitTheme("light")
	defer InitTheme("dark")

	if got := GetCurrentTheme(); got != ThemeLight {
		t.Fatalf("GetCurrentTheme = %v, want light", got)
	}

	m := newTestMonitor()
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(feedSyncMsg{rooms: testConversations()})

	if view := m.View(); !strings.Contains(view, "Fix parser") {
		t.Error("view should render under the light theme")
	}
}
