package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/cursor-relay/internal/logging"
	"github.com/asheshgoplani/cursor-relay/internal/osa"
)

var log = logging.ForComponent(logging.CompAuto)

// WindowHandle addresses one application window. Ordinal is the 1-based
// position in a live front-to-back enumeration; the host exposes nothing
// more stable, so a handle is valid only until the next step that can
// reorder windows.
type WindowHandle struct {
	Ordinal int
	Title   string
}

// MatchResult is the outcome of probing windows for a conversation.
type MatchResult struct {
	Window     *WindowHandle
	Confidence float64
}

// Matcher locates the window owning a conversation. Matching is purely
// behavioral: raise a candidate, attempt in-application navigation to the
// conversation, and score 1.0 when the navigation completes without error,
// 0.0 otherwise. When two windows hold a same-named conversation the first
// probed one wins, a known false-positive approximation.
type Matcher struct {
	runner  osa.Runner
	appName string
}

// NewMatcher returns a matcher probing appName's windows through runner.
func NewMatcher(runner osa.Runner, appName string) *Matcher {
	return &Matcher{runner: runner, appName: appName}
}

// Enumerate returns the currently open windows front to back. Never cached;
// callers re-enumerate before every activation.
func (m *Matcher) Enumerate(ctx context.Context) ([]WindowHandle, error) {
	out, err := m.runner.Run(ctx, osa.WindowCountScript(m.appName))
	if err != nil {
		return nil, fmt.Errorf("automation: enumerate windows: %w", classifyScriptError(err))
	}
	count, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return nil, fmt.Errorf("automation: enumerate windows: bad count %q", out)
	}

	windows := make([]WindowHandle, 0, count)
	for i := 1; i <= count; i++ {
		title, err := m.runner.Run(ctx, osa.WindowTitleScript(m.appName, i))
		if err != nil {
			// Window closed mid-enumeration; skip it.
			log.Debug("window_title_failed", slog.Int("ordinal", i), slog.String("error", err.Error()))
			continue
		}
		windows = append(windows, WindowHandle{Ordinal: i, Title: title})
	}
	return windows, nil
}

// BestMatch probes each window for chatName and returns the best score
// together with the enumeration it probed. A binary probe means the first
// hit is the best possible hit, so probing stops there. Zero windows yield
// confidence 0 with no window and no error.
func (m *Matcher) BestMatch(ctx context.Context, chatName string) (MatchResult, []WindowHandle, error) {
	windows, err := m.Enumerate(ctx)
	if err != nil {
		return MatchResult{}, nil, err
	}

	best := MatchResult{}
	for i := range windows {
		score, err := m.probe(ctx, windows[i], chatName)
		if err != nil {
			return MatchResult{}, windows, err
		}
		log.Debug("window_probe",
			slog.Int("ordinal", windows[i].Ordinal),
			slog.String("title", windows[i].Title),
			slog.Float64("score", score))
		if score > best.Confidence {
			w := windows[i]
			best = MatchResult{Window: &w, Confidence: score}
		}
		if best.Confidence >= 1 {
			break
		}
	}
	return best, windows, nil
}

// probe raises the window and attempts navigation. Any scripting failure
// scores 0.0, except a permission block, which aborts the whole match.
func (m *Matcher) probe(ctx context.Context, w WindowHandle, chatName string) (float64, error) {
	if _, err := m.runner.Run(ctx, osa.RaiseWindowScript(m.appName, w.Ordinal)); err != nil {
		if classified := classifyScriptError(err); isPermission(classified) {
			return 0, fmt.Errorf("automation: probe window: %w", classified)
		}
		return 0, nil
	}
	time.Sleep(settleDelay)
	if _, err := m.runner.Run(ctx, osa.NavigateToChatScript(m.appName, chatName)); err != nil {
		if classified := classifyScriptError(err); isPermission(classified) {
			return 0, fmt.Errorf("automation: probe window: %w", classified)
		}
		return 0, nil
	}
	return 1, nil
}

// ResolveOrdinal re-enumerates and returns the current handle of the
// window whose title matches, exact first and then with prefix/substring
// tolerance. Returns nil when no window matches anymore.
func (m *Matcher) ResolveOrdinal(ctx context.Context, title string) (*WindowHandle, error) {
	windows, err := m.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	for i := range windows {
		if windows[i].Title == title {
			return &windows[i], nil
		}
	}
	for i := range windows {
		if titlesMatch(windows[i].Title, title) {
			return &windows[i], nil
		}
	}
	return nil, nil
}

// titlesMatch compares window titles with prefix/substring tolerance; the
// application decorates titles with modification markers and suffixes that
// come and go between reads.
func titlesMatch(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	if a == b {
		return true
	}
	if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func isPermission(err error) bool {
	var perm *PermissionError
	return errors.As(err, &perm)
}

func titlesOf(windows []WindowHandle) []string {
	titles := make([]string, 0, len(windows))
	for _, w := range windows {
		titles = append(titles, w.Title)
	}
	return titles
}
