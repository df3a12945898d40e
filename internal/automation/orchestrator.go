package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/asheshgoplani/cursor-relay/internal/clipboard"
	"github.com/asheshgoplani/cursor-relay/internal/cursordb"
	"github.com/asheshgoplani/cursor-relay/internal/osa"
)

// confidenceThreshold gates window selection. Probe scores are binary, so
// anything below it means no window navigated at all.
const confidenceThreshold = 0.5

// activationRetries is the exact number of raise-and-verify attempts
// before the flow proceeds degraded.
const activationRetries = 3

// settleDelay follows every UI-affecting step; the application needs a
// beat to process focus and input events.
const settleDelay = 300 * time.Millisecond

// retryDelay separates activation attempts.
const retryDelay = 500 * time.Millisecond

// NameResolver resolves a conversation id to naming material from the
// store. cursordb.DB satisfies it.
type NameResolver interface {
	ComposerName(composerID string) (string, error)
	FirstUserText(composerID string) (string, error)
}

// Clipboard is the copy/read surface the paste injector uses.
type Clipboard interface {
	Copy(text string) error
	Read() (string, error)
}

type systemClipboard struct{}

func (systemClipboard) Copy(text string) error {
	_, err := clipboard.Copy(text)
	return err
}

func (systemClipboard) Read() (string, error) {
	return clipboard.Read()
}

// Result is the terminal outcome of a follow-up flow.
type Result struct {
	OK          bool
	ChatName    string
	Message     string
	Unavailable bool
	Confidence  *float64
}

// NewChatResult is the terminal outcome of a new-chat flow. ProjectName
// and ChatTitle echo the request regardless of outcome; WindowID and
// WindowName describe the window as it stood at selection time.
type NewChatResult struct {
	OK          bool
	Message     string
	WindowID    int
	WindowName  string
	ProjectName string
	ChatTitle   string
}

// Config carries the orchestrator knobs.
type Config struct {
	AppName  string
	TypeMode bool // literal keystrokes instead of clipboard paste
}

// Orchestrator drives the application's UI to deliver messages. The
// application's focus is a single exclusive resource, so the whole
// orchestrator serializes on one mutex: a second request waits for the
// first to reach a terminal result, never interleaves with it. Failures
// become structured results, never panics or returned errors.
type Orchestrator struct {
	mu sync.Mutex // the automation slot

	runner   osa.Runner
	names    NameResolver
	matcher  *Matcher
	clip     Clipboard
	appName  string
	typeMode bool
}

// NewOrchestrator wires an orchestrator over the scripting bridge and the
// store-backed name resolver.
func NewOrchestrator(runner osa.Runner, names NameResolver, cfg Config) *Orchestrator {
	if cfg.AppName == "" {
		cfg.AppName = "Cursor"
	}
	return &Orchestrator{
		runner:   runner,
		names:    names,
		matcher:  NewMatcher(runner, cfg.AppName),
		clip:     systemClipboard{},
		appName:  cfg.AppName,
		typeMode: cfg.TypeMode,
	}
}

// Followup delivers text into the conversation identified by composerID:
// resolve its display name, find the owning window, activate with
// verification, inject, send.
func (o *Orchestrator) Followup(ctx context.Context, composerID, text string) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	log.Info("followup_start", slog.String("composer_id", composerID))

	chatName, err := o.resolveName(composerID)
	if err != nil {
		return o.failed("followup", "", err, start)
	}
	if err := o.checkRunning(ctx); err != nil {
		return o.failed("followup", chatName, err, start)
	}

	match, windows, err := o.matcher.BestMatch(ctx, chatName)
	if err != nil {
		return o.failed("followup", chatName, err, start)
	}
	if match.Confidence < confidenceThreshold {
		return o.failed("followup", chatName, &LowConfidenceError{
			ChatName:   chatName,
			Confidence: match.Confidence,
			Windows:    len(windows),
		}, start)
	}

	degraded, err := o.activateVerify(ctx, match.Window)
	if err != nil {
		return o.failed("followup", chatName, err, start)
	}
	if err := o.inject(ctx, text); err != nil {
		return o.failed("followup", chatName, err, start)
	}
	if err := o.send(ctx); err != nil {
		return o.failed("followup", chatName, err, start)
	}

	msg := fmt.Sprintf("Message sent to %q", chatName)
	if degraded {
		msg += " (window focus unverified)"
	}
	log.Info("followup_done",
		slog.String("chat", chatName),
		slog.Bool("degraded", degraded),
		slog.Duration("took", time.Since(start)))
	return Result{OK: true, ChatName: chatName, Message: msg}
}

// NewChat opens a fresh conversation. An empty projectName targets the
// frontmost window; otherwise the first window whose title contains
// projectName (case-insensitive) is used, and no match is a hard failure
// listing every available title.
func (o *Orchestrator) NewChat(ctx context.Context, projectName, chatTitle string) NewChatResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	log.Info("new_chat_start",
		slog.String("project", projectName),
		slog.Bool("titled", chatTitle != ""))
	res := NewChatResult{ProjectName: projectName, ChatTitle: chatTitle}

	if err := o.checkRunning(ctx); err != nil {
		res.Message = err.Error()
		return res
	}

	chosen, err := o.selectProjectWindow(ctx, projectName)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.WindowID = chosen.Ordinal
	res.WindowName = chosen.Title

	if _, err := o.run(ctx, osa.FocusChatPanelScript(o.appName), "focus chat panel"); err != nil {
		res.Message = err.Error()
		return res
	}
	time.Sleep(settleDelay)
	if _, err := o.run(ctx, osa.NewChatScript(o.appName), "open new chat"); err != nil {
		res.Message = err.Error()
		return res
	}
	time.Sleep(settleDelay)

	if chatTitle != "" {
		if err := o.inject(ctx, chatTitle); err != nil {
			res.Message = err.Error()
			return res
		}
		if err := o.send(ctx); err != nil {
			res.Message = err.Error()
			return res
		}
	}

	res.OK = true
	res.Message = fmt.Sprintf("New chat started in window %q", chosen.Title)
	log.Info("new_chat_done", slog.String("window", chosen.Title))
	return res
}

// selectProjectWindow picks and activates the window a new chat targets.
func (o *Orchestrator) selectProjectWindow(ctx context.Context, projectName string) (*WindowHandle, error) {
	if projectName == "" {
		if _, err := o.run(ctx, osa.ActivateAppScript(o.appName), "activate application"); err != nil {
			return nil, err
		}
		time.Sleep(settleDelay)
		title, err := o.run(ctx, osa.FrontWindowTitleScript(o.appName), "read front window")
		if err != nil {
			return nil, err
		}
		return &WindowHandle{Ordinal: 1, Title: title}, nil
	}

	windows, err := o.matcher.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(projectName)
	var chosen *WindowHandle
	for i := range windows {
		if strings.Contains(strings.ToLower(windows[i].Title), needle) {
			chosen = &windows[i]
			break
		}
	}
	if chosen == nil {
		return nil, &WindowNotFoundError{Project: projectName, Titles: titlesOf(windows)}
	}
	if _, err := o.run(ctx, osa.RaiseWindowScript(o.appName, chosen.Ordinal), "raise window"); err != nil {
		return nil, err
	}
	time.Sleep(settleDelay)
	return chosen, nil
}

// resolveName maps a composer id to the display name automation navigates
// by: the stored title when present, else the first line of the first user
// message. Neither existing means the id is unknown.
func (o *Orchestrator) resolveName(composerID string) (string, error) {
	name, err := o.names.ComposerName(composerID)
	if err != nil && !errors.Is(err, cursordb.ErrNotFound) {
		return "", fmt.Errorf("automation: resolve name: %w", err)
	}
	if err == nil && strings.TrimSpace(name) != "" {
		return firstLine(name), nil
	}

	text, err := o.names.FirstUserText(composerID)
	if err != nil {
		if errors.Is(err, cursordb.ErrNotFound) {
			return "", ErrChatNotFound
		}
		return "", fmt.Errorf("automation: resolve name: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrChatNotFound
	}
	return firstLine(text), nil
}

// checkRunning verifies the application process exists before any window
// work.
func (o *Orchestrator) checkRunning(ctx context.Context) error {
	out, err := o.run(ctx, osa.IsRunningScript(o.appName), "check application")
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(out), "true") {
		return &AppNotRunningError{App: o.appName}
	}
	return nil
}

// activateVerify raises the chosen window and reads back the frontmost
// title to confirm the raise landed. The ordinal re-resolves by title on
// every attempt since window order can change between enumeration and
// use. After activationRetries mismatches the flow proceeds anyway,
// degraded; only scripting failures abort.
func (o *Orchestrator) activateVerify(ctx context.Context, chosen *WindowHandle) (degraded bool, err error) {
	for attempt := 1; attempt <= activationRetries; attempt++ {
		target := chosen
		current, err := o.matcher.ResolveOrdinal(ctx, chosen.Title)
		if err != nil {
			return false, err
		}
		if current != nil {
			target = current
		}

		if _, err := o.run(ctx, osa.RaiseWindowScript(o.appName, target.Ordinal), "activate window"); err != nil {
			return false, err
		}
		time.Sleep(settleDelay)

		front, err := o.run(ctx, osa.FrontWindowTitleScript(o.appName), "verify activation")
		if err != nil {
			return false, err
		}
		if titlesMatch(front, chosen.Title) {
			return false, nil
		}

		log.Debug("activation_mismatch",
			slog.Int("attempt", attempt),
			slog.String("want", chosen.Title),
			slog.String("front", front))
		if attempt < activationRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Warn("activation_unverified", slog.String("window", chosen.Title))
	return true, nil
}

// inject puts text into the focused input, by clipboard paste or literal
// keystrokes. The paste path saves and restores whatever the user had on
// the clipboard.
func (o *Orchestrator) inject(ctx context.Context, text string) error {
	if o.typeMode {
		if err := osa.TypeText(ctx, o.runner, text); err != nil {
			return fmt.Errorf("automation: inject: %w", classifyScriptError(err))
		}
		return nil
	}

	saved, savedErr := o.clip.Read()
	if err := o.clip.Copy(text); err != nil {
		return fmt.Errorf("automation: inject: %w", err)
	}
	if _, err := o.run(ctx, osa.PasteScript(), "inject paste"); err != nil {
		return err
	}
	time.Sleep(settleDelay)
	if savedErr == nil && saved != "" {
		if err := o.clip.Copy(saved); err != nil {
			log.Debug("clipboard_restore_failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// send submits the composed message with Enter.
func (o *Orchestrator) send(ctx context.Context) error {
	if _, err := o.run(ctx, osa.PressEnterScript(), "send"); err != nil {
		return err
	}
	return nil
}

// run executes a script, classifying permission diagnostics and tagging
// the failing operation.
func (o *Orchestrator) run(ctx context.Context, script, op string) (string, error) {
	out, err := o.runner.Run(ctx, script)
	if err != nil {
		classified := classifyScriptError(err)
		if isPermission(classified) {
			return "", classified
		}
		return "", fmt.Errorf("automation: %s: %w", op, classified)
	}
	return out, nil
}

// failed folds a stage error into the terminal follow-up result. Not
// running and low confidence report "unavailable"; the confidence value
// rides along when window probing actually ran.
func (o *Orchestrator) failed(flow, chatName string, err error, start time.Time) Result {
	log.Warn(flow+"_failed",
		slog.String("chat", chatName),
		slog.String("error", err.Error()),
		slog.Duration("took", time.Since(start)))

	var notRunning *AppNotRunningError
	var lowConf *LowConfidenceError
	switch {
	case errors.As(err, &lowConf):
		c := lowConf.Confidence
		return Result{ChatName: chatName, Message: err.Error(), Unavailable: true, Confidence: &c}
	case errors.As(err, &notRunning):
		return Result{ChatName: chatName, Message: err.Error(), Unavailable: true}
	default:
		return Result{ChatName: chatName, Message: err.Error()}
	}
}

// firstLine trims text to its first non-empty line; navigation targets are
// single-line.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
