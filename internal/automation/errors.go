package automation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrChatNotFound means the conversation id resolved to nothing in the
// store. The text is part of the wire contract and reaches clients
// verbatim.
var ErrChatNotFound = errors.New("Chat not found in database")

// AppNotRunningError means the target application process is not running.
// No retry; the client is told the relay side is fine.
type AppNotRunningError struct {
	App string
}

func (e *AppNotRunningError) Error() string {
	return fmt.Sprintf("%s is not running", e.App)
}

// LowConfidenceError means no window scored above the match threshold.
type LowConfidenceError struct {
	ChatName   string
	Confidence float64
	Windows    int
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("no confident window match for %q (best score %.1f across %d windows)",
		e.ChatName, e.Confidence, e.Windows)
}

// WindowNotFoundError means the project filter matched no window. The text
// is part of the wire contract and reaches clients verbatim.
type WindowNotFoundError struct {
	Project string
	Titles  []string
}

func (e *WindowNotFoundError) Error() string {
	available := "none"
	if len(e.Titles) > 0 {
		available = strings.Join(e.Titles, ", ")
	}
	return fmt.Sprintf("No windows found for project %q. Available windows: %s", e.Project, available)
}

// PermissionError means the OS refused to deliver synthetic input. It
// carries remediation text because nothing the relay retries will help
// until the user grants access.
type PermissionError struct {
	Cause error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("macOS blocked synthetic input (%v). Grant accessibility access under "+
		"System Settings > Privacy & Security > Accessibility, then retry", e.Cause)
}

func (e *PermissionError) Unwrap() error {
	return e.Cause
}

// permissionIndicators are the osascript diagnostics seen when macOS
// blocks an unapproved process from driving the UI.
var permissionIndicators = []string{
	"not authorized",
	"assistive access",
	"is not allowed",
	"-1719",
	"1002",
}

// classifyScriptError remaps OS-permission diagnostics to PermissionError
// and passes every other error through unchanged.
func classifyScriptError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range permissionIndicators {
		if strings.Contains(msg, indicator) {
			return &PermissionError{Cause: err}
		}
	}
	return err
}
