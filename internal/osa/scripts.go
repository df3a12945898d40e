package osa

import (
	"fmt"
	"strings"
)

// historyCommand is the palette entry that opens the conversation history
// picker. Typed into the command palette, so palette fuzzy matching absorbs
// minor wording drift between application versions.
const historyCommand = "Chat: Show History"

// quote renders s as an AppleScript string literal. AppleScript only
// recognizes backslash and double-quote escapes inside literals.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// IsRunningScript reports "true" or "false" on stdout.
func IsRunningScript(appName string) string {
	return fmt.Sprintf(`tell application "System Events" to (name of processes) contains %s`, quote(appName))
}

// ActivateAppScript brings the application to the foreground without
// changing which of its windows is in front.
func ActivateAppScript(appName string) string {
	return fmt.Sprintf(`tell application %s to activate`, quote(appName))
}

// WindowCountScript reports the number of open windows on stdout.
func WindowCountScript(appName string) string {
	return fmt.Sprintf(`tell application "System Events" to tell process %s to count windows`, quote(appName))
}

// WindowTitleScript reports the title of the window at ordinal (1-based,
// front to back at the moment the script runs).
func WindowTitleScript(appName string, ordinal int) string {
	return fmt.Sprintf(`tell application "System Events" to tell process %s to get title of window %d`, quote(appName), ordinal)
}

// FrontWindowTitleScript reports the title of the frontmost window.
func FrontWindowTitleScript(appName string) string {
	return fmt.Sprintf(`tell application "System Events" to tell process %s to get title of front window`, quote(appName))
}

// RaiseWindowScript raises and focuses the window at ordinal.
func RaiseWindowScript(appName string, ordinal int) string {
	return strings.Join([]string{
		fmt.Sprintf(`tell application "System Events" to tell process %s`, quote(appName)),
		"\tset frontmost to true",
		fmt.Sprintf("\tperform action \"AXRaise\" of window %d", ordinal),
		"end tell",
	}, "\n")
}

// NavigateToChatScript drives the frontmost window to the named
// conversation through the command palette: open palette, pick the history
// command, type the name, accept the first hit. A scripting error anywhere
// in the sequence means the window did not navigate, which the caller
// scores as a miss.
func NavigateToChatScript(appName, chatName string) string {
	return strings.Join([]string{
		fmt.Sprintf(`tell application "System Events" to tell process %s`, quote(appName)),
		"\tkeystroke \"p\" using {command down, shift down}",
		"\tdelay 0.2",
		"\tkeystroke " + quote(historyCommand),
		"\tdelay 0.2",
		"\tkey code 36",
		"\tdelay 0.3",
		"\tkeystroke " + quote(chatName),
		"\tdelay 0.2",
		"\tkey code 36",
		"end tell",
	}, "\n")
}

// FocusChatPanelScript moves keyboard focus to the conversation input.
func FocusChatPanelScript(appName string) string {
	return strings.Join([]string{
		fmt.Sprintf(`tell application "System Events" to tell process %s`, quote(appName)),
		"\tset frontmost to true",
		"\tkeystroke \"l\" using {command down}",
		"end tell",
	}, "\n")
}

// NewChatScript opens a fresh conversation in the focused panel.
func NewChatScript(appName string) string {
	return fmt.Sprintf(`tell application "System Events" to tell process %s to keystroke "n" using {command down}`, quote(appName))
}

// KeystrokeScript types text into whatever currently holds focus. The text
// must be a single line; newlines are routed through ShiftReturnScript so
// chat inputs insert a break instead of sending.
func KeystrokeScript(text string) string {
	return fmt.Sprintf(`tell application "System Events" to keystroke %s`, quote(text))
}

// PasteScript issues a Cmd-V paste.
func PasteScript() string {
	return `tell application "System Events" to keystroke "v" using {command down}`
}

// PressEnterScript issues the Return key (key code 36).
func PressEnterScript() string {
	return `tell application "System Events" to key code 36`
}

// ShiftReturnScript issues Shift-Return, the in-input line break.
func ShiftReturnScript() string {
	return `tell application "System Events" to key code 36 using {shift down}`
}
