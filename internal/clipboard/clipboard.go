package clipboard

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/asheshgoplani/cursor-relay/internal/platform"
)

// CopyResult contains metadata about a successful clipboard write.
type CopyResult struct {
	Method    string // tool used (e.g. "pbcopy", "xclip")
	ByteSize  int    // bytes written
	LineCount int    // lines in the content
}

// Copy writes text to the system clipboard using the platform-native tool.
// The paste injection path stages message text here before synthesizing
// Cmd-V in the target application.
func Copy(text string) (*CopyResult, error) {
	if text == "" {
		return nil, fmt.Errorf("no content to copy")
	}

	method, err := copyNative(text)
	if err != nil {
		return nil, err
	}
	return &CopyResult{
		Method:    method,
		ByteSize:  len(text),
		LineCount: countLines(text),
	}, nil
}

// Read returns the current clipboard contents. Used to save the user's
// clipboard before a paste injection so it can be restored afterwards.
func Read() (string, error) {
	p := platform.Detect()

	switch p {
	case platform.PlatformMacOS:
		return runReadCmd("pbpaste", nil)

	case platform.PlatformLinux:
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			if path, err := exec.LookPath("wl-paste"); err == nil {
				return runReadCmd(path, []string{"--no-newline"})
			}
		}
		if path, err := exec.LookPath("xclip"); err == nil {
			return runReadCmd(path, []string{"-selection", "clipboard", "-o"})
		}
		if path, err := exec.LookPath("xsel"); err == nil {
			return runReadCmd(path, []string{"--clipboard", "--output"})
		}
		return "", fmt.Errorf("no clipboard read command found on Linux")

	default:
		return "", fmt.Errorf("clipboard read unsupported on %s", p)
	}
}

// copyNative writes via a platform-native clipboard command.
// Returns the method name on success.
func copyNative(text string) (string, error) {
	p := platform.Detect()

	switch p {
	case platform.PlatformMacOS:
		return "pbcopy", runClipCmd("pbcopy", nil, text)

	case platform.PlatformWSL1, platform.PlatformWSL2:
		return "clip.exe", runClipCmd("clip.exe", nil, text)

	case platform.PlatformLinux:
		// Wayland takes priority over X11
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			if path, err := exec.LookPath("wl-copy"); err == nil {
				return "wl-copy", runClipCmd(path, nil, text)
			}
		}
		if path, err := exec.LookPath("xclip"); err == nil {
			return "xclip", runClipCmd(path, []string{"-selection", "clipboard"}, text)
		}
		if path, err := exec.LookPath("xsel"); err == nil {
			return "xsel", runClipCmd(path, []string{"--clipboard", "--input"}, text)
		}
		return "", fmt.Errorf("no clipboard command found on Linux")

	default:
		return "", fmt.Errorf("unsupported platform: %s", p)
	}
}

// runClipCmd executes a clipboard command, piping text to its stdin.
func runClipCmd(name string, args []string, text string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// runReadCmd executes a clipboard read command and returns its stdout.
func runReadCmd(name string, args []string) (string, error) {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("clipboard: read via %s: %w", name, err)
	}
	return string(out), nil
}

// countLines counts lines in text. A trailing newline does not add a line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
