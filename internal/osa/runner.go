// Package osa is the scripting bridge to the desktop application: it runs
// one AppleScript at a time through osascript and hands back captured
// output. Everything above it depends only on the Runner contract, so tests
// and non-macOS hosts substitute fakes.
package osa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/asheshgoplani/cursor-relay/internal/logging"
	"github.com/asheshgoplani/cursor-relay/internal/platform"
)

var log = logging.ForComponent(logging.CompOSA)

// DefaultTimeout bounds a single script run when the caller's context
// carries no deadline. Navigation scripts embed UI settle delays, so this
// is deliberately generous.
const DefaultTimeout = 15 * time.Second

// Runner executes one automation script and returns its captured text
// output, or an error carrying the interpreter's diagnostic.
type Runner interface {
	Run(ctx context.Context, script string) (string, error)
}

// Osascript runs scripts through the system osascript binary.
type Osascript struct {
	timeout time.Duration
}

// NewRunner returns the osascript-backed Runner.
func NewRunner() *Osascript {
	return &Osascript{timeout: DefaultTimeout}
}

// Run executes script via `osascript -e`. Stdout is returned trimmed;
// stderr is folded into the error so callers can classify the diagnostic.
func (o *Osascript) Run(ctx context.Context, script string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	output, err := cmd.Output()
	logging.Aggregate(logging.CompOSA, "script_run")
	log.Debug("script_run",
		slog.Int("script_bytes", len(script)),
		slog.Duration("took", time.Since(start)),
		slog.Bool("ok", err == nil))

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("osa: osascript: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("osa: osascript: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("osa: osascript: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CheckHost reports whether this host can drive the application at all.
// The relay side still works elsewhere (a store synced or mounted from a
// Mac); only automation needs the native bridge.
func CheckHost() error {
	if !platform.IsMacOS() {
		return fmt.Errorf("osa: automation requires macOS, running on %s", platform.Detect())
	}
	if _, err := exec.LookPath("osascript"); err != nil {
		return fmt.Errorf("osa: osascript not found: %w", err)
	}
	return nil
}
