package osa

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// typeChunkSize caps how much text one keystroke script carries. Large
// arguments make osascript slow and occasionally drop characters.
const typeChunkSize = 800

// typeChunkDelay lets the application drain the event queue between chunks.
const typeChunkDelay = 50 * time.Millisecond

// TypeText types text into the focused input as literal keystrokes.
// Newlines are sent as Shift-Return so the chat input inserts a break
// instead of submitting; tabs become spaces since a tab can move focus out
// of the input. Long lines go out in chunks.
func TypeText(ctx context.Context, r Runner, text string) error {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\t", "  ")

	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			if _, err := r.Run(ctx, ShiftReturnScript()); err != nil {
				return fmt.Errorf("osa: type line break: %w", err)
			}
			time.Sleep(typeChunkDelay)
		}
		for _, chunk := range splitChunks(line, typeChunkSize) {
			if _, err := r.Run(ctx, KeystrokeScript(chunk)); err != nil {
				return fmt.Errorf("osa: type chunk: %w", err)
			}
			time.Sleep(typeChunkDelay)
		}
	}
	return nil
}

// splitChunks splits s into pieces of at most max bytes without cutting a
// rune in half; a split rune would corrupt the quoted script string.
func splitChunks(s string, max int) []string {
	if s == "" {
		return nil
	}
	if len(s) <= max {
		return []string{s}
	}

	var chunks []string
	var b strings.Builder
	for _, r := range s {
		if b.Len()+len(string(r)) > max {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
