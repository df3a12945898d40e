package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/asheshgoplani/cursor-relay/internal/config"
	"github.com/asheshgoplani/cursor-relay/internal/ui"
)

// handleMonitor launches the terminal client against a running daemon.
func handleMonitor(args []string) {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	server := fs.String("server", "", "Daemon address as host:port (default from config)")
	token := fs.String("token", "", "Auth token (default from config)")

	fs.Usage = func() {
		fmt.Println("Usage: cursor-relay monitor [options]")
		fmt.Println()
		fmt.Println("Open a live terminal view of your Cursor conversations and send")
		fmt.Println("follow-ups from the keyboard.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  cursor-relay monitor")
		fmt.Println("  cursor-relay monitor --server 192.168.1.20:8787 --token s3cret")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", fs.Args())
		os.Exit(1)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: monitor needs a terminal (stdout is not a TTY)")
		os.Exit(1)
	}

	addr, err := resolveServerAddr(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ui.InitTheme(config.ResolveTheme())

	m := ui.NewMonitor("http://"+addr, "ws://"+addr+"/ws", resolveToken(*token))

	// Follow OS appearance changes only when the config asks for it.
	if config.GetTheme() == "system" {
		if tw := ui.NewThemeWatcher(context.Background()); tw != nil {
			m.SetThemeWatcher(tw)
		}
	}

	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
