package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/asheshgoplani/cursor-relay/internal/config"
)

// init sets up the color profile so monitor and CLI output render
// consistently across terminals.
func init() {
	initColorProfile()
}

// initColorProfile configures the lipgloss color profile from terminal
// capabilities, preferring TrueColor and falling back to ANSI256.
func initColorProfile() {
	// CURSOR_RELAY_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("CURSOR_RELAY_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	term := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(term, t) || term == t {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	// Windows Terminal, iTerm2, JetBrains, Konsole
	if os.Getenv("WT_SESSION") != "" ||
		os.Getenv("ITERM_SESSION_ID") != "" ||
		os.Getenv("TERMINAL_EMULATOR") != "" ||
		os.Getenv("KONSOLE_VERSION") != "" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	case "serve":
		handleServe(args[1:])
	case "monitor":
		handleMonitor(args[1:])
	case "search":
		handleSearch(args[1:])
	case "status":
		handleStatus(args[1:])
	case "config":
		handleConfig(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("cursor-relay - bridge Cursor chats to your other devices")
	fmt.Println()
	fmt.Println("Usage: cursor-relay <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve         Run the relay daemon (store poller + websocket hub)")
	fmt.Println("  monitor       Open the terminal client against a running daemon")
	fmt.Println("  search        Search conversations by name or first message")
	fmt.Println("  status        Show daemon status")
	fmt.Println("  config init   Write a commented example config to ~/.cursor-relay")
	fmt.Println("  version       Print the version")
	fmt.Println()
	fmt.Println("Run 'cursor-relay <command> --help' for command options.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  cursor-relay serve")
	fmt.Println("  cursor-relay serve --port 9000 --token s3cret")
	fmt.Println("  cursor-relay monitor")
	fmt.Println("  cursor-relay search \"parser\"")
}

// normalizeArgs reorders args so flags come before positional arguments.
// Go's flag package stops parsing at the first non-flag argument, which
// means "search parser --json" would silently ignore --json otherwise.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// resolveServerAddr turns a --server flag value (or the config defaults)
// into a dialable host:port. A configured bind address of 0.0.0.0 means
// "listen everywhere"; clients on the same machine dial loopback.
func resolveServerAddr(flagValue string) (string, error) {
	if flagValue != "" {
		addr := flagValue
		if i := strings.Index(addr, "://"); i >= 0 {
			addr = addr[i+3:]
		}
		addr = strings.TrimSuffix(addr, "/")
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", fmt.Errorf("invalid server address %q (want host:port)", flagValue)
		}
		return addr, nil
	}

	settings := config.GetServerSettings()
	host := settings.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", settings.Port)), nil
}

// resolveToken prefers the flag, then the configured auth token.
func resolveToken(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return config.GetServerSettings().AuthToken
}

// apiGet issues an authenticated GET against the daemon and decodes the
// JSON response into out.
func apiGet(addr, path, token string, out any) error {
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
