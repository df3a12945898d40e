package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

// Table column widths for search command output
const (
	searchColName    = 32
	searchColPreview = 44
	searchColAge     = 6
)

func handleSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	server := fs.String("server", "", "Daemon address as host:port (default from config)")
	token := fs.String("token", "", "Auth token (default from config)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	limit := fs.Int("n", 20, "Show at most this many matches (0 = all)")

	fs.Usage = func() {
		fmt.Println("Usage: cursor-relay search [options] <query>")
		fmt.Println()
		fmt.Println("Fuzzy-search conversations on a running daemon.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  cursor-relay search parser")
		fmt.Println("  cursor-relay search --json refactor storage")
		fmt.Println("  cursor-relay search -n 5 auth bug")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "Error: search needs a query")
		fs.Usage()
		os.Exit(1)
	}

	addr, err := resolveServerAddr(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var resp struct {
		Query   string              `json:"query"`
		Matches []relay.SearchMatch `json:"matches"`
	}
	if err := apiGet(addr, "/api/search?q="+url.QueryEscape(query), resolveToken(*token), &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	matches := resp.Matches
	if *limit > 0 && len(matches) > *limit {
		matches = matches[:*limit]
	}

	if *jsonOutput {
		output, err := json.MarshalIndent(matches, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: format JSON output: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(output))
		return
	}

	if len(matches) == 0 {
		fmt.Printf("No matches for %q.\n", query)
		return
	}

	fmt.Printf("%-*s %-*s %-*s %s\n", searchColName, "NAME", searchColPreview, "PREVIEW", searchColAge, "AGE", "ID")
	fmt.Println(strings.Repeat("-", searchColName+searchColPreview+searchColAge+38))
	for _, m := range matches {
		name := truncate(oneLine(m.Name), searchColName)
		preview := truncate(oneLine(m.Preview), searchColPreview)
		fmt.Printf("%-*s %-*s %-*s %s\n", searchColName, name, searchColPreview, preview, searchColAge, relAge(m.LastActivity), m.ID)
	}
	fmt.Printf("\nTotal: %d matches\n", len(matches))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// oneLine collapses newlines so multi-line previews stay on one table row.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// relAge renders a millisecond timestamp as a coarse age like "5m" or "2d".
func relAge(tsMillis int64) string {
	if tsMillis <= 0 {
		return "-"
	}
	age := time.Since(time.UnixMilli(tsMillis))
	switch {
	case age < time.Minute:
		return "now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
