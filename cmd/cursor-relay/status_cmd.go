package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := fs.String("server", "", "Daemon address as host:port (default from config)")
	token := fs.String("token", "", "Auth token (default from config)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Println("Usage: cursor-relay status [options]")
		fmt.Println()
		fmt.Println("Show whether the daemon is running and what it is mirroring.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  cursor-relay status")
		fmt.Println("  cursor-relay status --json")
		fmt.Println("  cursor-relay status --server 192.168.1.20:8787")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", fs.Args())
		os.Exit(1)
	}

	addr, err := resolveServerAddr(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var resp struct {
		Status        string `json:"status"`
		UptimeSecs    int64  `json:"uptimeSecs"`
		Clients       int    `json:"clients"`
		Conversations int    `json:"conversations"`
		LastPoll      string `json:"lastPoll,omitempty"`
		LastBroadcast string `json:"lastBroadcast,omitempty"`
		StorePath     string `json:"storePath,omitempty"`
		PushEnabled   bool   `json:"pushEnabled"`
	}
	if err := apiGet(addr, "/api/status", resolveToken(*token), &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *jsonOutput {
		output, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: format JSON output: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(output))
		return
	}

	fmt.Printf("%s • up %s • %d clients • %d conversations\n",
		resp.Status, formatUptime(resp.UptimeSecs), resp.Clients, resp.Conversations)
	if resp.StorePath != "" {
		fmt.Printf("  store:      %s\n", resp.StorePath)
	}
	if resp.LastPoll != "" {
		fmt.Printf("  last poll:  %s\n", agoFromRFC3339(resp.LastPoll))
	}
	if resp.LastBroadcast != "" {
		fmt.Printf("  last sync:  %s\n", agoFromRFC3339(resp.LastBroadcast))
	}
	if resp.PushEnabled {
		fmt.Println("  push:       enabled")
	}
}

// formatUptime renders seconds as "2h 13m", "5m 12s", or "42s".
func formatUptime(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs >= 3600:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	case secs >= 60:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// agoFromRFC3339 turns a server timestamp into "12s ago"; unparseable
// values pass through untouched.
func agoFromRFC3339(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return formatUptime(int64(time.Since(t).Seconds())) + " ago"
}
