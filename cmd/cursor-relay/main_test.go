package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/asheshgoplani/cursor-relay/internal/config"
)

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		name     string
		setup    func() *flag.FlagSet
		args     []string
		expected []string
	}{
		{
			name: "flags already before positional args",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{"--json", "parser"},
			expected: []string{"--json", "parser"},
		},
		{
			name: "bool flag after positional arg",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{"parser", "--json"},
			expected: []string{"--json", "parser"},
		},
		{
			name: "string flag consumes its value",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.String("server", "", "")
				return fs
			},
			args:     []string{"parser", "--server", "host:1234"},
			expected: []string{"--server", "host:1234", "parser"},
		},
		{
			name: "flag with equals syntax",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.String("server", "", "")
				return fs
			},
			args:     []string{"parser", "--server=host:1234"},
			expected: []string{"--server=host:1234", "parser"},
		},
		{
			name: "int flag consumes its value",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Int("n", 20, "")
				return fs
			},
			args:     []string{"auth", "bug", "-n", "5"},
			expected: []string{"-n", "5", "auth", "bug"},
		},
		{
			name: "no flags at all",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{"refactor", "storage"},
			expected: []string{"refactor", "storage"},
		},
		{
			name: "empty args",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{},
			expected: nil,
		},
		{
			name: "double dash terminator",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{"--", "--json", "parser"},
			expected: []string{"--json", "parser"},
		},
		{
			name: "query containing dashes stays positional",
			setup: func() *flag.FlagSet {
				fs := flag.NewFlagSet("test", flag.ContinueOnError)
				fs.Bool("json", false, "")
				return fs
			},
			args:     []string{"fix http-server race", "--json"},
			expected: []string{"--json", "fix http-server race"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := tt.setup()
			result := normalizeArgs(fs, tt.args)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("normalizeArgs() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestNormalizeArgsIntegration verifies that after normalizeArgs + fs.Parse,
// flags are correctly parsed regardless of their position in args.
func TestNormalizeArgsIntegration(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		expectJSON   bool
		expectServer string
		expectQuery  []string
	}{
		{
			name:         "flags before query",
			args:         []string{"--json", "--server", "host:9000", "auth", "bug"},
			expectJSON:   true,
			expectServer: "host:9000",
			expectQuery:  []string{"auth", "bug"},
		},
		{
			name:         "flags after query",
			args:         []string{"auth", "bug", "--json", "--server", "host:9000"},
			expectJSON:   true,
			expectServer: "host:9000",
			expectQuery:  []string{"auth", "bug"},
		},
		{
			name:         "flags mixed around query",
			args:         []string{"--json", "auth", "--server", "host:9000", "bug"},
			expectJSON:   true,
			expectServer: "host:9000",
			expectQuery:  []string{"auth", "bug"},
		},
		{
			name:        "only query no flags",
			args:        []string{"auth", "bug"},
			expectQuery: []string{"auth", "bug"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			jsonOutput := fs.Bool("json", false, "")
			server := fs.String("server", "", "")

			normalized := normalizeArgs(fs, tt.args)
			if err := fs.Parse(normalized); err != nil {
				t.Fatalf("Parse failed: %v", err)
			}

			if *jsonOutput != tt.expectJSON {
				t.Errorf("json = %v, want %v", *jsonOutput, tt.expectJSON)
			}
			if *server != tt.expectServer {
				t.Errorf("server = %q, want %q", *server, tt.expectServer)
			}
			if !reflect.DeepEqual(fs.Args(), tt.expectQuery) {
				t.Errorf("query args = %v, want %v", fs.Args(), tt.expectQuery)
			}
		})
	}
}

func TestResolveServerAddr(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		want    string
		wantErr bool
	}{
		{"host and port pass through", "192.168.1.20:8787", "192.168.1.20:8787", false},
		{"http scheme stripped", "http://192.168.1.20:8787", "192.168.1.20:8787", false},
		{"https scheme and trailing slash stripped", "https://relay.local:9000/", "relay.local:9000", false},
		{"missing port rejected", "localhost", "", true},
		{"garbage rejected", "not an address", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveServerAddr(tt.flag)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveServerAddr(%q) error = %v, wantErr %v", tt.flag, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveServerAddr(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestResolveServerAddrConfigDefault(t *testing.T) {
	t.Setenv("CURSOR_RELAY_DIR", t.TempDir())
	config.ClearCache()
	t.Cleanup(config.ClearCache)

	// Default bind is 0.0.0.0; clients on the same machine dial loopback.
	got, err := resolveServerAddr("")
	if err != nil {
		t.Fatalf("resolveServerAddr(\"\") error = %v", err)
	}
	if got != "127.0.0.1:8787" {
		t.Errorf("resolveServerAddr(\"\") = %q, want 127.0.0.1:8787", got)
	}
}

func TestResolveToken(t *testing.T) {
	t.Setenv("CURSOR_RELAY_DIR", t.TempDir())
	config.ClearCache()
	t.Cleanup(config.ClearCache)

	if got := resolveToken("s3cret"); got != "s3cret" {
		t.Errorf("flag token = %q, want s3cret", got)
	}
	if got := resolveToken(""); got != "" {
		t.Errorf("default token = %q, want empty", got)
	}
}

func TestApiGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			if r.Header.Get("Authorization") != "Bearer s3cret" {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"error":{"code":"UNAUTHORIZED","message":"invalid or missing token"}}`)
				return
			}
			fmt.Fprint(w, `{"status":"ok","clients":2}`)
		case "/api/broken":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "not json")
		}
	}))
	defer ts.Close()
	addr := strings.TrimPrefix(ts.URL, "http://")

	t.Run("decodes response", func(t *testing.T) {
		var out struct {
			Status  string `json:"status"`
			Clients int    `json:"clients"`
		}
		if err := apiGet(addr, "/api/status", "s3cret", &out); err != nil {
			t.Fatalf("apiGet error = %v", err)
		}
		if out.Status != "ok" || out.Clients != 2 {
			t.Errorf("decoded %+v, want status=ok clients=2", out)
		}
	})

	t.Run("surfaces api error message", func(t *testing.T) {
		var out struct{}
		err := apiGet(addr, "/api/status", "wrong", &out)
		if err == nil {
			t.Fatal("expected error for bad token")
		}
		if !strings.Contains(err.Error(), "invalid or missing token") {
			t.Errorf("error = %q, want the server's message", err)
		}
	})

	t.Run("non-json error body falls back to status code", func(t *testing.T) {
		var out struct{}
		err := apiGet(addr, "/api/broken", "", &out)
		if err == nil {
			t.Fatal("expected error for 500 response")
		}
		if !strings.Contains(err.Error(), "500") {
			t.Errorf("error = %q, want the status code", err)
		}
	})

	t.Run("unreachable daemon", func(t *testing.T) {
		var out struct{}
		err := apiGet("127.0.0.1:1", "/api/status", "", &out)
		if err == nil {
			t.Fatal("expected error for closed port")
		}
		if !strings.Contains(err.Error(), "daemon not reachable") {
			t.Errorf("error = %q, want a reachability hint", err)
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 20, "short"},
		{"exactly twenty chars", 20, "exactly twenty chars"},
		{"this one is definitely too long", 20, "this one is defin..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("first\nsecond\tthird"); got != "first second third" {
		t.Errorf("oneLine = %q", got)
	}
}

func TestRelAge(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		ts   int64
		want string
	}{
		{"zero", 0, "-"},
		{"seconds ago", now.Add(-30 * time.Second).UnixMilli(), "now"},
		{"minutes ago", now.Add(-5 * time.Minute).UnixMilli(), "5m"},
		{"hours ago", now.Add(-3 * time.Hour).UnixMilli(), "3h"},
		{"days ago", now.Add(-49 * time.Hour).UnixMilli(), "2d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relAge(tt.ts); got != tt.want {
				t.Errorf("relAge = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		secs int64
		want string
	}{
		{0, "0s"},
		{42, "42s"},
		{61, "1m 1s"},
		{3600, "1h 0m"},
		{7980, "2h 13m"},
		{-5, "0s"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.secs); got != tt.want {
			t.Errorf("formatUptime(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestAgoFromRFC3339(t *testing.T) {
	if got := agoFromRFC3339("not-a-time"); got != "not-a-time" {
		t.Errorf("unparseable input should pass through, got %q", got)
	}
	stamp := time.Now().Add(-2 * time.Hour).Format(time.RFC3339)
	if got := agoFromRFC3339(stamp); got != "2h 0m ago" {
		t.Errorf("agoFromRFC3339(%q) = %q, want \"2h 0m ago\"", stamp, got)
	}
}
