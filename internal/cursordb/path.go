package cursordb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/asheshgoplani/cursor-relay/internal/platform"
)

// storeRelPath is where Cursor keeps the state database inside its
// per-user data directory, on every platform.
const storeRelPath = "User/globalStorage/state.vscdb"

// DefaultPath returns the platform default location of Cursor's state
// database. It does not check that the file exists; Open does that.
func DefaultPath() (string, error) {
	switch p := platform.Detect(); p {
	case platform.PlatformMacOS:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cursordb: resolve home: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Cursor", storeRelPath), nil

	case platform.PlatformLinux:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cursordb: resolve home: %w", err)
		}
		return filepath.Join(home, ".config", "Cursor", storeRelPath), nil

	case platform.PlatformWSL1, platform.PlatformWSL2:
		return wslStorePath()

	default:
		return "", fmt.Errorf("cursordb: no default store path on %s", p)
	}
}

// wslStorePath finds the Windows-side Cursor store through /mnt/c. There is
// no reliable way to ask for the Windows username from inside WSL without
// spawning cmd.exe, so scan the user profiles instead.
func wslStorePath() (string, error) {
	matches, err := filepath.Glob(filepath.Join(
		"/mnt/c/Users/*", "AppData", "Roaming", "Cursor", storeRelPath,
	))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("cursordb: no Cursor store under /mnt/c/Users")
	}

	// Filter out the stock profiles, then prefer a deterministic pick.
	var candidates []string
	for _, m := range matches {
		rel, err := filepath.Rel("/mnt/c/Users", m)
		if err != nil {
			continue
		}
		user := strings.Split(rel, string(filepath.Separator))[0]
		if user == "Public" || user == "Default" || user == "Default User" {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("cursordb: no Cursor store under /mnt/c/Users")
	}
	sort.Strings(candidates)
	return candidates[0], nil
}
