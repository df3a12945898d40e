package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	dark "github.com/thiagokokada/dark-mode-go"
)

// UserConfigFileName is the TOML config file for user preferences.
const UserConfigFileName = "config.toml"

// UserConfig represents user-facing configuration in TOML format.
type UserConfig struct {
	// Theme sets the monitor color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// Store configures access to Cursor's conversation database
	Store StoreSettings `toml:"store"`

	// Server configures the websocket/HTTP listener
	Server ServerSettings `toml:"server"`

	// Automation configures UI automation against Cursor
	Automation AutomationSettings `toml:"automation"`

	// Push configures web push notifications for new assistant replies
	Push PushSettings `toml:"push"`

	// Logs defines debug log management settings
	Logs LogSettings `toml:"logs"`
}

// StoreSettings configures the Cursor state database reader.
type StoreSettings struct {
	// DBPath overrides the detected path to Cursor's state.vscdb
	// Default: platform-specific (see cursordb.DefaultPath)
	DBPath string `toml:"db_path"`

	// PollIntervalSecs is the fixed polling cadence in seconds (default: 5)
	// The cadence never adapts; lowering it trades CPU for latency.
	PollIntervalSecs int `toml:"poll_interval_secs"`

	// WatchStore additionally watches the database file for writes and
	// polls eagerly when one lands. The fixed cadence still runs.
	// Default: false
	WatchStore bool `toml:"watch_store"`
}

// ServerSettings configures the listener remote clients connect to.
type ServerSettings struct {
	// Host is the bind address (default: "0.0.0.0" so phones on the LAN
	// can reach the relay)
	Host string `toml:"host"`

	// Port is the listen port (default: 8787)
	Port int `toml:"port"`

	// AuthToken, when set, is required on every websocket and API request
	// (?token= or Authorization: Bearer). Empty disables auth.
	AuthToken string `toml:"auth_token"`
}

// AutomationSettings configures UI automation behavior.
type AutomationSettings struct {
	// AppName is the target application name as System Events sees it
	// (default: "Cursor")
	AppName string `toml:"app_name"`

	// TypeMode injects message text as literal keystrokes instead of
	// clipboard+paste. Slower, but leaves the user clipboard untouched.
	// Default: false
	TypeMode bool `toml:"type_mode"`
}

// PushSettings configures web push notifications.
type PushSettings struct {
	// Enabled turns on push delivery for new assistant replies
	// Default: false
	Enabled bool `toml:"enabled"`

	// Subject is the VAPID subject (mailto: or https: URL) identifying
	// the sender to push services
	Subject string `toml:"subject"`
}

// LogSettings defines debug log management configuration.
type LogSettings struct {
	// DebugLevel sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	DebugLevel string `toml:"debug_level"`

	// DebugFormat sets the log format: "json" (default) or "text"
	DebugFormat string `toml:"debug_format"`

	// DebugMaxMB is the max size in MB for relay.log before rotation
	// Default: 10
	DebugMaxMB int `toml:"debug_max_mb"`

	// DebugBackups is the number of rotated relay.log files to keep
	// Default: 3
	DebugBackups int `toml:"debug_backups"`

	// DebugRetentionDays is days to keep rotated debug logs
	// Default: 14
	DebugRetentionDays int `toml:"debug_retention_days"`

	// DebugCompress enables gzip compression for rotated debug logs
	// Default: true (pointer to distinguish "not set" from "explicitly false")
	DebugCompress *bool `toml:"debug_compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for SIGUSR1 dumps
	// Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	// PprofEnabled starts a pprof server on localhost:6060 in debug mode
	// Default: false
	PprofEnabled bool `toml:"pprof_enabled"`

	// AggregateIntervalS is the event aggregation flush interval in seconds
	// Default: 30
	AggregateIntervalS int `toml:"aggregate_interval_secs"`
}

// GetDebugCompress returns whether rotated logs are compressed, defaulting to true.
func (l *LogSettings) GetDebugCompress() bool {
	if l.DebugCompress == nil {
		return true
	}
	return *l.DebugCompress
}

var defaultUserConfig = UserConfig{}

// Cache for user config (loaded once per process)
var (
	userConfigCache   *UserConfig
	userConfigCacheMu sync.RWMutex
)

// GetRelayDir returns the relay's state directory, creating nothing.
// CURSOR_RELAY_DIR overrides the default ~/.cursor-relay.
func GetRelayDir() (string, error) {
	if dir := os.Getenv("CURSOR_RELAY_DIR"); dir != "" {
		return expandTilde(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".cursor-relay"), nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() (string, error) {
	dir, err := GetRelayDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UserConfigFileName), nil
}

// Load loads the user configuration from the TOML file.
// Returns cached config after first load.
func Load() (*UserConfig, error) {
	userConfigCacheMu.RLock()
	if userConfigCache != nil {
		defer userConfigCacheMu.RUnlock()
		return userConfigCache, nil
	}
	userConfigCacheMu.RUnlock()

	userConfigCacheMu.Lock()
	defer userConfigCacheMu.Unlock()

	// Double-check after acquiring write lock
	if userConfigCache != nil {
		return userConfigCache, nil
	}

	configPath, err := GetUserConfigPath()
	if err != nil {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	var config UserConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		// Cache the default so we don't re-parse a broken file every call,
		// but surface the error for the caller to display.
		userConfigCache = &defaultUserConfig
		return userConfigCache, fmt.Errorf("config.toml parse error: %w", err)
	}

	userConfigCache = &config
	return userConfigCache, nil
}

// ClearCache clears the cached user config, letting tests reset state.
func ClearCache() {
	userConfigCacheMu.Lock()
	userConfigCache = nil
	userConfigCacheMu.Unlock()
}

// Save writes the config to config.toml using an atomic write, then clears
// the cache so the next Load reads fresh values.
func Save(config *UserConfig) error {
	configPath, err := GetUserConfigPath()
	if err != nil {
		return fmt.Errorf("config: resolve path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# cursor-relay configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	// Write tmp, fsync, rename: survives a crash mid-save.
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: finalize save: %w", err)
	}

	ClearCache()
	return nil
}

// GetStoreSettings returns store settings with defaults applied.
func GetStoreSettings() StoreSettings {
	config, err := Load()
	if err != nil || config == nil {
		return StoreSettings{PollIntervalSecs: 5}
	}

	settings := config.Store
	if settings.PollIntervalSecs <= 0 {
		settings.PollIntervalSecs = 5
	}
	settings.DBPath = expandTilde(settings.DBPath)
	return settings
}

// GetServerSettings returns server settings with defaults applied.
func GetServerSettings() ServerSettings {
	config, err := Load()
	if err != nil || config == nil {
		return ServerSettings{Host: "0.0.0.0", Port: 8787}
	}

	settings := config.Server
	if settings.Host == "" {
		settings.Host = "0.0.0.0"
	}
	if settings.Port <= 0 {
		settings.Port = 8787
	}
	return settings
}

// GetAutomationSettings returns automation settings with defaults applied.
func GetAutomationSettings() AutomationSettings {
	config, err := Load()
	if err != nil || config == nil {
		return AutomationSettings{AppName: "Cursor"}
	}

	settings := config.Automation
	if settings.AppName == "" {
		settings.AppName = "Cursor"
	}
	return settings
}

// GetPushSettings returns push settings.
func GetPushSettings() PushSettings {
	config, err := Load()
	if err != nil || config == nil {
		return PushSettings{}
	}
	return config.Push
}

// GetLogSettings returns log management settings with defaults applied.
func GetLogSettings() LogSettings {
	config, err := Load()
	if err != nil || config == nil {
		return LogSettings{
			DebugLevel:         "info",
			DebugMaxMB:         10,
			DebugBackups:       3,
			DebugRetentionDays: 14,
			RingBufferMB:       4,
			AggregateIntervalS: 30,
		}
	}

	settings := config.Logs
	if settings.DebugLevel == "" {
		settings.DebugLevel = "info"
	}
	if settings.DebugMaxMB <= 0 {
		settings.DebugMaxMB = 10
	}
	if settings.DebugBackups <= 0 {
		settings.DebugBackups = 3
	}
	if settings.DebugRetentionDays <= 0 {
		settings.DebugRetentionDays = 14
	}
	if settings.RingBufferMB <= 0 {
		settings.RingBufferMB = 4
	}
	if settings.AggregateIntervalS <= 0 {
		settings.AggregateIntervalS = 30
	}
	return settings
}

// GetTheme returns the configured theme, defaulting to "dark".
func GetTheme() string {
	config, err := Load()
	if err != nil || config == nil {
		return "dark"
	}
	switch config.Theme {
	case "dark", "light", "system":
		return config.Theme
	default:
		return "dark"
	}
}

// ResolveTheme resolves the configured theme to "dark" or "light".
// "system" detects the OS dark mode setting, falling back to "dark".
func ResolveTheme() string {
	theme := GetTheme()
	if theme != "system" {
		return theme
	}
	isDark, err := dark.IsDarkMode()
	if err != nil {
		return "dark"
	}
	if isDark {
		return "dark"
	}
	return "light"
}

// CreateExampleConfig creates a commented example config if none exists.
func CreateExampleConfig() error {
	configPath, err := GetUserConfigPath()
	if err != nil {
		return err
	}

	// Don't overwrite an existing config
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	exampleConfig := `# cursor-relay configuration
# Loaded on startup from ~/.cursor-relay/config.toml
# Command-line flags override anything set here.

# Monitor color scheme: "dark" (default), "light", or "system"
# theme = "system"

[store]
# Path to Cursor's state database. Auto-detected when empty:
#   macOS:  ~/Library/Application Support/Cursor/User/globalStorage/state.vscdb
#   Linux:  ~/.config/Cursor/User/globalStorage/state.vscdb
# db_path = ""

# Fixed polling cadence in seconds (default: 5). Never adaptive.
poll_interval_secs = 5

# Also watch the database file and poll eagerly on writes (default: false).
# The fixed cadence keeps running either way. Has no effect on network
# filesystems that drop watch events (9p, NFS, SSHFS).
# watch_store = true

[server]
# Bind address. 0.0.0.0 makes the relay reachable from phones on the LAN.
host = "0.0.0.0"
port = 8787

# Shared secret required on every connection when set (?token= or
# Authorization: Bearer). Leave empty to disable auth on trusted networks.
# auth_token = ""

[automation]
# Application name as System Events sees it (default: "Cursor")
# app_name = "Cursor"

# Inject text as literal keystrokes instead of clipboard+paste.
# Slower, but leaves your clipboard untouched.
# type_mode = true

[push]
# Web push notifications for new assistant replies (default: false).
# Subscriptions are registered by the client via /api/push/subscribe.
# enabled = true
# subject = "mailto:you@example.com"

[logs]
# Minimum log level: "debug", "info", "warn", "error" (default: "info")
debug_level = "info"
# Log format: "json" (default) or "text"
# debug_format = "text"
# Rotation: max size in MB, rotated files kept, retention days
debug_max_mb = 10
debug_backups = 3
debug_retention_days = 14
# In-memory ring buffer size in MB (dumped on SIGUSR1)
ring_buffer_mb = 4
`

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(configPath, []byte(exampleConfig), 0o600)
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
