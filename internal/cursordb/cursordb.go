// Package cursordb reads conversation records out of Cursor's state
// database. The database belongs to Cursor; every connection is opened
// read-only and nothing here ever writes to it.
package cursordb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/cursor-relay/internal/logging"
)

var log = logging.ForComponent(logging.CompStore)

// Key prefixes in the cursorDiskKV table. Conversation metadata lives under
// composerData:<composerId>; individual turns under
// bubbleId:<composerId>:<bubbleId>.
const (
	composerKeyPrefix = "composerData:"
	bubbleKeyPrefix   = "bubbleId:"
)

// ErrNotFound is returned when a composer id has no header record.
var ErrNotFound = errors.New("cursordb: not found")

// ComposerRecord is one conversation header.
type ComposerRecord struct {
	ComposerID string
	Name       string
	CreatedAt  int64 // Unix millis
}

// BubbleRecord is one conversation turn.
type BubbleRecord struct {
	ComposerID string
	BubbleID   string
	Seq        int64 // rowid; insertion order within the store
	Text       string
	IsUser     bool
	CreatedAt  int64 // Unix millis
}

// DB is a read-only handle on Cursor's state database.
type DB struct {
	db   *sql.DB
	path string
}

// composerBlob mirrors the JSON stored under composerData keys.
type composerBlob struct {
	ComposerID string `json:"composerId"`
	Name       string `json:"name"`
	CreatedAt  int64  `json:"createdAt"`
}

// bubbleBlob mirrors the JSON stored under bubbleId keys. Type 1 is a user
// turn, type 2 an assistant turn.
type bubbleBlob struct {
	Text      string `json:"text"`
	Type      int    `json:"type"`
	CreatedAt int64  `json:"createdAt"`
}

// Open opens the database at dbPath read-only. Cursor may hold the write
// lock at any moment, so reads go through WAL with a busy timeout instead
// of failing on contention.
func Open(dbPath string) (*DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("cursordb: stat: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("cursordb: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cursordb: busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA query_only=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cursordb: query only: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database path this handle was opened on.
func (d *DB) Path() string {
	return d.path
}

// LoadComposers returns every conversation header in the store.
// Records with unparseable values are skipped, not fatal: Cursor writes
// these blobs continuously and a half-written row must not kill a poll.
func (d *DB) LoadComposers() ([]ComposerRecord, error) {
	rows, err := d.db.Query(
		"SELECT key, value FROM cursorDiskKV WHERE key LIKE ? ORDER BY key",
		composerKeyPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("cursordb: load composers: %w", err)
	}
	defer rows.Close()

	var result []ComposerRecord
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("cursordb: scan composer: %w", err)
		}

		var blob composerBlob
		if err := json.Unmarshal(value, &blob); err != nil {
			log.Debug("composer_parse_skip", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}

		id := blob.ComposerID
		if id == "" {
			id = strings.TrimPrefix(key, composerKeyPrefix)
		}
		result = append(result, ComposerRecord{
			ComposerID: id,
			Name:       blob.Name,
			CreatedAt:  blob.CreatedAt,
		})
	}
	return result, rows.Err()
}

// LoadBubbles returns every message turn in the store. Turns with empty
// text (tool output, context markers) are dropped here so the layers above
// only ever see displayable messages.
func (d *DB) LoadBubbles() ([]BubbleRecord, error) {
	rows, err := d.db.Query(
		"SELECT rowid, key, value FROM cursorDiskKV WHERE key LIKE ? ORDER BY rowid",
		bubbleKeyPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("cursordb: load bubbles: %w", err)
	}
	defer rows.Close()

	var result []BubbleRecord
	for rows.Next() {
		var seq int64
		var key string
		var value []byte
		if err := rows.Scan(&seq, &key, &value); err != nil {
			return nil, fmt.Errorf("cursordb: scan bubble: %w", err)
		}

		composerID, bubbleID, ok := splitBubbleKey(key)
		if !ok {
			log.Debug("bubble_key_skip", slog.String("key", key))
			continue
		}

		var blob bubbleBlob
		if err := json.Unmarshal(value, &blob); err != nil {
			log.Debug("bubble_parse_skip", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if strings.TrimSpace(blob.Text) == "" {
			continue
		}

		result = append(result, BubbleRecord{
			ComposerID: composerID,
			BubbleID:   bubbleID,
			Seq:        seq,
			Text:       blob.Text,
			IsUser:     blob.Type == 1,
			CreatedAt:  blob.CreatedAt,
		})
	}
	return result, rows.Err()
}

// ComposerName returns the stored title for a composer id.
// The name may legitimately be empty for unnamed chats; ErrNotFound means
// no header record exists at all.
func (d *DB) ComposerName(composerID string) (string, error) {
	var value []byte
	err := d.db.QueryRow(
		"SELECT value FROM cursorDiskKV WHERE key = ?",
		composerKeyPrefix+composerID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cursordb: composer name: %w", err)
	}

	var blob composerBlob
	if err := json.Unmarshal(value, &blob); err != nil {
		return "", fmt.Errorf("cursordb: composer name parse: %w", err)
	}
	return blob.Name, nil
}

// FirstUserText returns the text of the earliest user turn in a
// conversation, or ErrNotFound when the conversation has none.
func (d *DB) FirstUserText(composerID string) (string, error) {
	rows, err := d.db.Query(
		"SELECT value FROM cursorDiskKV WHERE key LIKE ? ORDER BY rowid",
		bubbleKeyPrefix+composerID+":%",
	)
	if err != nil {
		return "", fmt.Errorf("cursordb: first user text: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return "", fmt.Errorf("cursordb: scan first user text: %w", err)
		}
		var blob bubbleBlob
		if err := json.Unmarshal(value, &blob); err != nil {
			continue
		}
		if blob.Type == 1 && strings.TrimSpace(blob.Text) != "" {
			return blob.Text, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("cursordb: first user text: %w", err)
	}
	return "", ErrNotFound
}

// splitBubbleKey parses "bubbleId:<composerId>:<bubbleId>".
// Composer ids are UUIDs and never contain colons; the bubble id is
// whatever follows the second colon.
func splitBubbleKey(key string) (composerID, bubbleID string, ok bool) {
	rest := strings.TrimPrefix(key, bubbleKeyPrefix)
	if rest == key {
		return "", "", false
	}
	idx := strings.Index(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
