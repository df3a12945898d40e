package relay

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// previewLimit caps the first-user-line preview carried in search results.
const previewLimit = 200

// SearchMatch is one ranked hit against the conversation snapshot.
type SearchMatch struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Preview      string `json:"preview,omitempty"`
	LastActivity int64  `json:"timestamp"`
	Score        int    `json:"score"`
}

// SearchIndex ranks conversations with fuzzy matching over display names
// and first user lines. It reads through a snapshot func so every query
// sees the watcher's latest state.
type SearchIndex struct {
	snapshot func() []Conversation
}

// NewSearchIndex builds an index over snapshot, typically Watcher.Snapshot.
func NewSearchIndex(snapshot func() []Conversation) *SearchIndex {
	return &SearchIndex{snapshot: snapshot}
}

// searchSource implements fuzzy.Source over a fixed conversation slice.
type searchSource struct {
	convs    []Conversation
	previews []string
}

func (s searchSource) String(i int) string {
	if s.previews[i] == "" {
		return s.convs[i].Name
	}
	return s.convs[i].Name + " " + s.previews[i]
}

func (s searchSource) Len() int { return len(s.convs) }

// Search returns matches ranked best first.
func (idx *SearchIndex) Search(query string) []SearchMatch {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	convs := idx.snapshot()
	if len(convs) == 0 {
		return nil
	}

	src := searchSource{convs: convs, previews: make([]string, len(convs))}
	for i := range convs {
		src.previews[i] = firstUserLine(convs[i])
	}

	matches := fuzzy.FindFrom(query, src)
	out := make([]SearchMatch, 0, len(matches))
	for _, m := range matches {
		c := convs[m.Index]
		out = append(out, SearchMatch{
			ID:           c.ID,
			Name:         c.Name,
			Preview:      src.previews[m.Index],
			LastActivity: c.LastActivity,
			Score:        m.Score,
		})
	}
	return out
}

// firstUserLine returns the first line of the conversation's first user
// message, capped at previewLimit runes.
func firstUserLine(c Conversation) string {
	for _, m := range c.Messages {
		if !m.IsUser {
			continue
		}
		line := m.Text
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > previewLimit {
			return string(runes[:previewLimit]) + "..."
		}
		return line
	}
	return ""
}
