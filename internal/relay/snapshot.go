package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/asheshgoplani/cursor-relay/internal/cursordb"
)

// fallbackName is used when a conversation has no stored title and no user
// message to borrow one from.
const fallbackName = "New Chat"

// BuildSnapshot reconstructs the conversation list from raw store records.
//
// First pass creates one conversation per header. Second pass attaches each
// bubble to its conversation, creating a placeholder when a bubble arrives
// without a header (partial writes leave the store in that state briefly).
// Conversations that end up with zero messages are dropped. The result is
// deterministic for a given store snapshot regardless of input order:
// messages sort by creation time with the store sequence as tiebreak, and
// conversations sort by last activity descending with the id as tiebreak.
func BuildSnapshot(headers []cursordb.ComposerRecord, bubbles []cursordb.BubbleRecord) []Conversation {
	byID := make(map[string]*Conversation, len(headers))
	named := make(map[string]bool, len(headers))

	for _, h := range headers {
		if h.ComposerID == "" {
			continue
		}
		if _, dup := byID[h.ComposerID]; dup {
			continue
		}
		byID[h.ComposerID] = &Conversation{
			ID:           h.ComposerID,
			Name:         h.Name,
			LastActivity: h.CreatedAt,
			Available:    true,
		}
		named[h.ComposerID] = h.Name != ""
	}

	// Bubbles come in store order, so the first user bubble seen for a
	// conversation is the one its name falls back to.
	seqs := make(map[string][]int64)
	for _, b := range bubbles {
		conv, ok := byID[b.ComposerID]
		if !ok {
			conv = &Conversation{ID: b.ComposerID, Available: true}
			byID[b.ComposerID] = conv
		}
		conv.Messages = append(conv.Messages, Message{
			Text:      b.Text,
			IsUser:    b.IsUser,
			CreatedAt: b.CreatedAt,
		})
		seqs[b.ComposerID] = append(seqs[b.ComposerID], b.Seq)
		if b.CreatedAt > conv.LastActivity {
			conv.LastActivity = b.CreatedAt
		}
		if !named[b.ComposerID] && b.IsUser {
			conv.Name = b.Text
			named[b.ComposerID] = true
		}
	}

	out := make([]Conversation, 0, len(byID))
	for id, conv := range byID {
		if len(conv.Messages) == 0 {
			continue
		}
		if conv.Name == "" {
			conv.Name = fallbackName
		}
		sortMessages(conv.Messages, seqs[id])
		out = append(out, *conv)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity != out[j].LastActivity {
			return out[i].LastActivity > out[j].LastActivity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// sortMessages orders msgs ascending by creation time, breaking timestamp
// ties by store sequence so equal snapshots always serialize identically.
func sortMessages(msgs []Message, seqs []int64) {
	idx := make([]int, len(msgs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return seqs[i] < seqs[j]
	})
	ordered := make([]Message, len(msgs))
	for pos, i := range idx {
		ordered[pos] = msgs[i]
	}
	copy(msgs, ordered)
}

// MarshalSync serializes conversations into the sync frame sent to clients.
// A nil slice marshals as an empty rooms array, not null.
func MarshalSync(convs []Conversation) ([]byte, error) {
	if convs == nil {
		convs = []Conversation{}
	}
	return json.Marshal(SyncPayload{Type: "sync", Rooms: convs})
}

// HashPayload returns the content hash used for change suppression.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
