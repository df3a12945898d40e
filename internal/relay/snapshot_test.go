package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/cursor-relay/internal/cursordb"
)

func header(id, name string, createdAt int64) cursordb.ComposerRecord {
	return cursordb.ComposerRecord{ComposerID: id, Name: name, CreatedAt: createdAt}
}

func bubble(composerID string, seq int64, text string, isUser bool, createdAt int64) cursordb.BubbleRecord {
	return cursordb.BubbleRecord{
		ComposerID: composerID,
		BubbleID:   "b",
		Seq:        seq,
		Text:       text,
		IsUser:     isUser,
		CreatedAt:  createdAt,
	}
}

func TestBuildSnapshotTwoHeadersThreeBubbles(t *testing.T) {
	headers := []cursordb.ComposerRecord{
		header("A", "Alpha", 1000),
		header("B", "Beta", 2000),
	}
	// Timestamps deliberately out of order across the slice.
	bubbles := []cursordb.BubbleRecord{
		bubble("A", 11, "done", false, 5000),
		bubble("B", 12, "start b", true, 4000),
		bubble("A", 10, "start a", true, 3000),
	}

	convs := BuildSnapshot(headers, bubbles)
	require.Len(t, convs, 2)

	// A saw the later activity so it sorts first.
	assert.Equal(t, "A", convs[0].ID)
	assert.Equal(t, "B", convs[1].ID)

	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "start a", convs[0].Messages[0].Text)
	assert.Equal(t, "done", convs[0].Messages[1].Text)
	assert.True(t, convs[0].Messages[0].CreatedAt <= convs[0].Messages[1].CreatedAt)
	assert.Equal(t, int64(5000), convs[0].LastActivity)

	require.Len(t, convs[1].Messages, 1)
	assert.Equal(t, "start b", convs[1].Messages[0].Text)
	assert.Equal(t, int64(4000), convs[1].LastActivity)
}

func TestBuildSnapshotNameFallbacks(t *testing.T) {
	headers := []cursordb.ComposerRecord{
		header("titled", "Fix login bug", 100),
		header("untitled", "", 100),
		header("silent", "", 100),
	}
	bubbles := []cursordb.BubbleRecord{
		bubble("titled", 1, "hello", true, 200),
		bubble("untitled", 2, "refactor the parser", true, 200),
		bubble("silent", 3, "I can help with that", false, 200),
	}

	convs := BuildSnapshot(headers, bubbles)
	require.Len(t, convs, 3)

	names := map[string]string{}
	for _, c := range convs {
		names[c.ID] = c.Name
	}
	assert.Equal(t, "Fix login bug", names["titled"])
	assert.Equal(t, "refactor the parser", names["untitled"])
	assert.Equal(t, "New Chat", names["silent"])
}

func TestBuildSnapshotPlaceholderForOrphanBubble(t *testing.T) {
	bubbles := []cursordb.BubbleRecord{
		bubble("ghost", 1, "orphaned question", true, 500),
	}

	convs := BuildSnapshot(nil, bubbles)
	require.Len(t, convs, 1)
	assert.Equal(t, "ghost", convs[0].ID)
	assert.Equal(t, "orphaned question", convs[0].Name)
	assert.Equal(t, int64(500), convs[0].LastActivity)
	assert.True(t, convs[0].Available)
}

func TestBuildSnapshotExcludesEmptyConversations(t *testing.T) {
	headers := []cursordb.ComposerRecord{
		header("empty", "Drafts", 100),
		header("full", "Real", 100),
	}
	bubbles := []cursordb.BubbleRecord{
		bubble("full", 1, "hi", true, 200),
	}

	convs := BuildSnapshot(headers, bubbles)
	require.Len(t, convs, 1)
	assert.Equal(t, "full", convs[0].ID)
}

func TestBuildSnapshotSortsByActivityThenID(t *testing.T) {
	headers := []cursordb.ComposerRecord{
		header("old", "", 10),
		header("z-tied", "", 10),
		header("a-tied", "", 10),
		header("new", "", 10),
	}
	bubbles := []cursordb.BubbleRecord{
		bubble("old", 1, "x", true, 100),
		bubble("z-tied", 2, "x", true, 200),
		bubble("a-tied", 3, "x", true, 200),
		bubble("new", 4, "x", true, 300),
	}

	convs := BuildSnapshot(headers, bubbles)
	require.Len(t, convs, 4)
	assert.Equal(t, "new", convs[0].ID)
	assert.Equal(t, "a-tied", convs[1].ID)
	assert.Equal(t, "z-tied", convs[2].ID)
	assert.Equal(t, "old", convs[3].ID)
}

func TestBuildSnapshotMessageTieBrokenBySequence(t *testing.T) {
	headers := []cursordb.ComposerRecord{header("A", "Alpha", 0)}
	bubbles := []cursordb.BubbleRecord{
		bubble("A", 20, "second", false, 1000),
		bubble("A", 10, "first", true, 1000),
	}

	convs := BuildSnapshot(headers, bubbles)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "first", convs[0].Messages[0].Text)
	assert.Equal(t, "second", convs[0].Messages[1].Text)
}

func TestBuildSnapshotDeterministic(t *testing.T) {
	headers := []cursordb.ComposerRecord{
		header("A", "Alpha", 100),
		header("B", "Beta", 200),
		header("C", "", 300),
	}
	bubbles := []cursordb.BubbleRecord{
		bubble("A", 1, "one", true, 1000),
		bubble("B", 2, "two", false, 2000),
		bubble("C", 3, "three", true, 3000),
		bubble("A", 4, "four", false, 4000),
	}

	first, err := MarshalSync(BuildSnapshot(headers, bubbles))
	require.NoError(t, err)

	// Header order must not leak into the output.
	shuffledHeaders := []cursordb.ComposerRecord{headers[2], headers[0], headers[1]}
	second, err := MarshalSync(BuildSnapshot(shuffledHeaders, bubbles))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, HashPayload(first), HashPayload(second))

	// Rebuilding from identical input is byte-identical despite map
	// iteration order.
	third, err := MarshalSync(BuildSnapshot(headers, bubbles))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(third))
}

func TestMarshalSyncEmpty(t *testing.T) {
	payload, err := MarshalSync(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sync","rooms":[]}`, string(payload))
}

func TestMarshalSyncWireShape(t *testing.T) {
	convs := BuildSnapshot(
		[]cursordb.ComposerRecord{header("A", "Alpha", 100)},
		[]cursordb.BubbleRecord{bubble("A", 1, "hello", true, 1000)},
	)
	payload, err := MarshalSync(convs)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "sync", decoded["type"])

	rooms, ok := decoded["rooms"].([]any)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	room := rooms[0].(map[string]any)
	assert.Equal(t, "A", room["id"])
	assert.Equal(t, "Alpha", room["name"])
	assert.Equal(t, float64(1000), room["timestamp"])
	assert.Equal(t, true, room["available"])

	msgs := room["messages"].([]any)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	assert.Equal(t, "hello", msg["text"])
	assert.Equal(t, true, msg["isUser"])
	assert.Equal(t, float64(1000), msg["createdAt"])
}

func TestHashPayloadTracksContent(t *testing.T) {
	a := []byte(`{"type":"sync","rooms":[]}`)
	b := []byte(`{"type":"sync","rooms":[{"id":"A"}]}`)

	assert.Equal(t, HashPayload(a), HashPayload([]byte(string(a))))
	assert.NotEqual(t, HashPayload(a), HashPayload(b))
}
