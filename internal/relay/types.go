package relay

// Message is one conversation turn as the remote client renders it.
// Timestamps are Unix milliseconds, matching what the store records.
type Message struct {
	Text      string `json:"text"`
	IsUser    bool   `json:"isUser"`
	CreatedAt int64  `json:"createdAt"`
}

// Conversation mirrors one chat reconstructed from the store. Messages are
// ordered ascending by creation time; the broadcast layer never reorders
// them.
type Conversation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastActivity int64     `json:"timestamp"`
	Messages     []Message `json:"messages"`
	Available    bool      `json:"available"`
}

// SyncPayload is the full-state frame pushed to connected clients. The hub
// writes the marshaled bytes verbatim, so this struct defines the wire shape
// end to end.
type SyncPayload struct {
	Type  string         `json:"type"`
	Rooms []Conversation `json:"rooms"`
}
