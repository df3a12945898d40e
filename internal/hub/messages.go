package hub

// clientMessage is every inbound frame a client can send. Type selects
// which of the remaining fields matter.
type clientMessage struct {
	Type        string `json:"type"` // followup, new_chat, ping
	ComposerID  string `json:"composerId,omitempty"`
	Text        string `json:"text,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
	ChatTitle   string `json:"chat_title,omitempty"`
}

// followupAck reports the terminal outcome of a followup command to the
// session that issued it.
type followupAck struct {
	Type       string   `json:"type"` // followup_ack
	ComposerID string   `json:"composerId"`
	ChatName   string   `json:"chatName"`
	Status     string   `json:"status"` // sent, error, unavailable
	Message    string   `json:"message"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// newChatAck reports the terminal outcome of a new_chat command.
// ProjectName and ChatTitle echo the request regardless of outcome.
type newChatAck struct {
	Type        string `json:"type"` // new_chat_ack
	Status      string `json:"status"` // started, error
	Message     string `json:"message"`
	WindowID    int    `json:"windowId"`
	WindowName  string `json:"windowName"`
	ProjectName string `json:"projectName"`
	ChatTitle   string `json:"chatTitle"`
}

type pongMessage struct {
	Type      string `json:"type"` // pong
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}
