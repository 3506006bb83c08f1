package ws

import "github.com/rutkowski-tomasz/emoji-gram/internal/chat"

// inboundEvent is a client frame. Type selects the operation; the remaining
// fields are read per type.
type inboundEvent struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Content string `json:"content,omitempty"`
}

// outboundEvent is a server frame: either a routed chat message or a
// caller-only error acknowledgement.
type outboundEvent struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}
