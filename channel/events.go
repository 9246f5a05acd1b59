package channel

import "encoding/json"

// Event names carried on the channel.
const (
	// consumed
	EventMessageNew  = "message:new"
	EventMessageRead = "message:read"
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
	EventOnlineList  = "users:online-list"

	// consumed and published
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"

	// published
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
)

// Envelope is the wire format for channel events.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomRef is the payload of conversation:join / conversation:leave.
type RoomRef struct {
	ConversationID string `json:"conversation_id"`
}
