package models

import "time"

// Role is the closed set of participant kinds on the platform.
type Role string

const (
	RoleDonor        Role = "donor"
	RoleOrganization Role = "organization"
	RoleAdmin        Role = "admin"
)

// MessageType discriminates message content.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// User is immutable for the lifetime of a session view.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// Participant ties a user to a conversation together with their read marker.
// LastReadAt is monotonically non-decreasing within a conversation.
type Participant struct {
	User       User       `json:"user"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
}

// LastMessage is the denormalized pointer a conversation keeps to its most
// recent message: id + timestamp + excerpt, nothing more.
type LastMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id,omitempty"`
	Excerpt   string    `json:"excerpt"`
	CreatedAt time.Time `json:"created_at"`
}

// RelatedEntity points at the donation or cause a conversation is about.
// Opaque to the sync core.
type RelatedEntity struct {
	Kind string `json:"kind"` // "donation" | "cause"
	ID   string `json:"id"`
}

type Conversation struct {
	ID            string         `json:"id"`
	Participants  []Participant  `json:"participants"`
	LastMessage   *LastMessage   `json:"last_message,omitempty"`
	RelatedEntity *RelatedEntity `json:"related_entity,omitempty"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is immutable except for IsRead/ReadAt/EditedAt/DeletedAt and
// Content on edit. ID is globally unique and is the deduplication key when
// the same message arrives via both an optimistic local echo and a channel
// broadcast.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Sender         User         `json:"sender"`
	Recipient      User         `json:"recipient"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Type           MessageType  `json:"type"`
	IsRead         bool         `json:"is_read"`
	ReadAt         *time.Time   `json:"read_at,omitempty"`
	EditedAt       *time.Time   `json:"edited_at,omitempty"`
	DeletedAt      *time.Time   `json:"deleted_at,omitempty"`
	ReplyTo        string       `json:"reply_to,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// TypingIndicator is ephemeral, never persisted, keyed by
// conversation id + user id.
type TypingIndicator struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// OnlineStatus is one entry per known user; last writer wins on transitions.
type OnlineStatus struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ReadReceipt is the payload of a message:read channel event.
type ReadReceipt struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}
