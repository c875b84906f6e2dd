package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/christopherjohns/chatrelay/internal/frame"
)

// Type represents the kind of message.
type Type string

const (
	TypeChat   Type = "chat"
	TypeSystem Type = "system"
)

// Message is a chat line as relayed and stored. System notices share the
// shape but are never stored.
type Message struct {
	ID        string    `json:"id" bson:"-"`
	Sender    string    `json:"sender" bson:"sender"`
	Content   string    `json:"message" bson:"content"`
	Type      Type      `json:"type" bson:"-"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// NewChat creates a user-authored message stamped with the current time.
func NewChat(sender, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Type:      TypeChat,
		Timestamp: now(),
	}
}

// Joined is the notice broadcast after a user finishes history replay.
func Joined(username string) *Message {
	return system(username, username+" joined the chat!")
}

// Left is the notice broadcast after a user disconnects.
func Left(username string) *Message {
	return system(username, username+" left the chat!")
}

func system(sender, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Type:      TypeSystem,
		Timestamp: now(),
	}
}

// IsSystem reports whether m is a server-generated notice.
func (m *Message) IsSystem() bool {
	return m.Type == TypeSystem
}

// Frame converts m into its wire form.
func (m *Message) Frame() frame.Chat {
	kind := frame.KindChat
	if m.IsSystem() {
		kind = frame.KindSystem
	}
	return frame.Chat{
		Sender:    m.Sender,
		Message:   m.Content,
		Timestamp: m.Timestamp,
		Kind:      kind,
	}
}

// Encode returns the wire bytes for m.
func (m *Message) Encode() ([]byte, error) {
	return frame.Encode(m.Frame())
}

// now truncates to milliseconds, the finest precision every backend keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
