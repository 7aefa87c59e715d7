package models

import "time"

// Role identifies who authored a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role      Role        `json:"role" msgpack:"role"`
	Content   string      `json:"content" msgpack:"content"`
	Sources   []SourceRef `json:"sources,omitempty" msgpack:"sources,omitempty"`
	CreatedAt time.Time   `json:"createdAt" msgpack:"createdAt"`
}

// SourceRef points the reader to the page a retrieved chunk came from.
type SourceRef struct {
	Page      int     `json:"page" msgpack:"page"`
	PageLabel string  `json:"pageLabel" msgpack:"pageLabel"`
	Source    string  `json:"source" msgpack:"source"`
	Score     float32 `json:"score" msgpack:"score"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now()}
}

// Clone copies the message including its source slice.
func (m Message) Clone() Message {
	if m.Sources != nil {
		src := make([]SourceRef, len(m.Sources))
		copy(src, m.Sources)
		m.Sources = src
	}
	return m
}

// CountByRole returns how many messages in msgs have the given role.
func CountByRole(msgs []Message, role Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}
