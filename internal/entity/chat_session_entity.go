package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChatSession struct {
	Id        uuid.UUID     `json:"id" yaml:"id"`
	CreatedAt time.Time     `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt" yaml:"updatedAt"`
	Messages  []ChatMessage `json:"messages" yaml:"messages"`
}

func NewChatSession(now time.Time) ChatSession {
	return ChatSession{
		Id:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []ChatMessage{},
	}
}

// Clone returns a deep copy so callers never share message slices with the store.
func (s ChatSession) Clone() ChatSession {
	out := s
	out.Messages = make([]ChatMessage, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

func (s ChatSession) UserMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
