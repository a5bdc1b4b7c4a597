package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docchat-client/internal/constant"
)

var ErrInvalidRole = errors.New("invalid chat message role")

// Role is the author of a chat message. The zero value is not a valid role.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleAssistant
)

func ParseRole(s string) (Role, error) {
	switch s {
	case constant.ChatMessageRoleUser:
		return RoleUser, nil
	case constant.ChatMessageRoleAssistant:
		return RoleAssistant, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return constant.ChatMessageRoleUser
	case RoleAssistant:
		return constant.ChatMessageRoleAssistant
	}
	return "invalid"
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, ErrInvalidRole
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Role) MarshalYAML() (interface{}, error) {
	if !r.IsValid() {
		return nil, ErrInvalidRole
	}
	return r.String(), nil
}

type ChatMessage struct {
	Id        uuid.UUID  `json:"id" yaml:"id"`
	Role      Role       `json:"role" yaml:"role"`
	Content   string     `json:"content" yaml:"content"`
	CreatedAt time.Time  `json:"createdAt" yaml:"createdAt"`
	Citations []Citation `json:"citations,omitempty" yaml:"citations,omitempty"`
}

// NewUserMessage creates a message authored by the visitor.
func NewUserMessage(content string, now time.Time) ChatMessage {
	return ChatMessage{
		Id:        uuid.New(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: now,
	}
}

// NewAssistantMessage creates a finalized assistant reply.
func NewAssistantMessage(content string, citations []Citation, now time.Time) ChatMessage {
	return ChatMessage{
		Id:        uuid.New(),
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: now,
		Citations: cloneCitations(citations),
	}
}

func (m ChatMessage) Validate() error {
	if m.Id == uuid.Nil {
		return errors.New("chat message id is empty")
	}
	if !m.Role.IsValid() {
		return ErrInvalidRole
	}
	return nil
}

func (m ChatMessage) Clone() ChatMessage {
	m.Citations = cloneCitations(m.Citations)
	return m
}
