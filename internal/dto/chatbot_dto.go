package dto

import (
	"time"

	"github.com/google/uuid"
)

type CitationDTO struct {
	Excerpt string `json:"excerpt"`
	Source  string `json:"source"`
	URL     string `json:"url,omitempty"`
	Page    *int   `json:"page,omitempty"`
	Chapter string `json:"chapter,omitempty"`
}

type SendChatRequest struct {
	SessionId uuid.UUID `json:"session_id" validate:"required"`
	Message   string    `json:"message" validate:"required,max=20000"`
}

// SendChatResponse is the non-streaming reply body.
type SendChatResponse struct {
	SessionId uuid.UUID     `json:"session_id"`
	Content   string        `json:"content"`
	Citations []CitationDTO `json:"citations,omitempty"`
}

// StreamChunk is one `data:` event of a streamed reply.
type StreamChunk struct {
	Type      string        `json:"type"` // content, citations, done, error
	Content   string        `json:"content,omitempty"`
	Citations []CitationDTO `json:"citations,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type CreateChatSessionRequest struct {
	DeviceId string `json:"device_id" validate:"required,max=128"`
}

type CreateChatSessionResponse struct {
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
}
