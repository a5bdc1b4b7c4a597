package controller

import (
	"github.com/google/uuid"

	"docchat-client/internal/entity"
)

// State is the lifecycle of one message exchange.
type State int

const (
	StateComposing State = iota
	StateSending
	StateStreaming
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateComposing:
		return "composing"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) Settled() bool {
	return s == StateSucceeded || s == StateFailed
}

// Exchange is one user message and the reply to it. Partial holds streamed text while
// the reply is in progress; it is cleared when the exchange settles.
type Exchange struct {
	Id          uuid.UUID
	SessionId   uuid.UUID
	UserMessage entity.ChatMessage
	State       State
	Partial     string
	Assistant   *entity.ChatMessage
	Err         error

	// appended is set once the user message went into the session.
	appended bool
}

func (e Exchange) clone() Exchange {
	out := e
	out.UserMessage = e.UserMessage.Clone()
	if e.Assistant != nil {
		a := e.Assistant.Clone()
		out.Assistant = &a
	}
	return out
}
