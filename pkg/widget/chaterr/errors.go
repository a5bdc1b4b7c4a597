package chaterr

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound        = errors.New("chat session not found")
	ErrStorageQuotaExceeded   = errors.New("chat storage quota exceeded")
	ErrCredentialFetchFailed  = errors.New("chat credential fetch failed")
	ErrCredentialExpired      = errors.New("chat credential expired")
	ErrSendFailed             = errors.New("chat send failed")
	ErrSendRejectedConcurrent = errors.New("another message is already being sent")
	ErrSendAbandoned          = errors.New("chat send abandoned")
	ErrSelectionTooLarge      = errors.New("selection truncated")
	ErrEmptyMessage           = errors.New("chat message is empty")
	ErrNothingToRetry         = errors.New("no failed exchange to retry")
)

// SessionError ties a session-level failure to the session id involved.
type SessionError struct {
	SessionId string
	Op        string // "save", "load", "delete"
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s %s: %v", e.Op, e.SessionId, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// CredentialError reports a failed credential request. Status is 0 for transport failures.
type CredentialError struct {
	Status int
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("credential request failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("credential request failed: %v", e.Err)
}

func (e *CredentialError) Unwrap() []error {
	return []error{ErrCredentialFetchFailed, e.Err}
}

// SendError reports a failed message exchange with the chat backend.
type SendError struct {
	Status int
	Err    error
}

func (e *SendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("chat send failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("chat send failed: %v", e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrSendFailed, e.Err}
}
