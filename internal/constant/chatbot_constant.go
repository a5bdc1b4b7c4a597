package constant

const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"

	// Persisted state keys
	StorageKeySessions       = "chat_sessions"
	StorageKeyCurrentSession = "current_chat_session"
	StorageKeyDeviceId       = "chat_device_id"
	StorageKeyWidgetState    = "chat_widget_state"

	// Backend routes
	ChatRoutePath       = "/api/chat"
	CredentialRoutePath = "/api/chatkit/session"

	// Stream chunk types
	StreamChunkContent   = "content"
	StreamChunkCitations = "citations"
	StreamChunkDone      = "done"
	StreamChunkError     = "error"

	DefaultLocalApiURL            = "http://localhost:8000"
	DefaultMaxTextSelectionLength = 2000
	DefaultFallbackTextLength     = 5000
	DefaultMessageLimit           = 10
	DefaultWarningThreshold       = 8
)
