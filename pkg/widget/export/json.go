package export

import (
	"encoding/json"
	"io"

	"docchat-client/internal/entity"
)

// JSONExporter writes the session as one pretty-printed document.
type JSONExporter struct{}

func (e *JSONExporter) Export(session entity.ChatSession, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(session)
}

func (e *JSONExporter) Extension() string {
	return "json"
}

// JSONLExporter writes one message per line, each tagged with its session id.
type JSONLExporter struct{}

type jsonlLine struct {
	SessionId string `json:"session_id"`
	entity.ChatMessage
}

func (e *JSONLExporter) Export(session entity.ChatSession, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, msg := range session.Messages {
		if err := enc.Encode(jsonlLine{SessionId: session.Id.String(), ChatMessage: msg}); err != nil {
			return err
		}
	}
	return nil
}

func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
