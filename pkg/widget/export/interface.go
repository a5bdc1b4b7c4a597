// Package export writes a chat session in a portable format, used to hand an anonymous
// conversation over to an account and by the CLI export command.
package export

import (
	"fmt"
	"io"

	"docchat-client/internal/entity"
)

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(session entity.ChatSession, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "jsonl":
		return &JSONLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: jsonl, md, yaml, json)", format)
	}
}
