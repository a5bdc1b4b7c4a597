package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"docchat-client/internal/entity"
)

// MarkdownExporter renders a readable transcript with citations as footnote lists.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(session entity.ChatSession, w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Chat session %s\n\n", session.Id)
	fmt.Fprintf(&b, "**Started:** %s  \n", session.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Updated:** %s  \n", session.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Messages:** %d\n\n", len(session.Messages))
	b.WriteString("---\n\n")

	for i, msg := range session.Messages {
		fmt.Fprintf(&b, "**%s** (%s)\n\n%s\n\n", msg.Role, msg.CreatedAt.Format(time.RFC3339), escapeMarkdown(msg.Content))
		if len(msg.Citations) > 0 {
			b.WriteString("Sources:\n\n")
			for _, c := range msg.Citations {
				line := fmt.Sprintf("- %s: \"%s\"", c.Source, c.Excerpt)
				if loc := c.Locator(); loc != "" {
					line += " (" + loc + ")"
				}
				b.WriteString(line + "\n")
			}
			b.WriteString("\n")
		}
		if i < len(session.Messages)-1 {
			b.WriteString("---\n\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}
		line = strings.ReplaceAll(line, "**", "\\*\\*")
		lines[i] = strings.ReplaceAll(line, "__", "\\_\\_")
	}
	return strings.Join(lines, "\n")
}

func (e *MarkdownExporter) Extension() string {
	return "md"
}
