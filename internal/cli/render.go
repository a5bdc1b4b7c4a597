package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"docchat-client/internal/entity"
	"docchat-client/pkg/events"
)

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen, color.Bold)
	noticeColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	dimColor       = color.New(color.Faint)
)

func printMessage(w io.Writer, m entity.ChatMessage) {
	switch m.Role {
	case entity.RoleUser:
		userColor.Fprint(w, "you: ")
	default:
		assistantColor.Fprint(w, "docs: ")
	}
	fmt.Fprintln(w, m.Content)
	for i, c := range m.Citations {
		line := fmt.Sprintf("  [%d] %s", i+1, c.Source)
		if loc := c.Locator(); loc != "" {
			line += " (" + loc + ")"
		}
		dimColor.Fprintln(w, line)
	}
}

func printSessionLine(w io.Writer, s entity.ChatSession, current bool) {
	marker := " "
	if current {
		marker = "*"
	}
	preview := "(empty)"
	for _, m := range s.Messages {
		if m.Role == entity.RoleUser {
			preview = shorten(m.Content, 48)
			break
		}
	}
	fmt.Fprintf(w, "%s %s  %s  %2d msgs  %s\n",
		marker,
		s.Id,
		s.UpdatedAt.Local().Format(time.DateTime),
		len(s.Messages),
		preview,
	)
}

// printNotice renders status events the user should see. Progress events are skipped.
func printNotice(w io.Writer, e events.Event) bool {
	p := e.Payload()
	switch e.EventType() {
	case events.TypeLimitApproaching:
		noticeColor.Fprintf(w, "! %v messages left before sign-in is required\n", p["remaining"])
	case events.TypeLimitReached:
		noticeColor.Fprintf(w, "! message limit of %v reached, /login to continue\n", p["limit"])
	case events.TypeStorageDegraded:
		noticeColor.Fprintf(w, "! conversation is not being saved: %v\n", p["error"])
	case events.TypeSelectionTruncated:
		noticeColor.Fprintf(w, "! selection cut to %v of %v characters, /expand to send more\n", p["length"], p["original_length"])
	default:
		return false
	}
	return true
}

func shorten(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
