package channels

import (
	"strings"
	"unicode/utf8"

	"github.com/hkuds/shellbox/internal/bus"
)

// maxMessageLength is Telegram's limit on the visible text of one message.
const maxMessageLength = 4096

const truncatedNote = "\n[output truncated]"

// FormatHTML renders an outbound message as Telegram HTML. Command output
// goes in a <pre> block so whitespace survives; everything is escaped since
// output is arbitrary bytes from the sandbox.
func FormatHTML(msg bus.OutboundMessage) string {
	switch msg.Kind {
	case bus.KindOutput:
		if strings.TrimSpace(msg.Content) == "" {
			return "<i>(no output)</i>"
		}
		return "<pre>" + escapeHTML(truncate(msg.Content, maxMessageLength)) + "</pre>"
	case bus.KindError:
		const prefix = "Error: "
		return "<b>" + prefix + "</b>" + escapeHTML(truncate(msg.Content, maxMessageLength-len(prefix)))
	default:
		return escapeHTML(truncate(msg.Content, maxMessageLength))
	}
}

// FormatPlain renders an outbound message without markup, for when Telegram
// rejects the HTML version.
func FormatPlain(msg bus.OutboundMessage) string {
	switch msg.Kind {
	case bus.KindOutput:
		if strings.TrimSpace(msg.Content) == "" {
			return "(no output)"
		}
		return truncate(msg.Content, maxMessageLength)
	case bus.KindError:
		return "Error: " + truncate(msg.Content, maxMessageLength-len("Error: "))
	default:
		return truncate(msg.Content, maxMessageLength)
	}
}

// truncate cuts s to at most limit runes, including the truncation note.
// Invalid UTF-8 from the sandbox is replaced so Telegram accepts the text.
func truncate(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	keep := limit - utf8.RuneCountInString(truncatedNote)
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + truncatedNote
		}
		n++
	}
	return s
}

// escapeHTML escapes HTML special characters.
func escapeHTML(text string) string {
	// Must escape & first to avoid double-escaping
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}
