package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxMessageBytes bounds a single message fed into the prompt.
	// WhatsApp caps text at 65536 bytes; forwarded walls of text past
	// this budget add cost without improving the reply.
	MaxMessageBytes = 8 * 1024

	truncationMarker = "[message truncated]"
)

// BoundText caps s at maxBytes without splitting a UTF-8 sequence.
// Oversized input keeps its head and gains a marker noting the cut.
func BoundText(s string, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = MaxMessageBytes
	}
	if len(s) <= maxBytes {
		return s
	}
	head := safeUTF8Prefix(s, maxBytes)
	return fmt.Sprintf("%s\n%s (%d bytes omitted)", strings.TrimRight(head, "\n"), truncationMarker, len(s)-len(head))
}

// safeUTF8Prefix returns the longest prefix of s within maxBytes that
// ends on a rune boundary.
func safeUTF8Prefix(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
