package slack

import (
	"fmt"
	"unicode/utf8"
)

// MaxMessageLength keeps replies under Slack's text limit.
const MaxMessageLength = 39000

// FormatUserMention creates a user mention.
func FormatUserMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// TruncateText truncates text to at most maxLen bytes with ellipsis,
// never splitting a UTF-8 sequence.
func TruncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return cutRunes(text, maxLen)
	}
	return cutRunes(text, maxLen-3) + "..."
}

// cutRunes returns the longest prefix of text within n bytes that ends on a rune boundary.
func cutRunes(text string, n int) string {
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

// FormatError formats an error message for display.
func FormatError(err error) string {
	return fmt.Sprintf(":x: *Error:* %s", err.Error())
}

// FormatSuccess formats a success message.
func FormatSuccess(msg string) string {
	return fmt.Sprintf(":white_check_mark: %s", msg)
}
