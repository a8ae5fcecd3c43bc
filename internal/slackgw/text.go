package slackgw

import "strings"

// FormatMention returns "<@ID> " for a member id, or "" when none is configured.
func FormatMention(memberID string) string {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return ""
	}
	return "<@" + memberID + "> "
}

// Truncate cuts text to at most maxRunes runes. It does not add an ellipsis.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	count := 0
	for i := range text {
		if count == maxRunes {
			return text[:i]
		}
		count++
	}
	return text
}
