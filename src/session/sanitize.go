package session

import (
	"regexp"
	"strings"
)

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)

// Sanitize strips control characters other than tab, newline and carriage
// return, then trims surrounding whitespace.
func Sanitize(text string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(text, ""))
}
