// Package sanitize normalizes untrusted text and validates identifiers
// supplied by API clients.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// Text normalizes user-supplied text:
//   - drops control characters below 0x20 except \n, \r and \t
//   - collapses runs of spaces and tabs to one space
//   - collapses three or more newlines to two
//   - trims surrounding whitespace
//
// Text is idempotent: Text(Text(s)) == Text(s).
func Text(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
