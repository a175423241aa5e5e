package guardrail

import (
	"regexp"
	"strings"
)

// injectionPatterns are phrasings associated with prompt injection and
// jailbreak attempts.
var injectionPatterns = []string{
	`ignore\s+(all\s+)?(previous|above|prior)\s+instructions`,
	`disregard\s+(all\s+)?(previous|above|prior)`,
	`forget\s+(everything|all)\s+(you\s+)?(were\s+)?(told|trained)`,
	`you\s+are\s+now\s+in\s+(?:a\s+)?(?:new\s+)?(?:role|mode|character)`,
	`system\s*:\s*you\s+are`,
	`\[system\]\s*:`,
	`<\|?system\|?>`,
	`\[INST\]\s*.*\s*\[/INST\]`,
	`override\s+(your\s+)?(instructions|rules|guidelines)`,
	`pretend\s+you\s+(?:are|have)\s+no\s+(?:restrictions|limits|guidelines)`,
	`jailbreak`,
	`developer\s+mode`,
	`dan\s+mode`,
	`//\s*ignore\s+previous`,
}

var injectionRe = compileAlternation(injectionPatterns)

func compileAlternation(patterns []string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?is)`)
	for i, p := range patterns {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(`(?:`)
		b.WriteString(p)
		b.WriteByte(')')
	}
	return regexp.MustCompile(b.String())
}

// ContainsInjection reports whether text matches a known injection phrasing.
func ContainsInjection(text string) bool {
	return injectionRe.MatchString(text)
}

// matchBlocklist returns the first blocklist term found in text, compared
// case-insensitively. Empty terms never match.
func matchBlocklist(text string, blocklist []string) (string, bool) {
	if len(blocklist) == 0 {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, term := range blocklist {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return term, true
		}
	}
	return "", false
}
