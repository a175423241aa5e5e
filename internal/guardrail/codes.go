// Package guardrail validates user input before it reaches the pipeline and
// filters provider output before it reaches the user.
//
// Each direction has two tiers. The deterministic tier (sanitization,
// length bounds, injection patterns, blocklist, redaction) is a hard gate.
// The advisory tier asks a classifier for a verdict and fails open: when
// the classifier is unavailable, slow or returns garbage, input is allowed
// and output keeps its deterministic result.
package guardrail

// Code identifies why input validation failed.
type Code string

const (
	CodeNone            Code = ""
	CodeEmpty           Code = "empty"
	CodeTooLong         Code = "too_long"
	CodePromptInjection Code = "prompt_injection"
	CodeBlocked         Code = "blocked"
	CodeOffTopic        Code = "off_topic"
	CodeHarmful         Code = "harmful"
	CodeOther           Code = "other"
	CodeInvalid         Code = "invalid"
)

// String returns the wire form, "none" for CodeNone.
func (c Code) String() string {
	if c == CodeNone {
		return "none"
	}
	return string(c)
}

// Category is an advisory classifier label.
type Category string

const (
	CategorySafe            Category = "safe"
	CategoryPromptInjection Category = "prompt_injection"
	CategoryOffTopic        Category = "off_topic"
	CategoryHarmful         Category = "harmful"
	CategoryOther           Category = "other"
)

// ParseCategory maps a classifier label to a Category. Unknown labels
// become CategoryOther.
func ParseCategory(s string) Category {
	switch c := Category(s); c {
	case CategorySafe, CategoryPromptInjection, CategoryOffTopic, CategoryHarmful, CategoryOther:
		return c
	default:
		return CategoryOther
	}
}

// Code returns the rejection code for a category. CategorySafe maps to
// CodeOther since a safe label never rejects.
func (c Category) Code() Code {
	switch c {
	case CategoryPromptInjection:
		return CodePromptInjection
	case CategoryOffTopic:
		return CodeOffTopic
	case CategoryHarmful:
		return CodeHarmful
	default:
		return CodeOther
	}
}
