package redact

// Placeholder replaces every redacted span.
const Placeholder = "[REDACTED]"

// Rule IDs for the built-in passes.
const (
	RuleCredentials     = "credentials"
	RuleCurrency        = "currency"
	RuleSSN             = "ssn"
	RuleCard            = "card"
	RuleLongNumeric     = "long_numeric"
	RuleSensitivePhrase = "sensitive_phrase"
)

// Action decides what happens when a rule matches.
type Action string

const (
	ActionRedact Action = "redact"
	ActionBlock  Action = "block"
	ActionSkip   Action = "skip"
)

// Rule is a regex-based pass.
type Rule struct {
	ID          string `koanf:"id"`
	Description string `koanf:"description"`
	Pattern     string `koanf:"pattern"`
	Action      Action `koanf:"action"`
}

const (
	currencyPattern = `(?i)\$\s*[\d,]+(?:\.[\d]{2})?\s*(?:USD|dollars?)?|(?:USD|EUR|GBP)\s*[\d,]+(?:\.[\d]{2})?`
	ssnPattern      = `\b\d{3}-\d{2}-\d{4}\b`
	cardPattern     = `\b(?:\d{4}[\s\-]?){3}\d{4}\b`
	longNumPattern  = `\b\d{10,}\b`

	sensitivePhrasePattern = `(?i)(?:` +
		`internal\s+only|confidential|proprietary|do\s+not\s+share|` +
		`company\s+revenue|company\s+finances|our\s+revenue|our\s+profit|` +
		`EBITDA|earnings\s+before|net\s+income\s+was|revenue\s+was|` +
		`salary|compensation\s+package|employee\s+pay|` +
		`budget\s+allocation|internal\s+budget|` +
		`margin\s+is\s+\d|growth\s+rate\s+of\s+\d|` +
		`Q[1-4]\s+results|quarterly\s+earnings|` +
		`board\s+meeting|executive\s+session|` +
		`trade\s+secret|NDA|non-?disclosure` +
		`)`
)

// DefaultRules returns the built-in regex passes in application order.
// The sensitive phrase rule is last so numeric passes run first.
func DefaultRules() []Rule {
	return []Rule{
		{ID: RuleCurrency, Description: "Currency amounts", Pattern: currencyPattern, Action: ActionRedact},
		{ID: RuleSSN, Description: "SSN-like identifiers", Pattern: ssnPattern, Action: ActionRedact},
		{ID: RuleCard, Description: "Payment card numbers", Pattern: cardPattern, Action: ActionRedact},
		{ID: RuleLongNumeric, Description: "Long numeric references", Pattern: longNumPattern, Action: ActionRedact},
		{ID: RuleSensitivePhrase, Description: "Company-internal phrases", Pattern: sensitivePhrasePattern, Action: ActionRedact},
	}
}
