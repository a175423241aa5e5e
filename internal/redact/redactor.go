package redact

import (
	"fmt"
	"time"
)

// Result describes one redaction run.
type Result struct {
	// Text is the working text after all applied passes. When Blocked is
	// set it holds the text as it was when the blocking rule matched.
	Text     string
	Modified bool

	Blocked   bool
	BlockedBy string

	// ByRule counts matches per rule ID. Values are never recorded.
	ByRule   map[string]int
	Duration time.Duration
}

// Redactor applies credential detection followed by ordered regex rules.
type Redactor struct {
	rules       []compiledRule
	credentials *credentialDetector
}

// New creates a Redactor. A nil config uses DefaultConfig.
func New(cfg *Config) (*Redactor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rules, err := cfg.compile()
	if err != nil {
		return nil, err
	}

	r := &Redactor{rules: rules}
	if cfg.Credentials {
		allow, err := LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("loading allowlist: %w", err)
		}
		r.credentials, err = newCredentialDetector(allow)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNew creates a Redactor, panicking on error.
func MustNew(cfg *Config) *Redactor {
	r, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

// Redact runs every pass in order over text. overrides replaces the
// configured action for the given rule IDs; it may be nil.
func (r *Redactor) Redact(text string, overrides map[string]Action) *Result {
	start := time.Now()
	res := &Result{Text: text, ByRule: make(map[string]int)}
	defer func() { res.Duration = time.Since(start) }()

	if text == "" {
		return res
	}

	if r.credentials != nil && action(RuleCredentials, ActionRedact, overrides) != ActionSkip {
		working, n := r.credentials.redact(res.Text)
		if n > 0 {
			if action(RuleCredentials, ActionRedact, overrides) == ActionBlock {
				res.Blocked, res.BlockedBy = true, RuleCredentials
				res.ByRule[RuleCredentials] = n
				return res
			}
			res.Text, res.Modified = working, true
			res.ByRule[RuleCredentials] = n
		}
	}

	for _, rule := range r.rules {
		act := action(rule.ID, rule.Action, overrides)
		if act == ActionSkip {
			continue
		}
		matches := rule.pattern.FindAllStringIndex(res.Text, -1)
		if len(matches) == 0 {
			continue
		}
		res.ByRule[rule.ID] += len(matches)
		if act == ActionBlock {
			res.Blocked, res.BlockedBy = true, rule.ID
			return res
		}
		res.Text = rule.pattern.ReplaceAllLiteralString(res.Text, Placeholder)
		res.Modified = true
	}

	return res
}

// RuleIDs lists the pass IDs in application order.
func (r *Redactor) RuleIDs() []string {
	ids := make([]string, 0, len(r.rules)+1)
	if r.credentials != nil {
		ids = append(ids, RuleCredentials)
	}
	for _, rule := range r.rules {
		ids = append(ids, rule.ID)
	}
	return ids
}

func action(id string, configured Action, overrides map[string]Action) Action {
	if a, ok := overrides[id]; ok {
		return a
	}
	return configured
}
