package guardrail

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/config"
	"github.com/fyrsmithlabs/supportd/internal/redact"
)

// SensitiveMode selects what a sensitive phrase match does.
type SensitiveMode string

const (
	// SensitiveRedact replaces the matched phrase in place.
	SensitiveRedact SensitiveMode = "redact"
	// SensitiveBlock replaces the whole response with BlockedMessage.
	SensitiveBlock SensitiveMode = "block"
)

// OutputOptions controls one output check.
type OutputOptions struct {
	Currency         bool
	SSNCard          bool
	LongNumeric      bool
	SensitivePhrases bool
	Credentials      bool
	SensitiveMode    SensitiveMode
	Advisory         bool
}

// DefaultOutputOptions enables every pass in redact mode.
func DefaultOutputOptions() OutputOptions {
	return OutputOptions{
		Currency:         true,
		SSNCard:          true,
		LongNumeric:      true,
		SensitivePhrases: true,
		Credentials:      true,
		SensitiveMode:    SensitiveRedact,
		Advisory:         true,
	}
}

// OutputOptionsFromConfig builds options from the output config section.
func OutputOptionsFromConfig(cfg config.OutputConfig) OutputOptions {
	opts := DefaultOutputOptions()
	opts.Currency = cfg.Currency
	opts.SSNCard = cfg.SSNCard
	opts.LongNumeric = cfg.LongNumeric
	opts.SensitivePhrases = cfg.SensitivePhrases
	opts.Credentials = cfg.Credentials
	opts.Advisory = cfg.Advisory
	if cfg.SensitiveMode == string(SensitiveBlock) {
		opts.SensitiveMode = SensitiveBlock
	}
	return opts
}

// overrides translates options into per-rule redactor actions.
func (o OutputOptions) overrides() map[string]redact.Action {
	m := make(map[string]redact.Action, 6)
	if !o.Currency {
		m[redact.RuleCurrency] = redact.ActionSkip
	}
	if !o.SSNCard {
		m[redact.RuleSSN] = redact.ActionSkip
		m[redact.RuleCard] = redact.ActionSkip
	}
	if !o.LongNumeric {
		m[redact.RuleLongNumeric] = redact.ActionSkip
	}
	if !o.Credentials {
		m[redact.RuleCredentials] = redact.ActionSkip
	}
	switch {
	case o.SensitiveMode == SensitiveBlock:
		m[redact.RuleSensitivePhrase] = redact.ActionBlock
	case !o.SensitivePhrases:
		m[redact.RuleSensitivePhrase] = redact.ActionSkip
	}
	return m
}

// OutputResult is the outcome of ValidateOutput. Safe is always true;
// a response that must not be shown is reported through Blocked.
type OutputResult struct {
	Safe     bool   `json:"safe"`
	Text     string `json:"redacted_text"`
	Modified bool   `json:"was_modified"`
	Blocked  bool   `json:"blocked"`

	// Redactions counts matches per rule. Blocked results drop it.
	Redactions map[string]int `json:"-"`
}

const (
	outcomeUnmodified = "unmodified"
	outcomeRedacted   = "redacted"
	outcomeBlocked    = "blocked"
)

func (r OutputResult) outcome() string {
	switch {
	case r.Blocked:
		return outcomeBlocked
	case r.Modified:
		return outcomeRedacted
	default:
		return outcomeUnmodified
	}
}

func blocked() OutputResult {
	return OutputResult{Safe: true, Text: BlockedMessage, Modified: true, Blocked: true}
}

// ValidateOutput redacts or blocks a draft response. The deterministic
// passes always run; the advisory check may only escalate the result to
// blocked.
func (g *Guard) ValidateOutput(ctx context.Context, text string, opts OutputOptions) OutputResult {
	start := time.Now()
	res := g.validateOutput(ctx, text, opts)
	g.metrics.recordOutput(res.outcome(), res.Redactions, time.Since(start).Seconds())
	if res.Blocked {
		g.logger.Info(ctx, "output blocked")
	} else if res.Modified {
		g.logger.Debug(ctx, "output redacted", zap.Any("rules", res.Redactions))
	}
	return res
}

func (g *Guard) validateOutput(ctx context.Context, text string, opts OutputOptions) OutputResult {
	if text == "" {
		return OutputResult{Safe: true}
	}

	rr := g.redactor.Redact(text, opts.overrides())
	if rr.Blocked {
		g.logger.Debug(ctx, "output blocked by rule", zap.String("rule", rr.BlockedBy))
		return blocked()
	}

	res := OutputResult{
		Safe:       true,
		Text:       strings.TrimSpace(rr.Text),
		Modified:   rr.Modified,
		Redactions: rr.ByRule,
	}

	if opts.Advisory && g.checker != nil && res.Text != "" {
		if g.sensitive(ctx, res.Text) {
			return blocked()
		}
	}
	return res
}

// sensitive asks the advisory checker about residual content. Failures
// report false.
func (g *Guard) sensitive(ctx context.Context, text string) bool {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	verdict, err := g.checker.CheckOutput(cctx, text)
	if err != nil {
		g.metrics.recordDegraded(directionOutput)
		g.logger.Warn(ctx, "output checker degraded, keeping redacted response", zap.Error(err))
		return false
	}
	return verdict.ContainsSensitive
}
