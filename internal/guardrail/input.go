package guardrail

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/config"
	"github.com/fyrsmithlabs/supportd/internal/sanitize"
)

// Default length bounds, in characters.
const (
	DefaultMinLength = 1
	DefaultMaxLength = 32000
)

// InputOptions controls one input validation.
type InputOptions struct {
	MinLength      int
	MaxLength      int
	CheckInjection bool
	Sanitize       bool
	Blocklist      []string
	Advisory       bool
}

// DefaultInputOptions enables every check.
func DefaultInputOptions() InputOptions {
	return InputOptions{
		MinLength:      DefaultMinLength,
		MaxLength:      DefaultMaxLength,
		CheckInjection: true,
		Sanitize:       true,
		Advisory:       true,
	}
}

// InputOptionsFromConfig builds options from the input config section.
func InputOptionsFromConfig(cfg config.InputConfig) InputOptions {
	opts := DefaultInputOptions()
	if cfg.MinLength > 0 {
		opts.MinLength = cfg.MinLength
	}
	if cfg.MaxLength > 0 {
		opts.MaxLength = cfg.MaxLength
	}
	opts.CheckInjection = cfg.CheckInjection
	opts.Sanitize = cfg.Sanitize
	opts.Blocklist = append([]string(nil), cfg.Blocklist...)
	opts.Advisory = cfg.Advisory
	return opts
}

// InputResult is the outcome of ValidateInput.
type InputResult struct {
	Success bool `json:"success"`
	// SanitizedText is set only on success, and only when sanitization
	// changed the text.
	SanitizedText string `json:"sanitized_text,omitempty"`
	Code          Code   `json:"error_code,omitempty"`
	Message       string `json:"message"`
}

// TextOr returns the sanitized text, or raw when sanitization changed nothing.
func (r InputResult) TextOr(raw string) string {
	if r.SanitizedText != "" {
		return r.SanitizedText
	}
	return raw
}

func reject(code Code, msg string) InputResult {
	return InputResult{Code: code, Message: msg}
}

// ValidateInput runs the input checks in order and stops at the first
// failure: type, sanitization, length, injection patterns, blocklist and
// finally the advisory classifier.
func (g *Guard) ValidateInput(ctx context.Context, input any, opts InputOptions) InputResult {
	start := time.Now()
	res := g.validateInput(ctx, input, opts)
	g.metrics.recordInput(res.Code, time.Since(start).Seconds())
	if !res.Success {
		g.logger.Info(ctx, "input rejected", zap.String("code", res.Code.String()))
	}
	return res
}

func (g *Guard) validateInput(ctx context.Context, input any, opts InputOptions) InputResult {
	text, ok := input.(string)
	if !ok {
		return reject(CodeInvalid, msgInvalid)
	}

	working := text
	if opts.Sanitize {
		working = sanitize.Text(working)
	}

	n := utf8.RuneCountInString(working)
	if n < opts.MinLength || n == 0 {
		return reject(CodeEmpty, msgEmpty)
	}
	if opts.MaxLength > 0 && n > opts.MaxLength {
		return reject(CodeTooLong, tooLongMessage(opts.MaxLength))
	}

	if opts.CheckInjection && ContainsInjection(working) {
		return reject(CodePromptInjection, msgInjected)
	}

	if _, hit := matchBlocklist(working, opts.Blocklist); hit {
		return reject(CodeBlocked, msgBlocked)
	}

	if opts.Advisory && g.classifier != nil {
		if res, rejected := g.classify(ctx, working); rejected {
			return res
		}
	}

	res := InputResult{Success: true, Message: msgOK}
	if opts.Sanitize && working != text {
		res.SanitizedText = working
	}
	return res
}

// classify asks the advisory classifier for a verdict. Failures allow.
func (g *Guard) classify(ctx context.Context, text string) (InputResult, bool) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	verdict, err := g.classifier.ClassifyInput(cctx, text)
	if err != nil {
		g.metrics.recordDegraded(directionInput)
		g.logger.Warn(ctx, "input classifier degraded, allowing message", zap.Error(err))
		return InputResult{}, false
	}
	if verdict.Allowed {
		return InputResult{}, false
	}

	category := ParseCategory(string(verdict.Category))
	msg := strings.TrimSpace(verdict.Reason)
	if msg == "" {
		msg = ReasonFor(category)
	}
	return reject(category.Code(), msg), true
}
