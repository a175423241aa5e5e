// Package redact removes sensitive spans from outbound text.
//
// A Redactor applies an ordered list of passes to a working copy of the text.
// Each pass sees the output of the previous one. A pass either replaces its
// matches with a placeholder or, when its action is ActionBlock, stops
// processing and reports the text as blocked.
package redact

import "errors"

var (
	// ErrInvalidRegex indicates a rule or allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")

	// ErrInvalidRule indicates a rule is missing required fields.
	ErrInvalidRule = errors.New("invalid rule")
)
