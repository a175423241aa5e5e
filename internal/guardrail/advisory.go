package guardrail

import "context"

// InputVerdict is an advisory classifier's answer for user input.
type InputVerdict struct {
	Allowed  bool
	Reason   string
	Category Category
}

// InputClassifier labels sanitized user input. Any error, including a
// response that cannot be parsed, is treated as "allowed".
type InputClassifier interface {
	ClassifyInput(ctx context.Context, text string) (InputVerdict, error)
}

// OutputVerdict is an advisory classifier's answer for a draft response.
type OutputVerdict struct {
	ContainsSensitive bool
	Reason            string
}

// OutputChecker looks for residual sensitive content in redacted text.
// Any error leaves the deterministic result unchanged.
type OutputChecker interface {
	CheckOutput(ctx context.Context, text string) (OutputVerdict, error)
}
