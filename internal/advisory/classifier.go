package advisory

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/guardrail"
	"github.com/fyrsmithlabs/supportd/internal/logging"
)

// Classifier implements guardrail.InputClassifier and guardrail.OutputChecker
// on top of a Completer.
type Classifier struct {
	completer Completer
	logger    *logging.Logger
}

var (
	_ guardrail.InputClassifier = (*Classifier)(nil)
	_ guardrail.OutputChecker   = (*Classifier)(nil)
)

// NewClassifier creates a Classifier. A nil logger discards output.
func NewClassifier(c Completer, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Classifier{completer: c, logger: logger.Named("advisory")}
}

// ClassifyInput asks the model whether a support message is in scope.
func (c *Classifier) ClassifyInput(ctx context.Context, text string) (guardrail.InputVerdict, error) {
	content, err := c.completer.Complete(ctx, inputSystemPrompt, inputUserPrompt(text), inputMaxTokens)
	if err != nil {
		return guardrail.InputVerdict{}, err
	}
	verdict, err := parseInputVerdict(content)
	if err != nil {
		c.logger.Debug(ctx, "input verdict unparseable", zap.Int("content_len", len(content)))
		return guardrail.InputVerdict{}, err
	}
	return verdict, nil
}

// CheckOutput asks the model whether redacted text still carries
// sensitive content.
func (c *Classifier) CheckOutput(ctx context.Context, text string) (guardrail.OutputVerdict, error) {
	content, err := c.completer.Complete(ctx, outputSystemPrompt, outputUserPrompt(text), outputMaxTokens)
	if err != nil {
		return guardrail.OutputVerdict{}, err
	}
	verdict, err := parseOutputVerdict(content)
	if err != nil {
		c.logger.Debug(ctx, "output verdict unparseable", zap.Int("content_len", len(content)))
		return guardrail.OutputVerdict{}, err
	}
	return verdict, nil
}
