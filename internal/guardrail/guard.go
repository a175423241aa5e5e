package guardrail

import (
	"time"

	"github.com/fyrsmithlabs/supportd/internal/logging"
	"github.com/fyrsmithlabs/supportd/internal/redact"
)

// DefaultAdvisoryTimeout bounds a single classifier call.
const DefaultAdvisoryTimeout = 5 * time.Second

// Guard runs the input and output guardrails. A Guard is safe for
// concurrent use; all per-call behavior comes from the options argument.
type Guard struct {
	redactor   *redact.Redactor
	classifier InputClassifier
	checker    OutputChecker
	timeout    time.Duration
	logger     *logging.Logger
	metrics    *Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithInputClassifier sets the advisory classifier for input.
func WithInputClassifier(c InputClassifier) Option {
	return func(g *Guard) { g.classifier = c }
}

// WithOutputChecker sets the advisory checker for output.
func WithOutputChecker(c OutputChecker) Option {
	return func(g *Guard) { g.checker = c }
}

// WithAdvisoryTimeout overrides DefaultAdvisoryTimeout.
func WithAdvisoryTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Guard around redactor. A nil redactor uses the default
// rule set with credential detection.
func New(redactor *redact.Redactor, opts ...Option) *Guard {
	if redactor == nil {
		redactor = redact.MustNew(nil)
	}
	g := &Guard{
		redactor: redactor,
		timeout:  DefaultAdvisoryTimeout,
		logger:   logging.NewNop(),
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}
