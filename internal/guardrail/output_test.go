package guardrail

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/supportd/internal/config"
	"github.com/fyrsmithlabs/supportd/internal/redact"
)

func TestValidateOutput_Card(t *testing.T) {
	g := newTestGuard()

	res := g.ValidateOutput(context.Background(), "Your card 4111 1111 1111 1111 was charged.", DefaultOutputOptions())
	assert.True(t, res.Safe)
	assert.True(t, res.Modified)
	assert.False(t, res.Blocked)
	assert.Equal(t, "Your card [REDACTED] was charged.", res.Text)
	assert.Equal(t, 1, res.Redactions[redact.RuleCard])
}

func TestValidateOutput_BlockOnSensitivePhrase(t *testing.T) {
	g := newTestGuard()
	opts := DefaultOutputOptions()
	opts.SensitiveMode = SensitiveBlock

	res := g.ValidateOutput(context.Background(), "Good news: our quarterly earnings were $12,000,000", opts)
	assert.True(t, res.Safe)
	assert.True(t, res.Blocked)
	assert.True(t, res.Modified)
	assert.Equal(t, BlockedMessage, res.Text)
	assert.Nil(t, res.Redactions)
}

func TestValidateOutput_RedactSensitivePhrase(t *testing.T) {
	g := newTestGuard()

	res := g.ValidateOutput(context.Background(), "Our quarterly earnings were $12,000,000", DefaultOutputOptions())
	assert.False(t, res.Blocked)
	assert.Equal(t, "Our [REDACTED] were [REDACTED]", res.Text)
}

func TestValidateOutput_Lattice(t *testing.T) {
	g := newTestGuard()
	ctx := context.Background()

	tests := []struct {
		name         string
		text         string
		wantText     string
		wantModified bool
	}{
		{"empty", "", "", false},
		{"clean", "Your ticket has been updated.", "Your ticket has been updated.", false},
		{"trimmed but clean", "  Thanks for waiting.  \n", "Thanks for waiting.", false},
		{"ssn", "Record 123-45-6789 found", "Record [REDACTED] found", true},
		{"long numeric", "Order ref 99887766554433", "Order ref [REDACTED]", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.ValidateOutput(ctx, tt.text, DefaultOutputOptions())
			assert.True(t, res.Safe)
			assert.False(t, res.Blocked)
			assert.Equal(t, tt.wantText, res.Text)
			assert.Equal(t, tt.wantModified, res.Modified)
		})
	}
}

func TestValidateOutput_DisabledPasses(t *testing.T) {
	g := newTestGuard()
	opts := DefaultOutputOptions()
	opts.Currency = false
	opts.SSNCard = false
	opts.LongNumeric = false
	opts.SensitivePhrases = false

	text := "Refund $25 to card 4111-1111-1111-1111, ref 1234567890, confidential"
	res := g.ValidateOutput(context.Background(), text, opts)
	assert.False(t, res.Modified)
	assert.Equal(t, text, res.Text)
}

func TestValidateOutput_Advisory(t *testing.T) {
	ctx := context.Background()

	t.Run("positive verdict blocks", func(t *testing.T) {
		c := &mockClassifier{}
		c.On("CheckOutput", mock.Anything, "Your refund is [REDACTED]").
			Return(OutputVerdict{ContainsSensitive: true, Reason: "internal figures"}, nil)
		g := newTestGuard(WithOutputChecker(c))

		res := g.ValidateOutput(ctx, "Your refund is $40", DefaultOutputOptions())
		assert.True(t, res.Blocked)
		assert.Equal(t, BlockedMessage, res.Text)
		c.AssertExpectations(t)
	})

	t.Run("negative verdict keeps redaction", func(t *testing.T) {
		c := &mockClassifier{}
		c.On("CheckOutput", mock.Anything, mock.Anything).Return(OutputVerdict{}, nil)
		g := newTestGuard(WithOutputChecker(c))

		res := g.ValidateOutput(ctx, "Your refund is $40", DefaultOutputOptions())
		assert.False(t, res.Blocked)
		assert.Equal(t, "Your refund is [REDACTED]", res.Text)
	})

	t.Run("error keeps deterministic result", func(t *testing.T) {
		c := &mockClassifier{}
		c.On("CheckOutput", mock.Anything, mock.Anything).Return(OutputVerdict{}, errUnavailable)
		g := newTestGuard(WithOutputChecker(c))

		want := newTestGuard().ValidateOutput(ctx, "Card 4111 1111 1111 1111", DefaultOutputOptions())
		got := g.ValidateOutput(ctx, "Card 4111 1111 1111 1111", DefaultOutputOptions())
		assert.Equal(t, want.Text, got.Text)
		assert.Equal(t, want.Modified, got.Modified)
		assert.False(t, got.Blocked)
	})

	t.Run("timeout keeps deterministic result", func(t *testing.T) {
		g := newTestGuard(WithOutputChecker(hangingClassifier{}), WithAdvisoryTimeout(20*time.Millisecond))

		res := g.ValidateOutput(ctx, "Ticket closed.", DefaultOutputOptions())
		assert.False(t, res.Blocked)
		assert.Equal(t, "Ticket closed.", res.Text)
	})

	t.Run("skipped for blank text", func(t *testing.T) {
		c := &mockClassifier{}
		g := newTestGuard(WithOutputChecker(c))

		res := g.ValidateOutput(ctx, "   ", DefaultOutputOptions())
		assert.Equal(t, "", res.Text)
		c.AssertNotCalled(t, "CheckOutput", mock.Anything, mock.Anything)
	})

	t.Run("skipped after rule block", func(t *testing.T) {
		c := &mockClassifier{}
		g := newTestGuard(WithOutputChecker(c))
		opts := DefaultOutputOptions()
		opts.SensitiveMode = SensitiveBlock

		res := g.ValidateOutput(ctx, "This is internal only.", opts)
		assert.True(t, res.Blocked)
		c.AssertNotCalled(t, "CheckOutput", mock.Anything, mock.Anything)
	})
}

func TestValidateOutput_Metrics(t *testing.T) {
	g := newTestGuard()
	m := NewMetrics()

	before := testutil.ToFloat64(m.OutputTotal.WithLabelValues(outcomeBlocked))
	opts := DefaultOutputOptions()
	opts.SensitiveMode = SensitiveBlock
	g.ValidateOutput(context.Background(), "That is confidential.", opts)

	after := testutil.ToFloat64(m.OutputTotal.WithLabelValues(outcomeBlocked))
	assert.Equal(t, before+1, after)
}

func TestOutputOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Output
	cfg.SensitiveMode = "block"
	cfg.Credentials = false
	opts := OutputOptionsFromConfig(cfg)
	require.Equal(t, SensitiveBlock, opts.SensitiveMode)
	assert.False(t, opts.Credentials)
	assert.True(t, opts.Advisory)

	o := opts.overrides()
	assert.Equal(t, redact.ActionBlock, o[redact.RuleSensitivePhrase])
	assert.Equal(t, redact.ActionSkip, o[redact.RuleCredentials])
	_, ok := o[redact.RuleCurrency]
	assert.False(t, ok)

	t.Run("defaults enable every pass", func(t *testing.T) {
		assert.Equal(t, DefaultOutputOptions(), OutputOptionsFromConfig(config.Default().Output))
	})

	t.Run("per-category toggles", func(t *testing.T) {
		cfg := config.Default().Output
		cfg.Currency = false
		cfg.SSNCard = false
		cfg.LongNumeric = false
		cfg.SensitivePhrases = false
		o := OutputOptionsFromConfig(cfg).overrides()
		for _, rule := range []string{redact.RuleCurrency, redact.RuleSSN, redact.RuleCard, redact.RuleLongNumeric, redact.RuleSensitivePhrase} {
			assert.Equal(t, redact.ActionSkip, o[rule], rule)
		}
		_, ok := o[redact.RuleCredentials]
		assert.False(t, ok)
	})
}
