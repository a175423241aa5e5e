package redact

import (
	"fmt"
	"regexp"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// credentialDetector finds API keys, tokens and private keys with the
// gitleaks default rule set.
type credentialDetector struct {
	cfg gitleaksConfig.Config
}

func newCredentialDetector(allow *Allowlist) (*credentialDetector, error) {
	base, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	cfg := base.Config
	if !allow.Empty() {
		if err := applyAllowlist(&cfg, allow); err != nil {
			return nil, err
		}
	}
	return &credentialDetector{cfg: cfg}, nil
}

// redact replaces every detected secret. A fresh Detector is built per call
// because Detector accumulates state; the parsed rule set is shared.
func (c *credentialDetector) redact(text string) (string, int) {
	findings := detect.NewDetector(c.cfg).DetectString(text)

	count := 0
	for _, f := range findings {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" || !strings.Contains(text, secret) {
			continue
		}
		text = strings.ReplaceAll(text, secret, Placeholder)
		count++
	}
	return text, count
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) error {
	entry := &gitleaksConfig.Allowlist{
		Description: "supportd response allowlist",
		StopWords:   allow.StopWords,
	}
	for _, pattern := range allow.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRegex, pattern, err)
		}
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, entry)
	return nil
}
