package advisory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/supportd/internal/guardrail"
)

// stripFences returns the body of the first ``` block, or content as is.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "```")
	if start == -1 {
		return content
	}
	if nl := strings.IndexByte(content[start:], '\n'); nl != -1 {
		start += nl + 1
	} else {
		start += 3
	}
	end := strings.Index(content[start:], "```")
	if end == -1 {
		return content
	}
	return content[start : start+end]
}

func decodeObject(content string) (map[string]any, error) {
	body := stripFences(content)
	if body == "" {
		return nil, ErrEmptyResponse
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: not an object", ErrUnparseable)
	}
	return obj, nil
}

// parseInputVerdict reads {"allowed", "reason", "category"}. allowed must
// be a boolean; reason and category fall back to defaults.
func parseInputVerdict(content string) (guardrail.InputVerdict, error) {
	obj, err := decodeObject(content)
	if err != nil {
		return guardrail.InputVerdict{}, err
	}

	allowed, ok := obj["allowed"].(bool)
	if !ok {
		return guardrail.InputVerdict{}, fmt.Errorf("%w: allowed is not a boolean", ErrUnparseable)
	}

	var reason string
	switch r := obj["reason"].(type) {
	case nil:
	case string:
		reason = r
	default:
		reason = fmt.Sprint(r)
	}
	if reason == "" {
		reason = "Not allowed."
		if allowed {
			reason = "Allowed."
		}
	}

	category := guardrail.CategoryOther
	switch c := obj["category"].(type) {
	case nil:
		if allowed {
			category = guardrail.CategorySafe
		}
	case string:
		switch {
		case c != "":
			category = guardrail.ParseCategory(c)
		case allowed:
			category = guardrail.CategorySafe
		}
	}

	return guardrail.InputVerdict{Allowed: allowed, Reason: reason, Category: category}, nil
}

// parseOutputVerdict reads {"contains_sensitive", "reason"}.
func parseOutputVerdict(content string) (guardrail.OutputVerdict, error) {
	obj, err := decodeObject(content)
	if err != nil {
		return guardrail.OutputVerdict{}, err
	}
	sensitive, ok := obj["contains_sensitive"].(bool)
	if !ok {
		return guardrail.OutputVerdict{}, fmt.Errorf("%w: contains_sensitive is not a boolean", ErrUnparseable)
	}
	reason, _ := obj["reason"].(string)
	return guardrail.OutputVerdict{ContainsSensitive: sensitive, Reason: reason}, nil
}
