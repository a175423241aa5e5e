package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/supportd/internal/ledger"
)

var (
	flatObjectPattern = regexp.MustCompile(`(?s)\{[^{}]*\}`)
	priorityPattern   = regexp.MustCompile(`(?i)\bP[0-4]\b`)
)

const (
	untitled       = "Untitled Ticket"
	maxTitleLength = 100
)

// TicketFields are the structured fields extracted from normalize output.
type TicketFields struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    ledger.Priority `json:"priority"`
}

// ParseTicket extracts ticket fields from normalize output. The first flat
// JSON object wins; otherwise the priority is the first P0..P4 token, the
// title the first line and the description the whole text.
func ParseTicket(text string) TicketFields {
	if obj, ok := firstObject(text); ok {
		f := TicketFields{
			Title:       stringField(obj, "title"),
			Description: stringField(obj, "description"),
			Priority:    ledger.DefaultPriority,
		}
		if f.Title == "" {
			f.Title = untitled
		}
		if f.Description == "" {
			f.Description = text
		}
		if p, ok := ledger.ParsePriority(stringField(obj, "priority")); ok {
			f.Priority = p
		}
		return f
	}
	return fallbackTicket(text)
}

func fallbackTicket(text string) TicketFields {
	f := TicketFields{Description: text, Priority: ledger.DefaultPriority}
	if m := priorityPattern.FindString(text); m != "" {
		f.Priority, _ = ledger.ParsePriority(m)
	}
	line, _, _ := strings.Cut(text, "\n")
	f.Title = strings.TrimSpace(line)
	if f.Title == "" {
		f.Title = untitled
	}
	if utf8.RuneCountInString(f.Title) > maxTitleLength {
		f.Title = string([]rune(f.Title)[:maxTitleLength]) + "..."
	}
	return f
}

// Classification is the intent stage verdict.
type Classification struct {
	IncidentType string          `json:"incident_type"`
	Urgency      ledger.Priority `json:"urgency"`
	SLARisk      string          `json:"sla_risk"`
	Reasoning    string          `json:"reasoning"`
}

var incidentTypes = []string{"Payment", "API", "Dashboard", "Auth", "Network", "Other"}

// ParseClassification extracts a Classification from intent output. A flat
// JSON object counts only when it carries incident_type and urgency;
// otherwise keywords are scanned.
func ParseClassification(text string) Classification {
	if obj, ok := firstObject(text); ok {
		_, hasType := obj["incident_type"]
		_, hasUrgency := obj["urgency"]
		if hasType && hasUrgency {
			c := Classification{
				IncidentType: stringField(obj, "incident_type"),
				SLARisk:      stringField(obj, "sla_risk"),
				Reasoning:    stringField(obj, "reasoning"),
			}
			c.Urgency, _ = ledger.ParsePriority(stringField(obj, "urgency"))
			return c
		}
	}

	lower := strings.ToLower(text)
	c := Classification{
		IncidentType: "Other",
		Urgency:      ledger.DefaultPriority,
		SLARisk:      "Medium",
		Reasoning:    "Extracted from text analysis",
	}
	for _, it := range incidentTypes {
		if strings.Contains(lower, strings.ToLower(it)) {
			c.IncidentType = it
			break
		}
	}
	for _, p := range []ledger.Priority{ledger.P0, ledger.P1, ledger.P2, ledger.P3, ledger.P4} {
		if strings.Contains(text, string(p)) {
			c.Urgency = p
			break
		}
	}
	if strings.Contains(lower, "sla") {
		switch {
		case strings.Contains(lower, "high"):
			c.SLARisk = "High"
		case strings.Contains(lower, "low"):
			c.SLARisk = "Low"
		}
	}
	return c
}

func firstObject(text string) (map[string]any, bool) {
	m := flatObjectPattern.FindString(text)
	if m == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(m), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}
