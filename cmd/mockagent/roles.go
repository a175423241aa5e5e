package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
)

type role struct {
	name        string
	description string
	exec        a2a.Executor
}

var roles = map[string]role{
	"ingestion": {"Ingestion Agent", "Turns a raw support message into a structured ticket", ingest},
	"intent":    {"Intent Agent", "Classifies incident type, urgency and SLA risk", classify},
	"rag":       {"RAG Agent", "Retrieves knowledge base articles", retrieve},
	"memory":    {"Memory Agent", "Recalls and stores past ticket resolutions", recall},
	"reasoning": {"Reasoning Agent", "Correlates classification, knowledge and history", reason},
	"response":  {"Response Agent", "Writes the customer-facing reply", respond},
	"echo":      {"Echo Agent", "Returns the task text unchanged", echo},
}

var errScripted = errors.New("scripted failure")

var priorityRe = regexp.MustCompile(`(?i)\bP[0-4]\b`)

// section returns the body of a "### Label" block, or "".
func section(text, label string) string {
	marker := "### " + label + "\n"
	i := strings.Index(text, marker)
	if i < 0 {
		return ""
	}
	body := text[i+len(marker):]
	if j := strings.Index(body, "\n\n### "); j >= 0 {
		body = body[:j]
	}
	return strings.TrimSpace(body)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func ingest(_ context.Context, req a2a.SendTaskRequest) (string, error) {
	text := section(req.Message.Text(), "Request")
	if text == "" {
		text = req.Message.Text()
	}
	priority := "P3"
	if m := priorityRe.FindString(text); m != "" {
		priority = strings.ToUpper(m)
	}
	title := firstLine(text)
	if len(title) > 60 {
		title = title[:60]
	}
	b, err := json.Marshal(map[string]string{"title": title, "description": text, "priority": priority})
	return string(b), err
}

var incidentKeywords = []struct {
	kind  string
	words []string
}{
	{"Payment", []string{"payment", "charge", "refund", "invoice", "billing"}},
	{"Auth", []string{"login", "log in", "password", "2fa", "sign in"}},
	{"API", []string{"api", "endpoint", "webhook"}},
	{"Network", []string{"timeout", "network", "dns", "latency"}},
}

func classify(_ context.Context, req a2a.SendTaskRequest) (string, error) {
	text := strings.ToLower(req.Message.Text())
	kind := "Other"
	for _, k := range incidentKeywords {
		for _, w := range k.words {
			if strings.Contains(text, w) {
				kind = k.kind
				break
			}
		}
		if kind != "Other" {
			break
		}
	}
	urgency, risk := "P3", "Low"
	if strings.Contains(text, "urgent") || strings.Contains(text, "down") || kind == "Payment" {
		urgency, risk = "P1", "High"
	}
	b, err := json.Marshal(map[string]string{
		"incident_type": kind,
		"urgency":       urgency,
		"sla_risk":      risk,
		"reasoning":     "keyword match on " + strings.ToLower(kind),
	})
	return string(b), err
}

func retrieve(_ context.Context, req a2a.SendTaskRequest) (string, error) {
	title := firstLine(section(req.Message.Text(), "Ticket"))
	return fmt.Sprintf("KB-1042: Troubleshooting steps for %q. Verify account status, retry after 15 minutes, then contact billing.", title), nil
}

func recall(_ context.Context, req a2a.SendTaskRequest) (string, error) {
	text := req.Message.Text()
	if strings.HasPrefix(text, "Store this ticket resolution") {
		return "stored", nil
	}
	return "No similar past tickets found.", nil
}

func reason(_ context.Context, req a2a.SendTaskRequest) (string, error) {
	cls := section(req.Message.Text(), "Classification")
	return "Root cause hypothesis based on " + firstLine(cls) + ". Recommend the documented remediation.", nil
}

func respond(_ context.Context, req a2a.SendTaskRequest) (string, error) {
	text := req.Message.Text()
	ticket := section(text, "Ticket")
	analysis := section(text, "Analysis")
	reply := "Thanks for reaching out. We looked into " + strings.TrimPrefix(firstLine(ticket), "Title: ") + "."
	if analysis != "" {
		reply += " " + firstLine(analysis)
	}
	return reply, nil
}

func echo(_ context.Context, req a2a.SendTaskRequest) (string, error) {
	return req.Message.Text(), nil
}

func withDelay(exec a2a.Executor, d time.Duration) a2a.Executor {
	if d <= 0 {
		return exec
	}
	return func(ctx context.Context, req a2a.SendTaskRequest) (string, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
		return exec(ctx, req)
	}
}

func withFailures(exec a2a.Executor, every int) a2a.Executor {
	if every <= 0 {
		return exec
	}
	var n atomic.Int64
	return func(ctx context.Context, req a2a.SendTaskRequest) (string, error) {
		if n.Add(1)%int64(every) == 0 {
			return "", errScripted
		}
		return exec(ctx, req)
	}
}
