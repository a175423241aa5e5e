package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
)

// Priority orders tickets from P0 (most urgent) to P4.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
	P4 Priority = "P4"

	DefaultPriority = P3
)

// ParsePriority accepts "P0".."P4" in any case. Anything else yields
// DefaultPriority and false.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if p.Valid() {
		return p, true
	}
	return DefaultPriority, false
}

// Valid reports whether p is one of P0..P4.
func (p Priority) Valid() bool {
	switch p {
	case P0, P1, P2, P3, P4:
		return true
	}
	return false
}

// Rank is 0 for P0 and 4 for P4.
func (p Priority) Rank() int {
	if !p.Valid() {
		return DefaultPriority.Rank()
	}
	return int(p[1] - '0')
}

// TicketStatus tracks a ticket through the pipeline.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketEscalated  TicketStatus = "escalated"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved, TicketEscalated:
		return true
	}
	return false
}

// Closed reports whether s is resolved or escalated.
func (s TicketStatus) Closed() bool {
	return s == TicketResolved || s == TicketEscalated
}

func (s TicketStatus) canMoveTo(next TicketStatus) bool {
	if !next.Valid() || s.Closed() {
		return false
	}
	if s == TicketInProgress && next == TicketOpen {
		return false
	}
	return true
}

// Ticket is one inbound support request.
type Ticket struct {
	ID          string       `json:"id"`
	ContextID   string       `json:"context_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    Priority     `json:"priority"`
	Status      TicketStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
}

// TicketUpdate changes the non-nil fields of a ticket.
type TicketUpdate struct {
	Title       *string
	Description *string
	Priority    *Priority
	Status      *TicketStatus
}

// Task is one stage dispatch. ID is generated by the daemon; RemoteID is
// the id the provider assigned and is only unique per provider.
type Task struct {
	ID           string        `json:"id"`
	RemoteID     string        `json:"remote_task_id"`
	ContextID    string        `json:"context_id"`
	TicketID     string        `json:"ticket_id,omitempty"`
	Provider     string        `json:"provider"`
	Stage        string        `json:"stage"`
	Status       a2a.TaskState `json:"status"`
	Input        string        `json:"input"`
	Output       string        `json:"output,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	DurationMS   int64         `json:"duration_ms"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Plan records the stage sequence chosen for a ticket. Plans are write-once.
type Plan struct {
	TicketID    string    `json:"ticket_id"`
	Description string    `json:"description"`
	Stages      []string  `json:"stages"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t *Task) validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task id required", ErrInvalid)
	}
	if t.RemoteID == "" {
		return fmt.Errorf("%w: remote task id required", ErrInvalid)
	}
	if t.Provider == "" {
		return fmt.Errorf("%w: task provider required", ErrInvalid)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: task status %q", ErrInvalid, t.Status)
	}
	return nil
}
