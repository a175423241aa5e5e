// Package a2a implements the agent-to-agent task protocol spoken by
// capability providers: an agent card at /.well-known/agent.json, task
// creation at POST /tasks, status at GET /tasks/:id and cancellation at
// POST /tasks/:id/cancel.
package a2a

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CardPath is where a provider serves its agent card.
const CardPath = "/.well-known/agent.json"

// ErrMalformed indicates a payload that does not match the protocol.
var ErrMalformed = errors.New("a2a: malformed payload")

// TaskState is the lifecycle state of a remote task.
type TaskState string

const (
	StateSubmitted TaskState = "submitted"
	StateWorking   TaskState = "working"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
	StateCanceled  TaskState = "canceled"
)

func (s TaskState) rank() int {
	switch s {
	case StateSubmitted:
		return 0
	case StateWorking:
		return 1
	case StateCompleted, StateFailed, StateCanceled:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known state.
func (s TaskState) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether s is completed, failed or canceled.
func (s TaskState) Terminal() bool { return s.rank() == 2 }

// Advances reports whether moving from s to next is a forward transition.
// Terminal states never advance.
func (s TaskState) Advances(next TaskState) bool {
	return s.Valid() && next.Valid() && !s.Terminal() && next.rank() > s.rank()
}

// UnmarshalText rejects unknown states.
func (s *TaskState) UnmarshalText(text []byte) error {
	st := TaskState(text)
	if !st.Valid() {
		return fmt.Errorf("%w: unknown task state %q", ErrMalformed, text)
	}
	*s = st
	return nil
}

// PartKind discriminates Part.
type PartKind string

const (
	PartText PartKind = "text"
	PartFile PartKind = "file"
	PartData PartKind = "data"
)

// FileRef points to content by URI.
type FileRef struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Part is one piece of message or artifact content. Exactly one of Text,
// File or Data is meaningful, selected by Kind.
type Part struct {
	Kind PartKind
	Text string
	File *FileRef
	Data []byte
}

// TextPart creates a text part.
func TextPart(s string) Part { return Part{Kind: PartText, Text: s} }

type wirePart struct {
	Kind PartKind `json:"kind"`
	Text *string  `json:"text,omitempty"`
	File *FileRef `json:"file,omitempty"`
	Data []byte   `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Part) MarshalJSON() ([]byte, error) {
	w := wirePart{Kind: p.Kind}
	switch p.Kind {
	case PartText:
		text := p.Text
		w.Text = &text
	case PartFile:
		if p.File == nil {
			return nil, fmt.Errorf("%w: file part without file", ErrMalformed)
		}
		w.File = p.File
	case PartData:
		w.Data = p.Data
	default:
		return nil, fmt.Errorf("%w: unknown part kind %q", ErrMalformed, p.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Part) UnmarshalJSON(b []byte) error {
	var w wirePart
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Kind {
	case PartText:
		if w.Text == nil {
			return fmt.Errorf("%w: text part without text", ErrMalformed)
		}
		*p = Part{Kind: PartText, Text: *w.Text}
	case PartFile:
		if w.File == nil || w.File.URI == "" {
			return fmt.Errorf("%w: file part without uri", ErrMalformed)
		}
		*p = Part{Kind: PartFile, File: w.File}
	case PartData:
		*p = Part{Kind: PartData, Data: w.Data}
	default:
		return fmt.Errorf("%w: unknown part kind %q", ErrMalformed, w.Kind)
	}
	return nil
}

// Role is the sender of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a unit of conversation sent to or produced by a provider.
type Message struct {
	Role      Role   `json:"role"`
	MessageID string `json:"message_id"`
	ContextID string `json:"context_id,omitempty"`
	// TaskID references a prior task this message follows up on.
	TaskID string `json:"task_id,omitempty"`
	Parts  []Part `json:"parts"`
}

// Text joins the message's text parts with newlines.
func (m Message) Text() string {
	return joinText(m.Parts)
}

// SendTaskRequest is the body of POST /tasks.
type SendTaskRequest struct {
	Message  Message           `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TaskStatus is a task's current state with an optional status message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Artifact is output produced by a task.
type Artifact struct {
	ArtifactID string `json:"artifact_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Task is the provider-side unit of work.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"context_id,omitempty"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// ArtifactText concatenates the text parts of all artifacts in order.
func (t *Task) ArtifactText() string {
	var parts []Part
	for _, a := range t.Artifacts {
		parts = append(parts, a.Parts...)
	}
	return joinText(parts)
}

// StatusText returns the text of the status message, if any.
func (t *Task) StatusText() string {
	if t.Status.Message == nil {
		return ""
	}
	return t.Status.Message.Text()
}

func (t *Task) validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task without id", ErrMalformed)
	}
	if !t.Status.State.Valid() {
		return fmt.Errorf("%w: task %s has no state", ErrMalformed, t.ID)
	}
	return nil
}

func joinText(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Kind == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Skill describes one capability in an agent card.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// AgentCard is a provider's capability descriptor.
type AgentCard struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	Version     string  `json:"version,omitempty"`
	Skills      []Skill `json:"skills,omitempty"`
}
