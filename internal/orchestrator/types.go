package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fyrsmithlabs/supportd/internal/config"
	"github.com/fyrsmithlabs/supportd/internal/ledger"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageNormalize       Stage = "normalize"
	StageClassify        Stage = "classify"
	StageKnowledge       Stage = "knowledge"
	StageMemory          Stage = "memory"
	StageReasoning       Stage = "reasoning"
	StageSynthesize      Stage = "synthesize"
	StageStoreResolution Stage = "store_resolution"
)

// Required reports whether a failure of the stage aborts the ticket.
func (s Stage) Required() bool {
	switch s {
	case StageNormalize, StageClassify, StageSynthesize:
		return true
	}
	return false
}

// StageSpec binds a stage to a provider.
type StageSpec struct {
	Stage    Stage  `json:"stage"`
	Provider string `json:"provider"`
	Required bool   `json:"required"`
}

// Config maps stages to provider names.
type Config struct {
	Normalize       string
	Classify        string
	Knowledge       string
	Memory          string
	Reasoning       string
	Synthesize      string
	StoreResolution bool
}

// FromAppConfig converts the pipeline config section.
func FromAppConfig(c config.PipelineConfig) Config {
	return Config{
		Normalize:       c.Normalize,
		Classify:        c.Classify,
		Knowledge:       c.Knowledge,
		Memory:          c.Memory,
		Reasoning:       c.Reasoning,
		Synthesize:      c.Synthesize,
		StoreResolution: c.StoreResolution,
	}
}

// Validate requires a provider for every required stage.
func (c Config) Validate() error {
	var missing []string
	if c.Normalize == "" {
		missing = append(missing, string(StageNormalize))
	}
	if c.Classify == "" {
		missing = append(missing, string(StageClassify))
	}
	if c.Synthesize == "" {
		missing = append(missing, string(StageSynthesize))
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: no provider for required stage(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) spec(s Stage) StageSpec {
	var provider string
	switch s {
	case StageNormalize:
		provider = c.Normalize
	case StageClassify:
		provider = c.Classify
	case StageKnowledge:
		provider = c.Knowledge
	case StageMemory, StageStoreResolution:
		provider = c.Memory
	case StageReasoning:
		provider = c.Reasoning
	case StageSynthesize:
		provider = c.Synthesize
	}
	return StageSpec{Stage: s, Provider: provider, Required: s.Required()}
}

// ExecutionPlan documents the stage sequence chosen for a ticket. It is
// recorded once for audit and never drives control flow.
type ExecutionPlan struct {
	Description string        `json:"description"`
	Steps       [][]StageSpec `json:"steps"`
}

// Plan returns the fixed topology for c. Auxiliary stages without a
// provider are left out.
func (c Config) Plan() ExecutionPlan {
	var steps [][]StageSpec
	add := func(stages ...Stage) {
		var step []StageSpec
		for _, s := range stages {
			if sp := c.spec(s); sp.Provider != "" || sp.Required {
				step = append(step, sp)
			}
		}
		if len(step) > 0 {
			steps = append(steps, step)
		}
	}
	add(StageNormalize)
	add(StageClassify, StageKnowledge, StageMemory)
	add(StageReasoning)
	add(StageSynthesize)
	if c.StoreResolution {
		add(StageStoreResolution)
	}

	parts := make([]string, 0, len(steps))
	for _, step := range steps {
		names := make([]string, len(step))
		for i, sp := range step {
			names[i] = fmt.Sprintf("%s via %s", sp.Stage, sp.Provider)
		}
		parts = append(parts, strings.Join(names, " || "))
	}
	return ExecutionPlan{Description: strings.Join(parts, " -> "), Steps: steps}
}

// stageList flattens the plan for the ledger: one entry per step, parallel
// members joined by "|".
func (p ExecutionPlan) stageList() []string {
	out := make([]string, len(p.Steps))
	for i, step := range p.Steps {
		names := make([]string, len(step))
		for j, sp := range step {
			names[j] = string(sp.Stage)
		}
		out[i] = strings.Join(names, "|")
	}
	return out
}

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageResult records one stage execution.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Provider string        `json:"provider"`
	TaskID   string        `json:"task_id,omitempty"`
	Status   StageStatus   `json:"status"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	// dispatched is false when nothing reached the provider.
	dispatched bool
	err        error
}

// Err returns the stage failure, if any.
func (r StageResult) Err() error { return r.err }

// ProgressState describes a Progress event.
type ProgressState string

const (
	ProgressStarted   ProgressState = "started"
	ProgressCompleted ProgressState = "completed"
	ProgressFailed    ProgressState = "failed"
	ProgressSkipped   ProgressState = "skipped"
)

// Progress reports stage activity while a ticket runs.
type Progress struct {
	Stage    Stage         `json:"stage"`
	Provider string        `json:"provider"`
	State    ProgressState `json:"state"`
	Message  string        `json:"message,omitempty"`
}

// ProgressFunc receives Progress events. Barrier members report
// concurrently, so implementations must be safe for concurrent use.
type ProgressFunc func(Progress)

// Request is one inbound support message.
type Request struct {
	Text      string
	ContextID string
	// Progress is optional.
	Progress ProgressFunc
}

// Outcome is the result of running the pipeline for one ticket.
type Outcome struct {
	TicketID       string          `json:"ticket_id"`
	ContextID      string          `json:"context_id"`
	Draft          string          `json:"draft"`
	Ticket         TicketFields    `json:"ticket"`
	Classification *Classification `json:"classification,omitempty"`
	AgentsUsed     []string        `json:"agents_used"`
	Stages         []StageResult   `json:"stages"`
	Notes          []string        `json:"notes,omitempty"`
	Plan           ExecutionPlan   `json:"plan"`

	req Request
}

func (o *Outcome) add(r StageResult) {
	o.Stages = append(o.Stages, r)
	if r.dispatched && !slices.Contains(o.AgentsUsed, r.Provider) {
		o.AgentsUsed = append(o.AgentsUsed, r.Provider)
	}
	if r.Status == StageFailed && !r.Stage.Required() {
		o.Notes = append(o.Notes, fmt.Sprintf("%s via %s unavailable: %s", r.Stage, r.Provider, r.Error))
	}
}

func (o *Outcome) output(s Stage) string {
	for _, r := range o.Stages {
		if r.Stage == s && r.Status == StageCompleted {
			return r.Output
		}
	}
	return ""
}

// StageError is a required-stage failure that aborted a ticket.
type StageError struct {
	Stage    Stage
	Provider string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s): %v", e.Stage, e.Provider, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

var (
	// ErrEmptyRequest is returned for a request without text.
	ErrEmptyRequest = errors.New("empty request")

	// ErrEmptyDraft means response synthesis completed without any text.
	ErrEmptyDraft = errors.New("synthesis produced no response")
)

// Ledger persists tickets and plans. *ledger.Store implements it.
type Ledger interface {
	CreateTicket(ctx context.Context, t *ledger.Ticket) error
	UpdateTicket(ctx context.Context, id string, u ledger.TicketUpdate) (*ledger.Ticket, error)
	SavePlan(ctx context.Context, p *ledger.Plan) error
	LastCompletedTask(ctx context.Context, contextID, stage string) (*ledger.Task, error)
}
