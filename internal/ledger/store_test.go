package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTicket(t *testing.T, s *Store, contextID string) *Ticket {
	t.Helper()
	tk := &Ticket{ContextID: contextID, Title: "Login broken", Description: "cannot log in since yesterday"}
	require.NoError(t, s.CreateTicket(context.Background(), tk))
	return tk
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))

	// Reopening runs the idempotent migration again.
	require.NoError(t, s.Close())
	s2, err := Open(context.Background(), path)
	require.NoError(t, err)
	assert.NoError(t, s2.Close())
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	tk := &Ticket{ContextID: "c1", Title: "x"}
	require.NoError(t, s.CreateTicket(context.Background(), tk))
	_, err = s.GetTicket(context.Background(), tk.ID)
	assert.NoError(t, err)
}

func TestTicketLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk := newTicket(t, s, "conv-1")

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, DefaultPriority, tk.Priority)
	assert.Equal(t, TicketOpen, tk.Status)

	got, err := s.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login broken", got.Title)
	assert.Equal(t, "conv-1", got.ContextID)
	assert.WithinDuration(t, tk.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.Nil(t, got.ResolvedAt)

	inProgress := TicketInProgress
	p1 := P1
	got, err = s.UpdateTicket(ctx, tk.ID, TicketUpdate{Status: &inProgress, Priority: &p1})
	require.NoError(t, err)
	assert.Equal(t, TicketInProgress, got.Status)
	assert.Equal(t, P1, got.Priority)

	resolved := TicketResolved
	got, err = s.UpdateTicket(ctx, tk.ID, TicketUpdate{Status: &resolved})
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)

	stored, err := s.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, TicketResolved, stored.Status)
	require.NotNil(t, stored.ResolvedAt)

	t.Run("closed tickets keep their status", func(t *testing.T) {
		escalated := TicketEscalated
		_, err := s.UpdateTicket(ctx, tk.ID, TicketUpdate{Status: &escalated})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		open := TicketOpen
		_, err = s.UpdateTicket(ctx, tk.ID, TicketUpdate{Status: &open})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("invalid priority", func(t *testing.T) {
		bad := Priority("P9")
		_, err := s.UpdateTicket(ctx, tk.ID, TicketUpdate{Priority: &bad})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetTicket(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.UpdateTicket(ctx, "nope", TicketUpdate{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateTicket_RequiresContext(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateTicket(context.Background(), &Ticket{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestListTickets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := newTicket(t, s, "conv-1")
	second := newTicket(t, s, "conv-1")
	newTicket(t, s, "conv-2")

	got, err := s.ListTickets(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	all, err := s.ListTickets(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.ListTickets(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordTask_Monotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk := newTicket(t, s, "conv-1")

	task := Task{
		ID:        "task-1",
		RemoteID:  "remote-1",
		ContextID: "conv-1",
		TicketID:  tk.ID,
		Provider:  "Intent Agent",
		Stage:     "classify",
		Status:    a2a.StateSubmitted,
		Input:     "charged twice",
	}
	require.NoError(t, s.RecordTask(ctx, task))

	task.Status = a2a.StateWorking
	require.NoError(t, s.RecordTask(ctx, task))

	// Repeating a status is harmless.
	require.NoError(t, s.RecordTask(ctx, task))

	task.Status = a2a.StateCompleted
	task.Output = "billing"
	task.DurationMS = 42
	require.NoError(t, s.RecordTask(ctx, task))

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, a2a.StateCompleted, got.Status)
	assert.Equal(t, "billing", got.Output)
	assert.Equal(t, "charged twice", got.Input)
	assert.Equal(t, int64(42), got.DurationMS)
	assert.Equal(t, tk.ID, got.TicketID)
	assert.Equal(t, "remote-1", got.RemoteID)
	require.NotNil(t, got.CompletedAt)

	t.Run("backwards", func(t *testing.T) {
		back := task
		back.Status = a2a.StateWorking
		assert.ErrorIs(t, s.RecordTask(ctx, back), ErrInvalidTransition)
	})

	t.Run("terminal to terminal", func(t *testing.T) {
		failed := task
		failed.Status = a2a.StateFailed
		failed.ErrorMessage = "late failure"
		assert.ErrorIs(t, s.RecordTask(ctx, failed), ErrInvalidTransition)

		got, err := s.GetTask(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, a2a.StateCompleted, got.Status)
		assert.Empty(t, got.ErrorMessage)
	})

	t.Run("terminal repeat does not rewrite", func(t *testing.T) {
		again := task
		again.Output = "changed"
		require.NoError(t, s.RecordTask(ctx, again))

		got, err := s.GetTask(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, "billing", got.Output)
	})
}

func TestRecordTask_FailureRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordTask(ctx, Task{ID: "t", RemoteID: "r", ContextID: "c", Provider: "RAG Agent", Status: a2a.StateSubmitted}))
	require.NoError(t, s.RecordTask(ctx, Task{
		ID: "t", RemoteID: "r", ContextID: "c", Provider: "RAG Agent",
		Status: a2a.StateFailed, ErrorMessage: "index offline", DurationMS: 7,
	}))

	got, err := s.GetTask(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, a2a.StateFailed, got.Status)
	assert.Equal(t, "index offline", got.ErrorMessage)
	assert.Equal(t, int64(7), got.DurationMS)
	assert.Empty(t, got.TicketID)
}

func TestRecordTask_Invalid(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name string
		task Task
	}{
		{"no id", Task{RemoteID: "r", Provider: "p", Status: a2a.StateSubmitted}},
		{"no remote id", Task{ID: "t", Provider: "p", Status: a2a.StateSubmitted}},
		{"no provider", Task{ID: "t", RemoteID: "r", Status: a2a.StateSubmitted}},
		{"bad status", Task{ID: "t", RemoteID: "r", Provider: "p", Status: "input-required"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.RecordTask(context.Background(), tt.task), ErrInvalid)
		})
	}
}

func TestListTasksAndLastCompleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk := newTicket(t, s, "conv-1")

	record := func(id, stage string, state a2a.TaskState) {
		require.NoError(t, s.RecordTask(ctx, Task{
			ID: id, RemoteID: "remote-" + id, ContextID: "conv-1", TicketID: tk.ID, Provider: "Response Agent",
			Stage: stage, Status: state,
		}))
	}
	record("a", "normalize", a2a.StateCompleted)
	record("b", "synthesize", a2a.StateCompleted)
	record("c", "synthesize", a2a.StateCompleted)
	record("d", "synthesize", a2a.StateFailed)

	tasks, err := s.ListTasks(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "d", tasks[3].ID)

	last, err := s.LastCompletedTask(ctx, "conv-1", "synthesize")
	require.NoError(t, err)
	assert.Equal(t, "c", last.ID)
	assert.Equal(t, "remote-c", last.RemoteID)

	_, err = s.LastCompletedTask(ctx, "conv-2", "synthesize")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordTask_RemoteIDsMayRepeatAcrossProviders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk := newTicket(t, s, "conv-1")

	for _, task := range []Task{
		{ID: "d-intent", RemoteID: "1", Provider: "Intent Agent", Stage: "classify"},
		{ID: "d-rag", RemoteID: "1", Provider: "RAG Agent", Stage: "knowledge"},
	} {
		task.ContextID, task.TicketID = "conv-1", tk.ID
		task.Status = a2a.StateSubmitted
		require.NoError(t, s.RecordTask(ctx, task))
		task.Status, task.Output = a2a.StateCompleted, task.Provider+" output"
		require.NoError(t, s.RecordTask(ctx, task))
	}

	tasks, err := s.ListTasks(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, "1", task.RemoteID)
		assert.Equal(t, a2a.StateCompleted, task.Status, task.Provider)
		assert.Equal(t, task.Provider+" output", task.Output)
	}
}

func TestPlans(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk := newTicket(t, s, "conv-1")

	plan := &Plan{
		TicketID:    tk.ID,
		Description: "normalize, then classify with knowledge and memory, then reason and respond",
		Stages:      []string{"normalize", "classify|knowledge|memory", "reasoning", "synthesize"},
	}
	require.NoError(t, s.SavePlan(ctx, plan))

	got, err := s.GetPlan(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Stages, got.Stages)
	assert.Equal(t, plan.Description, got.Description)

	err = s.SavePlan(ctx, &Plan{TicketID: tk.ID, Description: "other"})
	assert.ErrorIs(t, err, ErrPlanExists)

	got, err = s.GetPlan(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Description, got.Description)

	_, err = s.GetPlan(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SavePlan(ctx, &Plan{}), ErrInvalid)
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		ok   bool
	}{
		{"P0", P0, true},
		{" p2 ", P2, true},
		{"P4", P4, true},
		{"P5", DefaultPriority, false},
		{"high", DefaultPriority, false},
		{"", DefaultPriority, false},
	}
	for _, tt := range tests {
		got, ok := ParsePriority(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
	assert.Equal(t, 0, P0.Rank())
	assert.Equal(t, 4, P4.Rank())
	assert.Less(t, P1.Rank(), P3.Rank())
}
