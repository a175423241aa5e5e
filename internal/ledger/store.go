// Package ledger persists tickets, stage tasks and execution plans in
// SQLite.
//
// Task status only moves forward (submitted, working, then one terminal
// state) and terminal rows are never rewritten. Tickets move from open
// through in_progress to resolved or escalated.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
)

var (
	// ErrNotFound is returned when a ticket, task or plan does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned for records missing required fields.
	ErrInvalid = errors.New("invalid record")

	// ErrInvalidTransition is returned when a status would move backwards
	// or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPlanExists is returned when a ticket already has a plan.
	ErrPlanExists = errors.New("plan already recorded")
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is the SQLite ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		context_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'P3',
		status TEXT NOT NULL DEFAULT 'open',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		resolved_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		remote_task_id TEXT NOT NULL,
		context_id TEXT NOT NULL,
		ticket_id TEXT REFERENCES tickets(id),
		provider TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		input TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS plans (
		ticket_id TEXT PRIMARY KEY REFERENCES tickets(id),
		description TEXT NOT NULL,
		stages TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_context ON tickets(context_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_ticket ON tasks(ticket_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_context_stage ON tasks(context_id, stage, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_remote ON tasks(provider, remote_task_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// --- Tickets ---

// CreateTicket inserts t, assigning an ID and timestamps when unset.
func (s *Store) CreateTicket(ctx context.Context, t *Ticket) error {
	if t.ContextID == "" {
		return fmt.Errorf("%w: ticket context id required", ErrInvalid)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if !t.Priority.Valid() {
		t.Priority = DefaultPriority
	}
	if t.Status == "" {
		t.Status = TicketOpen
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: ticket status %q", ErrInvalid, t.Status)
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, context_id, title, description, priority, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ContextID, t.Title, t.Description, t.Priority, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

const ticketColumns = `id, context_id, title, description, priority, status, created_at, updated_at, resolved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*Ticket, error) {
	var (
		t        Ticket
		resolved sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ContextID, &t.Title, &t.Description, &t.Priority, &t.Status,
		&t.CreatedAt, &t.UpdatedAt, &resolved)
	if err != nil {
		return nil, err
	}
	if resolved.Valid {
		ts := resolved.Time
		t.ResolvedAt = &ts
	}
	return &t, nil
}

// GetTicket returns a ticket by ID.
func (s *Store) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query ticket: %w", err)
	}
	return t, nil
}

// ListTickets returns the tickets of a conversation, newest first. An
// empty contextID lists all tickets. limit <= 0 means no limit.
func (s *Store) ListTickets(ctx context.Context, contextID string, limit int) ([]*Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if contextID != "" {
		query += ` WHERE context_id = ?`
		args = append(args, contextID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTicket applies the non-nil fields of u and returns the new ticket.
// Closed tickets reject status changes.
func (s *Store) UpdateTicket(ctx context.Context, id string, u TicketUpdate) (*Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTicket(tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query ticket: %w", err)
	}

	now := s.now()
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		if !u.Priority.Valid() {
			return nil, fmt.Errorf("%w: priority %q", ErrInvalid, *u.Priority)
		}
		t.Priority = *u.Priority
	}
	if u.Status != nil && *u.Status != t.Status {
		if !t.Status.canMoveTo(*u.Status) {
			return nil, fmt.Errorf("%w: ticket %s %s -> %s", ErrInvalidTransition, id, t.Status, *u.Status)
		}
		t.Status = *u.Status
		if t.Status.Closed() {
			t.ResolvedAt = &now
		}
	}
	t.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE tickets SET title = ?, description = ?, priority = ?, status = ?, updated_at = ?, resolved_at = ?
		 WHERE id = ?`,
		t.Title, t.Description, t.Priority, t.Status, t.UpdatedAt, nullTime(t.ResolvedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// --- Tasks ---

const taskColumns = `id, remote_task_id, context_id, ticket_id, provider, stage, status, input, output, error_message, duration_ms, created_at, completed_at`

func scanTask(row scanner) (*Task, error) {
	var (
		t         Task
		ticketID  sql.NullString
		completed sql.NullTime
	)
	err := row.Scan(&t.ID, &t.RemoteID, &t.ContextID, &ticketID, &t.Provider, &t.Stage, &t.Status, &t.Input,
		&t.Output, &t.ErrorMessage, &t.DurationMS, &t.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	t.TicketID = ticketID.String
	if completed.Valid {
		ts := completed.Time
		t.CompletedAt = &ts
	}
	return &t, nil
}

// RecordTask inserts a task or advances the row with the same ID. A
// repeated
// status is a no-op that may still fill in output fields; a status that
// does not advance returns ErrInvalidTransition and leaves the row as is.
func (s *Store) RecordTask(ctx context.Context, t Task) error {
	if err := t.validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, t.ID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.insertTask(ctx, tx, &t); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("query task: %w", err)
	default:
		if err := s.advanceTask(ctx, tx, cur, &t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) insertTask(ctx context.Context, tx *sql.Tx, t *Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.Status.Terminal() && t.CompletedAt == nil {
		now := s.now()
		t.CompletedAt = &now
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RemoteID, t.ContextID, nullString(t.TicketID), t.Provider, t.Stage, t.Status, t.Input,
		t.Output, t.ErrorMessage, t.DurationMS, t.CreatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) advanceTask(ctx context.Context, tx *sql.Tx, cur, next *Task) error {
	if next.Status != cur.Status && !cur.Status.Advances(next.Status) {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, cur.ID, cur.Status, next.Status)
	}
	if cur.Status.Terminal() {
		return nil
	}

	merged := *cur
	merged.Status = next.Status
	if next.Output != "" {
		merged.Output = next.Output
	}
	if next.ErrorMessage != "" {
		merged.ErrorMessage = next.ErrorMessage
	}
	if next.DurationMS > 0 {
		merged.DurationMS = next.DurationMS
	}
	if merged.Status.Terminal() {
		now := s.now()
		if next.CompletedAt != nil {
			now = *next.CompletedAt
		}
		merged.CompletedAt = &now
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, output = ?, error_message = ?, duration_ms = ?, completed_at = ? WHERE id = ?`,
		merged.Status, merged.Output, merged.ErrorMessage, merged.DurationMS, nullTime(merged.CompletedAt), cur.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// GetTask returns a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// ListTasks returns the tasks of a ticket in creation order.
func (s *Store) ListTasks(ctx context.Context, ticketID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE ticket_id = ? ORDER BY created_at, rowid`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LastCompletedTask returns the most recently completed task of a stage
// in a conversation. Its RemoteID continues the provider-side task.
func (s *Store) LastCompletedTask(ctx context.Context, contextID, stage string) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE context_id = ? AND stage = ? AND status = ?
		 ORDER BY completed_at DESC, rowid DESC LIMIT 1`,
		contextID, stage, a2a.StateCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("completed %s task in %s: %w", stage, contextID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// --- Plans ---

// SavePlan records the plan for a ticket once.
func (s *Store) SavePlan(ctx context.Context, p *Plan) error {
	if p.TicketID == "" {
		return fmt.Errorf("%w: plan ticket id required", ErrInvalid)
	}
	stages, err := json.Marshal(p.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (ticket_id, description, stages, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(ticket_id) DO NOTHING`,
		p.TicketID, p.Description, string(stages), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %s: %w", p.TicketID, ErrPlanExists)
	}
	return nil
}

// GetPlan returns the plan for a ticket.
func (s *Store) GetPlan(ctx context.Context, ticketID string) (*Plan, error) {
	var (
		p      Plan
		stages string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT ticket_id, description, stages, created_at FROM plans WHERE ticket_id = ?`, ticketID,
	).Scan(&p.TicketID, &p.Description, &stages, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan for %s: %w", ticketID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &p.Stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
