package events

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrSessionActive is returned when a conversation already has a request
// in flight.
var ErrSessionActive = errors.New("conversation already has an active request")

// Sessions tracks conversations with a request in flight. Cancel both
// forgets the session and cancels its context.
type Sessions struct {
	mu      sync.Mutex
	active  map[string]*session
	metrics *Metrics
}

type session struct {
	cancel context.CancelCauseFunc
}

// ErrSessionCanceled is the cancellation cause set by Cancel.
var ErrSessionCanceled = errors.New("session canceled")

// NewSessions creates an empty session set.
func NewSessions() *Sessions {
	return &Sessions{active: make(map[string]*session), metrics: NewMetrics()}
}

// Begin marks a conversation active and returns a context that Cancel
// will cancel. The caller must call release when the request ends.
func (s *Sessions) Begin(ctx context.Context, conversationID string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[conversationID]; ok {
		s.metrics.Rejected.Inc()
		return nil, nil, ErrSessionActive
	}
	ctx, cancel := context.WithCancelCause(ctx)
	sess := &session{cancel: cancel}
	s.active[conversationID] = sess
	s.metrics.Active.Inc()

	release := func() {
		s.mu.Lock()
		if s.active[conversationID] == sess {
			delete(s.active, conversationID)
			s.metrics.Active.Dec()
		}
		s.mu.Unlock()
		cancel(nil)
	}
	return ctx, release, nil
}

// Cancel removes a conversation from the active set and cancels its
// context. It reports whether the conversation was active.
func (s *Sessions) Cancel(conversationID string) bool {
	s.mu.Lock()
	sess, ok := s.active[conversationID]
	if ok {
		delete(s.active, conversationID)
		s.metrics.Active.Dec()
	}
	s.mu.Unlock()
	if ok {
		sess.cancel(ErrSessionCanceled)
		s.metrics.Canceled.Inc()
	}
	return ok
}

// Active reports whether a conversation has a request in flight.
func (s *Sessions) Active(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[conversationID]
	return ok
}

// List returns the active conversation IDs, sorted.
func (s *Sessions) List() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)
	return ids
}
