package recovery

import (
	"context"
	"sync"
)

// HintStore keeps one Hint per session. Get reports false when the session
// has no hint.
//
// AdvanceIf and ClearIf only act while the stored hint still points at
// taskID, and the check and the write happen as one step. A missing hint or
// one naming another task is left alone and is not an error.
type HintStore interface {
	Get(ctx context.Context, session string) (Hint, bool, error)
	Set(ctx context.Context, session string, hint Hint) error
	Clear(ctx context.Context, session string) error
	AdvanceIf(ctx context.Context, session, taskID string, mode Mode) error
	ClearIf(ctx context.Context, session, taskID string) error
}

// MemoryHintStore is a process-local HintStore. Hints do not survive a
// restart of the service.
type MemoryHintStore struct {
	mu    sync.RWMutex
	hints map[string]Hint
}

// NewMemoryHintStore creates an empty MemoryHintStore.
func NewMemoryHintStore() *MemoryHintStore {
	return &MemoryHintStore{hints: make(map[string]Hint)}
}

// Get implements HintStore.
func (s *MemoryHintStore) Get(_ context.Context, session string) (Hint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hints[session]
	return h, ok, nil
}

// Set implements HintStore.
func (s *MemoryHintStore) Set(_ context.Context, session string, hint Hint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints[session] = hint
	return nil
}

// Clear implements HintStore.
func (s *MemoryHintStore) Clear(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hints, session)
	return nil
}

// AdvanceIf implements HintStore.
func (s *MemoryHintStore) AdvanceIf(_ context.Context, session, taskID string, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hints[session]; ok && h.TaskID == taskID {
		h.Mode = mode
		s.hints[session] = h
	}
	return nil
}

// ClearIf implements HintStore.
func (s *MemoryHintStore) ClearIf(_ context.Context, session, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hints[session]; ok && h.TaskID == taskID {
		delete(s.hints, session)
	}
	return nil
}

var _ HintStore = (*MemoryHintStore)(nil)
