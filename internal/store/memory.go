package store

import (
	"context"
	"sync"
)

type collapseKey struct {
	processID string
	kind      string
}

// MemoryStore keeps dashboard state in-memory. It is safe for concurrent use
// and intended for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	collapse  map[collapseKey]CollapseState
	enabled   map[string]EnabledState
	recording map[string]RecordingState
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collapse:  make(map[collapseKey]CollapseState),
		enabled:   make(map[string]EnabledState),
		recording: make(map[string]RecordingState),
	}
}

// Ping always reports success for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// ListCollapse returns every collapse record held for the process.
func (s *MemoryStore) ListCollapse(_ context.Context, processID string) ([]CollapseState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CollapseState
	for key, state := range s.collapse {
		if key.processID == processID {
			out = append(out, state)
		}
	}
	return out, nil
}

// UpsertCollapse stores a collapse record keyed by process id and panel kind.
func (s *MemoryStore) UpsertCollapse(_ context.Context, state CollapseState) error {
	s.mu.Lock()
	s.collapse[collapseKey{state.ProcessID, state.Kind}] = state
	s.mu.Unlock()
	return nil
}

// DeleteCollapse removes all collapse records for the process.
func (s *MemoryStore) DeleteCollapse(_ context.Context, processID string) error {
	s.mu.Lock()
	for key := range s.collapse {
		if key.processID == processID {
			delete(s.collapse, key)
		}
	}
	s.mu.Unlock()
	return nil
}

// GetEnabled fetches the enable switch record for the process.
func (s *MemoryStore) GetEnabled(_ context.Context, processID string) (EnabledState, bool, error) {
	s.mu.RLock()
	state, ok := s.enabled[processID]
	s.mu.RUnlock()
	return state, ok, nil
}

// UpsertEnabled stores the enable switch record for the process.
func (s *MemoryStore) UpsertEnabled(_ context.Context, state EnabledState) error {
	s.mu.Lock()
	s.enabled[state.ProcessID] = state
	s.mu.Unlock()
	return nil
}

// DeleteEnabled removes the enable switch record for the process.
func (s *MemoryStore) DeleteEnabled(_ context.Context, processID string) error {
	s.mu.Lock()
	delete(s.enabled, processID)
	s.mu.Unlock()
	return nil
}

// GetRecording fetches the recording flag for the process.
func (s *MemoryStore) GetRecording(_ context.Context, processID string) (RecordingState, bool, error) {
	s.mu.RLock()
	state, ok := s.recording[processID]
	s.mu.RUnlock()
	return state, ok, nil
}

// UpsertRecording stores the recording flag for the process.
func (s *MemoryStore) UpsertRecording(_ context.Context, state RecordingState) error {
	s.mu.Lock()
	s.recording[state.ProcessID] = state
	s.mu.Unlock()
	return nil
}

// DeleteRecording removes the recording flag for the process.
func (s *MemoryStore) DeleteRecording(_ context.Context, processID string) error {
	s.mu.Lock()
	delete(s.recording, processID)
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
