package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// StateKey is the single key the state blob is stored under.
const StateKey = "state"

// Store is the save/load boundary of the client state. Save overwrites the whole state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the serialized state in memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load returns the stored state, or NewState when nothing is stored.
func (m *MemoryStore) Load(context.Context) (State, error) {
	m.mu.Lock()
	raw, ok := m.data[StateKey]
	m.mu.Unlock()
	if !ok {
		return NewState(), nil
	}
	return decodeState(raw)
}

func (m *MemoryStore) Save(_ context.Context, s State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[StateKey] = raw
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, StateKey)
	return nil
}

func decodeState(raw []byte) (State, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if s.Step == "" {
		s.Step = StepDiscovery
	}
	return s, nil
}
