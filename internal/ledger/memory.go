package ledger

import (
	"context"
	"sync"
)

const pendingDelivery = ""

// Memory is a process-local ledger. It is selected explicitly with
// ledger.backend=memory for local runs and is used by tests.
type Memory struct {
	mu      sync.Mutex
	entries map[Key]string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]string)}
}

func (m *Memory) WasNotified(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *Memory) Claim(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = pendingDelivery
	return true, nil
}

func (m *Memory) Record(_ context.Context, key Key, deliveryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = deliveryID
	return nil
}

func (m *Memory) Release(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.entries[key]; ok && id == pendingDelivery {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Check(context.Context) error { return nil }

// DeliveryID returns the recorded delivery id for key.
func (m *Memory) DeliveryID(key Key) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.entries[key]
	return id, ok
}

// Len returns the number of entries held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
