package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in process memory. Used by tests and as
// the zero-config default for local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	items    map[string]map[string]EnvelopeRecord // identity -> id -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]Account{},
		items:    map[string]map[string]EnvelopeRecord{},
	}
}

func cloneAccount(a Account) Account {
	a.Salt = append([]byte(nil), a.Salt...)
	a.Verifier = append([]byte(nil), a.Verifier...)
	return a
}

func cloneRecord(r EnvelopeRecord) EnvelopeRecord {
	r.Data = append([]byte(nil), r.Data...)
	r.WrappedKey = append([]byte(nil), r.WrappedKey...)
	return r
}

func (m *MemoryStore) PutAccount(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.Identity] = cloneAccount(a)
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, identity string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[identity]
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (m *MemoryStore) PutEnvelope(_ context.Context, identity string, rec EnvelopeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[identity] == nil {
		m.items[identity] = map[string]EnvelopeRecord{}
	}
	m.items[identity][rec.ID] = cloneRecord(rec)
	return nil
}

func (m *MemoryStore) GetEnvelope(_ context.Context, identity, id string) (EnvelopeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.items[identity][id]
	if !ok {
		return EnvelopeRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *MemoryStore) DeleteEnvelope(_ context.Context, identity, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[identity][id]; !ok {
		return ErrNotFound
	}
	delete(m.items[identity], id)
	return nil
}

func (m *MemoryStore) ListEnvelopes(_ context.Context, identity string) ([]EnvelopeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EnvelopeRecord, 0, len(m.items[identity]))
	for _, rec := range m.items[identity] {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (m *MemoryStore) CommitRotation(_ context.Context, acct Account, wraps []Rewrap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[acct.Identity]
	covered := make(map[string]struct{}, len(wraps))
	for _, w := range wraps {
		if _, ok := items[w.ID]; !ok {
			return ErrNotFound
		}
		covered[w.ID] = struct{}{}
	}
	if len(covered) != len(items) {
		return ErrIncompleteRotation
	}
	for _, w := range wraps {
		rec := items[w.ID]
		rec.WrappedKey = append([]byte(nil), w.WrappedKey...)
		items[w.ID] = rec
	}
	m.accounts[acct.Identity] = cloneAccount(acct)
	return nil
}
