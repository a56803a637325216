package store

import (
	"context"
	"sync"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
)

// Memory is an in-process payment repository. Records are copied on the way
// in and out so callers never share state with the store.
type Memory struct {
	mu         sync.RWMutex
	byID       map[string]*payment.Payment
	byProvider map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		byID:       make(map[string]*payment.Payment),
		byProvider: make(map[string]string),
	}
}

func (m *Memory) Create(_ context.Context, p *payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[p.ID]; exists {
		return payment.ErrDuplicateID
	}

	if p.ProviderReference != "" {
		if _, taken := m.byProvider[p.ProviderReference]; taken {
			return payment.ErrReferenceTaken
		}

		m.byProvider[p.ProviderReference] = p.ID
	}

	m.byID[p.ID] = p.Clone()

	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, payment.ErrNotFound
	}

	return p.Clone(), nil
}

func (m *Memory) GetByProviderReference(_ context.Context, ref string) (*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byProvider[ref]
	if !ok {
		return nil, payment.ErrNotFound
	}

	return m.byID[id].Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, mutate func(p *payment.Payment) error) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.byID[id]
	if !ok {
		return nil, payment.ErrNotFound
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	if next.ProviderReference != current.ProviderReference {
		if owner, taken := m.byProvider[next.ProviderReference]; taken && owner != id {
			return nil, payment.ErrReferenceTaken
		}

		delete(m.byProvider, current.ProviderReference)

		if next.ProviderReference != "" {
			m.byProvider[next.ProviderReference] = id
		}
	}

	m.byID[id] = next

	return next.Clone(), nil
}

// Len returns the number of stored payments.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.byID)
}
