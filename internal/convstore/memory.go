package convstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/forgecore/agentcore/pkg/domain"
)

// MemoryStore is an in-process Store backed by a map, used for tests and
// single-node deployments that don't need durability across restarts.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[domain.ConversationID]*domain.Conversation
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[domain.ConversationID]*domain.Conversation),
	}
}

func (m *MemoryStore) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now()
	clone := conv.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.conversations[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	clone := conv.Clone()
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.conversations[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id domain.ConversationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Conversation
	for _, conv := range m.conversations {
		if opts.AgentID != "" && string(conv.AgentID) != opts.AgentID {
			continue
		}
		out = append(out, conv.Clone())
	}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > len(out) {
		return []*domain.Conversation{}, nil
	}
	return out[start:end], nil
}

func (m *MemoryStore) AppendEntry(ctx context.Context, id domain.ConversationID, entry domain.MessageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Context.Messages = append(conv.Context.Messages, entry.Clone())
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
