// Package convstore persists Conversations (the unit the Orchestrator
// mutates each turn) and exposes them keyed by ID. Implementations must
// return independent copies from Get so a caller mutating the result can
// never corrupt what another goroutine holds.
package convstore

import (
	"context"
	"errors"

	"github.com/forgecore/agentcore/pkg/domain"
)

var (
	// ErrNotFound is returned when a conversation ID has no record.
	ErrNotFound = errors.New("convstore: conversation not found")
	// ErrAlreadyExists is returned by Create when the ID is already in use.
	ErrAlreadyExists = errors.New("convstore: conversation already exists")
)

// ListOptions filters and paginates List.
type ListOptions struct {
	AgentID string
	Limit   int
	Offset  int
}

// Store is the interface for conversation persistence backing C1. All
// methods take and return clones: callers own what they pass in, and own
// what they get back.
type Store interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	Update(ctx context.Context, conv *domain.Conversation) error
	Delete(ctx context.Context, id domain.ConversationID) error
	List(ctx context.Context, opts ListOptions) ([]*domain.Conversation, error)

	// AppendEntry appends a single message to the conversation's context
	// without requiring the caller to read-modify-write the whole
	// conversation, so concurrent appenders from different components
	// (orchestrator turn loop, compactor) don't race on a full Update.
	AppendEntry(ctx context.Context, id domain.ConversationID, entry domain.MessageEntry) error

	Close() error
}
