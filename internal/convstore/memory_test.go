package convstore

import (
	"context"
	"testing"

	"github.com/forgecore/agentcore/pkg/domain"
)

func TestMemoryStoreCreateGetRoundtrips(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &domain.Conversation{ID: "c1", AgentID: "agent-1", Title: "hello"}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "hello" || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected conversation: %+v", got)
	}
}

func TestMemoryStoreCreateDuplicateFails(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1"}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, conv); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStoreGetMissingReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreGetReturnsIndependentCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", Title: "original"}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Title = "mutated"

	got2, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got2.Title != "original" {
		t.Fatalf("mutation of returned clone leaked into store: %q", got2.Title)
	}
}

func TestMemoryStoreAppendEntryGrowsContext(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1"}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	entry := domain.NewTextEntry(domain.RoleUser, "hi")
	if err := store.AppendEntry(ctx, "c1", entry); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Context.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Context.Messages))
	}
}

func TestMemoryStoreListFiltersByAgentAndPaginates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := domain.ConversationID("c" + string(rune('0'+i)))
		agent := domain.AgentID("agent-a")
		if i == 2 {
			agent = "agent-b"
		}
		if err := store.Create(ctx, &domain.Conversation{ID: id, AgentID: agent}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	out, err := store.List(ctx, ListOptions{AgentID: "agent-a"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 conversations for agent-a, got %d", len(out))
	}
}
