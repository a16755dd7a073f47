package domain

import "testing"

func TestToolCallAssemblerConcatenatesFragmentsInArrivalOrder(t *testing.T) {
	asm := NewToolCallAssembler()
	asm.Add(ToolCallPart{Index: 0, CallID: "call_1", Name: "fs_read", ArgumentsFragment: `{"path":`})
	asm.Add(ToolCallPart{Index: 0, ArgumentsFragment: `"/tmp/a.txt"}`})

	calls := asm.Finalize()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	got := string(calls[0].Arguments)
	want := `{"path":"/tmp/a.txt"}`
	if got != want {
		t.Fatalf("arguments = %q, want %q", got, want)
	}
	if calls[0].CallID != "call_1" || calls[0].Name != "fs_read" {
		t.Fatalf("unexpected call metadata: %+v", calls[0])
	}
}

func TestToolCallAssemblerPreservesInsertionOrderAcrossIndices(t *testing.T) {
	asm := NewToolCallAssembler()
	asm.Add(ToolCallPart{Index: 2, Name: "b", ArgumentsFragment: "{}"})
	asm.Add(ToolCallPart{Index: 1, Name: "a", ArgumentsFragment: "{}"})

	calls := asm.Finalize()
	if len(calls) != 2 || calls[0].Name != "b" || calls[1].Name != "a" {
		t.Fatalf("unexpected order: %+v", calls)
	}
}

func TestConversationMetricsOnlyGrows(t *testing.T) {
	c := &Conversation{ID: "c1"}
	c.AddFileOperation(FileOperation{Path: "a.go", Kind: "create"})
	c.AddFileOperation(FileOperation{Path: "b.go", Kind: "patch"})
	if len(c.Metrics) != 2 {
		t.Fatalf("expected 2 metrics entries, got %d", len(c.Metrics))
	}

	clone := c.Clone()
	clone.AddFileOperation(FileOperation{Path: "c.go", Kind: "remove"})
	if len(c.Metrics) != 2 {
		t.Fatalf("mutating clone's metrics must not affect original, got %d", len(c.Metrics))
	}
}

func TestContextCloneDetachesMessageSlice(t *testing.T) {
	ctx := &Context{Messages: []MessageEntry{NewTextEntry(RoleSystem, "hello")}}
	clone := ctx.Clone()
	clone.Messages[0].Content = "mutated"
	if ctx.Messages[0].Content != "hello" {
		t.Fatalf("clone mutation leaked into original: %q", ctx.Messages[0].Content)
	}
}
