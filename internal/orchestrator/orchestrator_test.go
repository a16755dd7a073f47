package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgecore/agentcore/internal/convstore"
	"github.com/forgecore/agentcore/internal/providergw"
	"github.com/forgecore/agentcore/internal/toolexec"
	"github.com/forgecore/agentcore/pkg/domain"
)

// scriptedProvider replays one pre-built response per call to Stream, in
// the order given, mirroring the teacher's own per-call scripted test
// provider (see the original loop tests' loopTestProvider).
type scriptedProvider struct {
	responses [][]providergw.Chunk
	call      int32
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, reqCtx domain.Context) (<-chan providergw.Chunk, <-chan error) {
	out := make(chan providergw.Chunk, 16)
	errs := make(chan error, 1)
	n := int(atomic.AddInt32(&p.call, 1)) - 1

	go func() {
		defer close(out)
		defer close(errs)
		if n >= len(p.responses) {
			return
		}
		for _, c := range p.responses[n] {
			select {
			case out <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return out, errs
}

// blockingProvider never produces a chunk until its context is cancelled,
// for testing cancellation at the stream boundary.
type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }

func (blockingProvider) Stream(ctx context.Context, reqCtx domain.Context) (<-chan providergw.Chunk, <-chan error) {
	out := make(chan providergw.Chunk)
	errs := make(chan error, 1)
	go func() {
		<-ctx.Done()
		close(out)
		errs <- ctx.Err()
		close(errs)
	}()
	return out, errs
}

func textChunk(s string) []providergw.Chunk {
	return []providergw.Chunk{{Kind: providergw.ChunkText, Text: s}}
}

func toolCallChunks(index int, name domain.ToolName, callID string, args string) []providergw.Chunk {
	return []providergw.Chunk{
		{Kind: providergw.ChunkToolPart, ToolPart: domain.ToolCallPart{Index: index, CallID: callID, Name: name, ArgumentsFragment: args}},
	}
}

// stubHandler is a minimal toolexec.Handler double for orchestrator-level
// tests; it never derives an Operation, so the Policy Engine is never
// consulted.
type stubHandler struct {
	name    domain.ToolName
	execErr error
	output  domain.ToolOutput
	calls   *int32
}

func (h stubHandler) Name() domain.ToolName   { return h.name }
func (h stubHandler) Description() string     { return "stub" }
func (h stubHandler) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (h stubHandler) Operation(json.RawMessage) (domain.Operation, bool) {
	return domain.Operation{}, false
}

func (h stubHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	if h.calls != nil {
		atomic.AddInt32(h.calls, 1)
	}
	if h.execErr != nil {
		return domain.ToolOutput{}, h.execErr
	}
	return h.output, nil
}

func newTestExecutor(t *testing.T, handlers ...toolexec.Handler) *toolexec.Executor {
	t.Helper()
	ex := toolexec.New(nil, toolexec.DefaultOutputLimits())
	for _, h := range handlers {
		if err := ex.Register(h); err != nil {
			t.Fatalf("Register(%s): %v", h.Name(), err)
		}
	}
	return ex
}

func newConversation(t *testing.T, store convstore.Store) domain.ConversationID {
	t.Helper()
	conv := &domain.Conversation{ID: "conv-1", AgentID: "agent-1"}
	if err := store.Create(context.Background(), conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return conv.ID
}

func drain(t *testing.T, chunks <-chan TurnChunk, outcomes <-chan TurnOutcome) ([]TurnChunk, TurnOutcome) {
	t.Helper()
	var got []TurnChunk
	var outcome TurnOutcome
	done := false
	outcomeSeen := false
	for !done || !outcomeSeen {
		select {
		case c, ok := <-chunks:
			if !ok {
				done = true
				chunks = nil
				continue
			}
			got = append(got, c)
		case o, ok := <-outcomes:
			if !ok {
				outcomeSeen = true
				outcomes = nil
				continue
			}
			outcome = o
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for turn to finish")
		}
		if chunks == nil && outcomes == nil {
			break
		}
	}
	return got, outcome
}

func TestRunTurnSequentialToolDispatchThenCompletion(t *testing.T) {
	var order []string
	mkHandler := func(name domain.ToolName) stubHandler {
		return stubHandler{name: name, output: domain.TextOutput("ok:"+string(name), false)}
	}
	first := mkHandler("tool_a")
	second := mkHandler("tool_b")
	completion := stubHandler{name: completionToolName, output: domain.TextOutput("done", false)}

	executor := newTestExecutor(t, first, second, completion)

	round1 := append(toolCallChunks(0, "tool_a", "call_1", `{}`), toolCallChunks(1, "tool_b", "call_2", `{}`)...)
	round1 = append(round1, providergw.Chunk{Kind: providergw.ChunkDone})
	round2 := append(textChunk("wrapping up"), toolCallChunks(0, completionToolName, "call_3", `{}`)...)
	round2 = append(round2, providergw.Chunk{Kind: providergw.ChunkDone})

	provider := &scriptedProvider{responses: [][]providergw.Chunk{round1, round2}}
	store := convstore.NewMemoryStore()
	convID := newConversation(t, store)

	o := New(store, provider, executor, nil)
	chunks, outcomes, err := o.RunTurn(context.Background(), AgentSpec{ToolSupported: true}, convID, Event{Text: "do the thing"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	got, outcome := drain(t, chunks, outcomes)
	if outcome != OutcomeEndTurn {
		t.Fatalf("expected OutcomeEndTurn, got %v", outcome)
	}

	for _, c := range got {
		if c.Kind == ChunkToolCallStart {
			order = append(order, string(c.ToolCall.Name))
		}
	}
	want := []string{"tool_a", "tool_b", string(completionToolName)}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected sequential dispatch order %v, got %v", want, order)
	}

	conv, err := store.Get(context.Background(), convID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !conv.Complete {
		t.Fatalf("expected conversation marked complete after attempt_completion")
	}
}

func TestRunTurnToolErrorIsNotFatal(t *testing.T) {
	failing := stubHandler{name: "flaky", execErr: fmt.Errorf("boom")}
	completion := stubHandler{name: completionToolName, output: domain.TextOutput("done", false)}
	executor := newTestExecutor(t, failing, completion)

	round1 := append(toolCallChunks(0, "flaky", "call_1", `{}`), providergw.Chunk{Kind: providergw.ChunkDone})
	round2 := append(toolCallChunks(0, completionToolName, "call_2", `{}`), providergw.Chunk{Kind: providergw.ChunkDone})
	provider := &scriptedProvider{responses: [][]providergw.Chunk{round1, round2}}

	store := convstore.NewMemoryStore()
	convID := newConversation(t, store)
	o := New(store, provider, executor, nil)

	chunks, outcomes, err := o.RunTurn(context.Background(), AgentSpec{ToolSupported: true}, convID, Event{Text: "go"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	_, outcome := drain(t, chunks, outcomes)
	if outcome != OutcomeEndTurn {
		t.Fatalf("expected a tool error to not abort the turn, got %v", outcome)
	}

	conv, _ := store.Get(context.Background(), convID)
	foundError := false
	for _, m := range conv.Context.Messages {
		if m.Kind == domain.EntryTool && m.CallID == "call_1" && m.Output.IsError {
			foundError = true
		}
	}
	if !foundError {
		t.Fatalf("expected the failing call's error to be recorded as a tool result")
	}
}

func TestRunTurnEmptyToolCallBudgetExceeded(t *testing.T) {
	empty := func() []providergw.Chunk {
		return append(textChunk("thinking out loud"), providergw.Chunk{Kind: providergw.ChunkDone})
	}
	provider := &scriptedProvider{responses: [][]providergw.Chunk{empty(), empty(), empty()}}

	store := convstore.NewMemoryStore()
	convID := newConversation(t, store)
	executor := newTestExecutor(t)
	o := New(store, provider, executor, nil)

	chunks, outcomes, err := o.RunTurn(context.Background(), AgentSpec{ToolSupported: true}, convID, Event{Text: "go"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	_, outcome := drain(t, chunks, outcomes)
	if outcome != OutcomeEmptyCallBudgetExceeded {
		t.Fatalf("expected empty-call budget exceeded after 3 tool-call-free rounds, got %v", outcome)
	}
}

func TestRunTurnAwaitingInputOnFollowup(t *testing.T) {
	followup := stubHandler{name: interruptToolName, output: domain.TextOutput("what file?", false)}
	executor := newTestExecutor(t, followup)

	round1 := append(toolCallChunks(0, interruptToolName, "call_1", `{}`), providergw.Chunk{Kind: providergw.ChunkDone})
	provider := &scriptedProvider{responses: [][]providergw.Chunk{round1}}

	store := convstore.NewMemoryStore()
	convID := newConversation(t, store)
	o := New(store, provider, executor, nil)

	chunks, outcomes, err := o.RunTurn(context.Background(), AgentSpec{ToolSupported: true}, convID, Event{Text: "go"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	got, outcome := drain(t, chunks, outcomes)
	if outcome != OutcomeAwaitingInput {
		t.Fatalf("expected OutcomeAwaitingInput, got %v", outcome)
	}
	sawAwaiting := false
	for _, c := range got {
		if c.Kind == ChunkAwaitingInput {
			sawAwaiting = true
		}
	}
	if !sawAwaiting {
		t.Fatalf("expected an awaiting_input chunk on the stream")
	}
}

func TestRunTurnCancellationAtStreamBoundary(t *testing.T) {
	store := convstore.NewMemoryStore()
	convID := newConversation(t, store)
	executor := newTestExecutor(t)
	o := New(store, blockingProvider{}, executor, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	defer cancel()

	chunks, outcomes, err := o.RunTurn(ctx, AgentSpec{ToolSupported: true}, convID, Event{Text: "go"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	_, outcome := drain(t, chunks, outcomes)
	if outcome != OutcomeCancelled {
		t.Fatalf("expected OutcomeCancelled, got %v", outcome)
	}
}

func TestRunTurnXMLFallbackForNonToolSupportingAgent(t *testing.T) {
	completion := stubHandler{name: completionToolName, output: domain.TextOutput("done", false)}
	executor := newTestExecutor(t, completion)

	body := `<forge_tool_call>{"name":"attempt_completion","arguments":{}}</forge_tool_call>`
	round1 := append(textChunk("Here is my answer.\n"+body), providergw.Chunk{Kind: providergw.ChunkDone})
	provider := &scriptedProvider{responses: [][]providergw.Chunk{round1}}

	store := convstore.NewMemoryStore()
	convID := newConversation(t, store)
	o := New(store, provider, executor, nil)

	chunks, outcomes, err := o.RunTurn(context.Background(), AgentSpec{ToolSupported: false}, convID, Event{Text: "go"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	_, outcome := drain(t, chunks, outcomes)
	if outcome != OutcomeEndTurn {
		t.Fatalf("expected the fallback tool call to be extracted and dispatched, got %v", outcome)
	}

	conv, _ := store.Get(context.Background(), convID)
	for _, m := range conv.Context.Messages {
		if m.Kind == domain.EntryText && m.Role == domain.RoleAssistant {
			if containsSentinel(m.Content) {
				t.Fatalf("expected assistant content truncated before the sentinel tag, got %q", m.Content)
			}
		}
	}
}

func containsSentinel(s string) bool {
	for i := 0; i+len(toolCallOpenTag) <= len(s); i++ {
		if s[i:i+len(toolCallOpenTag)] == toolCallOpenTag {
			return true
		}
	}
	return false
}

func TestRunTurnUnknownConversationReturnsError(t *testing.T) {
	store := convstore.NewMemoryStore()
	executor := newTestExecutor(t)
	o := New(store, &scriptedProvider{}, executor, nil)

	_, _, err := o.RunTurn(context.Background(), AgentSpec{}, "missing", Event{Text: "go"})
	if err != ErrUnknownConversation {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestAssemblePromptUsesFeedbackModeOnResumedConversation(t *testing.T) {
	store := convstore.NewMemoryStore()
	conv := &domain.Conversation{
		ID:      "conv-2",
		AgentID: "agent-1",
		Context: &domain.Context{Messages: []domain.MessageEntry{domain.NewTextEntry(domain.RoleUser, "earlier turn")}},
	}
	if err := store.Create(context.Background(), conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	o := New(store, &scriptedProvider{}, newTestExecutor(t), nil)
	state := &turnState{conv: conv, resumedExisting: hasUserMessage(conv)}
	if err := o.assemblePrompt(AgentSpec{}, state, Event{Text: "more input"}); err != nil {
		t.Fatalf("assemblePrompt: %v", err)
	}

	last := conv.Context.Messages[len(conv.Context.Messages)-1]
	if last.Content != "Feedback: more input" {
		t.Fatalf("expected feedback-mode rendering, got %q", last.Content)
	}
}
