package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/forgecore/agentcore/pkg/domain"
)

// stubHandler is a minimal Handler for exercising Executor without
// touching the filesystem or network.
type stubHandler struct {
	name      domain.ToolName
	schema    json.RawMessage
	op        domain.Operation
	hasOp     bool
	execErr   error
	output    domain.ToolOutput
}

func (h *stubHandler) Name() domain.ToolName   { return h.name }
func (h *stubHandler) Description() string     { return "stub" }
func (h *stubHandler) Schema() json.RawMessage { return h.schema }
func (h *stubHandler) Operation(json.RawMessage) (domain.Operation, bool) {
	return h.op, h.hasOp
}
func (h *stubHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	if h.execErr != nil {
		return domain.ToolOutput{}, h.execErr
	}
	return h.output, nil
}

type stubPolicy struct {
	permission domain.Permission
	reason     string
	err        error
	calls      int
}

func (p *stubPolicy) Evaluate(ctx context.Context, op domain.Operation) (domain.Permission, string, error) {
	p.calls++
	return p.permission, p.reason, p.err
}

func objectSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
}

func TestExecuteSequentiallyRunsCallsInOrder(t *testing.T) {
	var order []string
	h1 := &stubHandler{name: "a", schema: objectSchema(), output: domain.TextOutput("one", false)}
	h2 := &stubHandler{name: "b", schema: objectSchema(), output: domain.TextOutput("two", false)}
	policy := &stubPolicy{permission: domain.Allow}

	exec := New(policy, DefaultOutputLimits())
	if err := exec.Register(h1); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := exec.Register(h2); err != nil {
		t.Fatalf("register b: %v", err)
	}
	h1.hasOp, h2.hasOp = false, false

	calls := []domain.ToolCall{
		{Name: "a", CallID: "c1", Arguments: json.RawMessage(`{"path":"x"}`)},
		{Name: "b", CallID: "c2", Arguments: json.RawMessage(`{"path":"y"}`)},
	}
	results, err := exec.ExecuteSequentially(context.Background(), calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		order = append(order, string(r.Call.Name))
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected calls in order [a b], got %v", order)
	}
	if results[0].Output.Text() != "one" || results[1].Output.Text() != "two" {
		t.Fatalf("unexpected outputs: %+v", results)
	}
}

func TestExecuteSequentiallyContinuesPastToolError(t *testing.T) {
	h1 := &stubHandler{name: "fails", schema: objectSchema(), execErr: errors.New("boom")}
	h2 := &stubHandler{name: "succeeds", schema: objectSchema(), output: domain.TextOutput("fine", false)}
	policy := &stubPolicy{permission: domain.Allow}

	exec := New(policy, DefaultOutputLimits())
	_ = exec.Register(h1)
	_ = exec.Register(h2)

	calls := []domain.ToolCall{
		{Name: "fails", Arguments: json.RawMessage(`{"path":"x"}`)},
		{Name: "succeeds", Arguments: json.RawMessage(`{"path":"y"}`)},
	}
	results, err := exec.ExecuteSequentially(context.Background(), calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Output.IsError {
		t.Fatalf("expected first call to surface as an error result")
	}
	if results[1].Output.IsError || results[1].Output.Text() != "fine" {
		t.Fatalf("expected second call to still run after the first failed, got %+v", results[1])
	}
}

func TestExecuteSequentiallyStopsOnContextCancellation(t *testing.T) {
	h := &stubHandler{name: "a", schema: objectSchema(), output: domain.TextOutput("x", false)}
	exec := New(&stubPolicy{permission: domain.Allow}, DefaultOutputLimits())
	_ = exec.Register(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := exec.ExecuteSequentially(ctx, []domain.ToolCall{
		{Name: "a", Arguments: json.RawMessage(`{"path":"x"}`)},
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if len(results) != 0 {
		t.Fatalf("expected no results once context is already canceled, got %d", len(results))
	}
}

func TestExecuteOneRejectsInvalidArguments(t *testing.T) {
	h := &stubHandler{name: "a", schema: objectSchema(), output: domain.TextOutput("x", false)}
	exec := New(&stubPolicy{permission: domain.Allow}, DefaultOutputLimits())
	_ = exec.Register(h)

	results, err := exec.ExecuteSequentially(context.Background(), []domain.ToolCall{
		{Name: "a", Arguments: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Output.IsError {
		t.Fatalf("expected schema validation failure to surface as an error result, got %+v", results[0])
	}
}

func TestExecuteOneDeniesOnPolicyDenial(t *testing.T) {
	h := &stubHandler{
		name:   "fs_read",
		schema: objectSchema(),
		op:     domain.Operation{Kind: domain.OpRead, Path: "/etc/shadow"},
		hasOp:  true,
		output: domain.TextOutput("should not run", false),
	}
	policy := &stubPolicy{permission: domain.Deny, reason: "outside workspace"}
	exec := New(policy, DefaultOutputLimits())
	_ = exec.Register(h)

	results, err := exec.ExecuteSequentially(context.Background(), []domain.ToolCall{
		{Name: "fs_read", Arguments: json.RawMessage(`{"path":"/etc/shadow"}`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Output.IsError {
		t.Fatalf("expected denial to surface as an error result")
	}
	if policy.calls != 1 {
		t.Fatalf("expected policy to be consulted once, got %d", policy.calls)
	}
}

func TestExecuteOneDeniesByDefaultWithNoPolicyConfigured(t *testing.T) {
	h := &stubHandler{
		name:   "fs_read",
		schema: objectSchema(),
		op:     domain.Operation{Kind: domain.OpRead, Path: "/tmp/x"},
		hasOp:  true,
		output: domain.TextOutput("should not run", false),
	}
	exec := New(nil, DefaultOutputLimits())
	_ = exec.Register(h)

	results, err := exec.ExecuteSequentially(context.Background(), []domain.ToolCall{
		{Name: "fs_read", Arguments: json.RawMessage(`{"path":"/tmp/x"}`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Output.IsError {
		t.Fatalf("expected fail-closed denial with no PolicyChecker configured")
	}
}

func TestExecuteOneSkipsPolicyWhenHandlerHasNoOperation(t *testing.T) {
	h := &stubHandler{name: "followup", schema: objectSchema(), hasOp: false, output: domain.TextOutput("question?", false)}
	policy := &stubPolicy{permission: domain.Deny}
	exec := New(policy, DefaultOutputLimits())
	_ = exec.Register(h)

	results, err := exec.ExecuteSequentially(context.Background(), []domain.ToolCall{
		{Name: "followup", Arguments: json.RawMessage(`{"path":"x"}`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Output.IsError {
		t.Fatalf("expected no-Operation handler to bypass the policy engine, got %+v", results[0])
	}
	if policy.calls != 0 {
		t.Fatalf("expected policy not to be consulted for a handler with no Operation")
	}
}

func TestExecuteOneUnknownToolReturnsErrorResult(t *testing.T) {
	exec := New(&stubPolicy{permission: domain.Allow}, DefaultOutputLimits())
	results, err := exec.ExecuteSequentially(context.Background(), []domain.ToolCall{
		{Name: "does_not_exist", Arguments: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Output.IsError {
		t.Fatalf("expected unknown tool to surface as an error result")
	}
}

func TestTruncateKeepsHeadAndTail(t *testing.T) {
	exec := New(&stubPolicy{permission: domain.Allow}, OutputLimits{MaxBytes: 20, HeadBytes: 5, TailBytes: 5})
	big := domain.TextOutput("0123456789abcdefghijklmnopqrstuvwxyz", false)
	truncated := exec.truncate(big)
	text := truncated.Text()
	if len(text) >= len(big.Text()) {
		t.Fatalf("expected truncated output to be shorter than input")
	}
	if text[:5] != "01234" {
		t.Fatalf("expected truncated output to keep the head, got %q", text)
	}
	if text[len(text)-5:] != "vwxyz" {
		t.Fatalf("expected truncated output to keep the tail, got %q", text)
	}
}

func TestDefinitionsReturnsRegisteredTools(t *testing.T) {
	h := &stubHandler{name: "a", schema: objectSchema(), output: domain.TextOutput("x", false)}
	exec := New(&stubPolicy{permission: domain.Allow}, DefaultOutputLimits())
	_ = exec.Register(h)

	defs := exec.Definitions()
	if len(defs) != 1 || defs[0].Name != "a" {
		t.Fatalf("expected one definition named a, got %+v", defs)
	}
}
