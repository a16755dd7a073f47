// Package toolexec is the Tool Executor (C4): it validates a tool call's
// arguments against its schema, derives the Operation the call implies
// for the Policy Engine, runs the matching Handler, and truncates
// oversized output before it re-enters the conversation. Calls within one
// turn are always run sequentially, in the order the model emitted them —
// tools that touch shared state (the filesystem, a shell) cannot safely
// run concurrently with each other inside a single turn.
package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/forgecore/agentcore/pkg/domain"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// Handler implements one tool kind.
type Handler interface {
	Name() domain.ToolName
	Description() string
	Schema() json.RawMessage
	// Operation derives the security-relevant intent of args, or returns
	// ok=false for tools with no side effect (followup, task list
	// mutations, attempt_completion).
	Operation(args json.RawMessage) (op domain.Operation, ok bool)
	Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error)
}

// PolicyChecker gates a Handler's derived Operation before Execute runs.
type PolicyChecker interface {
	Evaluate(ctx context.Context, op domain.Operation) (permission domain.Permission, reason string, err error)
}

// OutputLimits bounds how much of a tool's raw output survives into the
// conversation.
type OutputLimits struct {
	MaxBytes  int
	HeadBytes int
	TailBytes int
}

// DefaultOutputLimits caps a single tool result at 100KB, keeping the
// first and last 20KB when truncating.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{MaxBytes: 100_000, HeadBytes: 20_000, TailBytes: 20_000}
}

// Executor holds the registered Handlers and runs calls sequentially.
type Executor struct {
	handlers map[domain.ToolName]Handler
	schemas  map[domain.ToolName]*jsonschema.Schema
	policy   PolicyChecker
	limits   OutputLimits
}

// New builds an Executor. policy may be nil, in which case every
// Operation-bearing call is denied (fail closed) — wire a real
// PolicyChecker before accepting untrusted tool calls.
func New(policy PolicyChecker, limits OutputLimits) *Executor {
	return &Executor{
		handlers: make(map[domain.ToolName]Handler),
		schemas:  make(map[domain.ToolName]*jsonschema.Schema),
		policy:   policy,
		limits:   limits,
	}
}

// Register compiles h's schema and adds it to the registry.
func (e *Executor) Register(h Handler) error {
	compiler := jsonschema.NewCompiler()
	url := "mem://" + string(h.Name()) + ".json"
	if err := compiler.AddResource(url, bytesReader(h.Schema())); err != nil {
		return fmt.Errorf("toolexec: add schema resource for %s: %w", h.Name(), err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("toolexec: compile schema for %s: %w", h.Name(), err)
	}
	e.handlers[h.Name()] = h
	e.schemas[h.Name()] = schema
	return nil
}

// Definitions returns the tool definitions for every registered handler,
// for inclusion in a Context sent to the Provider Gateway.
func (e *Executor) Definitions() []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(e.handlers))
	for name, h := range e.handlers {
		defs = append(defs, domain.ToolDefinition{Name: name, Description: h.Description(), Schema: h.Schema()})
	}
	return defs
}

// CallResult pairs a tool call with its outcome.
type CallResult struct {
	Call   domain.ToolCall
	Output domain.ToolOutput
}

// ExecuteSequentially runs each call in calls, in order, stopping neither
// early on a tool error (a failed call's output is still fed back to the
// model as an error result) nor on a policy denial (likewise surfaced as
// an error result) — only a context cancellation aborts the remaining
// calls.
func (e *Executor) ExecuteSequentially(ctx context.Context, calls []domain.ToolCall) ([]CallResult, error) {
	results := make([]CallResult, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, e.executeOne(ctx, call))
	}
	return results, nil
}

func (e *Executor) executeOne(ctx context.Context, call domain.ToolCall) CallResult {
	handler, ok := e.handlers[call.Name]
	if !ok {
		return CallResult{Call: call, Output: errorOutput(fmt.Sprintf("unknown tool %q", call.Name))}
	}

	if schema, ok := e.schemas[call.Name]; ok {
		if err := validateArguments(schema, call.Arguments); err != nil {
			return CallResult{Call: call, Output: errorOutput(fmt.Sprintf("invalid arguments: %v", err))}
		}
	}

	if op, hasOp := handler.Operation(call.Arguments); hasOp {
		if e.policy == nil {
			return CallResult{Call: call, Output: errorOutput("no policy engine configured, denying by default")}
		}
		permission, reason, err := e.policy.Evaluate(ctx, op)
		if err != nil {
			return CallResult{Call: call, Output: errorOutput(fmt.Sprintf("policy evaluation failed: %v", err))}
		}
		if permission != domain.Allow {
			return CallResult{Call: call, Output: errorOutput(fmt.Sprintf("denied: %s", reason))}
		}
	}

	output, err := handler.Execute(ctx, call.Arguments)
	if err != nil {
		return CallResult{Call: call, Output: errorOutput(err.Error())}
	}
	return CallResult{Call: call, Output: e.truncate(output)}
}

func (e *Executor) truncate(output domain.ToolOutput) domain.ToolOutput {
	text := output.Text()
	if e.limits.MaxBytes <= 0 || len(text) <= e.limits.MaxBytes {
		return output
	}
	head := text
	if e.limits.HeadBytes < len(head) {
		head = head[:e.limits.HeadBytes]
	}
	tail := text
	if e.limits.TailBytes < len(tail) {
		tail = tail[len(tail)-e.limits.TailBytes:]
	}
	truncated := fmt.Sprintf("%s\n...[truncated %d bytes]...\n%s", head, len(text)-len(head)-len(tail), tail)
	return domain.TextOutput(truncated, output.IsError)
}

func errorOutput(message string) domain.ToolOutput {
	return domain.TextOutput(message, true)
}

func validateArguments(schema *jsonschema.Schema, args json.RawMessage) error {
	var v any
	if len(args) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(v)
}
