package toolexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/forgecore/agentcore/pkg/domain"
)

// CompletionHandler implements attempt_completion: the model's declaration
// that the turn's work is done. It has no Operation — the orchestrator
// reads the result's tool name to end the turn, not any side effect here.
type CompletionHandler struct{}

func NewCompletionHandler() *CompletionHandler { return &CompletionHandler{} }

func (h *CompletionHandler) Name() domain.ToolName { return "attempt_completion" }
func (h *CompletionHandler) Description() string {
	return "Declare that the requested task is complete, with a summary of the result."
}
func (h *CompletionHandler) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"result":{"type":"string"}},"required":["result"]}`)
}

func (h *CompletionHandler) Operation(json.RawMessage) (domain.Operation, bool) {
	return domain.Operation{}, false
}

type completionArgs struct {
	Result string `json:"result"`
}

func (h *CompletionHandler) Execute(_ context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a completionArgs
	_ = json.Unmarshal(args, &a)
	return domain.TextOutput(a.Result, false), nil
}

// TodoAppendHandler implements task_list_append: add a new todo to the
// conversation's checklist, pending by default.
type TodoAppendHandler struct{}

func NewTodoAppendHandler() *TodoAppendHandler { return &TodoAppendHandler{} }

func (h *TodoAppendHandler) Name() domain.ToolName { return "task_list_append" }
func (h *TodoAppendHandler) Description() string   { return "Append an item to the task checklist." }
func (h *TodoAppendHandler) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}},"required":["content"]}`)
}
func (h *TodoAppendHandler) Operation(json.RawMessage) (domain.Operation, bool) {
	return domain.Operation{}, false
}

type todoAppendArgs struct {
	Content string `json:"content"`
}

func (h *TodoAppendHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a todoAppendArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	conv := ConversationFromContext(ctx)
	if conv == nil {
		return domain.TextOutput("no conversation in scope", true), nil
	}
	todo := domain.Todo{ID: uuid.NewString(), Content: a.Content, Status: domain.TodoPending}
	conv.Todos = append(conv.Todos, todo)
	return domain.TextOutput(fmt.Sprintf("added task %s", todo.ID), false), nil
}

// TodoUpdateHandler implements task_list_update: change the status of an
// existing todo by ID.
type TodoUpdateHandler struct{}

func NewTodoUpdateHandler() *TodoUpdateHandler { return &TodoUpdateHandler{} }

func (h *TodoUpdateHandler) Name() domain.ToolName { return "task_list_update" }
func (h *TodoUpdateHandler) Description() string   { return "Update the status of a checklist item." }
func (h *TodoUpdateHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]}
		},
		"required": ["id", "status"]
	}`)
}
func (h *TodoUpdateHandler) Operation(json.RawMessage) (domain.Operation, bool) {
	return domain.Operation{}, false
}

type todoUpdateArgs struct {
	ID     string           `json:"id"`
	Status domain.TodoStatus `json:"status"`
}

func (h *TodoUpdateHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a todoUpdateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	conv := ConversationFromContext(ctx)
	if conv == nil {
		return domain.TextOutput("no conversation in scope", true), nil
	}
	for i := range conv.Todos {
		if conv.Todos[i].ID == a.ID {
			conv.Todos[i].Status = a.Status
			return domain.TextOutput(fmt.Sprintf("task %s is now %s", a.ID, a.Status), false), nil
		}
	}
	return domain.TextOutput(fmt.Sprintf("no task with id %s", a.ID), true), nil
}

// TodoListHandler implements task_list_list: return the checklist as JSON.
type TodoListHandler struct{}

func NewTodoListHandler() *TodoListHandler { return &TodoListHandler{} }

func (h *TodoListHandler) Name() domain.ToolName { return "task_list_list" }
func (h *TodoListHandler) Description() string   { return "List all items on the task checklist." }
func (h *TodoListHandler) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (h *TodoListHandler) Operation(json.RawMessage) (domain.Operation, bool) {
	return domain.Operation{}, false
}

func (h *TodoListHandler) Execute(ctx context.Context, _ json.RawMessage) (domain.ToolOutput, error) {
	conv := ConversationFromContext(ctx)
	if conv == nil {
		return domain.TextOutput("no conversation in scope", true), nil
	}
	encoded, err := json.Marshal(conv.Todos)
	if err != nil {
		return domain.ToolOutput{}, fmt.Errorf("encode task list: %w", err)
	}
	return domain.TextOutput(string(encoded), false), nil
}

// TodoClearHandler implements task_list_clear: discard every checklist item.
type TodoClearHandler struct{}

func NewTodoClearHandler() *TodoClearHandler { return &TodoClearHandler{} }

func (h *TodoClearHandler) Name() domain.ToolName { return "task_list_clear" }
func (h *TodoClearHandler) Description() string   { return "Clear the task checklist." }
func (h *TodoClearHandler) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (h *TodoClearHandler) Operation(json.RawMessage) (domain.Operation, bool) {
	return domain.Operation{}, false
}

func (h *TodoClearHandler) Execute(ctx context.Context, _ json.RawMessage) (domain.ToolOutput, error) {
	conv := ConversationFromContext(ctx)
	if conv == nil {
		return domain.TextOutput("no conversation in scope", true), nil
	}
	conv.Todos = nil
	return domain.TextOutput("task list cleared", false), nil
}
