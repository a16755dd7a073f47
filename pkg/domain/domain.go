// Package domain holds the provider-agnostic data model shared by every
// component of the agent orchestration core: conversations, the message
// context sent to a model, tool calls and their derived operations, and
// the policy rules that gate them.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ConversationID is an opaque, unique identifier, stable across turns.
type ConversationID string

// AgentID identifies a named Agent configuration bundle.
type AgentID string

// ToolName identifies a registered tool handler.
type ToolName string

// ModelID identifies a model within a provider's namespace (e.g. "claude-opus-4").
type ModelID string

// Role is the producer of a Text message entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TodoStatus is the lifecycle state of a Todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one checklist item tracked by a Conversation.
type Todo struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// FileOperation records one write-class effect against a path, accumulated
// in Conversation.Metrics. Entries are appended, never removed (invariant 3).
type FileOperation struct {
	Path      string    `json:"path"`
	Kind      string    `json:"kind"` // "create", "patch", "remove"
	At        time.Time `json:"at"`
	ToolCallID string   `json:"tool_call_id,omitempty"`
}

// Conversation is the aggregate root owned exclusively by the Conversation
// Store. At most one Context exists per conversation at a time.
type Conversation struct {
	ID        ConversationID         `json:"id"`
	Title     string                 `json:"title,omitempty"`
	Context   *Context               `json:"context,omitempty"`
	Todos     []Todo                 `json:"todos,omitempty"`
	Metrics   []FileOperation        `json:"metrics,omitempty"`
	Variables map[string]any         `json:"variables,omitempty"`
	AgentID   AgentID                `json:"agent_id"`
	Complete  bool                   `json:"complete"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Clone returns a deep-enough copy of the conversation for handing to a
// caller that must not observe future mutations (e.g. a snapshot for the
// gateway). Context is cloned via Context.Clone.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Context != nil {
		clone.Context = c.Context.Clone()
	}
	clone.Todos = append([]Todo(nil), c.Todos...)
	clone.Metrics = append([]FileOperation(nil), c.Metrics...)
	if c.Variables != nil {
		clone.Variables = make(map[string]any, len(c.Variables))
		for k, v := range c.Variables {
			clone.Variables[k] = v
		}
	}
	return &clone
}

// AddFileOperation appends a metrics entry; Metrics only ever grows.
func (c *Conversation) AddFileOperation(op FileOperation) {
	c.Metrics = append(c.Metrics, op)
}

// ToolChoice constrains which tools, if any, the model must invoke.
type ToolChoice struct {
	Mode string   `json:"mode"` // "auto", "required", "none", "call"
	Call ToolName `json:"call,omitempty"`
}

var (
	ToolChoiceAuto     = ToolChoice{Mode: "auto"}
	ToolChoiceRequired = ToolChoice{Mode: "required"}
	ToolChoiceNone     = ToolChoice{Mode: "none"}
)

// ReasoningConfig requests extended "thinking" output from models that
// support it.
type ReasoningConfig struct {
	Enabled     bool `json:"enabled"`
	BudgetTokens int `json:"budget_tokens,omitempty"`
}

// ToolDefinition describes one tool exposed to a model: its name,
// natural-language description, and JSON Schema for arguments.
type ToolDefinition struct {
	Name        ToolName        `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Context is the ordered message sequence sent to a model, plus sampling
// knobs. The gateway never mutates a Context it is handed; callers pass a
// snapshot clone.
type Context struct {
	ConversationID ConversationID    `json:"conversation_id"`
	Messages       []MessageEntry    `json:"messages"`
	Tools          []ToolDefinition  `json:"tools,omitempty"`
	ToolChoice     ToolChoice        `json:"tool_choice"`
	Temperature    *float64          `json:"temperature,omitempty"`
	TopP           *float64          `json:"top_p,omitempty"`
	TopK           *int              `json:"top_k,omitempty"`
	MaxTokens      *int              `json:"max_tokens,omitempty"`
	Reasoning      *ReasoningConfig  `json:"reasoning,omitempty"`
}

// Clone returns a deep copy of the Context suitable for handing to the
// Provider Gateway without risking aliasing into the Conversation Store's
// owned state.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = make([]MessageEntry, len(c.Messages))
	for i, m := range c.Messages {
		clone.Messages[i] = m.Clone()
	}
	clone.Tools = append([]ToolDefinition(nil), c.Tools...)
	return &clone
}

// FirstMessage returns the first message in the Context, or nil if empty.
func (c *Context) FirstMessage() *MessageEntry {
	if c == nil || len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[0]
}

// EntryKind discriminates the MessageEntry union.
type EntryKind string

const (
	EntryText  EntryKind = "text"
	EntryTool  EntryKind = "tool"
	EntryImage EntryKind = "image"
)

// ReasoningPart is one fragment of a model's chain-of-thought trace,
// carried alongside content but excluded from tool-call reassembly.
type ReasoningPart struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// Usage records token accounting for the assistant entry that closed a
// completion request.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CachedTokens     int     `json:"cached_tokens,omitempty"`
	CostUSD          *float64 `json:"cost_usd,omitempty"`
}

// MessageEntry is one element of a Context: Text (system/user/assistant),
// Tool (a tool result), or Image. Exactly the fields relevant to Kind are
// populated; this models the union as a tagged struct rather than an
// interface so Context serializes as plain JSON without a type registry.
type MessageEntry struct {
	Kind EntryKind `json:"kind"`

	// Text fields.
	Role             Role            `json:"role,omitempty"`
	Content          string          `json:"content,omitempty"`
	ToolCalls        []ToolCall      `json:"tool_calls,omitempty"`
	ReasoningDetails []ReasoningPart `json:"reasoning_details,omitempty"`
	Droppable        bool            `json:"droppable,omitempty"`
	Model            ModelID         `json:"model,omitempty"`
	Usage            *Usage          `json:"usage,omitempty"`

	// Tool fields.
	ToolResultName ToolName   `json:"tool_result_name,omitempty"`
	CallID         string     `json:"call_id,omitempty"`
	Output         ToolOutput `json:"output,omitempty"`

	// Image fields.
	ImageData      []byte `json:"image_data,omitempty"`
	ImageMediaType string `json:"image_media_type,omitempty"`
}

// Clone returns a copy of the entry with its slice fields detached from
// the original's backing arrays.
func (m MessageEntry) Clone() MessageEntry {
	clone := m
	clone.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	clone.ReasoningDetails = append([]ReasoningPart(nil), m.ReasoningDetails...)
	clone.Output.Values = append([]ToolValue(nil), m.Output.Values...)
	clone.ImageData = append([]byte(nil), m.ImageData...)
	return clone
}

// NewTextEntry builds a Text-kind MessageEntry.
func NewTextEntry(role Role, content string) MessageEntry {
	return MessageEntry{Kind: EntryText, Role: role, Content: content}
}

// NewToolEntry builds a Tool-kind MessageEntry carrying a tool's output.
func NewToolEntry(name ToolName, callID string, output ToolOutput) MessageEntry {
	return MessageEntry{Kind: EntryTool, ToolResultName: name, CallID: callID, Output: output}
}

// ToolCall is the model's request to perform an effect.
type ToolCall struct {
	Name      ToolName        `json:"name"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallPart is one streamed fragment of a ToolCall; the Orchestrator
// reassembles parts by concatenating ArgumentsFragment in arrival order
// and inheriting the first non-empty Name/CallID (testable property 7).
type ToolCallPart struct {
	Index               int
	CallID              string
	Name                ToolName
	ArgumentsFragment   string
}

// ToolCallAssembler reassembles streamed ToolCallParts into full ToolCalls,
// preserving arrival order across the parts keyed by Index.
type ToolCallAssembler struct {
	order []int
	byIdx map[int]*assembling
}

type assembling struct {
	callID string
	name   ToolName
	args   []byte
}

// NewToolCallAssembler returns an empty assembler.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{byIdx: make(map[int]*assembling)}
}

// Add folds one streamed part into the assembler.
func (a *ToolCallAssembler) Add(part ToolCallPart) {
	cur, ok := a.byIdx[part.Index]
	if !ok {
		cur = &assembling{}
		a.byIdx[part.Index] = cur
		a.order = append(a.order, part.Index)
	}
	if cur.callID == "" && part.CallID != "" {
		cur.callID = part.CallID
	}
	if cur.name == "" && part.Name != "" {
		cur.name = part.Name
	}
	cur.args = append(cur.args, []byte(part.ArgumentsFragment)...)
}

// Finalize returns the reassembled ToolCalls in first-seen index order.
func (a *ToolCallAssembler) Finalize() []ToolCall {
	calls := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		cur := a.byIdx[idx]
		calls = append(calls, ToolCall{
			Name:      cur.name,
			CallID:    cur.callID,
			Arguments: json.RawMessage(cur.args),
		})
	}
	return calls
}

// ToolValueKind discriminates ToolValue.
type ToolValueKind string

const (
	ToolValueText   ToolValueKind = "text"
	ToolValueImage  ToolValueKind = "image"
	ToolValueEmpty  ToolValueKind = "empty"
	ToolValueNested ToolValueKind = "nested"
)

// ToolValue is one element of a ToolOutput.
type ToolValue struct {
	Kind           ToolValueKind  `json:"kind"`
	Text           string         `json:"text,omitempty"`
	ImageData      []byte         `json:"image_data,omitempty"`
	ImageMediaType string         `json:"image_media_type,omitempty"`
	NestedValue    string         `json:"nested_value,omitempty"`
	ConversationID ConversationID `json:"conversation_id,omitempty"`
}

// TextValue builds a Text ToolValue.
func TextValue(text string) ToolValue { return ToolValue{Kind: ToolValueText, Text: text} }

// ToolOutput is the structured outcome of executing a tool call.
type ToolOutput struct {
	Values  []ToolValue `json:"values"`
	IsError bool        `json:"is_error"`
}

// Text concatenates all Text-kind values, which is the common case of a
// tool that produced a single rendered string.
func (o ToolOutput) Text() string {
	var out string
	for _, v := range o.Values {
		if v.Kind == ToolValueText {
			out += v.Text
		}
	}
	return out
}

// TextOutput builds a single-value ToolOutput from a rendered string.
func TextOutput(text string, isError bool) ToolOutput {
	return ToolOutput{Values: []ToolValue{TextValue(text)}, IsError: isError}
}

// OperationKind enumerates the security-relevant effect classes a tool
// call can request.
type OperationKind string

const (
	OpRead    OperationKind = "read"
	OpWrite   OperationKind = "write"
	OpExecute OperationKind = "execute"
	OpFetch   OperationKind = "fetch"
)

// Operation is the security-relevant intent of a tool call, derived before
// execution. Tool calls with no side effect outside the conversation
// (todo list, follow-up, completion) produce no Operation.
type Operation struct {
	Kind    OperationKind `json:"kind"`
	Path    string        `json:"path,omitempty"`    // Read, Write
	Command string        `json:"command,omitempty"` // Execute
	URL     string        `json:"url,omitempty"`     // Fetch
	Cwd     string        `json:"cwd"`
}

// Permission is the resolution of a Policy lookup against an Operation.
type Permission string

const (
	Allow   Permission = "allow"
	Deny    Permission = "deny"
	Confirm Permission = "confirm"
)

// Rule is the pattern half of a Policy; Pattern uses '*' as a glob
// wildcard only, matched by MatchGlob.
type Rule struct {
	Kind            OperationKind `json:"kind"`
	Pattern         string        `json:"pattern"`
	WorkingDirectory string       `json:"working_directory,omitempty"`
}

// Policy is one permission rule keyed on an Operation kind and pattern.
type Policy struct {
	Permission Permission `json:"permission"`
	Rule       Rule       `json:"rule"`
}

// MatchGlob reports whether pattern matches value. Pattern supports a
// single kind of wildcard, '*', which may appear any number of times and
// matches any run of characters (including none).
func MatchGlob(pattern, value string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if parts[0] != "" {
		if !strings.HasPrefix(value, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	for i := 1; i < len(parts)-1; i++ {
		part := parts[i]
		if part == "" {
			continue
		}
		pos := strings.Index(value[idx:], part)
		if pos < 0 {
			return false
		}
		idx += pos + len(part)
	}
	last := parts[len(parts)-1]
	if last != "" && !strings.HasSuffix(value, last) {
		return false
	}
	return true
}

// Agent is a named configuration bundle: model, provider, allowed tools,
// prompt templates, and sampling knobs.
type Agent struct {
	ID               AgentID           `json:"id"`
	ProviderID       string            `json:"provider_id"`
	ModelID          ModelID           `json:"model_id"`
	Tools            []ToolName        `json:"tools"`
	SystemPrompt     string            `json:"system_prompt,omitempty"`
	UserPrompt       string            `json:"user_prompt,omitempty"`
	ToolSupported    *bool             `json:"tool_supported,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	TopK             *int              `json:"top_k,omitempty"`
	CustomRules      string            `json:"custom_rules,omitempty"`
	CompactThreshold int               `json:"compact_threshold"`
}

// Event is the user-supplied input that starts a turn.
type Event struct {
	Value             string            `json:"value"`
	Attachments       []Attachment      `json:"attachments,omitempty"`
	AdditionalContext string            `json:"additional_context,omitempty"`
}

// Attachment is a file or image supplied alongside an Event.
type Attachment struct {
	Kind      string `json:"kind"` // "image" or "file"
	Path      string `json:"path,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
}
