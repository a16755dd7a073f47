package orchestrator

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/forgecore/agentcore/pkg/domain"
)

const (
	toolCallOpenTag  = "<forge_tool_call>"
	toolCallCloseTag = "</forge_tool_call>"
)

// fallbackCall is the JSON shape expected inside a <forge_tool_call> block
// for models with no native tool-calling support.
type fallbackCall struct {
	Name      domain.ToolName `json:"name"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments"`
}

// extractFallbackToolCalls scans content for a <forge_tool_call>...</forge_tool_call>
// sentinel block. If found, it returns the content truncated to just before
// the opening tag, the parsed tool calls, and true. Otherwise it returns
// content unchanged and false.
func extractFallbackToolCalls(content string) (truncated string, calls []domain.ToolCall, found bool) {
	openIdx := strings.Index(content, toolCallOpenTag)
	if openIdx < 0 {
		return content, nil, false
	}
	closeIdx := strings.Index(content[openIdx:], toolCallCloseTag)
	if closeIdx < 0 {
		return content, nil, false
	}
	body := content[openIdx+len(toolCallOpenTag) : openIdx+closeIdx]
	truncated = content[:openIdx]

	var parsed []fallbackCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &parsed); err != nil {
		var single fallbackCall
		if err2 := json.Unmarshal([]byte(strings.TrimSpace(body)), &single); err2 != nil {
			return truncated, nil, true
		}
		parsed = []fallbackCall{single}
	}

	calls = make([]domain.ToolCall, 0, len(parsed))
	for i, c := range parsed {
		callID := c.CallID
		if callID == "" {
			callID = syntheticCallID(i)
		}
		calls = append(calls, domain.ToolCall{Name: c.Name, CallID: callID, Arguments: c.Arguments})
	}
	return truncated, calls, true
}

func syntheticCallID(index int) string {
	return "fallback_" + strconv.Itoa(index)
}

// oneToolCallReminder is appended to the assistant message when a
// <forge_tool_call> block is detected mid-stream, instructing the model to
// emit a single call at the end of its next message instead of continuing
// past it.
const oneToolCallReminder = "\n\n[Note: emit only one tool call, at the end of your message.]"
