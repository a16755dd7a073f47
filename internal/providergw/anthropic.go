package providergw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgecore/agentcore/pkg/domain"
)

// AnthropicProvider adapts anthropic-sdk-go's streaming Messages API to
// the gateway's Chunk protocol.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider builds a provider bound to model, authenticating
// with apiKey (empty defers to ANTHROPIC_API_KEY in the environment, the
// SDK's own default).
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), model: model}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Stream(ctx context.Context, reqCtx domain.Context) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errs := make(chan error, 1)

	messages, system, err := toAnthropicMessages(reqCtx.Messages)
	if err != nil {
		go func() {
			errs <- err
			close(out)
			close(errs)
		}()
		return out, errs
	}

	tools, err := toAnthropicTools(reqCtx.Tools)
	if err != nil {
		go func() {
			errs <- err
			close(out)
			close(errs)
		}()
		return out, errs
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(reqCtx.MaxTokens)),
		Tools:     tools,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	go func() {
		defer close(out)
		defer close(errs)

		stream := p.client.Messages.NewStreaming(ctx, params)
		asm := domain.NewToolCallAssembler()
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- Chunk{Kind: ChunkText, Text: delta.Text}
				case anthropic.InputJSONDelta:
					part := domain.ToolCallPart{Index: int(variant.Index), ArgumentsFragment: delta.PartialJSON}
					asm.Add(part)
					out <- Chunk{Kind: ChunkToolPart, ToolPart: part}
				case anthropic.ThinkingDelta:
					out <- Chunk{Kind: ChunkReasoning, Reasoning: domain.ReasoningPart{Text: delta.Thinking}}
				}
			case anthropic.MessageDeltaEvent:
				out <- Chunk{Kind: ChunkUsage, Usage: domain.Usage{
					CompletionTokens: int(variant.Usage.OutputTokens),
				}}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("anthropic stream: %w", err)
			return
		}
		out <- Chunk{Kind: ChunkDone}
	}()

	return out, errs
}

func maxTokensOrDefault(n *int) int {
	if n == nil || *n <= 0 {
		return 4096
	}
	return *n
}

func toAnthropicMessages(entries []domain.MessageEntry) ([]anthropic.MessageParam, string, error) {
	var system string
	var messages []anthropic.MessageParam
	for _, entry := range entries {
		switch entry.Kind {
		case domain.EntryText:
			if entry.Role == domain.RoleSystem {
				system += entry.Content
				continue
			}
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(entry.Content)}
			for _, call := range entry.ToolCalls {
				var args map[string]any
				if len(call.Arguments) > 0 {
					if err := json.Unmarshal(call.Arguments, &args); err != nil {
						return nil, "", fmt.Errorf("decode tool call arguments for %s: %w", call.Name, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.CallID, args, string(call.Name)))
			}
			role := anthropic.MessageParamRoleUser
			if entry.Role == domain.RoleAssistant {
				role = anthropic.MessageParamRoleAssistant
			}
			messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
		case domain.EntryTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(entry.CallID, entry.Output.Text(), entry.Output.IsError),
			))
		}
	}
	return messages, system, nil
}

func toAnthropicTools(defs []domain.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, string(def.Name))
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		out = append(out, param)
	}
	return out, nil
}
