package providergw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgecore/agentcore/pkg/domain"
)

// OpenAIProvider adapts go-openai's streaming chat completion API to the
// gateway's Chunk protocol, for OpenAI itself and any OpenAI-compatible
// endpoint (set via baseURL).
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider bound to model. If baseURL is
// non-empty the client targets that endpoint instead of api.openai.com,
// covering OpenAI-compatible gateways.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Stream(ctx context.Context, reqCtx domain.Context) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errs := make(chan error, 1)

	messages, err := toOpenAIMessages(reqCtx.Messages)
	if err != nil {
		go func() {
			errs <- err
			close(out)
			close(errs)
		}()
		return out, errs
	}

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   true,
		Tools:    toOpenAITools(reqCtx.Tools),
	}
	if n := maxTokensOrDefault(reqCtx.MaxTokens); n > 0 {
		req.MaxTokens = n
	}

	go func() {
		defer close(out)
		defer close(errs)

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			errs <- fmt.Errorf("openai stream: %w", err)
			return
		}
		defer stream.Close()

		calls := make(map[int]domain.ToolCallPart)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- Chunk{Kind: ChunkDone}
				return
			}
			if err != nil {
				errs <- fmt.Errorf("openai stream: %w", err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				out <- Chunk{Kind: ChunkText, Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				part := calls[index]
				part.Index = index
				if tc.ID != "" {
					part.CallID = tc.ID
				}
				if tc.Function.Name != "" {
					part.Name = domain.ToolName(tc.Function.Name)
				}
				part.ArgumentsFragment = tc.Function.Arguments
				calls[index] = part
				out <- Chunk{Kind: ChunkToolPart, ToolPart: part}
			}
			if resp.Usage != nil {
				out <- Chunk{Kind: ChunkUsage, Usage: domain.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}}
			}
		}
	}()

	return out, errs
}

func toOpenAIMessages(entries []domain.MessageEntry) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	for _, entry := range entries {
		switch entry.Kind {
		case domain.EntryText:
			role := openai.ChatMessageRoleUser
			switch entry.Role {
			case domain.RoleSystem:
				role = openai.ChatMessageRoleSystem
			case domain.RoleAssistant:
				role = openai.ChatMessageRoleAssistant
			}
			msg := openai.ChatCompletionMessage{Role: role, Content: entry.Content}
			for _, call := range entry.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      string(call.Name),
						Arguments: string(call.Arguments),
					},
				})
			}
			out = append(out, msg)
		case domain.EntryTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    entry.Output.Text(),
				ToolCallID: entry.CallID,
			})
		}
	}
	return out, nil
}

func toOpenAITools(defs []domain.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(def.Name),
				Description: def.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}
