package providergw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/forgecore/agentcore/pkg/domain"
)

// GeminiProvider adapts google.golang.org/genai's streaming
// GenerateContentStream to the gateway's Chunk protocol.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider builds a provider bound to model, authenticating with
// apiKey against the Gemini API backend.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Stream(ctx context.Context, reqCtx domain.Context) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errs := make(chan error, 1)

	contents, system := toGeminiContents(reqCtx.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if n := maxTokensOrDefault(reqCtx.MaxTokens); n > 0 {
		config.MaxOutputTokens = int32(n)
	}
	if tools := toGeminiTools(reqCtx.Tools); tools != nil {
		config.Tools = tools
	}

	go func() {
		defer close(out)
		defer close(errs)

		calls := 0
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if ctx.Err() != nil {
				errs <- ctx.Err()
				return
			}
			if err != nil {
				errs <- fmt.Errorf("gemini stream: %w", err)
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						out <- Chunk{Kind: ChunkText, Text: part.Text}
					}
					if part.FunctionCall != nil {
						args, err := json.Marshal(part.FunctionCall.Args)
						if err != nil {
							args = []byte("{}")
						}
						calls++
						out <- Chunk{Kind: ChunkToolPart, ToolPart: domain.ToolCallPart{
							Index:             calls,
							CallID:            syntheticGeminiCallID(part.FunctionCall.Name, calls),
							Name:              domain.ToolName(part.FunctionCall.Name),
							ArgumentsFragment: string(args),
						}}
					}
				}
			}
			if resp.UsageMetadata != nil {
				out <- Chunk{Kind: ChunkUsage, Usage: domain.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}}
			}
		}
		out <- Chunk{Kind: ChunkDone}
	}()

	return out, errs
}

func syntheticGeminiCallID(name string, n int) string {
	return fmt.Sprintf("gemini_%s_%d", name, n)
}

func toGeminiContents(entries []domain.MessageEntry) ([]*genai.Content, string) {
	var system string
	var out []*genai.Content
	for _, entry := range entries {
		switch entry.Kind {
		case domain.EntryText:
			if entry.Role == domain.RoleSystem {
				system += entry.Content
				continue
			}
			role := genai.RoleUser
			if entry.Role == domain.RoleAssistant {
				role = genai.RoleModel
			}
			content := &genai.Content{Role: role}
			if entry.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: entry.Content})
			}
			for _, call := range entry.ToolCalls {
				var args map[string]any
				if len(call.Arguments) > 0 {
					_ = json.Unmarshal(call.Arguments, &args)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: string(call.Name), Args: args},
				})
			}
			if len(content.Parts) > 0 {
				out = append(out, content)
			}
		case domain.EntryTool:
			var response map[string]any
			text := entry.Output.Text()
			if err := json.Unmarshal([]byte(text), &response); err != nil {
				response = map[string]any{"result": text, "error": entry.Output.IsError}
			}
			out = append(out, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{Name: string(entry.ToolResultName), Response: response},
				}},
			})
		}
	}
	return out, system
}

func toGeminiTools(defs []domain.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(def.Schema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        string(def.Name),
			Description: def.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema walks a JSON Schema document into Gemini's Schema type,
// the shape JSON Schema documents take being a strict subset of what
// Gemini's function-calling schema accepts.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}
