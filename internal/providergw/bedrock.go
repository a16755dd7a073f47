package providergw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/forgecore/agentcore/pkg/domain"
)

// BedrockProvider adapts the Bedrock Converse streaming API to the
// gateway's Chunk protocol, for foundation models hosted on AWS.
type BedrockProvider struct {
	client *bedrockruntime.Client
	model  string
}

// NewBedrockProvider builds a provider bound to model in region. When
// accessKeyID and secretAccessKey are both set, it authenticates with
// those static credentials; otherwise it defers to the AWS SDK's default
// credential chain (environment, IAM role, shared config).
func NewBedrockProvider(ctx context.Context, region, accessKeyID, secretAccessKey, model string) (*BedrockProvider, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg), model: model}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Stream(ctx context.Context, reqCtx domain.Context) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errs := make(chan error, 1)

	messages, system := toBedrockMessages(reqCtx.Messages)
	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(p.model),
		Messages: messages,
	}
	if system != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if n := maxTokensOrDefault(reqCtx.MaxTokens); n > 0 {
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(n))}
	}
	if tools := toBedrockTools(reqCtx.Tools); tools != nil {
		req.ToolConfig = tools
	}

	go func() {
		defer close(out)
		defer close(errs)

		resp, err := p.client.ConverseStream(ctx, req)
		if err != nil {
			errs <- fmt.Errorf("bedrock stream: %w", err)
			return
		}
		stream := resp.GetStream()
		defer stream.Close()

		var toolUseID, toolName string
		var toolArgs strings.Builder
		index := 0

		for event := range stream.Events() {
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolUseID = aws.ToString(toolUse.Value.ToolUseId)
					toolName = aws.ToString(toolUse.Value.Name)
					toolArgs.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- Chunk{Kind: ChunkText, Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolArgs.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if toolUseID != "" {
					index++
					out <- Chunk{Kind: ChunkToolPart, ToolPart: domain.ToolCallPart{
						Index:             index,
						CallID:            toolUseID,
						Name:              domain.ToolName(toolName),
						ArgumentsFragment: toolArgs.String(),
					}}
					toolUseID, toolName = "", ""
					toolArgs.Reset()
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					out <- Chunk{Kind: ChunkUsage, Usage: domain.Usage{
						PromptTokens:     int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						CompletionTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
						TotalTokens:      int(aws.ToInt32(ev.Value.Usage.TotalTokens)),
					}}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- Chunk{Kind: ChunkDone}
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("bedrock stream: %w", err)
			return
		}
		out <- Chunk{Kind: ChunkDone}
	}()

	return out, errs
}

func toBedrockMessages(entries []domain.MessageEntry) ([]types.Message, string) {
	var system string
	var out []types.Message
	for _, entry := range entries {
		switch entry.Kind {
		case domain.EntryText:
			if entry.Role == domain.RoleSystem {
				system += entry.Content
				continue
			}
			var content []types.ContentBlock
			if entry.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: entry.Content})
			}
			for _, call := range entry.ToolCalls {
				var input any
				if err := json.Unmarshal(call.Arguments, &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.CallID),
						Name:      aws.String(string(call.Name)),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
			role := types.ConversationRoleUser
			if entry.Role == domain.RoleAssistant {
				role = types.ConversationRoleAssistant
			}
			if len(content) > 0 {
				out = append(out, types.Message{Role: role, Content: content})
			}
		case domain.EntryTool:
			content := []types.ToolResultContentBlock{
				&types.ToolResultContentBlockMemberText{Value: entry.Output.Text()},
			}
			out = append(out, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{ToolUseId: aws.String(entry.CallID), Content: content},
				}},
			})
		}
	}
	return out, system
}

func toBedrockTools(defs []domain.ToolDefinition) *types.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]types.Tool, len(defs))
	for i, def := range defs {
		var schema any
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools[i] = &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(string(def.Name)),
			Description: aws.String(def.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}}
	}
	return &types.ToolConfiguration{Tools: tools}
}
