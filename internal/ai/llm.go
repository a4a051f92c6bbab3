package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/civitas311/backend/internal/config"
)

const defaultMaxTokens = 4096

// LangchainClient drives any langchaingo chat model that supports tool
// calling.
type LangchainClient struct {
	model     llms.Model
	maxTokens int
}

func New(cfg config.Config) (Client, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.ModelProvider {
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.ModelName),
		}
		if cfg.ModelBaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.ModelBaseURL))
		}
		model, err = anthropic.New(opts...)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.ModelName),
		}
		if cfg.ModelBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.ModelBaseURL))
		}
		model, err = openai.New(opts...)
	case "mock":
		return MockClient{ModelVersion: "mock-v1"}, nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s model: %w", cfg.ModelProvider, err)
	}

	return &LangchainClient{model: model, maxTokens: defaultMaxTokens}, nil
}

func (c *LangchainClient) Chat(ctx context.Context, system string, transcript []Message, tools []llms.Tool) (Turn, error) {
	msgs := make([]llms.MessageContent, 0, len(transcript)+1)
	if system != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, m := range transcript {
		msgs = append(msgs, convertMessage(m)...)
	}

	resp, err := c.model.GenerateContent(ctx, msgs,
		llms.WithTools(tools),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return Turn{}, classifyTransport(err)
	}
	if len(resp.Choices) == 0 {
		return Turn{}, classifyTransport(fmt.Errorf("empty model response"))
	}

	choice := resp.Choices[0]
	turn := Turn{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		args := json.RawMessage(tc.FunctionCall.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.FunctionCall.Name,
			Arguments: args,
		})
	}
	return turn, nil
}

// convertMessage maps one transcript entry onto langchaingo message contents.
// Tool results become tool-role messages so providers can emit their native
// tool_result blocks.
func convertMessage(m Message) []llms.MessageContent {
	switch {
	case len(m.ToolResults) > 0:
		out := make([]llms.MessageContent, 0, len(m.ToolResults))
		for _, tr := range m.ToolResults {
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tr.CallID,
					Name:       tr.Name,
					Content:    tr.Content,
				}},
			})
		}
		return out

	case m.Role == RoleAssistant:
		mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if m.Text != "" {
			mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Text})
		}
		for _, tc := range m.ToolCalls {
			mc.Parts = append(mc.Parts, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return []llms.MessageContent{mc}

	default:
		return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, m.Text)}
	}
}
