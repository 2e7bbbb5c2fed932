package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client   *anthropic.Client
	settings config.ModelSettings
}

// NewAnthropicClient creates a client from resolved model settings.
func NewAnthropicClient(ctx context.Context, settings config.ModelSettings) (*AnthropicClient, error) {
	apiKey := os.Getenv(settings.APIKeyEnv)
	if apiKey == "" {
		return nil, errors.Configf("%s environment variable not set", settings.APIKeyEnv)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if settings.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(settings.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)
	return &AnthropicClient{
		client:   &client,
		settings: settings,
	}, nil
}

// Complete sends one completion round to the Anthropic API.
func (a *AnthropicClient) Complete(ctx context.Context, messages []session.Message, opts Options) (*Result, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropic(messages)

	maxTokens := int64(a.settings.MaxOutputTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.settings.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicMessages,
	}
	if a.settings.Temperature != nil {
		params.Temperature = anthropic.Float(*a.settings.Temperature)
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	params.Tools = convertSpecsToAnthropicTools(opts.Tools)

	if opts.Stream {
		return a.completeStreaming(ctx, params, opts)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapCancelled(ctx, errors.Wrapf(err, "completion request failed"))
	}
	return processAnthropicResponse(resp), nil
}

func (a *AnthropicClient) completeStreaming(ctx context.Context, params anthropic.MessageNewParams, opts Options) (*Result, error) {
	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	// The SDK accumulates block deltas by index; the callbacks below only
	// relay text as it arrives.
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, errors.Wrapf(err, "failed to accumulate stream event")
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				emit(opts.OnToken, deltaVariant.Text)
			case anthropic.ThinkingDelta:
				emit(opts.OnReasoning, deltaVariant.Thinking)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapCancelled(ctx, errors.Wrapf(err, "completion stream failed"))
	}

	return processAnthropicResponse(&message), nil
}

// convertMessagesToAnthropic converts our internal message format to
// Anthropic's, pulling the system prompt out into its own parameter.
func convertMessagesToAnthropic(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case session.RoleAssistant:
			var contentItems []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: msg.Content},
				})
			}
			for _, tc := range msg.ToolCalls {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(tc.Arguments),
					},
				})
			}
			if len(contentItems) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: contentItems,
			})
		case session.RoleTool:
			// Tool results travel as user-role tool_result blocks.
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: msg.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: msg.Content},
						}},
					},
				}},
			})
		case session.RoleSystem:
			// Take the last one as the system prompt.
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// convertSpecsToAnthropicTools converts tool declarations to Anthropic's
// tool format, carrying the schema through.
func convertSpecsToAnthropicTools(specs []tools.Spec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolUnionParam
	for _, spec := range specs {
		toolParam := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: spec.Parameters["properties"],
				Required:   stringSlice(spec.Parameters["required"]),
			},
		}
		anthropicTools = append(anthropicTools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return anthropicTools
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// processAnthropicResponse normalizes an Anthropic message into a Result.
func processAnthropicResponse(resp *anthropic.Message) *Result {
	result := &Result{}

	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += c.Text
		case anthropic.ThinkingBlock:
			result.ReasoningText += c.Thinking
		case anthropic.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, session.ToolCall{
				ID:        c.ID,
				Name:      c.Name,
				Arguments: string(c.Input),
			})
		}
	}

	return result
}
