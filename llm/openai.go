package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/respjson"
)

// OpenAIClient talks to any Chat Completions compatible endpoint. It serves
// both the "openai" and "deepseek" providers; DeepSeek only differs in base
// URL, credential variable, and the reasoning_content field its reasoner
// models attach to messages and deltas.
type OpenAIClient struct {
	client      *openai.Client
	settings    config.ModelSettings
	requestOpts []option.RequestOption
}

// NewOpenAIClient creates a client from resolved model settings. The API key
// is read from the configured environment variable.
func NewOpenAIClient(ctx context.Context, settings config.ModelSettings) (*OpenAIClient, error) {
	apiKey := os.Getenv(settings.APIKeyEnv)
	if apiKey == "" {
		return nil, errors.Configf("%s environment variable not set", settings.APIKeyEnv)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if settings.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(settings.BaseURL))
	}

	// Per-request extras configured for this model entry.
	var requestOpts []option.RequestOption
	for k, v := range settings.ExtraHeaders {
		requestOpts = append(requestOpts, option.WithHeader(k, v))
	}
	for k, v := range settings.ExtraBody {
		requestOpts = append(requestOpts, option.WithJSONSet(k, v))
	}

	c := openai.NewClient(clientOpts...)
	// The &c is required; NewClient returns a value.
	return &OpenAIClient{client: &c, settings: settings, requestOpts: requestOpts}, nil
}

// Complete sends one completion round, streaming when asked to.
func (o *OpenAIClient) Complete(ctx context.Context, messages []session.Message, opts Options) (*Result, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.settings.Model),
		Messages: convertMessagesToOpenAI(messages),
		Tools:    convertSpecsToOpenAITools(opts.Tools),
	}
	if o.settings.Temperature != nil {
		params.Temperature = openai.Float(*o.settings.Temperature)
	}
	if o.settings.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.settings.MaxOutputTokens))
	}

	if opts.Stream {
		return o.completeStreaming(ctx, params, opts)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params, o.requestOpts...)
	if err != nil {
		return nil, wrapCancelled(ctx, errors.Wrapf(err, "completion request failed"))
	}
	return processOpenAIResponse(resp), nil
}

func (o *OpenAIClient) completeStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts Options) (*Result, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, params, o.requestOpts...)
	defer stream.Close()

	var content, reasoning string
	acc := newToolCallAccumulator()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			content += delta.Content
			emit(opts.OnToken, delta.Content)
		}
		if r := extraString(delta.JSON.ExtraFields, "reasoning_content"); r != "" {
			reasoning += r
			emit(opts.OnReasoning, r)
		}
		for _, tc := range delta.ToolCalls {
			acc.add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapCancelled(ctx, errors.Wrapf(err, "completion stream failed"))
	}

	return &Result{
		Content:       content,
		ReasoningText: reasoning,
		ToolCalls:     acc.finalize(),
	}, nil
}

// processOpenAIResponse normalizes a single-shot response into a Result.
func processOpenAIResponse(resp *openai.ChatCompletion) *Result {
	if len(resp.Choices) == 0 {
		return &Result{}
	}

	choice := resp.Choices[0].Message
	result := &Result{
		Content:       choice.Content,
		ReasoningText: extraString(choice.JSON.ExtraFields, "reasoning_content"),
	}

	for _, tc := range choice.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, session.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result
}

// extraString pulls a string field the SDK does not model, such as
// DeepSeek's reasoning_content.
func extraString(fields map[string]respjson.Field, key string) string {
	field, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(field.Raw()), &s); err != nil {
		return ""
	}
	return s
}

// convertMessagesToOpenAI converts our internal message format to the Chat
// Completions wire shape, preserving tool-call linkage.
func convertMessagesToOpenAI(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case session.RoleUser:
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertSpecsToOpenAITools converts tool declarations to the OpenAI tool
// format, passing each schema through verbatim.
func convertSpecsToOpenAITools(specs []tools.Spec) []openai.ChatCompletionToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, spec := range specs {
		toolParam := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: openai.String(spec.Description),
			Parameters:  openai.FunctionParameters(spec.Parameters),
		})
		openAITools = append(openAITools, toolParam)
	}
	return openAITools
}
