package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
)

// BedrockClient is a client for Anthropic models hosted on AWS Bedrock.
type BedrockClient struct {
	client   *bedrockruntime.Client
	settings config.ModelSettings
}

// NewBedrockClient creates a client from resolved model settings. AWS
// credentials come from the default chain.
func NewBedrockClient(ctx context.Context, settings config.ModelSettings) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if settings.BaseURL != "" {
			o.BaseEndpoint = aws.String(settings.BaseURL)
		} else if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BedrockClient{
		client:   client,
		settings: settings,
	}, nil
}

// Complete sends one completion round via Bedrock. Bedrock is served by a
// single InvokeModel round; a streamed request gets the full text through
// one OnToken call after the response lands.
func (b *BedrockClient) Complete(ctx context.Context, messages []session.Message, opts Options) (*Result, error) {
	bedrockMessages, systemPrompt := convertMessagesToBedrock(messages)

	requestBody, err := buildBedrockRequest(b.settings, bedrockMessages, systemPrompt, opts.Tools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.settings.Model),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, wrapCancelled(ctx, errors.Wrapf(err, "failed to invoke Bedrock model"))
	}

	result, err := processBedrockResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	if opts.Stream {
		emit(opts.OnToken, result.Content)
	}
	return result, nil
}

// convertMessagesToBedrock converts our internal message format to the
// Anthropic-on-Bedrock payload shape.
func convertMessagesToBedrock(messages []session.Message) ([]map[string]any, string) {
	var bedrockMessages []map[string]any
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			systemPrompt = msg.Content
		case session.RoleUser:
			bedrockMessages = append(bedrockMessages, map[string]any{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": msg.Content},
				},
			})
		case session.RoleAssistant:
			var content []map[string]any
			if msg.Content != "" {
				content = append(content, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			if len(content) == 0 {
				continue
			}
			bedrockMessages = append(bedrockMessages, map[string]any{
				"role":    "assistant",
				"content": content,
			})
		case session.RoleTool:
			bedrockMessages = append(bedrockMessages, map[string]any{
				"role": "user",
				"content": []map[string]any{
					{
						"type":        "tool_result",
						"tool_use_id": msg.ToolCallID,
						"content":     msg.Content,
					},
				},
			})
		}
	}

	return bedrockMessages, systemPrompt
}

// buildBedrockRequest creates the request body for Anthropic models on Bedrock.
func buildBedrockRequest(settings config.ModelSettings, messages []map[string]any, systemPrompt string, specs []tools.Spec) ([]byte, error) {
	maxTokens := settings.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	request := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"messages":          messages,
	}
	if settings.Temperature != nil {
		request["temperature"] = *settings.Temperature
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	if len(specs) > 0 {
		var toolDecls []map[string]any
		for _, spec := range specs {
			toolDecls = append(toolDecls, map[string]any{
				"name":         spec.Name,
				"description":  spec.Description,
				"input_schema": spec.Parameters,
			})
		}
		request["tools"] = toolDecls
	}

	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into a Result.
func processBedrockResponse(body []byte) (*Result, error) {
	var response map[string]any
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}

	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	content, ok := response["content"]
	if !ok {
		return &Result{}, nil
	}
	contentArray, ok := content.([]any)
	if !ok {
		return nil, errors.New("unexpected content format in Bedrock response")
	}

	result := &Result{}
	toolCallSeq := 0

	for _, item := range contentArray {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		itemType, ok := itemMap["type"].(string)
		if !ok {
			continue
		}

		switch itemType {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				result.Content += text
			}
		case "thinking":
			if thinking, ok := itemMap["thinking"].(string); ok {
				result.ReasoningText += thinking
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, ok := itemMap["input"].(map[string]any)
			if !ok {
				continue
			}
			argsBytes, err := json.Marshal(input)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to marshal tool input")
			}

			id := fmt.Sprintf("call_%d_%s", toolCallSeq, name)
			if toolID, ok := itemMap["id"].(string); ok {
				id = toolID
			}
			result.ToolCalls = append(result.ToolCalls, session.ToolCall{
				ID:        id,
				Name:      name,
				Arguments: string(argsBytes),
			})
			toolCallSeq++
		}
	}

	return result, nil
}
