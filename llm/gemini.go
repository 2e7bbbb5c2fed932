package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client   *genai.Client
	settings config.ModelSettings
}

// NewGeminiClient creates a client from resolved model settings.
func NewGeminiClient(ctx context.Context, settings config.ModelSettings) (*GeminiClient, error) {
	apiKey := os.Getenv(settings.APIKeyEnv)
	if apiKey == "" {
		return nil, errors.Configf("%s environment variable not set", settings.APIKeyEnv)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiClient{
		client:   client,
		settings: settings,
	}, nil
}

// newModel builds a request-scoped GenerativeModel. Tools and the system
// instruction are per-round state; keeping them off the shared client makes
// Complete safe for concurrent use by independent sessions.
func (g *GeminiClient) newModel(specs []tools.Spec, systemPrompt string) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.settings.Model)
	if g.settings.Temperature != nil {
		model.SetTemperature(float32(*g.settings.Temperature))
	}
	if g.settings.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(g.settings.MaxOutputTokens))
	}
	model.Tools = convertSpecsToGeminiTools(specs)
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	return model
}

// Complete sends one completion round to the Gemini API.
func (g *GeminiClient) Complete(ctx context.Context, messages []session.Message, opts Options) (*Result, error) {
	history, systemPrompt := convertMessagesToGemini(messages)
	if len(history) == 0 {
		return nil, errors.New("no messages to send")
	}

	model := g.newModel(opts.Tools, systemPrompt)

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	if opts.Stream {
		return g.completeStreaming(ctx, chatSession, lastMessage.Parts, opts)
	}

	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return nil, wrapCancelled(ctx, errors.Wrapf(err, "completion request failed"))
	}
	return processGeminiResponse(resp)
}

func (g *GeminiClient) completeStreaming(ctx context.Context, cs *genai.ChatSession, parts []genai.Part, opts Options) (*Result, error) {
	iter := cs.SendMessageStream(ctx, parts...)

	result := &Result{}
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapCancelled(ctx, errors.Wrapf(err, "completion stream failed"))
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				result.Content += string(v)
				emit(opts.OnToken, string(v))
			case genai.FunctionCall:
				call, err := toolCallFromGemini(v)
				if err != nil {
					return nil, err
				}
				result.ToolCalls = append(result.ToolCalls, call)
			}
		}
	}
	return result, nil
}

// convertMessagesToGemini converts our internal message format to Gemini's.
// Tool results need the called function's name, which Gemini does not echo,
// so it is recovered from the requesting assistant message by call id.
func convertMessagesToGemini(messages []session.Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var systemPrompt string
	callNames := make(map[string]string)

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			systemPrompt = msg.Content
		case session.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case session.RoleTool:
			name := callNames[msg.ToolCallID]
			contents = append(contents, &genai.Content{
				Role: "function",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     name,
					Response: map[string]any{"result": msg.Content},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	return contents, systemPrompt
}

// convertSpecsToGeminiTools converts tool declarations to Gemini's
// FunctionDeclaration format, translating each JSON schema.
func convertSpecsToGeminiTools(specs []tools.Spec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, spec := range specs {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schemaToGemini(spec.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// schemaToGemini translates a JSON-Schema object into genai's typed schema.
// Unknown or missing pieces degrade to a permissive object schema.
func schemaToGemini(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{}
	switch schema["type"] {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	default:
		out.Type = genai.TypeObject
	}

	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			subMap, _ := sub.(map[string]any)
			out.Properties[name] = schemaToGemini(subMap)
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = schemaToGemini(items)
	}
	out.Required = stringSlice(schema["required"])
	if vals, ok := schema["enum"].([]any); ok {
		out.Enum = stringSlice(vals)
	}
	return out
}

func toolCallFromGemini(v genai.FunctionCall) (session.ToolCall, error) {
	argsBytes, err := json.Marshal(v.Args)
	if err != nil {
		return session.ToolCall{}, errors.Wrapf(err, "failed to marshal function call arguments")
	}
	// Gemini does not issue call ids; synthesize one so tool results keep
	// their linkage in the transcript.
	return session.ToolCall{
		ID:        fmt.Sprintf("call_%s", uuid.NewString()),
		Name:      v.Name,
		Arguments: string(argsBytes),
	}, nil
}

// processGeminiResponse converts a Gemini API response into a Result.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*Result, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	result := &Result{}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			result.Content += string(v)
		case genai.FunctionCall:
			call, err := toolCallFromGemini(v)
			if err != nil {
				return nil, err
			}
			result.ToolCalls = append(result.ToolCalls, call)
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}

	return result, nil
}
