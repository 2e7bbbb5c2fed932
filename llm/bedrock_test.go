package llm

import (
	"encoding/json"
	"testing"

	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
)

func TestConvertMessagesToBedrock(t *testing.T) {
	messages := []session.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "Hello, world!"},
		{
			Role: "assistant",
			ToolCalls: []session.ToolCall{
				{ID: "call_1", Name: "test_tool", Arguments: `{"param1":"value1"}`},
			},
		},
		{Role: "tool", Content: "Tool result", ToolCallID: "call_1"},
	}

	result, systemPrompt := convertMessagesToBedrock(messages)
	if systemPrompt != "be terse" {
		t.Errorf("system prompt not extracted: %q", systemPrompt)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}
	if result[0]["role"] != "user" {
		t.Errorf("expected role 'user', got '%s'", result[0]["role"])
	}
	if result[1]["role"] != "assistant" {
		t.Errorf("expected role 'assistant', got '%s'", result[1]["role"])
	}
	// Tool results travel as user-role tool_result blocks.
	if result[2]["role"] != "user" {
		t.Errorf("expected role 'user' for tool result, got '%s'", result[2]["role"])
	}

	assistantContent := result[1]["content"].([]map[string]any)
	if assistantContent[0]["type"] != "tool_use" {
		t.Errorf("expected tool_use block, got %v", assistantContent[0])
	}
	input := assistantContent[0]["input"].(map[string]any)
	if input["param1"] != "value1" {
		t.Errorf("arguments not decoded into input: %v", input)
	}
}

func TestBuildBedrockRequest(t *testing.T) {
	messages := []map[string]any{
		{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": "Hello!"},
			},
		},
	}
	settings := config.ModelSettings{Model: "anthropic.claude-3"}

	body, err := buildBedrockRequest(settings, messages, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if _, hasTools := decoded["tools"]; hasTools {
		t.Error("tools key present without any tool declarations")
	}

	specs := []tools.Spec{{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"param1": map[string]any{"type": "string"}},
		},
	}}
	body, err = buildBedrockRequest(settings, messages, "sys", specs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if decoded["system"] != "sys" {
		t.Errorf("system prompt missing: %v", decoded["system"])
	}
	toolDecls := decoded["tools"].([]any)
	decl := toolDecls[0].(map[string]any)
	if decl["name"] != "test_tool" {
		t.Errorf("tool declaration mangled: %v", decl)
	}
	if _, ok := decl["input_schema"].(map[string]any)["properties"]; !ok {
		t.Error("schema not passed through verbatim")
	}
}

func TestProcessBedrockResponse(t *testing.T) {
	body := []byte(`{
		"content": [
			{"type": "text", "text": "Let me check."},
			{"type": "tool_use", "id": "toolu_1", "name": "read_file", "input": {"path": "main.go"}}
		]
	}`)

	result, err := processBedrockResponse(body)
	if err != nil {
		t.Fatalf("processBedrockResponse: %v", err)
	}
	if result.Content != "Let me check." {
		t.Errorf("content: %q", result.Content)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.ToolCalls))
	}
	tc := result.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "read_file" {
		t.Errorf("tool call mangled: %+v", tc)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil || args["path"] != "main.go" {
		t.Errorf("arguments not normalized to raw JSON: %q", tc.Arguments)
	}
}

func TestProcessBedrockResponseError(t *testing.T) {
	if _, err := processBedrockResponse([]byte(`{"error": "throttled"}`)); err == nil {
		t.Fatal("expected error for error payload")
	}
}
