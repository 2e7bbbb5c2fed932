package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a single tool invocation requested by the model. Arguments is
// the raw text the model produced; it is not guaranteed to be valid JSON
// until the agent has parsed (and possibly repaired) it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	Role          string     `json:"role"` // "system", "user", "assistant", "tool"
	Content       string     `json:"content"`
	ToolCallID    string     `json:"tool_call_id,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
	ReasoningText string     `json:"reasoning_text,omitempty"`
}

// Session is the ordered transcript of one conversation. All mutations touch
// only the in-memory slice; Save/Load handle persistence explicitly.
type Session struct {
	Name          string    `json:"name"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Messages      []Message `json:"messages"`
	Mode          string    `json:"mode,omitempty"`
	Toolset       string    `json:"toolset,omitempty"`
	ToolVerbosity string    `json:"tool_verbosity,omitempty"`
	path          string
}

// New creates a new named session seeded with the given system prompt.
// An empty prompt yields a session with no system message.
func New(name, systemPrompt string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Name: name,
		path: path,
	}
	s.Reset(systemPrompt)
	return s, nil
}

// Load loads an existing session from disk.
func Load(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// AddUser appends a user message.
func (s *Session) AddUser(text string) {
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: text})
}

// AddAssistant appends an assistant message, optionally carrying the tool
// calls the model requested and any reasoning text it produced.
func (s *Session) AddAssistant(text string, toolCalls []ToolCall, reasoning string) {
	s.Messages = append(s.Messages, Message{
		Role:          RoleAssistant,
		Content:       text,
		ToolCalls:     toolCalls,
		ReasoningText: reasoning,
	})
}

// AddToolResult appends a tool message answering the call with the given id.
func (s *Session) AddToolResult(callID, text string) {
	s.Messages = append(s.Messages, Message{
		Role:       RoleTool,
		Content:    text,
		ToolCallID: callID,
	})
}

// PopLast removes and returns the most recent message. Callers use this to
// undo their own user message after a failed turn.
func (s *Session) PopLast() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	last := s.Messages[len(s.Messages)-1]
	s.Messages = s.Messages[:len(s.Messages)-1]
	return last, true
}

// Checkpoint returns the current transcript length for a later Restore.
func (s *Session) Checkpoint() int {
	return len(s.Messages)
}

// Restore truncates the transcript back to a length previously returned by
// Checkpoint. It only ever shortens the transcript; an index at or past the
// current length is a no-op.
func (s *Session) Restore(index int) {
	if index < 0 {
		index = 0
	}
	if index < len(s.Messages) {
		s.Messages = s.Messages[:index]
	}
}

// Reset drops the whole transcript and re-seeds it with the system prompt.
// An empty prompt leaves the transcript with no system message.
func (s *Session) Reset(systemPrompt string) {
	s.SystemPrompt = systemPrompt
	s.Messages = s.Messages[:0]
	if systemPrompt != "" {
		s.Messages = append(s.Messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
}

// Len returns the number of messages in the transcript.
func (s *Session) Len() int {
	return len(s.Messages)
}

func sessionPath(name string) (string, error) {
	sessionDir := filepath.Join(".deepseek-cli", "sessions")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(sessionDir, fmt.Sprintf("%s.json", name)), nil
}
