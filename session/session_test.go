package session

import "testing"

func newTestSession(t *testing.T, prompt string) *Session {
	t.Helper()
	t.Chdir(t.TempDir())
	s, err := New("test", prompt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestResetSeedsSystemMessage(t *testing.T) {
	s := newTestSession(t, "be helpful")
	if s.Len() != 1 {
		t.Fatalf("expected 1 message after New, got %d", s.Len())
	}
	if s.Messages[0].Role != RoleSystem || s.Messages[0].Content != "be helpful" {
		t.Fatalf("unexpected system message: %+v", s.Messages[0])
	}

	s.AddUser("hi")
	s.Reset("new prompt")
	if s.Len() != 1 || s.Messages[0].Content != "new prompt" {
		t.Fatalf("reset did not re-seed: %+v", s.Messages)
	}
}

func TestResetEmptyPromptYieldsNoSystemMessage(t *testing.T) {
	s := newTestSession(t, "")
	if s.Len() != 0 {
		t.Fatalf("expected empty transcript, got %d messages", s.Len())
	}
	s.AddUser("hi")
	s.Reset("")
	if s.Len() != 0 {
		t.Fatalf("reset with empty prompt left %d messages", s.Len())
	}
}

func TestCheckpointRestoreTruncates(t *testing.T) {
	s := newTestSession(t, "sys")
	s.AddUser("question")
	cp := s.Checkpoint()

	s.AddAssistant("", []ToolCall{{ID: "c1", Name: "read_file", Arguments: `{"path":"a"}`}}, "")
	s.AddToolResult("c1", "contents")
	if s.Len() != 4 {
		t.Fatalf("expected 4 messages before restore, got %d", s.Len())
	}

	s.Restore(cp)
	if s.Len() != cp {
		t.Fatalf("restore: want len %d, got %d", cp, s.Len())
	}
	if s.Messages[s.Len()-1].Content != "question" {
		t.Fatalf("restore removed the wrong messages: %+v", s.Messages)
	}

	// Restoring to a larger index never re-inserts anything.
	s.Restore(10)
	if s.Len() != cp {
		t.Fatalf("restore past end mutated transcript: %d", s.Len())
	}
}

func TestToolResultCarriesCallID(t *testing.T) {
	s := newTestSession(t, "")
	s.AddAssistant("", []ToolCall{{ID: "call_7", Name: "x", Arguments: "{}"}}, "")
	s.AddToolResult("call_7", "ok")

	last := s.Messages[s.Len()-1]
	if last.Role != RoleTool || last.ToolCallID != "call_7" {
		t.Fatalf("tool message missing call id: %+v", last)
	}
}

func TestPopLast(t *testing.T) {
	s := newTestSession(t, "")
	if _, ok := s.PopLast(); ok {
		t.Fatal("PopLast on empty session should report false")
	}
	s.AddUser("a")
	s.AddUser("b")
	msg, ok := s.PopLast()
	if !ok || msg.Content != "b" {
		t.Fatalf("PopLast returned %+v, %v", msg, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 message after pop, got %d", s.Len())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestSession(t, "sys")
	s.AddUser("hello")
	s.AddAssistant("hi there", nil, "thinking about greetings")
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load("test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != s.Len() {
		t.Fatalf("loaded %d messages, want %d", loaded.Len(), s.Len())
	}
	if loaded.Messages[2].ReasoningText != "thinking about greetings" {
		t.Fatalf("reasoning text lost on round trip: %+v", loaded.Messages[2])
	}
}
