package agent

import (
	"context"
	"testing"

	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/llm"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
)

// scriptedClient plays back a fixed sequence of completion results, then
// answers "done" forever. It snapshots the transcript it was handed on each
// call so tests can assert what the model actually saw.
type scriptedClient struct {
	rounds   []llm.Result
	calls    int
	requests [][]session.Message
	err      error
}

func (c *scriptedClient) Complete(ctx context.Context, messages []session.Message, opts llm.Options) (*llm.Result, error) {
	c.requests = append(c.requests, append([]session.Message(nil), messages...))
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if c.calls <= len(c.rounds) {
		r := c.rounds[c.calls-1]
		return &r, nil
	}
	return &llm.Result{Content: "done"}, nil
}

// loopingClient requests the same tool call on every round.
type loopingClient struct {
	calls int
}

func (c *loopingClient) Complete(ctx context.Context, messages []session.Message, opts llm.Options) (*llm.Result, error) {
	c.calls++
	return &llm.Result{
		ToolCalls: []session.ToolCall{{ID: "call_loop", Name: "noop", Arguments: "{}"}},
	}, nil
}

type fakeTool struct {
	name    string
	execute func(args map[string]any, inv *tools.Invocation) (*tools.Result, error)
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "test tool" }
func (f *fakeTool) Schema() map[string]any { return nil }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (*tools.Result, error) {
	if f.execute == nil {
		return &tools.Result{Content: "ok"}, nil
	}
	return f.execute(args, inv)
}

func newTestAgent(t *testing.T, client llm.Client, testTools ...tools.Tool) *Agent {
	t.Helper()
	t.Chdir(t.TempDir())

	sess, err := session.New("test", "")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	byName := make(map[string]tools.Tool, len(testTools))
	for _, tool := range testTools {
		byName[tool.Name()] = tool
	}
	return &Agent{
		Config:        &config.Config{},
		Session:       sess,
		Client:        client,
		ActiveTools:   testTools,
		Mode:          ModeAuto,
		Verbosity:     ToolVerbosityNone,
		ModelName:     "test-model",
		MaxIterations: DefaultMaxIterations,
		toolsByName:   byName,
	}
}

func TestPlainTextTurn(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{Content: "hello back"}}}
	a := newTestAgent(t, client)

	var got string
	err := a.ProcessUserInput(context.Background(), "hello", ProcessCallbacks{
		OnAssistantMessage: func(message string) { got = message },
	})
	if err != nil {
		t.Fatalf("ProcessUserInput: %v", err)
	}
	if got != "hello back" {
		t.Errorf("assistant message: %q", got)
	}
	if a.Session.Len() != 2 {
		t.Errorf("expected user + assistant messages, got %d", a.Session.Len())
	}
	if client.calls != 1 {
		t.Errorf("expected 1 completion call, got %d", client.calls)
	}
}

func TestToolDispatchOrderAndLinkage(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{
		Content: "checking two files",
		ToolCalls: []session.ToolCall{
			{ID: "call_1", Name: "probe", Arguments: `{"n": 1}`},
			{ID: "call_2", Name: "probe", Arguments: `{"n": 2}`},
		},
	}}}

	var executed []float64
	probe := &fakeTool{name: "probe", execute: func(args map[string]any, inv *tools.Invocation) (*tools.Result, error) {
		n := args["n"].(float64)
		executed = append(executed, n)
		if inv.Model != "test-model" {
			t.Errorf("invocation model: %q", inv.Model)
		}
		return &tools.Result{Content: "probed"}, nil
	}}
	a := newTestAgent(t, client, probe)

	if err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput: %v", err)
	}

	if len(executed) != 2 || executed[0] != 1 || executed[1] != 2 {
		t.Errorf("tools executed out of order: %v", executed)
	}

	// user, assistant w/ calls, two tool results, final assistant
	msgs := a.Session.Messages
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[2].Role != session.RoleTool || msgs[2].ToolCallID != "call_1" {
		t.Errorf("first tool result not linked to call_1: %+v", msgs[2])
	}
	if msgs[3].Role != session.RoleTool || msgs[3].ToolCallID != "call_2" {
		t.Errorf("second tool result not linked to call_2: %+v", msgs[3])
	}

	// The second completion round must have seen the tool results.
	if len(client.requests) != 2 {
		t.Fatalf("expected 2 completion calls, got %d", len(client.requests))
	}
	second := client.requests[1]
	if len(second) != 4 || second[3].ToolCallID != "call_2" {
		t.Errorf("second request missing tool results: %d messages", len(second))
	}
}

func TestRollbackOnToolFailure(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{
		ToolCalls: []session.ToolCall{
			{ID: "call_1", Name: "flaky", Arguments: `{"fail": false}`},
			{ID: "call_2", Name: "flaky", Arguments: `{"fail": true}`},
			{ID: "call_3", Name: "flaky", Arguments: `{"fail": false}`},
		},
	}}}

	executions := 0
	flaky := &fakeTool{name: "flaky", execute: func(args map[string]any, inv *tools.Invocation) (*tools.Result, error) {
		executions++
		if args["fail"].(bool) {
			return nil, errors.New("disk on fire")
		}
		return &tools.Result{Content: "fine"}, nil
	}}
	a := newTestAgent(t, client, flaky)

	err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{})
	if err == nil {
		t.Fatal("expected error from failed tool")
	}
	var execErr *errors.ToolExecutionError
	if !errors.As(err, &execErr) || execErr.Tool != "flaky" {
		t.Errorf("expected ToolExecutionError for flaky, got %T: %v", err, err)
	}
	if executions != 2 {
		t.Errorf("expected dispatch to stop at the failing call, got %d executions", executions)
	}
	// Rollback drops the assistant message and every partial tool result;
	// only the user message remains.
	if a.Session.Len() != 1 {
		t.Errorf("expected session length 1 after rollback, got %d", a.Session.Len())
	}
}

func TestMissingToolIsConfigError(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{
		ToolCalls: []session.ToolCall{{ID: "call_1", Name: "no_such_tool", Arguments: "{}"}},
	}}}
	a := newTestAgent(t, client)

	err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{})
	var cfgErr *errors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
	if a.Session.Len() != 1 {
		t.Errorf("expected rollback to user message only, got %d", a.Session.Len())
	}
}

func TestArgumentRepairRecoversUnescapedQuote(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{
		ToolCalls: []session.ToolCall{
			{ID: "call_1", Name: "reader", Arguments: `{"path": "a"b"}`},
		},
	}}}

	var gotPath string
	reader := &fakeTool{name: "reader", execute: func(args map[string]any, inv *tools.Invocation) (*tools.Result, error) {
		gotPath = args["path"].(string)
		return &tools.Result{Content: "read"}, nil
	}}
	a := newTestAgent(t, client, reader)

	if err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput: %v", err)
	}
	if gotPath != `a"b` {
		t.Errorf("repaired path: %q", gotPath)
	}
	// The transcript keeps the repaired text so replaying it to a provider
	// sends valid JSON.
	recorded := a.Session.Messages[1].ToolCalls[0].Arguments
	if recorded != `{"path": "a\"b"}` {
		t.Errorf("recorded arguments not repaired: %q", recorded)
	}
}

func TestArgumentParseErrorAfterFailedRepair(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{
		ToolCalls: []session.ToolCall{
			{ID: "call_1", Name: "reader", Arguments: `{"path": }`},
		},
	}}}
	reader := &fakeTool{name: "reader"}
	a := newTestAgent(t, client, reader)

	err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{})
	var parseErr *errors.ArgumentParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ArgumentParseError, got %T: %v", err, err)
	}
	if parseErr.Tool != "reader" || parseErr.Raw != `{"path": }` {
		t.Errorf("parse error missing tool or raw payload: %+v", parseErr)
	}
	if a.Session.Len() != 1 {
		t.Errorf("expected rollback, got session length %d", a.Session.Len())
	}
}

func TestEmptyArgumentsMeanNoParameters(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{
		ToolCalls: []session.ToolCall{{ID: "call_1", Name: "noop", Arguments: ""}},
	}}}

	var gotArgs map[string]any
	noop := &fakeTool{name: "noop", execute: func(args map[string]any, inv *tools.Invocation) (*tools.Result, error) {
		gotArgs = args
		return &tools.Result{Content: "ok"}, nil
	}}
	a := newTestAgent(t, client, noop)

	if err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput: %v", err)
	}
	if gotArgs == nil || len(gotArgs) != 0 {
		t.Errorf("expected empty args map, got %v", gotArgs)
	}
}

func TestBoundedIteration(t *testing.T) {
	client := &loopingClient{}
	noop := &fakeTool{name: "noop"}
	a := newTestAgent(t, client, noop)
	a.MaxIterations = 3

	err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{})
	var exhausted *errors.LoopExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected LoopExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Iterations != 3 {
		t.Errorf("iterations in error: %d", exhausted.Iterations)
	}
	// The cap stops the loop before another completion call.
	if client.calls != 3 {
		t.Errorf("expected exactly 3 completion calls, got %d", client.calls)
	}
}

func TestDeniedToolRecordsRefusal(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{
		ToolCalls: []session.ToolCall{{ID: "call_1", Name: "danger", Arguments: "{}"}},
	}}}

	executed := false
	danger := &fakeTool{name: "danger", execute: func(args map[string]any, inv *tools.Invocation) (*tools.Result, error) {
		executed = true
		return &tools.Result{Content: "did it"}, nil
	}}
	a := newTestAgent(t, client, danger)
	a.Mode = ModePrompt

	err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{
		ShouldExecuteTool: func(toolCall session.ToolCall) bool { return false },
	})
	if err != nil {
		t.Fatalf("ProcessUserInput: %v", err)
	}
	if executed {
		t.Error("denied tool was executed")
	}
	msgs := a.Session.Messages
	// user, assistant, denial tool result, final assistant
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[2].Content != "Tool call denied by user." || msgs[2].ToolCallID != "call_1" {
		t.Errorf("denial not recorded as tool result: %+v", msgs[2])
	}
}

func TestErrorFlaggedResultCommitsWithoutAbort(t *testing.T) {
	client := &scriptedClient{rounds: []llm.Result{{
		ToolCalls: []session.ToolCall{{ID: "call_1", Name: "remote", Arguments: "{}"}},
	}}}

	remote := &fakeTool{name: "remote", execute: func(args map[string]any, inv *tools.Invocation) (*tools.Result, error) {
		return &tools.Result{Content: "upstream server rejected the query", IsError: true}, nil
	}}
	a := newTestAgent(t, client, remote)

	if err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{}); err != nil {
		t.Fatalf("error-flagged result must not abort the turn: %v", err)
	}
	msgs := a.Session.Messages
	if msgs[2].Content != "upstream server rejected the query" {
		t.Errorf("failure text not committed for the model: %+v", msgs[2])
	}
	// The model saw the failure and got another round.
	if client.calls != 2 {
		t.Errorf("expected a follow-up completion round, got %d calls", client.calls)
	}
}

func TestModelToolsOverrideToolset(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := &config.Config{
		Models: map[string]config.ModelSettings{
			"focused": {Provider: "deepseek", Model: "deepseek-chat", Tools: []string{"probe"}},
		},
	}
	sess, err := session.New("override", "")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	registry := tools.NewToolRegistry(cfg)
	if err := registry.Register(&fakeTool{name: "probe"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	a, err := New(cfg, sess, &scriptedClient{}, registry, "focused", "", ModeAuto, ToolVerbosityNone)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// The entry's tools list narrows the default toolset, which would
	// otherwise expose every registered tool.
	if len(a.ActiveTools) != 1 || a.ActiveTools[0].Name() != "probe" {
		names := make([]string, 0, len(a.ActiveTools))
		for _, tool := range a.ActiveTools {
			names = append(names, tool.Name())
		}
		t.Errorf("active tools = %v, want [probe]", names)
	}
}

func TestCancelledCompletionCommitsNothing(t *testing.T) {
	client := &scriptedClient{err: &errors.CancelledError{Err: context.Canceled}}
	a := newTestAgent(t, client)

	err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{})
	var cancelled *errors.CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %T: %v", err, err)
	}
	// No partial assistant or tool messages for the aborted round.
	if a.Session.Len() != 1 {
		t.Errorf("expected only the user message, got %d messages", a.Session.Len())
	}
	if a.Session.Messages[0].Role != session.RoleUser {
		t.Errorf("unexpected message committed: %+v", a.Session.Messages[0])
	}
}

func TestCompletionErrorPropagates(t *testing.T) {
	client := &scriptedClient{err: errors.New("network down")}
	a := newTestAgent(t, client)

	err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{})
	if err == nil {
		t.Fatal("expected completion error to propagate")
	}
	// Undoing the user message is the caller's decision, not the loop's.
	if a.Session.Len() != 1 {
		t.Errorf("expected user message to remain, got %d messages", a.Session.Len())
	}
	if _, ok := a.Session.PopLast(); !ok {
		t.Error("PopLast should remove the stranded user message")
	}
}
