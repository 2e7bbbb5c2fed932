package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/jsonrepair"
	"github.com/leeoohoo/deepseek-cli/llm"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// DefaultMaxIterations bounds consecutive tool-dispatch rounds within one
// user turn. A model that keeps requesting tools past this cap gets a
// LoopExhaustedError instead of another completion call.
const DefaultMaxIterations = 60

// ProcessCallbacks lets each interaction mode (terminal today, other front
// ends later) decide how agent events are surfaced without owning the loop.
type ProcessCallbacks struct {
	// OnAssistantMessage receives each complete assistant text message.
	OnAssistantMessage func(message string)
	// OnToken receives streamed response fragments when streaming is on.
	OnToken func(text string)
	// OnReasoning receives streamed reasoning-text fragments.
	OnReasoning func(text string)
	// OnToolCall fires before a tool is dispatched.
	OnToolCall func(toolCall session.ToolCall)
	// OnToolResult fires after a tool result has been recorded.
	OnToolResult func(toolCall session.ToolCall, result string)
	// ShouldExecuteTool gates each dispatch. Returning false records a
	// denial as the tool result instead of executing; nil means execute.
	ShouldExecuteTool func(toolCall session.ToolCall) bool
	// OnWarning receives non-fatal problems, like a failed session save.
	OnWarning func(warning string)
}

// Agent drives one conversation: it sends the session transcript to the
// model, dispatches the tool calls the model requests, and loops until the
// model answers with plain text. A single Agent serves a single session;
// the llm.Client and the registry behind ActiveTools may be shared across
// agents running independent sessions.
type Agent struct {
	Config      *config.Config
	Session     *session.Session
	Client      llm.Client
	ActiveTools []tools.Tool
	Mode        Mode
	Verbosity   ToolVerbosity
	// ModelName is the config entry name, passed to tools as call context.
	ModelName string
	// Stream asks the client for incremental delivery through OnToken.
	Stream        bool
	MaxIterations int

	toolsByName map[string]tools.Tool
}

// New assembles an agent from resolved configuration. The registry must
// already hold every tool the toolset names, including namespaced tools
// registered from external servers.
func New(cfg *config.Config, sess *session.Session, client llm.Client, registry *tools.ToolRegistry, modelName, toolset string, mode Mode, verbosity ToolVerbosity) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}

	names := ts.Tools
	// A model entry may pin its own tool list; when present it takes
	// precedence over the toolset. The entry itself was resolved by the
	// caller, so an unresolvable name here just means no override.
	if ms, msErr := cfg.GetModel(modelName); msErr == nil && len(ms.Tools) > 0 {
		names = ms.Tools
	}

	var active []tools.Tool
	if len(names) == 0 {
		active = registry.All()
	} else {
		active, err = registry.Resolve(names)
		if err != nil {
			return nil, err
		}
	}

	byName := make(map[string]tools.Tool, len(active))
	for _, t := range active {
		byName[t.Name()] = t
	}

	return &Agent{
		Config:        cfg,
		Session:       sess,
		Client:        client,
		ActiveTools:   active,
		Mode:          mode,
		Verbosity:     verbosity,
		ModelName:     modelName,
		MaxIterations: DefaultMaxIterations,
		toolsByName:   byName,
	}, nil
}

// ProcessUserInput runs one full user turn: append the user message, loop
// completion rounds and tool dispatches until the model returns plain text,
// then persist the session. On error the loop has already rolled back its
// own partial tool batch; undoing the user message itself is the caller's
// choice, via Session.PopLast.
func (a *Agent) ProcessUserInput(ctx context.Context, userInput string, callbacks ProcessCallbacks) error {
	a.Session.AddUser(userInput)

	if err := a.runLoop(ctx, callbacks); err != nil {
		return err
	}

	if err := a.Session.Save(); err != nil {
		warn(callbacks, "failed to save session: "+err.Error())
	}
	return nil
}

func (a *Agent) runLoop(ctx context.Context, callbacks ProcessCallbacks) error {
	specs := tools.Specs(a.ActiveTools)
	maxIterations := a.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	for iteration := 0; ; iteration++ {
		if iteration >= maxIterations {
			return &errors.LoopExhaustedError{Iterations: maxIterations}
		}

		result, err := a.Client.Complete(ctx, a.Session.Messages, llm.Options{
			Stream:      a.Stream,
			Tools:       specs,
			OnToken:     callbacks.OnToken,
			OnReasoning: callbacks.OnReasoning,
		})
		if err != nil {
			return err
		}

		if len(result.ToolCalls) == 0 {
			a.Session.AddAssistant(result.Content, nil, result.ReasoningText)
			if callbacks.OnAssistantMessage != nil {
				callbacks.OnAssistantMessage(result.Content)
			}
			return nil
		}

		// The assistant message and every tool result of this round commit
		// together or not at all.
		checkpoint := a.Session.Checkpoint()
		a.Session.AddAssistant(result.Content, result.ToolCalls, result.ReasoningText)
		if result.Content != "" && callbacks.OnAssistantMessage != nil {
			callbacks.OnAssistantMessage(result.Content)
		}

		if err := a.dispatchBatch(ctx, result.ToolCalls, callbacks); err != nil {
			a.Session.Restore(checkpoint)
			return err
		}
	}
}

// dispatchBatch executes one round's tool calls strictly in request order.
// Any returned error aborts the batch; the caller rolls the session back.
// The slice is the one held by the just-appended assistant message, so
// writing repaired argument text back into it keeps the persisted
// transcript replayable as valid JSON.
func (a *Agent) dispatchBatch(ctx context.Context, calls []session.ToolCall, callbacks ProcessCallbacks) error {
	for i := range calls {
		call := &calls[i]
		tool, ok := a.toolsByName[call.Name]
		if !ok {
			return errors.Configf("model requested unknown tool %q", call.Name)
		}

		if callbacks.OnToolCall != nil {
			callbacks.OnToolCall(*call)
		}
		if callbacks.ShouldExecuteTool != nil && !callbacks.ShouldExecuteTool(*call) {
			a.recordToolResult(*call, "Tool call denied by user.", callbacks)
			continue
		}

		args, repaired, err := parseArguments(call.Name, call.Arguments)
		if err != nil {
			return err
		}
		if repaired != "" {
			call.Arguments = repaired
		}

		result, err := tool.Execute(ctx, args, &tools.Invocation{
			Model:   a.ModelName,
			Session: a.Session,
		})
		if err != nil {
			return &errors.ToolExecutionError{Tool: call.Name, Err: err}
		}
		if result == nil {
			result = &tools.Result{}
		}

		// An error-flagged result is still a committed result: the model
		// sees the failure in-band and can react to it.
		a.recordToolResult(*call, result.Content, callbacks)
	}
	return nil
}

func (a *Agent) recordToolResult(call session.ToolCall, content string, callbacks ProcessCallbacks) {
	a.Session.AddToolResult(call.ID, content)
	if callbacks.OnToolResult != nil {
		callbacks.OnToolResult(call, content)
	}
}

// parseArguments decodes a tool call's raw argument text, falling back to
// one repair pass when the text is not valid JSON as produced. When repair
// was needed, the repaired text is returned so the caller can record it in
// place of the broken original.
func parseArguments(toolName, rawArguments string) (map[string]any, string, error) {
	raw := strings.TrimSpace(rawArguments)
	if raw == "" {
		return map[string]any{}, "", nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return ensureArgs(args), "", nil
	}

	repaired := jsonrepair.Repair(raw)
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, "", &errors.ArgumentParseError{Tool: toolName, Raw: rawArguments, Err: err}
	}
	return ensureArgs(args), repaired, nil
}

func ensureArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

// ParseToolVerbosity converts a flag value into a verbosity level.
func ParseToolVerbosity(s string) (ToolVerbosity, error) {
	switch ToolVerbosity(s) {
	case ToolVerbosityNone, ToolVerbosityInfo, ToolVerbosityAll:
		return ToolVerbosity(s), nil
	case "":
		return ToolVerbosityInfo, nil
	default:
		return "", errors.Configf("invalid tool verbosity %q (want none, info, or all)", s)
	}
}

// ParseMode converts a flag value into an execution mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModePrompt:
		return Mode(s), nil
	case "":
		return ModePrompt, nil
	default:
		return "", errors.Configf("invalid mode %q (want auto or prompt)", s)
	}
}

func warn(callbacks ProcessCallbacks, message string) {
	if callbacks.OnWarning != nil {
		callbacks.OnWarning(message)
	}
}
