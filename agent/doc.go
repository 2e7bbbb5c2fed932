// Package agent implements the tool-calling conversation loop.
//
// It composes the other packages of this repository: it sends the session
// transcript to an llm.Client, interprets the tool calls the model requests,
// dispatches them through the tool registry (local handlers and bridged MCP
// tools alike), appends the results, and resubmits until the model answers
// with plain text.
//
// # Core Functionality
//
// The Agent type provides:
//
//   - A bounded completion/tool-dispatch loop with checkpoint and rollback
//   - Argument parsing with a one-shot JSON repair fallback
//   - Session persistence after each completed turn
//   - Callback-based event delivery so interaction modes stay out of the loop
//
// # Usage
//
// To create and use an agent:
//
//	agent, err := agent.New(cfg, session, llmClient, registry, modelName, toolset, mode, verbosity)
//	if err != nil {
//	    // handle error
//	}
//
//	callbacks := agent.ProcessCallbacks{
//	    OnAssistantMessage: func(message string) {
//	        // Handle assistant responses
//	    },
//	    OnToolCall: func(toolCall session.ToolCall) {
//	        // Handle tool execution requests
//	    },
//	    OnToolResult: func(toolCall session.ToolCall, result string) {
//	        // Handle tool execution results
//	    },
//	    ShouldExecuteTool: func(toolCall session.ToolCall) bool {
//	        // Determine if a tool should be executed (for prompt mode)
//	        return true
//	    },
//	    OnWarning: func(warning string) {
//	        // Handle non-fatal warnings
//	    },
//	}
//
//	err = agent.ProcessUserInput(ctx, "user message", callbacks)
//
// # Atomicity
//
// All tool calls requested by one completion round form a batch. The batch
// commits as a unit: if resolving, parsing, or executing any call fails, the
// session is restored to its state before the round's assistant message was
// appended and the error propagates. The agent never rolls back the user's
// own message; callers that want a clean retry use Session.PopLast.
//
// # Modes
//
// The agent supports two operation modes:
//
//   - ModeAuto: Tools are executed automatically without confirmation
//   - ModePrompt: Tool execution requires confirmation (handled via callbacks)
//
// # Tool Verbosity
//
// Tool execution verbosity can be configured at three levels:
//
//   - ToolVerbosityNone: No tool execution details are shown
//   - ToolVerbosityInfo: Basic tool execution information is shown
//   - ToolVerbosityAll: Detailed tool execution information including arguments and results
//
// # Errors
//
// Failures surface as typed errors from the errors package: ConfigError for
// unknown tools, ArgumentParseError when arguments stay unparseable after
// repair, ToolExecutionError for handler failures, CancelledError when the
// caller's context fired mid-completion, and LoopExhaustedError when the
// model keeps requesting tools past the iteration cap. None are swallowed.
//
// # Subpackages
//
// agent/terminal: Provides an interactive command-line interface for direct
// user interaction with the agent, including streamed token printing and
// tool execution confirmations.
package agent
