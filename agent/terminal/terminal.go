package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/leeoohoo/deepseek-cli/agent"
	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/session"
)

// Terminal handles the terminal/CLI interaction mode for the agent. All
// stdin reads go through one shared scanner so confirmation prompts never
// race the main input loop for buffered bytes.
type Terminal struct {
	agent *agent.Agent
	input *bufio.Scanner
}

// New creates a new Terminal instance
func New(a *agent.Agent) *Terminal {
	return &Terminal{
		agent: a,
		input: bufio.NewScanner(os.Stdin),
	}
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Print("You: ")
		if !t.input.Scan() {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(t.input.Text())
		if userInput == "" {
			continue
		}

		// Exit commands
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			var cancelled *errors.CancelledError
			if errors.As(err, &cancelled) {
				fmt.Println("Interrupted.")
			} else {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}

	if err := t.input.Err(); err != nil {
		return err
	}

	return nil
}

// processTurn handles a single user input turn. A failed turn may leave
// earlier committed tool rounds behind it, so recovery rewinds to the
// pre-turn checkpoint rather than popping single messages; that drops the
// user message and any partial progress in one motion and keeps tool-call
// linkage intact for the next turn.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	checkpoint := t.agent.Session.Checkpoint()

	if err := t.agent.ProcessUserInput(ctx, userInput, t.callbacks()); err != nil {
		t.agent.Session.Restore(checkpoint)
		return err
	}
	return nil
}

func (t *Terminal) callbacks() agent.ProcessCallbacks {
	streamStarted := false
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			if t.agent.Stream {
				// Tokens were already printed as they arrived.
				fmt.Println()
				streamStarted = false
				return
			}
			fmt.Printf("deepseek-cli: %s\n", message)
		},
		OnToolCall: func(toolCall session.ToolCall) {
			// Display tool call information based on verbosity
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Printf("deepseek-cli wants to call tool `%s` with args: %s\n", toolCall.Name, toolCall.Arguments)
			} else if t.agent.Verbosity == agent.ToolVerbosityInfo {
				fmt.Printf("deepseek-cli wants to call tool `%s`\n", toolCall.Name)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			// Display tool result if verbosity is set to all
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Printf("Tool `%s` output: %s\n", toolCall.Name, result)
			}
		},
		ShouldExecuteTool: func(toolCall session.ToolCall) bool {
			// In prompt mode, ask for user confirmation
			if t.agent.Mode == agent.ModePrompt {
				fmt.Printf("Allow tool `%s`? (y/n): ", toolCall.Name)
				if !t.input.Scan() {
					return false
				}
				return strings.TrimSpace(strings.ToLower(t.input.Text())) == "y"
			}
			// In auto mode, always execute
			return true
		},
		OnWarning: func(warning string) {
			fmt.Printf("Warning: %s\n", warning)
		},
	}

	if t.agent.Stream {
		callbacks.OnToken = func(text string) {
			if !streamStarted {
				fmt.Print("deepseek-cli: ")
				streamStarted = true
			}
			fmt.Print(text)
		}
		if t.agent.Verbosity == agent.ToolVerbosityAll {
			callbacks.OnReasoning = func(text string) {
				fmt.Fprint(os.Stderr, text)
			}
		}
	}

	return callbacks
}
