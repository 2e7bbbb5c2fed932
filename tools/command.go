package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/leeoohoo/deepseek-cli/errors"
)

// ExecuteCommandTool implements the tool for running OS commands.
type ExecuteCommandTool struct {
	allowedCommands []string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command. No commands are currently allowed."
	}

	allowedList := "Allowed command patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}

	return fmt.Sprintf("Executes a shell command.\n%s", allowedList)
}

func (t *ExecuteCommandTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command line to execute.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]any, inv *Invocation) (*Result, error) {
	command, ok := args["command"].(string)
	if !ok {
		return nil, errors.New("missing or invalid 'command' argument")
	}

	allowed, err := isCommandAllowed(command, t.allowedCommands)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errors.New("command '%s' is not in the list of allowed commands", command)
	}

	// Basic shell-like execution
	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		// A nonzero exit is something the model can react to; surface it as
		// an error-flagged result rather than aborting the batch.
		return &Result{
			Content: fmt.Sprintf("Command failed: %v\nOutput:\n%s", err, string(output)),
			IsError: true,
		}, nil
	}

	return &Result{Content: fmt.Sprintf("Command executed successfully. Output:\n%s", string(output))}, nil
}
