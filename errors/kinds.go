package errors

import (
	stderrors "errors"
	"fmt"
)

// The error kinds below classify every failure the conversation engine can
// surface to a caller. They are plain structs so callers can use errors.As to
// branch on the kind while the message still reads well in logs.

// ConfigError reports an unusable configuration: an unknown provider name, a
// tool referenced by the model or a toolset that is not registered, or a
// missing required credential. Not retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Msg }

// Configf builds a ConfigError.
func Configf(format string, a ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, a...)}
}

// ArgumentParseError reports tool-call arguments that failed to parse as JSON
// both directly and after a repair pass. Aborts the current dispatch batch.
type ArgumentParseError struct {
	Tool string
	Raw  string
	Err  error
}

func (e *ArgumentParseError) Error() string {
	return fmt.Sprintf("cannot parse arguments for tool %q: %v (raw: %s)", e.Tool, e.Err, e.Raw)
}

func (e *ArgumentParseError) Unwrap() error { return e.Err }

// ToolExecutionError reports a local tool handler failure or a dead remote
// connection. Remote servers that report a tool-level failure in-band do not
// produce this error; those come back as error-flagged results instead.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// CancelledError marks a completion round that was interrupted by the caller's
// context. No partial assistant or tool messages are committed for the round.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	if e.Err != nil {
		return "completion cancelled: " + e.Err.Error()
	}
	return "completion cancelled"
}

func (e *CancelledError) Unwrap() error { return e.Err }

// LoopExhaustedError means the model kept requesting tools past the
// configured iteration cap.
type LoopExhaustedError struct {
	Iterations int
}

func (e *LoopExhaustedError) Error() string {
	return fmt.Sprintf("too many consecutive tool calls (%d iterations)", e.Iterations)
}

// Is re-exports errors.Is so callers inside this repo need only one errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As re-exports errors.As.
func As(err error, target any) bool { return stderrors.As(err, target) }
