package llm

import (
	"context"

	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/session"
	"github.com/leeoohoo/deepseek-cli/tools"
)

// Options configures one completion round.
type Options struct {
	// Stream asks the adapter to deliver text incrementally through the
	// callbacks below. Adapters without a streaming transport may satisfy a
	// streamed request with a single callback invocation.
	Stream bool
	// Tools are the declarations offered to the model for this round, in
	// order. Parameters are passed to the backend verbatim.
	Tools []tools.Spec
	// OnToken receives response text fragments as they arrive.
	OnToken func(text string)
	// OnReasoning receives reasoning-text fragments as they arrive.
	OnReasoning func(text string)
}

// Result is the normalized outcome of one completion round, identical in
// shape whether the adapter streamed or not. ToolCalls carry raw argument
// text; parsing and repair happen in the agent.
type Result struct {
	Content       string
	ReasoningText string
	ToolCalls     []session.ToolCall
}

// Client is the interface for interacting with a Large Language Model.
// Implementations must be safe for concurrent use by independent sessions;
// a single conversation loop never issues concurrent calls.
type Client interface {
	Complete(ctx context.Context, messages []session.Message, opts Options) (*Result, error)
}

// wrapCancelled classifies a provider failure caused by the caller's context
// so the turn-level API can tell "user interrupted" from genuine failure.
func wrapCancelled(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &errors.CancelledError{Err: err}
	}
	return err
}

func emit(cb func(string), text string) {
	if cb != nil && text != "" {
		cb(text)
	}
}
