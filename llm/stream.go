package llm

import (
	"sort"

	"github.com/leeoohoo/deepseek-cli/session"
)

// toolCallAccumulator merges partial tool-call fragments streamed by a
// provider into complete requests. Fragments are keyed by the stream-provided
// index: id and name are last-write-wins (stable once first observed per the
// backing protocols), while argument fragments are always appended, never
// overwritten.
type toolCallAccumulator struct {
	calls map[int]*session.ToolCall
	order []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*session.ToolCall)}
}

func (a *toolCallAccumulator) add(index int, id, name, argsFragment string) {
	call, ok := a.calls[index]
	if !ok {
		call = &session.ToolCall{}
		a.calls[index] = call
		a.order = append(a.order, index)
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Arguments += argsFragment
}

// finalize returns the merged calls ordered by index.
func (a *toolCallAccumulator) finalize() []session.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	sort.Ints(a.order)
	calls := make([]session.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		calls = append(calls, *a.calls[idx])
	}
	return calls
}
