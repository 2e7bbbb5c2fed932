package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/leeoohoo/deepseek-cli/config"
	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/session"
)

// Invocation carries the call-site context into a tool execution instead of
// any process-global state: the model entry driving the conversation and the
// session the call belongs to.
type Invocation struct {
	Model   string
	Session *session.Session
}

// Result is the outcome of one tool execution. IsError marks a tool-level
// failure the model should see in-band (for example an error reported by an
// external tool server); it is not a transport or handler failure.
type Result struct {
	Content string
	IsError bool
}

// Tool defines the interface for any action the agent can take, local or
// bridged from an external tool server.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON-Schema object describing the tool's
	// parameters. It is passed verbatim to the completion provider.
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any, inv *Invocation) (*Result, error)
}

// Spec is the declaration shape handed to completion providers.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SpecFor builds the provider-facing declaration for one tool.
func SpecFor(t Tool) Spec {
	params := t.Schema()
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return Spec{Name: t.Name(), Description: t.Description(), Parameters: params}
}

// Specs builds declarations for an ordered tool list.
func Specs(ts []Tool) []Spec {
	if len(ts) == 0 {
		return nil
	}
	specs := make([]Spec, len(ts))
	for i, t := range ts {
		specs[i] = SpecFor(t)
	}
	return specs
}

// ToolRegistry holds all available tools, local and server-provided.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry builds a registry pre-populated with the local tools.
func NewToolRegistry(cfg *config.Config) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}

	r.mustRegister(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.mustRegister(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.mustRegister(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands})

	return r
}

// Register inserts a tool. Registering a second tool under an existing name
// is a configuration error; server-provided tools avoid it by namespacing.
func (r *ToolRegistry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return errors.Configf("tool with empty name cannot be registered")
	}
	if _, exists := r.tools[name]; exists {
		return errors.Configf("tool %q is already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *ToolRegistry) mustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Resolve returns the tool instances for the given names, in order. A name
// of the form "<prefix>.*" expands to every registered tool whose name
// starts with "<prefix>_", in registration order; this is how whole external
// servers are pulled into a toolset.
func (r *ToolRegistry) Resolve(names []string) ([]Tool, error) {
	var resolved []Tool
	for _, name := range names {
		if suffix, ok := strings.CutSuffix(name, ".*"); ok {
			prefix := suffix + "_"
			matched := false
			for _, registered := range r.order {
				if strings.HasPrefix(registered, prefix) {
					resolved = append(resolved, r.tools[registered])
					matched = true
				}
			}
			if !matched {
				return nil, errors.Configf("wildcard %q matched no registered tools", name)
			}
			continue
		}
		t, ok := r.tools[name]
		if !ok {
			return nil, errors.Configf("tool %q is not registered", name)
		}
		resolved = append(resolved, t)
	}
	return resolved, nil
}

// All returns every registered tool in registration order.
func (r *ToolRegistry) All() []Tool {
	all := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.tools[name])
	}
	return all
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	cmdParts := strings.Fields(command)
	if len(cmdParts) == 0 {
		return false, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Fall back to simple string comparison if the pattern is not a
			// valid regex.
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
