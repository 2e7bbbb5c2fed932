// Package mcp bridges external MCP tool servers into the local tool
// registry. Each configured server runs as a subprocess speaking the Model
// Context Protocol over its standard streams; its tools are enumerated at
// startup and registered under names namespaced by the server.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/leeoohoo/deepseek-cli/errors"
	"github.com/leeoohoo/deepseek-cli/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  []*MCPTool
	closed atomic.Bool
}

// NewMCPClient starts the MCP server subprocess, connects, and discovers the
// tools it declares, following the paginated listing to exhaustion.
func NewMCPClient(ctx context.Context, name, command string, args []string) (*MCPClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "deepseek-cli", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{
		Name: name,
		cmd:  cmd,
		conn: conn,
	}

	toolListParams := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, toolListParams)
		if err != nil {
			client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}

		for _, t := range toolList.Tools {
			client.tools = append(client.tools, &MCPTool{
				name:        NamespacedName(name, t.Name),
				remoteName:  t.Name,
				description: t.Description,
				schema:      schemaToMap(t.InputSchema),
				client:      client,
			})
		}

		if toolList.NextCursor == "" {
			break
		}
		toolListParams.Cursor = toolList.NextCursor
	}

	slog.Info("connected to MCP server", "server", name, "tools", len(client.tools))
	return client, nil
}

// Tools returns the server's tools in the order the server declared them.
func (c *MCPClient) Tools() []*MCPTool {
	return c.tools
}

// Stop terminates the MCP server subprocess. The server's tools remain
// registered but every subsequent invocation fails with a connection-closed
// error.
func (c *MCPClient) Stop() error {
	c.closed.Store(true)
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		slog.Info("terminating MCP server", "server", c.Name)
		return c.cmd.Process.Kill()
	}
	return nil
}

// NamespacedName derives the registered identifier for a server tool. The
// derivation is deterministic so two servers exposing equally named tools can
// never collide, and lossy characters are normalized because some providers
// reject identifiers outside [A-Za-z0-9_-].
func NamespacedName(server, tool string) string {
	return fmt.Sprintf("%s_%s", normalizeNamePart(server), normalizeNamePart(tool))
}

func normalizeNamePart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// MCPTool exposes one remote tool through the local tools.Tool contract. The
// handler closes over the owning client's live connection.
type MCPTool struct {
	name        string
	remoteName  string
	description string
	schema      map[string]any
	client      *MCPClient
}

func (t *MCPTool) Name() string        { return t.name }
func (t *MCPTool) Description() string { return t.description }

func (t *MCPTool) Schema() map[string]any { return t.schema }

// Execute forwards the invocation to the owning server. A server-reported
// tool failure comes back as an error-flagged result so the model can react
// to it; only transport-level failures become Go errors.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any, inv *Invocation) (*tools.Result, error) {
	if t.client.closed.Load() {
		return nil, errors.New("connection to MCP server '%s' is closed", t.client.Name)
	}

	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.remoteName,
		Arguments: args,
	})
	if err != nil {
		if isConnectionClosed(err) {
			t.client.closed.Store(true)
			return nil, errors.Wrapf(err, "connection to MCP server '%s' is closed", t.client.Name)
		}
		return nil, errors.Wrapf(err, "failed to call tool '%s'", t.name)
	}

	return &tools.Result{
		Content: flattenContent(result.Content),
		IsError: result.IsError,
	}, nil
}

// Invocation aliases the local invocation context type so this package's
// signature reads the same as local tools'.
type Invocation = tools.Invocation

func isConnectionClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "closed") || strings.Contains(msg, "broken pipe")
}

// flattenContent normalizes the heterogeneous result content blocks into a
// single text blob the session and the model can consume.
func flattenContent(content []mcpsdk.Content) string {
	var b strings.Builder
	for _, c := range content {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		switch block := c.(type) {
		case *mcpsdk.TextContent:
			b.WriteString(block.Text)
		case *mcpsdk.ImageContent:
			fmt.Fprintf(&b, "[image %s, %d bytes]", block.MIMEType, len(block.Data))
		case *mcpsdk.AudioContent:
			fmt.Fprintf(&b, "[audio %s, %d bytes]", block.MIMEType, len(block.Data))
		case *mcpsdk.ResourceLink:
			fmt.Fprintf(&b, "[resource %s](%s)", block.Name, block.URI)
		case *mcpsdk.EmbeddedResource:
			if block.Resource != nil {
				if block.Resource.Text != "" {
					b.WriteString(block.Resource.Text)
				} else {
					fmt.Fprintf(&b, "[embedded resource %s]", block.Resource.URI)
				}
			}
		default:
			// Unknown block kinds still need to reach the model somehow.
			if data, err := json.Marshal(c); err == nil {
				b.Write(data)
			}
		}
	}
	return b.String()
}

// RegisterAll connects every configured server and registers its tools.
// A server that fails to start is logged and skipped so one broken entry
// does not take the whole CLI down.
func RegisterAll(ctx context.Context, registry *tools.ToolRegistry, servers []ServerConfig) []*MCPClient {
	var clients []*MCPClient
	for _, srv := range servers {
		client, err := NewMCPClient(ctx, srv.Name, srv.Command, srv.Args)
		if err != nil {
			slog.Warn("skipping MCP server", "server", srv.Name, "error", err)
			continue
		}
		for _, t := range client.Tools() {
			if err := registry.Register(t); err != nil {
				slog.Warn("skipping MCP tool", "tool", t.Name(), "error", err)
			}
		}
		clients = append(clients, client)
	}
	return clients
}

// ServerConfig mirrors the configuration entry for one external tool server.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
}
