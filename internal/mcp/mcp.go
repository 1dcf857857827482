// Package mcp connects to external Model Context Protocol servers and
// exposes their tool catalogues as [tool.Definition] values ready for
// [dawn/internal/tool.Registry].
//
// Transport handling (stdio subprocess / streamable-HTTP) and CallTool
// dispatch over github.com/modelcontextprotocol/go-sdk. DAWN's Tool
// Registry has a single flat "enabled" bit per spec.md §2, not a tiered
// catalogue, so every tool an MCP server advertises is surfaced uniformly
// rather than rationed under a latency or budget tier.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"dawn/internal/tool"
)

// Transport selects how a [Host] connects to an MCP server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is one of the supported transports.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP:
		return true
	default:
		return false
	}
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name uniquely identifies this server within a Host; also the key of
	// the Host's servers map, which ExecuteTool looks the server up by.
	Name string

	// Transport selects the connection mechanism.
	Transport Transport

	// Command is the executable path (and optional space-separated
	// arguments) used when Transport is [TransportStdio].
	Command string

	// URL is the endpoint address used when Transport is
	// [TransportStreamableHTTP].
	URL string

	// Env holds additional environment variables injected into the server
	// process when Transport is [TransportStdio].
	Env map[string]string
}

type serverConn struct {
	session *mcpsdk.ClientSession
}

type toolEntry struct {
	def        tool.Definition
	serverName string
}

// Host manages connections to one or more MCP servers and surfaces their
// combined tool catalogue as [tool.Definition] values.
//
// The zero value is not usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry
	servers map[string]serverConn
	client  *mcpsdk.Client
}

// New returns a ready-to-use Host.
func New() *Host {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "dawn-mcphost", Version: "1.0.0"}, nil)
	return &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
}

// RegisterServer connects to the MCP server described by cfg, lists its
// tool catalogue, and makes each tool available via [Host.Tools]. If a
// server with the same Name is already registered, the old connection is
// closed and its tools replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: failed to connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *t)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, e := range h.tools {
			if e.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}
	h.servers[cfg.Name] = serverConn{session: session}

	for _, mt := range discovered {
		h.tools[mt.Name] = toolEntry{def: h.buildDefinition(mt), serverName: cfg.Name}
	}
	return nil
}

// buildDefinition converts an SDK tool description into a [tool.Definition]
// whose callback routes back through h. Every MCP tool takes a single
// value-routed parameter carrying the whole argument object as a JSON
// string: [tool.Parameter]'s flat schema has no general JSON-Schema
// translation, so the raw schema is kept in the description instead of
// being decomposed into typed Parameters.
func (h *Host) buildDefinition(t mcpsdk.Tool) tool.Definition {
	name := t.Name
	return tool.Definition{
		Name:        name,
		Description: describeWithSchema(t),
		Style:       tool.StyleDirectCallback,
		Device:      tool.DeviceGetter,
		UsesNetwork: true,
		Parameters: []tool.Parameter{
			{Name: "args", Description: "JSON object of tool arguments.", Type: tool.ParamString, Routing: tool.RouteValue},
		},
		Callback: func(ctx context.Context, action, value string) (string, bool, error) {
			text, err := h.ExecuteTool(ctx, name, value)
			if err != nil {
				return "", false, err
			}
			return text, true, nil
		},
	}
}

func describeWithSchema(t mcpsdk.Tool) string {
	schema := schemaToMap(t.InputSchema)
	data, err := json.Marshal(schema)
	if err != nil {
		return t.Description
	}
	return fmt.Sprintf("%s\nArgument schema: %s", t.Description, data)
}

// Tools returns a snapshot of every tool currently known across all
// registered servers.
func (h *Host) Tools() []tool.Definition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]tool.Definition, 0, len(h.tools))
	for _, e := range h.tools {
		out = append(out, e.def)
	}
	return out
}

// ExecuteTool calls the named tool with a JSON-encoded argument object
// (an empty string or "{}" is valid for parameter-less tools) and returns
// its concatenated text content.
func (h *Host) ExecuteTool(ctx context.Context, name, argsJSON string) (string, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mcp: tool %q not found", name)
	}

	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mcp: server %q not found for tool %q", entry.serverName, name)
	}

	var args map[string]any
	if argsJSON != "" && argsJSON != "{}" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("mcp: invalid args JSON for tool %q: %w", name, err)
		}
	}

	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcp: call to tool %q failed: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcp: tool %q returned an error: %s", name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down all server connections and releases associated
// resources. After Close returns the Host must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return firstErr
}

// schemaToMap converts an arbitrary schema value (typically a
// *jsonschema.Schema from the SDK) to a plain map for JSON re-encoding.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
