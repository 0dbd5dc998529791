package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewClient returns an SDK client that can hold sessions to many servers.
func NewClient(version string) *mcpsdk.Client {
	return mcpsdk.NewClient(&mcpsdk.Implementation{Name: "campusagent", Version: version}, nil)
}

// Server is a live session with one MCP server.
type Server struct {
	name    string
	session *mcpsdk.ClientSession
	tools   []RemoteTool
}

// Connect opens a session to the server described by cfg and lists its tools.
func Connect(ctx context.Context, client *mcpsdk.Client, cfg ServerConfig) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return nil, fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("mcp: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	return ConnectTransport(ctx, client, cfg.Name, transport)
}

// ConnectTransport opens a session over an already constructed transport,
// such as one half of an in-memory pair.
func ConnectTransport(ctx context.Context, client *mcpsdk.Client, name string, transport mcpsdk.Transport) (*Server, error) {
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect to server %q: %w", name, err)
	}

	s := &Server{name: name, session: session}
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcp: list tools of server %q: %w", name, err)
		}
		s.tools = append(s.tools, RemoteTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		})
	}
	return s, nil
}

// Name returns the configured server name.
func (s *Server) Name() string { return s.name }

// Tools returns the tools discovered when the session was opened.
func (s *Server) Tools() []RemoteTool {
	return append([]RemoteTool(nil), s.tools...)
}

// Call runs a tool and returns its result. Structured content is returned
// as-is; otherwise the text content is returned, decoded when it is valid
// JSON. A result flagged IsError becomes an error wrapping [ErrToolFailed].
func (s *Server) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	res, err := s.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: call %q on server %q: %w", tool, s.name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	text := sb.String()

	if res.IsError {
		return nil, fmt.Errorf("%w: %s", ErrToolFailed, text)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	return text, nil
}

// Close ends the session.
func (s *Server) Close() error {
	if err := s.session.Close(); err != nil {
		return fmt.Errorf("mcp: close server %q: %w", s.name, err)
	}
	return nil
}

// schemaToMap converts an SDK schema value to a plain map.
func schemaToMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	fallback := map[string]any{"type": "object"}
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return fallback
	}
	return m
}
