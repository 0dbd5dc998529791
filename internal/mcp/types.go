// Package mcp connects to external Model Context Protocol servers and exposes
// their tools so the tool registry can offer them next to the builtin ones.
//
// Lifecycle:
//
//  1. Create one client with [NewClient].
//  2. Call [Connect] for each configured server.
//  3. Use [Server.Tools] to enumerate discovered tools and [Server.Call] to
//     run them.
//  4. Call [Server.Close] to end the session (and stop stdio subprocesses).
package mcp

import "errors"

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ErrToolFailed wraps the text of a tool result the server flagged as an
// error.
var ErrToolFailed = errors.New("mcp: tool reported an error")

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Must be unique.
	Name string

	Transport Transport

	// Command is the executable and arguments for stdio servers,
	// e.g. "/usr/local/bin/jiaowu-mcp --headless".
	Command string

	// URL is the endpoint for streamable-http servers.
	URL string

	// Env holds extra environment variables for stdio servers.
	Env map[string]string
}

// RemoteTool is a tool advertised by an MCP server.
type RemoteTool struct {
	Name        string
	Description string

	// InputSchema is the JSON Schema of the tool's arguments.
	InputSchema map[string]any
}
