// Package mcp implements the MCP sub-interface of spec §6 as a thin
// specialization of internal/plugin: an MCP server is spawned and wired
// through the same Manager/Peer/RpcLoop as any other plugin, with its own
// initialize handshake and typed Ping/ListTools/CallTool methods.
// Grounded on the teacher's cmd/aegis-agent/mcp.go and af-mcp/src/client.rs.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quillhive/sidecar/internal/plugin"
	"github.com/quillhive/sidecar/internal/pluginerr"
)

// protocolVersion is the MCP wire protocol version this client negotiates.
const protocolVersion = "2024-11-05"

// DefaultCallTimeout is the default per-call deadline for tools/call,
// confirmed against af-mcp/src/client.rs's Duration::from_secs(5) default.
const DefaultCallTimeout = 5 * time.Second

// Tool is one tool advertised by an MCP server, namespaced by client name
// so multiple servers can coexist without collision.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// rawParser passes the result straight through, for calls whose shape this
// package parses itself rather than delegating to a domain ResponseParser.
type rawParser struct{}

func (rawParser) ParseResponse(raw json.RawMessage) (json.RawMessage, error) { return raw, nil }

// Client wraps a Plugin handle for one MCP server.
type Client struct {
	pl   *plugin.Plugin
	name string

	tools     []Tool
	toolNames map[string]string // namespaced name -> server-local name
}

// New wraps an already-spawned MCP server's Plugin handle.
func New(pl *plugin.Plugin, name string) *Client {
	return &Client{pl: pl, name: name, toolNames: make(map[string]string)}
}

// Initialize performs the MCP handshake: protocolVersion, clientInfo,
// capabilities.
func (c *Client) Initialize(clientName, clientVersion string) error {
	_, err := requestWithTimeout[json.RawMessage](c.pl, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]string{"name": clientName, "version": clientVersion},
		"capabilities":    map[string]any{},
	}, rawParser{}, DefaultCallTimeout)
	return err
}

// Ping round-trips a liveness check.
func (c *Client) Ping() error {
	_, err := requestWithTimeout[json.RawMessage](c.pl, "ping", map[string]any{}, rawParser{}, DefaultCallTimeout)
	return err
}

// ListTools discovers the server's tools and namespaces their names as
// "<client name>_<tool name>".
func (c *Client) ListTools() ([]Tool, error) {
	raw, err := requestWithTimeout[json.RawMessage](c.pl, "tools/list", nil, rawParser{}, DefaultCallTimeout)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, pluginerr.ParseResponse(raw)
	}

	c.tools = c.tools[:0]
	for _, t := range listing.Tools {
		nsName := c.name + "_" + t.Name
		c.toolNames[nsName] = t.Name
		c.tools = append(c.tools, Tool{
			Name:        nsName,
			Description: fmt.Sprintf("[%s] %s", c.name, t.Description),
			InputSchema: t.InputSchema,
		})
	}
	return c.tools, nil
}

// HasTool reports whether nsName belongs to this client.
func (c *Client) HasTool(nsName string) bool {
	_, ok := c.toolNames[nsName]
	return ok
}

// CallTool invokes a namespaced tool and joins its text content blocks with
// newlines, bounded by DefaultCallTimeout.
func (c *Client) CallTool(nsName string, args any) (string, error) {
	mcpName, ok := c.toolNames[nsName]
	if !ok {
		return "", pluginerr.Internal("tool %s not found on MCP server %s", nsName, c.name)
	}

	raw, err := requestWithTimeout[json.RawMessage](c.pl, "tools/call", map[string]any{
		"name":      mcpName,
		"arguments": args,
	}, rawParser{}, DefaultCallTimeout)
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", pluginerr.ParseResponse(raw)
	}

	var texts []string
	for _, block := range result.Content {
		if block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// requestWithTimeout bounds a blocking Plugin request to timeout, the way
// the original wraps plugin calls in tokio::time::timeout. The underlying
// wire request is not cancelled on timeout — its handler still completes
// whenever the child eventually responds or disconnects — only the
// caller's wait is bounded.
func requestWithTimeout[T any](pl *plugin.Plugin, method string, params any, parser plugin.ResponseParser[T], timeout time.Duration) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := plugin.Request[T](pl, method, params, parser)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-time.After(timeout):
		var zero T
		return zero, pluginerr.Timeout("mcp: %s timed out after %s", method, timeout)
	}
}
