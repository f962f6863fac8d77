package tools

import (
	"context"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// MCPBridge connects to a single MCP server over stdio and registers each
// tool it advertises into a Registry, bridged to the opaque string-in/
// string-out Func shape the orchestrator's tool loop expects. Grounded on
// the teacher's internal/mcp manager (manager_connect.go), trimmed to one
// server / one transport since per-server reconnect/health-check policy is
// out of scope for this gateway's tool surface.
type MCPBridge struct {
	client *mcpclient.Client
	server string
}

// ConnectMCPStdio launches command as an MCP server over stdio and
// completes the initialize handshake.
func ConnectMCPStdio(ctx context.Context, server, command string, args []string, env map[string]string) (*MCPBridge, error) {
	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	client, err := mcpclient.NewStdioMCPClient(command, envSlice, args...)
	if err != nil {
		return nil, fmt.Errorf("mcp: create client: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "nanobot-gateway", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}

	return &MCPBridge{client: client, server: server}, nil
}

// Close releases the underlying transport.
func (b *MCPBridge) Close() error {
	return b.client.Close()
}

// RegisterInto discovers every tool the server advertises and registers a
// bridged Tool for each into reg, prefixed "mcp_<server>_" to avoid name
// collisions with built-in tools.
func (b *MCPBridge) RegisterInto(ctx context.Context, reg *Registry) error {
	listed, err := b.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("mcp: list tools: %w", err)
	}

	for _, t := range listed.Tools {
		t := t
		reg.Register(Tool{
			Name:        "mcp_" + b.server + "_" + t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
			Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
				req := mcpgo.CallToolRequest{}
				req.Params.Name = t.Name
				req.Params.Arguments = args
				res, err := b.client.CallTool(ctx, req)
				if err != nil {
					return "", err
				}
				return flattenContent(res), nil
			},
		})
	}
	return nil
}

func schemaToMap(s mcpgo.ToolInputSchema) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": s.Properties,
		"required":   s.Required,
	}
}

// flattenContent joins every text block of an MCP tool result into one
// string, the shape the orchestrator's classification step (§4.4 step 11)
// operates on.
func flattenContent(res *mcpgo.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if res.IsError && len(parts) == 0 {
		return "Error: tool call failed"
	}
	return strings.Join(parts, "\n")
}
