// Package mcp exposes the conversational data assistant as Model Context
// Protocol tools over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	ToolAskData        = "ask_data"
	ToolDescribeSchema = "describe_schema"
)

// NewServer builds an MCP server with every tool registered against handlers.
func NewServer(name, version string, handlers *Handlers) *mcpserver.MCPServer {
	server := mcpserver.NewMCPServer(name, version)
	RegisterTools(server, handlers)
	return server
}

func RegisterTools(server *mcpserver.MCPServer, handlers *Handlers) {
	server.AddTool(mcp.Tool{
		Name:        ToolAskData,
		Description: "Ask a natural-language question about the loaded tables. The assistant looks up relevant tables, columns and values, runs a read-only SQL query and answers in plain language with suggested follow-up questions.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The question to answer",
				},
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional conversation id returned by an earlier call; omit to continue the default conversation",
				},
			},
			Required: []string{"question"},
		},
	}, handlers.AskData)

	server.AddTool(mcp.Tool{
		Name:        ToolDescribeSchema,
		Description: "List the loaded tables with their column names and types.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handlers.DescribeSchema)
}
