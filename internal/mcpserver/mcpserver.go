// Package mcpserver exposes the copilot as an MCP tool over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agenthands/tsgcopilot/internal/core"
)

const Version = "0.1.0"

// Engine is the part of the copilot the tools need.
type Engine interface {
	Ask(ctx context.Context, id, query string) (*core.Response, error)
	Abandon(ctx context.Context, id string) error
	Interrupt(id string) error
}

// New registers the copilot tools on a fresh MCP server.
func New(engine Engine) *server.MCPServer {
	s := server.NewMCPServer(
		"tsg-copilot",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Troubleshoot incidents step by step with troubleshooting guides. "+
			"Reuse the returned conversation_id to continue a conversation."),
	)

	ask := NewAskTool(engine)
	s.AddTool(ask.Definition(), ask.Handle)

	end := NewEndTool(engine)
	s.AddTool(end.Definition(), end.Handle)

	interrupt := NewInterruptTool(engine)
	s.AddTool(interrupt.Definition(), interrupt.Handle)

	return s
}

// Serve runs the server on stdin and stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// AskTool handles the tsg_copilot MCP tool.
type AskTool struct {
	engine Engine
}

func NewAskTool(engine Engine) *AskTool {
	return &AskTool{engine: engine}
}

func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool("tsg_copilot",
		mcp.WithDescription(
			"Ask the troubleshooting copilot about an incident. Start with an incident id "+
				"or a symptom, then report the results of each suggested step.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question, incident id or step result"),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Conversation to continue; omit to start a new one"),
		),
	)
}

type askResult struct {
	ConversationID string `json:"conversation_id"`
	core.Response
}

func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	id := req.GetString("conversation_id", "")
	if id == "" {
		id = uuid.NewString()
	}

	resp, err := t.engine.Ask(ctx, id, query)
	if err != nil {
		msg := "the copilot could not process the query"
		if resp != nil && resp.Prompt != "" {
			msg = resp.Prompt
		}
		return mcp.NewToolResultError(msg), nil
	}

	data, err := json.MarshalIndent(askResult{ConversationID: id, Response: *resp}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// EndTool handles the tsg_copilot_end MCP tool.
type EndTool struct {
	engine Engine
}

func NewEndTool(engine Engine) *EndTool {
	return &EndTool{engine: engine}
}

func (t *EndTool) Definition() mcp.Tool {
	return mcp.NewTool("tsg_copilot_end",
		mcp.WithDescription("Abandon a copilot conversation and drop its state."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation to end"),
		),
	)
}

func (t *EndTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("conversation_id", "")
	if id == "" {
		return mcp.NewToolResultError("'conversation_id' is required"), nil
	}
	if err := t.engine.Abandon(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to end conversation: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation %q ended", id)), nil
}

// InterruptTool handles the tsg_copilot_interrupt MCP tool.
type InterruptTool struct {
	engine Engine
}

func NewInterruptTool(engine Engine) *InterruptTool {
	return &InterruptTool{engine: engine}
}

func (t *InterruptTool) Definition() mcp.Tool {
	return mcp.NewTool("tsg_copilot_interrupt",
		mcp.WithDescription("Stop the copilot's running turn and hand the conversation back to the user."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation whose running query should stop"),
		),
	)
}

func (t *InterruptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("conversation_id", "")
	if id == "" {
		return mcp.NewToolResultError("'conversation_id' is required"), nil
	}
	if err := t.engine.Interrupt(id); err != nil {
		if errors.Is(err, core.ErrNotRunning) {
			return mcp.NewToolResultError(fmt.Sprintf("conversation %q has no running query", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to interrupt conversation: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation %q interrupted", id)), nil
}
