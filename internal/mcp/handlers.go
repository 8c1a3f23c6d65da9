package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tablerag/tablerag/internal/observability"
	"github.com/tablerag/tablerag/internal/rag"
	"github.com/tablerag/tablerag/internal/schema"
)

type Conversation interface {
	Turn(ctx context.Context, session *rag.Session, utterance string) (rag.Answer, error)
}

type Sessions interface {
	Create() *rag.Session
	Get(id string) (*rag.Session, error)
}

// Handlers serves tool calls. Calls without a session_id share one default
// conversation for the lifetime of the process.
type Handlers struct {
	conversation Conversation
	schema       schema.Introspector
	sessions     Sessions
	logger       *slog.Logger

	mu             sync.Mutex
	defaultSession *rag.Session
}

// NewHandlers accepts a nil conversation; ask_data then reports that the
// models are not configured while describe_schema keeps working.
func NewHandlers(conversation Conversation, introspector schema.Introspector, sessions Sessions, logger *slog.Logger) (*Handlers, error) {
	if introspector == nil {
		return nil, fmt.Errorf("schema introspector is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{conversation: conversation, schema: introspector, sessions: sessions, logger: logger}, nil
}

type askResponse struct {
	SessionID   string   `json:"session_id"`
	Answer      string   `json:"answer"`
	FollowUps   []string `json:"follow_ups"`
	QueryFailed bool     `json:"query_failed"`
}

// AskData handles the ask_data tool.
func (h *Handlers) AskData(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError(rag.UserMessage(rag.ErrEmptyUtterance)), nil
	}
	if h.conversation == nil {
		return mcp.NewToolResultError("conversational models are not configured"), nil
	}

	session, err := h.session(request.GetString("session_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	answer, err := h.conversation.Turn(ctx, session, question)
	if err != nil {
		observability.WithSession(h.logger, session.ID).ErrorContext(ctx, "ask_data turn failed", slog.Any("error", err))
		return mcp.NewToolResultError(rag.UserMessage(err)), nil
	}

	followUps := answer.FollowUps
	if followUps == nil {
		followUps = []string{}
	}
	payload, err := json.Marshal(askResponse{
		SessionID:   session.ID,
		Answer:      answer.Text,
		FollowUps:   followUps,
		QueryFailed: answer.QueryFailed,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// DescribeSchema handles the describe_schema tool.
func (h *Handlers) DescribeSchema(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := schema.Summarize(ctx, h.schema)
	if err != nil {
		h.logger.ErrorContext(ctx, "describe_schema failed", slog.Any("error", err))
		return mcp.NewToolResultError("failed to describe the data store"), nil
	}
	if summary == "" {
		return mcp.NewToolResultText("No tables are loaded."), nil
	}
	return mcp.NewToolResultText(summary), nil
}

func (h *Handlers) session(id string) (*rag.Session, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		session, err := h.sessions.Get(id)
		if errors.Is(err, rag.ErrSessionNotFound) {
			return nil, fmt.Errorf("unknown session_id %q", id)
		}
		return session, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.defaultSession == nil {
		h.defaultSession = h.sessions.Create()
	}
	return h.defaultSession, nil
}
