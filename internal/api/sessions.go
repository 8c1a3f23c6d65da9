package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tablerag/tablerag/internal/observability"
	"github.com/tablerag/tablerag/internal/rag"
)

type turnRequest struct {
	Utterance string `json:"utterance"`
}

type turnResponse struct {
	SessionID   string   `json:"session_id"`
	Answer      string   `json:"answer"`
	FollowUps   []string `json:"follow_ups"`
	QueryFailed bool     `json:"query_failed"`
}

type sessionResponse struct {
	SessionID string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	Turns     []rag.Turn `json:"turns"`
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	session := deps.Sessions.Create()
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": session.ID, "created_at": session.CreatedAt})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	turns := session.Turns()
	if turns == nil {
		turns = []rag.Turn{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: session.ID, CreatedAt: session.CreatedAt, Turns: turns})
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	id := r.PathValue("id")
	if err := deps.Sessions.Delete(id); err != nil {
		if errors.Is(err, rag.ErrSessionNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", false, map[string]any{"session_id": id})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_DELETE_FAILED", "failed to delete session", true, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleTurn(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversation == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATION_NOT_CONFIGURED", "conversational models are not configured", false, nil)
		return
	}
	session, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}

	var request turnRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid turn request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Utterance) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "UTTERANCE_REQUIRED", rag.UserMessage(rag.ErrEmptyUtterance), false, nil)
		return
	}

	answer, err := deps.Conversation.Turn(r.Context(), session, request.Utterance)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyUtterance) {
			writeError(r.Context(), w, http.StatusBadRequest, "UTTERANCE_REQUIRED", rag.UserMessage(err), false, nil)
			return
		}
		if deps.Logger != nil {
			logger := observability.WithSession(observability.LoggerFromContext(r.Context(), deps.Logger), session.ID)
			logger.ErrorContext(r.Context(), "turn request failed", slog.Any("error", err))
		}
		writeError(r.Context(), w, http.StatusBadGateway, "TURN_FAILED", rag.UserMessage(err), true, nil)
		return
	}

	followUps := answer.FollowUps
	if followUps == nil {
		followUps = []string{}
	}
	writeJSON(w, http.StatusOK, turnResponse{
		SessionID:   session.ID,
		Answer:      answer.Text,
		FollowUps:   followUps,
		QueryFailed: answer.QueryFailed,
	})
}

func lookupSession(deps Dependencies, w http.ResponseWriter, r *http.Request) (*rag.Session, bool) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return nil, false
	}
	id := r.PathValue("id")
	session, err := deps.Sessions.Get(id)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", false, map[string]any{"session_id": id})
		return nil, false
	}
	return session, true
}
