package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablerag/tablerag/internal/app"
	"github.com/tablerag/tablerag/internal/auth"
	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/config"
	"github.com/tablerag/tablerag/internal/kb"
	"github.com/tablerag/tablerag/internal/observability"
	"github.com/tablerag/tablerag/internal/rag"
	"github.com/tablerag/tablerag/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

type Conversation interface {
	Turn(ctx context.Context, session *rag.Session, utterance string) (rag.Answer, error)
}

type SessionStore interface {
	Create() *rag.Session
	Get(id string) (*rag.Session, error)
	Delete(id string) error
}

type EntityLookup interface {
	GetEntityByID(ctx context.Context, id int64) (catalog.Entity, error)
}

type KBReporter interface {
	KBStatus(ctx context.Context) (app.KBStatus, error)
}

type Rebuilder interface {
	Build(ctx context.Context) (kb.BuildResult, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Sessions          SessionStore
	Conversation      Conversation
	Schema            schema.Introspector
	Entities          EntityLookup
	KB                KBReporter
	Rebuilder         Rebuilder
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := []struct {
		pattern string
		role    string
		handler func(Dependencies, http.ResponseWriter, *http.Request)
	}{
		{"POST /v1/sessions", auth.RoleChatUser, handleCreateSession},
		{"GET /v1/sessions/{id}", auth.RoleChatUser, handleGetSession},
		{"DELETE /v1/sessions/{id}", auth.RoleChatUser, handleDeleteSession},
		{"POST /v1/sessions/{id}/turns", auth.RoleChatUser, handleTurn},
		{"GET /v1/schema", auth.RoleChatUser, handleSchema},
		{"GET /v1/entities/{id}", auth.RoleChatUser, handleGetEntity},
		{"GET /v1/kb", auth.RoleChatUser, handleKBStatus},
		{"POST /v1/kb/rebuild", auth.RoleKBAdmin, handleRebuild},
	}

	var wrap func(http.Handler) http.Handler
	switch {
	case !cfg.Auth.Required:
		wrap = func(next http.Handler) http.Handler { return next }
	case deps.AuthMiddleware == nil:
		if deps.Logger != nil {
			deps.Logger.Error("auth required but auth middleware missing")
		}
		wrap = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		}
	default:
		wrap = deps.AuthMiddleware
	}

	for _, route := range routes {
		handle := route.handler
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handle(deps, w, r) })
		mux.Handle(route.pattern, wrap(auth.RequireRole(route.role, handler)))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
